package backend

// Maxrss is reported in kilobytes on Linux.
const maxrssUnit = 1024
