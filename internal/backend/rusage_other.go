//go:build !linux && !windows

package backend

// Maxrss is reported in bytes on Darwin.
const maxrssUnit = 1
