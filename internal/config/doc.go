// Package config handles configuration loading and defaults.
//
// Configuration is loaded from multiple sources in priority order:
// 1. Built-in defaults
// 2. User config file (~/.parallax/parallax.toml or OS-specific config directory)
// 3. Project config file (parallax.toml or .parallax.toml in the working directory)
// 4. Environment variables (PARALLAX_*)
// 5. CLI flags
//
// Each level overrides the previous one, so CLI flags take precedence.
//
// User-level config locations:
// - ~/.parallax/parallax.toml (preferred)
// - Windows: %APPDATA%\parallax\parallax.toml
// - macOS: ~/Library/Application Support/parallax/parallax.toml
// - Linux/BSD: $XDG_CONFIG_HOME/parallax/parallax.toml or ~/.config/parallax/parallax.toml
package config
