// Package version contains the version of this repository's code.
package version

// Version is set at build time via -ldflags.
var Version = "v0.0.0-dev"
