//go:build windows

package main

// Version is the application version, set via ldflags at build time.
var Version = "dev"

// Commit is the git commit hash, set via ldflags at build time.
var Commit = "unknown"

// BuildTime is the build timestamp, set via ldflags at build time.
var BuildTime = "unknown"
