//go:build windows

// Package main implements recc, a recorder for the audio output of another
// application. It injects recc-agent.dll into the target process, hooks the
// chosen audio API there and streams the rendered PCM to a file or to the
// controller's standard output.
//
// Usage:
//
//	recc --window <title-substring> [--output rec.wav] [--format wav]
//	recc --pid <number> [--api dsound] [--log --]
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/pflag"
)

var (
	pidFlag     = pflag.Uint32P("pid", "p", 0, "Process ID of target application.")
	windowFlag  = pflag.StringP("window", "w", "", "Window title or part of it of a target application. Overwrites --pid.")
	apiFlag     = pflag.StringP("api", "a", "dsound", "The audio API to use.")
	outputFlag  = pflag.StringP("output", "o", "./rec.wav", "Output wave file. Use -- for stdout.")
	logFlag     = pflag.StringP("log", "l", "--", "Output log file. Use -- for stderr.")
	formatFlag  = pflag.StringP("format", "f", "wav", "Output format.")
	monitorFlag = pflag.Int("monitor", 0, "Serve live capture status on this websocket port.")
	configFlag  = pflag.String("config", "", "Path to side config file (default: recc.json next to binary).")
	showVersion = pflag.Bool("version", false, "Print version information and exit.")
)

func printHelp() {
	fmt.Fprintln(os.Stderr, "Records audio output from another application.")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "Usage: recc [options]")
	fmt.Fprint(os.Stderr, pflag.CommandLine.FlagUsages())
	fmt.Fprint(os.Stderr,
		"Supported audio APIs:\n"+
			"  dsound (DirectSound)\n"+
			"Supported audio formats:\n"+
			"  wav (RIFF WAVE)\n"+
			"  pcm (raw PCM)\n"+
			"Sampling information (frequency, bit depth, channels) depend on the output of the target application.\n")
}

func main() {
	pflag.Parse()

	if *showVersion {
		slog.Info("version info", "version", Version, "commit", Commit, "build_time", BuildTime)
		return
	}

	if len(os.Args) <= 1 || (!pflag.CommandLine.Changed("window") && !pflag.CommandLine.Changed("pid")) {
		printHelp()
		return
	}

	if err := run(); err != nil {
		if errors.Is(err, errNoTarget) {
			fmt.Fprintln(os.Stderr, "There is no such (64-bit) process.")
		} else {
			fmt.Fprintf(os.Stderr, "%v\n", err)
		}
		os.Exit(-1)
	}
}
