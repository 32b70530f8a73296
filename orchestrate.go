//go:build windows

package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sys/windows"

	"github.com/reccapture/recc/internal/config"
	"github.com/reccapture/recc/internal/handle"
	"github.com/reccapture/recc/internal/notify"
	"github.com/reccapture/recc/internal/pipe"
	"github.com/reccapture/recc/internal/proc"
	"github.com/reccapture/recc/internal/remote"
	"github.com/reccapture/recc/internal/sched"
	"github.com/reccapture/recc/internal/winerr"
)

var errNoTarget = errors.New("no matching 64-bit target process")

// run drives one capture session to completion.
func run() error {
	target, err := findTarget()
	if err != nil {
		return err
	}
	if !target.Valid() {
		return errNoTarget
	}
	defer target.Close()

	cfgPath := *configFlag
	if cfgPath == "" {
		cfgPath = config.DefaultPath()
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	ctx := sched.New()
	status := newSessionStatus(*windowFlag, *pidFlag)
	ctrlPID := windows.GetCurrentProcessId()

	// The pipe sinks must exist before the agent tries to connect, so their
	// tasks are spawned first.
	outPath := *outputFlag
	if outPath == "--" {
		outPath = pipe.Name(ctrlPID)
		sink := pipe.NewSink(outPath, os.Stdout)
		status.dataSink = sink
		ctx.Spawn(func() error { return sink.Run(ctx) })
	} else {
		if outPath, err = filepath.Abs(outPath); err != nil {
			return err
		}
	}

	logPath := *logFlag
	if logPath == "--" {
		logPath = pipe.LogName(ctrlPID)
		sink := pipe.NewSink(logPath, os.Stderr)
		status.logSink = sink
		ctx.Spawn(func() error { return sink.Run(ctx) })
	} else {
		if logPath, err = filepath.Abs(logPath); err != nil {
			return err
		}
	}

	dllPath, err := agentPath()
	if err != nil {
		return err
	}

	ctx.Spawn(func() error {
		return captureSession(ctx, target.Get(), dllPath, outPath, logPath, status)
	})

	if port := monitorPort(cfg); port != 0 {
		go serveMonitor(port, status)
	}

	sessionErr := ctx.Run()
	if sessionErr != nil {
		status.setState(stateFailed)
	}

	if cfg.HasEmail() {
		report := notify.SessionReport{
			Target:    status.target,
			Output:    outPath,
			Duration:  time.Since(status.started),
			DataBytes: status.dataBytes(),
			Err:       sessionErr,
		}
		if err := notify.SendSessionReport(&cfg.Notifications.Email, report); err != nil {
			slog.Warn("session report mail failed", "error", err)
		}
	}

	return sessionErr
}

func findTarget() (handle.Handle, error) {
	if pflag.CommandLine.Changed("window") {
		return proc.FromWindow(*windowFlag)
	}
	return proc.FromID(*pidFlag)
}

// agentPath locates recc-agent.dll next to the controller executable.
func agentPath() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", winerr.From("GetModuleFileNameW failed.", err)
	}
	return filepath.Join(filepath.Dir(exe), "recc-agent.dll"), nil
}

func monitorPort(cfg *config.Config) int {
	if *monitorFlag != 0 {
		return *monitorFlag
	}
	return cfg.Monitor.Port
}

// captureSession is the orchestration task: install the log, start capture,
// wait for a key, release. Every step runs on its own remote thread, each
// created only after the previous one has been seen to exit.
func captureSession(ctx *sched.Context, process windows.Handle, dllPath, outPath, logPath string, status *sessionStatus) error {
	status.setState(stateInjecting)
	if err := remoteStep(ctx, process, false, dllPath, "recc_log",
		remote.Wide(logPath)); err != nil {
		return err
	}

	if err := remoteStep(ctx, process, false, dllPath, "recc_capture",
		remote.Wide(outPath), remote.Str(*apiFlag), remote.Str(*formatFlag)); err != nil {
		return err
	}
	status.setState(stateCapturing)

	fmt.Fprintln(os.Stderr, "Press any key to release ...")
	sched.AwaitConsole(ctx)

	status.setState(stateReleasing)
	if err := remoteStep(ctx, process, true, dllPath, "recc_release"); err != nil {
		return err
	}
	status.setState(stateDone)
	return nil
}

// remoteStep dispatches one agent call and turns a non-zero remote exit
// code into an error.
func remoteStep(ctx *sched.Context, process windows.Handle, unloadAfter bool, dllPath, entry string, args ...remote.Arg) error {
	thread, err := remote.Call(process, unloadAfter, dllPath, entry, args...)
	if err != nil {
		return err
	}
	defer thread.Close()

	code, err := sched.AwaitThread(ctx, thread.Get())
	if err != nil {
		return err
	}
	if code != 0 {
		return winerr.New(code, fmt.Sprintf("Thread for %s reported failure.", entry))
	}
	return nil
}
