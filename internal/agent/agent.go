// Package agent holds the injected library's global capture state and the
// bodies of its exported entry points.
//
// All three operations and every hook callback serialise on one
// process-wide mutex. Teardown order is contractual: capture device first
// (it may flush into the sink), then the format sink (its close may seek
// and rewrite the file header), then the output stream.
package agent

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/reccapture/recc/internal/capture"
	"github.com/reccapture/recc/internal/util"
	"github.com/reccapture/recc/internal/wave"
	"github.com/reccapture/recc/internal/winerr"
)

// Status codes returned across the C ABI for failures the OS has no code
// for.
const (
	StatusUnknownFormat uint32 = 0xFFF1
	StatusUnknownAPI    uint32 = 0xFFF2
	StatusUnknownFault  uint32 = 0xFFF3
)

var (
	mu      sync.Mutex
	logger  = discardLogger()
	logFile *os.File
	out     *os.File
	sink    wave.Sink
	dev     capture.Device
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// InstallLog closes and reopens the agent's log on the given path. The path
// may be a file or one of the controller's named pipes.
func InstallLog(path string) uint32 {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		util.SafeClose(logFile, "agent log")
		logFile = nil
		logger = discardLogger()
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return winerr.Code(err, StatusUnknownFault)
	}
	logFile = f
	logger = slog.New(slog.NewTextHandler(f, nil))
	logger.Info("Logging output from DLL.")
	return 0
}

// InitializeCapture initialises or reinitialises capture to the given
// output path with the chosen API and format tags.
func InitializeCapture(path, api, format string) uint32 {
	mu.Lock()
	defer mu.Unlock()

	if dev != nil {
		logger.Info("Reinitializing capture", "api", api, "format", format)
		releaseLocked()
		logger.Info("Old capture released.")
	} else {
		logger.Info("Initializing capture", "api", api, "format", format)
	}

	if err := initializeLocked(path, api, format); err != nil {
		logger.Error(err.Error())
		return winerr.Code(err, StatusUnknownFault)
	}
	logger.Info("Capture successfully initialized.")
	return 0
}

// initializeLocked builds the output stream, sink and device. On any error
// the tentative pieces are torn down in contract order and the globals stay
// untouched.
func initializeLocked(path, api, format string) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return winerr.From("Output file could not be opened.", err)
	}

	var s wave.Sink
	switch format {
	case "wav":
		s = wave.NewWaveWriter(f)
	case "pcm":
		s = wave.NewPCMWriter(f)
	default:
		util.SafeClose(f, "output stream")
		return winerr.New(StatusUnknownFormat, fmt.Sprintf("Unknown output format %q.", format))
	}

	factory := capture.Lookup(api)
	if factory == nil {
		s.Close()
		util.SafeClose(f, "output stream")
		return winerr.New(StatusUnknownAPI, fmt.Sprintf("Unknown API %q.", api))
	}
	d, err := factory(&mu, logger, s)
	if err != nil {
		s.Close()
		util.SafeClose(f, "output stream")
		return err
	}

	out, sink, dev = f, s, d
	return nil
}

// ReleaseCapture tears the capture down and closes the log.
func ReleaseCapture() uint32 {
	mu.Lock()
	defer mu.Unlock()

	logger.Info("Capture releasing ...")
	releaseLocked()
	logger.Info("Capture successfully released.")

	if logFile != nil {
		util.SafeClose(logFile, "agent log")
		logFile = nil
		logger = discardLogger()
	}
	return 0
}

// releaseLocked destroys device, sink and stream in contract order.
func releaseLocked() {
	if dev != nil {
		if err := dev.Close(); err != nil {
			logger.Error("capture device close failed", "error", err)
		}
		dev = nil
	}
	if sink != nil {
		if err := sink.Close(); err != nil {
			logger.Error("format sink close failed", "error", err)
		}
		sink = nil
	}
	if out != nil {
		util.SafeClose(out, "output stream")
		out = nil
	}
}
