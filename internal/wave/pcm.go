package wave

import (
	"io"

	"github.com/reccapture/recc/internal/util"
)

// PCMWriter passes raw samples through unchanged.
type PCMWriter struct {
	w io.Writer
}

// NewPCMWriter returns a PCMWriter targeting w.
func NewPCMWriter(w io.Writer) *PCMWriter {
	return &PCMWriter{w: w}
}

// Setup is a no-op; raw PCM carries no header.
func (f *PCMWriter) Setup(frequency, bits, channels int) error {
	return nil
}

// WritePCM writes the samples verbatim.
func (f *PCMWriter) WritePCM(p []byte) error {
	_, err := f.w.Write(p)
	return util.WrapError("write pcm data", err)
}

// Close is a no-op.
func (f *PCMWriter) Close() error {
	return nil
}
