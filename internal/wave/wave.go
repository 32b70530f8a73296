// Package wave implements the PCM format sinks the capture hook writes into.
package wave

import (
	"encoding/binary"
	"io"

	"github.com/reccapture/recc/internal/util"
)

// Sink receives the raw PCM stream from a capture device. Setup is called at
// most once, before the first WritePCM, as soon as the stream's format is
// known. Close finalizes the output.
type Sink interface {
	Setup(frequency, bits, channels int) error
	WritePCM(p []byte) error
	Close() error
}

const headerSize = 44

// WaveWriter writes a RIFF/WAVE file. The destination has to be seekable
// because the two size fields of the header are only known at Close.
type WaveWriter struct {
	w       io.WriteSeeker
	total   uint32
	started bool
}

// NewWaveWriter returns a WaveWriter targeting w.
func NewWaveWriter(w io.WriteSeeker) *WaveWriter {
	return &WaveWriter{w: w}
}

// Setup writes the canonical 44-byte header with zeroed size fields.
func (f *WaveWriter) Setup(frequency, bits, channels int) error {
	frameSize := channels * ((bits + 7) / 8)

	var hdr [headerSize]byte
	copy(hdr[0:], "RIFF")
	// hdr[4:8]: file size - 8, patched on Close
	copy(hdr[8:], "WAVE")
	copy(hdr[12:], "fmt ")
	binary.LittleEndian.PutUint32(hdr[16:], 16)
	binary.LittleEndian.PutUint16(hdr[20:], 1) // integer PCM
	binary.LittleEndian.PutUint16(hdr[22:], uint16(channels))
	binary.LittleEndian.PutUint32(hdr[24:], uint32(frequency))
	binary.LittleEndian.PutUint32(hdr[28:], uint32(frequency*frameSize))
	binary.LittleEndian.PutUint16(hdr[32:], uint16(frameSize))
	binary.LittleEndian.PutUint16(hdr[34:], uint16(bits))
	copy(hdr[36:], "data")
	// hdr[40:44]: data size, patched on Close

	f.started = true
	_, err := f.w.Write(hdr[:])
	return util.WrapError("write wave header", err)
}

// WritePCM appends raw samples to the data chunk.
func (f *WaveWriter) WritePCM(p []byte) error {
	n, err := f.w.Write(p)
	f.total += uint32(n)
	return util.WrapError("write pcm data", err)
}

// Close patches the RIFF size at offset 4 and the data size at offset 40.
func (f *WaveWriter) Close() error {
	if !f.started {
		return nil
	}

	var size [4]byte
	binary.LittleEndian.PutUint32(size[:], f.total+headerSize-8)
	if _, err := f.w.Seek(4, io.SeekStart); err != nil {
		return util.WrapError("seek to riff size", err)
	}
	if _, err := f.w.Write(size[:]); err != nil {
		return util.WrapError("patch riff size", err)
	}

	binary.LittleEndian.PutUint32(size[:], f.total)
	if _, err := f.w.Seek(40, io.SeekStart); err != nil {
		return util.WrapError("seek to data size", err)
	}
	if _, err := f.w.Write(size[:]); err != nil {
		return util.WrapError("patch data size", err)
	}
	return nil
}
