// Package network serves actuator commands and preview video to a single
// remote controller over TCP.
package network

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
)

// MaxFrameSize bounds a single video frame payload.
const MaxFrameSize = 16 * 1024 * 1024 // 16 MiB

// frameHeaderSize is the big-endian uint32 length prefix.
const frameHeaderSize = 4

// ErrFrameTooLarge is returned when a frame exceeds MaxFrameSize.
var ErrFrameTooLarge = errors.New("video frame exceeds maximum size")

// bufferPool holds encode buffers; a 320x240 JPEG at quality 50 is ~10 KiB.
var bufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 64*1024))
	},
}

func getBuffer() *bytes.Buffer {
	b := bufferPool.Get().(*bytes.Buffer)
	b.Reset()
	return b
}

func putBuffer(b *bytes.Buffer) {
	// Only pool reasonably sized buffers to avoid memory bloat
	if b.Cap() <= 1024*1024 {
		bufferPool.Put(b)
	}
}

// WriteFrame writes payload with its length prefix in a single Write call so
// a reader never sees a header without its body from this writer.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}
	buf := getBuffer()
	defer putBuffer(buf)

	data, err := encodeFrame(buf, func(w io.Writer) error {
		_, err := w.Write(payload)
		return err
	})
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// encodeFrame lets fill stream a payload into buf behind a reserved header
// and then patches in the length. The returned slice aliases buf. Errors
// from fill are returned unchanged.
func encodeFrame(buf *bytes.Buffer, fill func(io.Writer) error) ([]byte, error) {
	var hdr [frameHeaderSize]byte
	buf.Write(hdr[:])
	if err := fill(buf); err != nil {
		return nil, err
	}
	data := buf.Bytes()
	n := len(data) - frameHeaderSize
	if n > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}
	binary.BigEndian.PutUint32(data[:frameHeaderSize], uint32(n))
	return data, nil
}

// ReadFrame reads one length-prefixed frame. A clean close between frames
// returns io.EOF; a close mid-frame returns io.ErrUnexpectedEOF.
func ReadFrame(r io.Reader) ([]byte, error) {
	var hdr [frameHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > MaxFrameSize {
		return nil, fmt.Errorf("%w: header claims %d bytes", ErrFrameTooLarge, n)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return payload, nil
}
