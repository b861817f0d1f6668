// Package persistence stores evaluation results in an append-only framed log.
package persistence

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
	"io"
)

// Constants for the result log binary format.
const (
	// MagicByte marks the start of a frame.
	MagicByte = 0xA5

	// HeaderSize is 1 byte (Magic) + 1 byte (OpCode) + 4 bytes (Length) + 4 bytes (CRC32).
	HeaderSize = 10

	// OpCodeMatch frames carry one match.
	OpCodeMatch = 0x01
	// OpCodeBoundary frames mark that a window's result set is final.
	OpCodeBoundary = 0x02
	// OpCodeRun frames open a run and carry its metadata.
	OpCodeRun = 0x03
)

var (
	// ErrInvalidMagic indicates the stream lost synchronization or is not a result log.
	ErrInvalidMagic = errors.New("invalid magic byte")
	// ErrChecksumMismatch indicates a corrupted frame payload.
	ErrChecksumMismatch = errors.New("crc32 checksum mismatch")
	// ErrIncompleteFrame indicates the log ended in the middle of a frame.
	ErrIncompleteFrame = errors.New("incomplete frame")
)

// FrameWriter encodes frames onto an io.Writer.
type FrameWriter struct {
	w io.Writer
}

// NewFrameWriter wraps w.
func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{w: w}
}

// WriteFrame writes [Magic(1)][OpCode(1)][Length(4)][CRC(4)][Payload(N)].
func (fw *FrameWriter) WriteFrame(op byte, payload []byte) error {
	_, err := fw.w.Write(EncodeFrame(op, payload))
	return err
}

// EncodeFrame returns header and payload as a single buffer, so a frame
// reaches the underlying writer in one call.
func EncodeFrame(op byte, payload []byte) []byte {
	buf := make([]byte, HeaderSize+len(payload))
	buf[0] = MagicByte
	buf[1] = op
	binary.LittleEndian.PutUint32(buf[2:6], uint32(len(payload)))
	binary.LittleEndian.PutUint32(buf[6:10], crc32.ChecksumIEEE(payload))
	copy(buf[HeaderSize:], payload)
	return buf
}

// ReadFrame reads and validates the next frame. It returns io.EOF only at a
// clean frame boundary.
func ReadFrame(r io.Reader) (op byte, payload []byte, err error) {
	header := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		if err == io.EOF {
			return 0, nil, io.EOF
		}
		return 0, nil, ErrIncompleteFrame
	}
	if header[0] != MagicByte {
		return 0, nil, ErrInvalidMagic
	}

	length := binary.LittleEndian.Uint32(header[2:6])
	expectedCRC := binary.LittleEndian.Uint32(header[6:10])

	payload = make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, ErrIncompleteFrame
	}
	if crc32.ChecksumIEEE(payload) != expectedCRC {
		return 0, nil, ErrChecksumMismatch
	}
	return header[1], payload, nil
}
