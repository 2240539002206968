/*
Copyright 2023 Nike, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package wire

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/nuclio/errors"
)

const (

	// MaxFrameSize bounds a single frame. Streamed bodies are chunked well
	// below this, so hitting the limit means a corrupt or hostile peer.
	MaxFrameSize = 16 << 20

	// BodyChunkSize is how much of a streamed response body goes into a
	// single response frame
	BodyChunkSize = 32 << 10
)

// ErrFrameTooLarge is returned when a length prefix exceeds MaxFrameSize
var ErrFrameTooLarge = errors.New("Frame exceeds maximum size")

// FrameWriter writes length-prefixed encoded frames. It is not safe for
// concurrent use - the owning connection must serialize writers so partial
// frames never interleave.
type FrameWriter struct {
	writer *bufio.Writer
	codec  Codec
}

// NewFrameWriter returns a writer using the given codec
func NewFrameWriter(writer io.Writer, codec Codec) *FrameWriter {
	return &FrameWriter{
		writer: bufio.NewWriter(writer),
		codec:  codec,
	}
}

// WriteFrame encodes and writes a single frame, flushing the underlying writer
func (fw *FrameWriter) WriteFrame(frame *Frame) error {
	encodedFrame, err := fw.codec.Marshal(frame)
	if err != nil {
		return errors.Wrap(err, "Failed to encode frame")
	}

	if len(encodedFrame) > MaxFrameSize {
		return ErrFrameTooLarge
	}

	var lengthPrefix [4]byte
	binary.BigEndian.PutUint32(lengthPrefix[:], uint32(len(encodedFrame)))

	if _, err := fw.writer.Write(lengthPrefix[:]); err != nil {
		return errors.Wrap(err, "Failed to write frame length")
	}

	if _, err := fw.writer.Write(encodedFrame); err != nil {
		return errors.Wrap(err, "Failed to write frame")
	}

	return fw.writer.Flush()
}

// SetCodec switches the codec used for subsequent frames. Used right after
// handshake, which is always JSON.
func (fw *FrameWriter) SetCodec(codec Codec) {
	fw.codec = codec
}

// FrameReader reads length-prefixed encoded frames
type FrameReader struct {
	reader *bufio.Reader
	codec  Codec
}

// NewFrameReader returns a reader using the given codec
func NewFrameReader(reader io.Reader, codec Codec) *FrameReader {
	return &FrameReader{
		reader: bufio.NewReader(reader),
		codec:  codec,
	}
}

// ReadFrame reads and decodes a single frame
func (fr *FrameReader) ReadFrame() (*Frame, error) {
	var lengthPrefix [4]byte
	if _, err := io.ReadFull(fr.reader, lengthPrefix[:]); err != nil {

		// pass through EOF so callers can tell an orderly close apart
		// from a failed read
		if err == io.EOF {
			return nil, err
		}

		return nil, errors.Wrap(err, "Failed to read frame length")
	}

	frameLength := binary.BigEndian.Uint32(lengthPrefix[:])
	if frameLength > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}

	encodedFrame := make([]byte, frameLength)
	if _, err := io.ReadFull(fr.reader, encodedFrame); err != nil {
		return nil, errors.Wrap(err, "Failed to read frame body")
	}

	frame := &Frame{}
	if err := fr.codec.Unmarshal(encodedFrame, frame); err != nil {
		return nil, errors.Wrap(err, "Failed to decode frame")
	}

	return frame, nil
}

// SetCodec switches the codec used for subsequent frames
func (fr *FrameReader) SetCodec(codec Codec) {
	fr.codec = codec
}
