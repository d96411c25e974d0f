package net

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/golang/protobuf/proto"
)

// MaxFrameSize bounds a single frame. Larger length prefixes are treated
// as a corrupt stream.
const MaxFrameSize = 64 << 20

var ErrFrameTooLarge = errors.New("frame exceeds maximum size")

// These functions are not thread-safe.

// WriteFrame writes buffer prefixed with its length as a little endian
// int32.
func WriteFrame(w io.Writer, buffer []byte) error {
	if len(buffer) > MaxFrameSize {
		return ErrFrameTooLarge
	}
	err := binary.Write(w, binary.LittleEndian, int32(len(buffer)))
	if err != nil {
		return err
	}
	_, err = w.Write(buffer)
	return err
}

// ReadFrame reads one frame written by WriteFrame.
func ReadFrame(r io.Reader) ([]byte, error) {
	var size int32
	err := binary.Read(r, binary.LittleEndian, &size)
	if err != nil {
		return nil, err
	}
	if size < 0 || size > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, size)
	}
	buffer := make([]byte, size)
	if _, err = io.ReadFull(r, buffer); err != nil {
		return nil, err
	}
	return buffer, nil
}

// WriteMsg marshals msg and writes it as one frame.
func WriteMsg(w io.Writer, msg proto.Message) error {
	buffer, err := proto.Marshal(msg)
	if err != nil {
		return err
	}
	return WriteFrame(w, buffer)
}

// ReadMsg reads one frame and unmarshals it into msg.
func ReadMsg(r io.Reader, msg proto.Message) error {
	buffer, err := ReadFrame(r)
	if err != nil {
		return err
	}
	return proto.Unmarshal(buffer, msg)
}

// IsSocketClosed reports whether err comes from using a connection or
// listener after Close.
func IsSocketClosed(err error) bool {
	return strings.Contains(err.Error(), "use of closed network connection")
}
