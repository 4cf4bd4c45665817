package loader

import (
	"encoding/binary"
	"errors"
)

const (
	// Magic opens every program image.
	Magic = "KIMG"
	// Version is the image format revision this loader accepts.
	Version = 1

	headerBytes = 13
	maxNameLen  = 255
)

// Header flags.
const (
	// FlagSatellite marks an image built for a satellite node; the core then
	// expects a clock synchronization update before execution starts.
	FlagSatellite uint16 = 1 << 0
)

var (
	ErrBadImage = errors.New("loader: malformed image header")
	ErrVersion  = errors.New("loader: unsupported image version")
)

// Header describes a program image.
//
// Image header layout (little-endian):
//
//	bytes 0-3   magic "KIMG"
//	bytes 4-5   format version
//	bytes 6-7   flags
//	bytes 8-11  uninitialized-data size
//	byte  12    program name length
//	bytes 13-   program name
type Header struct {
	Version uint16
	Flags   uint16
	BSSSize uint32
	Name    string
}

// Satellite reports whether the image targets a satellite node.
func (h Header) Satellite() bool { return h.Flags&FlagSatellite != 0 }

// EncodeImage serializes h into a program image.
func EncodeImage(h Header) ([]byte, error) {
	if len(h.Name) > maxNameLen {
		return nil, errors.New("loader: program name too long")
	}
	image := make([]byte, headerBytes, headerBytes+len(h.Name))
	copy(image, Magic)
	binary.LittleEndian.PutUint16(image[4:6], h.Version)
	binary.LittleEndian.PutUint16(image[6:8], h.Flags)
	binary.LittleEndian.PutUint32(image[8:12], h.BSSSize)
	image[12] = uint8(len(h.Name))
	return append(image, h.Name...), nil
}

// DecodeImage parses a program image header.
func DecodeImage(image []byte) (Header, error) {
	if len(image) < headerBytes || string(image[:4]) != Magic {
		return Header{}, ErrBadImage
	}
	h := Header{
		Version: binary.LittleEndian.Uint16(image[4:6]),
		Flags:   binary.LittleEndian.Uint16(image[6:8]),
		BSSSize: binary.LittleEndian.Uint32(image[8:12]),
	}
	nameLen := int(image[12])
	if len(image) < headerBytes+nameLen {
		return Header{}, ErrBadImage
	}
	h.Name = string(image[headerBytes : headerBytes+nameLen])
	return h, nil
}
