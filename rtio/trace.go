package rtio

import (
	"encoding/binary"
	"errors"
)

// Trace record layout (little-endian), consumed verbatim by the hardware DMA
// engine:
//
//	[0]      length     u8, total record bytes including this header
//	[1:4]    target>>8  three channel bytes
//	[4:12]   timestamp  u64
//	[12]     target     low byte, the channel address
//	[13:]    words      u32 each, up to MaxWideWords
//
// Records are concatenated with no padding. A zero length byte terminates
// the stream.
const headerBytes = 13

var ErrBadRecord = errors.New("rtio: malformed trace record")

// Record is one decoded trace event.
type Record struct {
	Timestamp uint64
	Target    int32
	Words     []int32
}

// Channel returns the routing channel, the high three target bytes.
func (r Record) Channel() uint32 { return uint32(r.Target) >> 8 }

// Address returns the low target byte.
func (r Record) Address() uint8 { return uint8(uint32(r.Target)) }

// DecodeTrace parses a concatenated record stream. Decoding stops cleanly at
// a zero length byte or at the end of the input; a record that overruns the
// input or carries a fractional word count is ErrBadRecord.
func DecodeTrace(trace []byte) ([]Record, error) {
	var records []Record
	for len(trace) > 0 && trace[0] != 0 {
		length := int(trace[0])
		if length < headerBytes || length > len(trace) || (length-headerBytes)%4 != 0 {
			return records, ErrBadRecord
		}
		channel := uint32(trace[1]) | uint32(trace[2])<<8 | uint32(trace[3])<<16
		rec := Record{
			Timestamp: binary.LittleEndian.Uint64(trace[4:12]),
			Target:    int32(channel<<8 | uint32(trace[12])),
			Words:     make([]int32, 0, (length-headerBytes)/4),
		}
		for off := headerBytes; off < length; off += 4 {
			rec.Words = append(rec.Words, int32(binary.LittleEndian.Uint32(trace[off:])))
		}
		records = append(records, rec)
		trace = trace[length:]
	}
	return records, nil
}
