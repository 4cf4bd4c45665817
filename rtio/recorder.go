package rtio

import (
	"encoding/binary"

	"github.com/HTGAzureX1212/artiq/eh"
	"github.com/HTGAzureX1212/artiq/hal"
)

// recorderCapacity is the fixed trace buffer size.
const recorderCapacity = 64 * 1024

// Recorder is the trace-building Sink. Events are appended to a fixed
// buffer; when a record would not fit, the buffered bytes are flushed first,
// so no record is ever split across a flush boundary.
//
// The recorder is active only between a matching start and stop, both driven
// by the engine. Output on an inactive recorder is a DMAError.
type Recorder struct {
	clock   hal.Clock
	flush   func(data []byte)
	active  bool
	dataLen int
	buffer  [recorderCapacity]byte
}

// NewRecorder returns an idle recorder. flush receives each filled buffer
// segment; the bytes are borrowed for the duration of the call.
func NewRecorder(clock hal.Clock, flush func(data []byte)) *Recorder {
	return &Recorder{clock: clock, flush: flush}
}

// Active reports whether a recording is open.
func (r *Recorder) Active() bool { return r.active }

// Flush hands the buffered bytes to the flush callback and resets the
// cursor. An empty buffer is not sent.
func (r *Recorder) Flush() {
	if r.dataLen == 0 {
		return
	}
	r.flush(r.buffer[:r.dataLen])
	r.dataLen = 0
}

func (r *Recorder) Output(target int32, word int32) error {
	data, err := r.prepare(target, 1)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(data, uint32(word))
	return nil
}

func (r *Recorder) OutputWide(target int32, words []int32) error {
	if len(words) > MaxWideWords {
		return ErrWideLimit
	}
	data, err := r.prepare(target, len(words))
	if err != nil {
		return err
	}
	for i, word := range words {
		binary.LittleEndian.PutUint32(data[4*i:], uint32(word))
	}
	return nil
}

// prepare reserves one record's bytes at the cursor, writes the header
// stamped with the current timeline cursor, and returns the word area.
func (r *Recorder) prepare(target int32, words int) ([]byte, error) {
	if !r.active {
		return nil, eh.New("DMAError", "DMA is not recording")
	}
	length := headerBytes + 4*words
	if len(r.buffer)-r.dataLen < length {
		r.Flush()
	}
	rec := r.buffer[r.dataLen : r.dataLen+length]
	r.dataLen += length

	rec[0] = byte(length)
	rec[1] = byte(uint32(target) >> 8)
	rec[2] = byte(uint32(target) >> 16)
	rec[3] = byte(uint32(target) >> 24)
	binary.LittleEndian.PutUint64(rec[4:12], hal.ReadNow(r.clock))
	rec[12] = byte(uint32(target))
	return rec[headerBytes:], nil
}
