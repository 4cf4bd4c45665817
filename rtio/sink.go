package rtio

import (
	"errors"

	"code.hybscloud.com/iox"

	"github.com/HTGAzureX1212/artiq/hal"
)

// MaxWideWords is the hardware fan-out limit of one wide output.
const MaxWideWords = 16

var ErrWideLimit = errors.New("rtio: wide output exceeds the 16 word fan-out limit")

// Sink consumes timed output events at the current timeline cursor. The two
// implementations are the direct hardware path and the trace recorder; the
// engine selects which one the program is writing through.
type Sink interface {
	Output(target int32, word int32) error
	OutputWide(target int32, words []int32) error
}

// HardwareSink submits events straight to the output engine, stamped with
// the timeline cursor at call time. Driven by the single kernel goroutine.
type HardwareSink struct {
	clock hal.Clock
	rtio  hal.RTIO
	one   [1]int32
}

func NewHardwareSink(clock hal.Clock, rtio hal.RTIO) *HardwareSink {
	return &HardwareSink{clock: clock, rtio: rtio}
}

func (s *HardwareSink) Output(target int32, word int32) error {
	s.one[0] = word
	return s.submit(target, s.one[:])
}

func (s *HardwareSink) OutputWide(target int32, words []int32) error {
	return s.submit(target, words)
}

func (s *HardwareSink) submit(target int32, words []int32) error {
	if len(words) > MaxWideWords {
		return ErrWideLimit
	}
	timestamp := hal.ReadNow(s.clock)
	var bo iox.Backoff
	for {
		status := s.rtio.Submit(timestamp, target, words)
		if status&hal.RTIOStatusWait != 0 {
			bo.Wait()
			continue
		}
		if status&hal.RTIOStatusUnderflow != 0 {
			return underflowError(uint32(target)>>8, timestamp)
		}
		if status&hal.RTIOStatusDestinationUnreachable != 0 {
			return unreachableError(uint32(target)>>8, timestamp)
		}
		return nil
	}
}
