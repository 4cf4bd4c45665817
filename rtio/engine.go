// Package rtio drives the real-time output subsystem: direct timed
// submissions, trace recording, and DMA playback of stored traces, locally
// and on remote satellite nodes.
//
// The engine is driven by the single kernel goroutine. The only concurrency
// is with the hardware itself, behind the hal interfaces, and with the
// supervisor on the far side of the mailbox.
package rtio

import (
	"fmt"

	"code.hybscloud.com/iox"

	"github.com/HTGAzureX1212/artiq/eh"
	"github.com/HTGAzureX1212/artiq/hal"
	"github.com/HTGAzureX1212/artiq/mailbox"
	"github.com/HTGAzureX1212/artiq/proto"
)

// Options configure the engine for its node role.
type Options struct {
	// Satellite nodes have no local playback controller: playback becomes
	// the remote start/await exchange only.
	Satellite bool
	// LogChannel is the RTIO channel console text is packed onto.
	LogChannel uint32
}

// Trace is a stored trace handle returned by Retrieve. Data references
// supervisor-owned storage that stays stable until the trace is erased.
type Trace struct {
	ID       int32
	Data     []byte
	Duration int64
	UsesDDMA bool
}

// Engine owns the current output path (direct hardware or recorder), the
// trace recorder, and the playback sequencing against the DMA controller.
type Engine struct {
	side  *mailbox.Side
	fatal func(string)

	dma    hal.DMAController
	router hal.Router
	cache  hal.Cache

	hw       *HardwareSink
	recorder *Recorder
	sink     Sink

	satellite bool
	logTarget int32
}

// NewEngine wires an engine to its mailbox side and register surface. fatal
// is the protocol desynchronization path and must not return.
func NewEngine(side *mailbox.Side, h hal.HAL, fatal func(string), opts Options) *Engine {
	e := &Engine{
		side:      side,
		fatal:     fatal,
		dma:       h.DMA(),
		router:    h.Router(),
		cache:     h.Cache(),
		satellite: opts.Satellite,
		logTarget: int32(opts.LogChannel << 8),
	}
	e.hw = NewHardwareSink(h.Clock(), h.RTIO())
	e.recorder = NewRecorder(h.Clock(), e.appendTrace)
	e.sink = e.hw
	return e
}

// Output emits one word through the current output path.
func (e *Engine) Output(target int32, word int32) error {
	return e.sink.Output(target, word)
}

// OutputWide emits up to MaxWideWords words through the current output path.
func (e *Engine) OutputWide(target int32, words []int32) error {
	return e.sink.OutputWide(target, words)
}

// Recording reports whether a trace recording is open.
func (e *Engine) Recording() bool { return e.recorder.Active() }

func (e *Engine) appendTrace(data []byte) {
	e.side.Send(proto.DmaRecordAppend{Data: data})
}

// RecordStart opens a named trace recording: the program's output path is
// swapped to the recorder and the instruction cache flushed, then the
// supervisor is told the recording began.
func (e *Engine) RecordStart(name string) error {
	if e.recorder.active {
		return eh.New("DMAError", "DMA is already recording")
	}
	e.sink = e.recorder
	e.cache.FlushI()
	e.recorder.active = true
	e.side.Send(proto.DmaRecordStart{Name: name})
	return nil
}

// RecordStop flushes the pending buffer, restores the direct output path,
// and reports the trace duration and whether distributed playback is
// enabled for it.
func (e *Engine) RecordStop(duration int64, enableDDMA bool) error {
	e.recorder.Flush()
	if !e.recorder.active {
		return eh.New("DMAError", "DMA is not recording")
	}
	e.sink = e.hw
	e.cache.FlushI()
	e.recorder.active = false
	e.side.Send(proto.DmaRecordStop{Duration: duration, EnableDDMA: enableDDMA})
	return nil
}

// Erase requests deletion of a stored trace. Fire and forget.
func (e *Engine) Erase(name string) {
	e.side.Send(proto.DmaEraseRequest{Name: name})
}

// Retrieve looks up a stored trace by name.
func (e *Engine) Retrieve(name string) (Trace, error) {
	e.side.Send(proto.DmaRetrieveRequest{Name: name})
	reply := mailbox.Expect[proto.DmaRetrieveReply](e.side, e.fatal)
	if !reply.Found {
		e.side.Send(proto.Log{Text: fmt.Sprintf("DMA trace called %q not found", name)})
		return Trace{}, eh.New("DMAError", "DMA trace not found")
	}
	return Trace{
		ID:       reply.ID,
		Data:     reply.Trace,
		Duration: reply.Duration,
		UsesDDMA: reply.UsesDDMA,
	}, nil
}

// Playback replays a stored trace with its events offset by timestamp. The
// local controller is programmed and polled to completion; when the trace
// spans satellite nodes the remote leg is started alongside and awaited
// after the local leg. Hardware timing faults carry the offending channel
// and timestamp.
func (e *Engine) Playback(timestamp int64, tr Trace) error {
	if e.satellite {
		// No local controller: the remote start doubles as the plain start,
		// and the outcome reply arrives without an explicit await request.
		e.side.Send(proto.DmaStartRemoteRequest{ID: tr.ID, Timestamp: timestamp})
		return e.awaitRemote()
	}

	e.dma.SetBase(tr.Data)
	e.dma.SetTimeOffset(uint64(timestamp))
	e.router.SelectMaster(hal.MasterDMA)
	e.dma.Enable()
	if tr.UsesDDMA {
		e.side.Send(proto.DmaStartRemoteRequest{ID: tr.ID, Timestamp: timestamp})
	}
	var bo iox.Backoff
	for e.dma.Busy() {
		bo.Wait()
	}
	e.router.SelectMaster(hal.MasterCPU)

	if bits := e.dma.Error(); bits != 0 {
		channel := e.dma.ErrorChannel()
		errTimestamp := e.dma.ErrorTimestamp()
		e.dma.ClearError()
		if bits&hal.DMAErrorUnderflow != 0 {
			return underflowError(channel, errTimestamp)
		}
		if bits&hal.DMAErrorDestinationUnreachable != 0 {
			return unreachableError(channel, errTimestamp)
		}
	}

	if tr.UsesDDMA {
		e.side.Send(proto.DmaAwaitRemoteRequest{ID: tr.ID})
		return e.awaitRemote()
	}
	return nil
}

func (e *Engine) awaitRemote() error {
	reply := mailbox.Expect[proto.DmaAwaitRemoteReply](e.side, e.fatal)
	if reply.Timeout {
		return eh.New("DMAError",
			"Error running DMA on satellite device, timed out waiting for results")
	}
	if reply.Error&hal.DMAErrorUnderflow != 0 {
		return underflowError(reply.Channel, reply.Timestamp)
	}
	if reply.Error&hal.DMAErrorDestinationUnreachable != 0 {
		return unreachableError(reply.Channel, reply.Timestamp)
	}
	return nil
}

// Log packs console text onto the log channel, four bytes per word with the
// first byte in the high octet. A final word, shifted up one octet, carries
// the tail and closes the text with a zero low byte. Console text always
// takes the direct hardware path, even while recording.
func (e *Engine) Log(text string) error {
	var word uint32
	for i := 0; i < len(text); i++ {
		word = word<<8 | uint32(text[i])
		if i%4 == 3 {
			if err := e.hw.Output(e.logTarget, int32(word)); err != nil {
				return err
			}
			word = 0
		}
	}
	return e.hw.Output(e.logTarget, int32(word<<8))
}

func underflowError(channel uint32, timestamp uint64) *eh.Exception {
	return eh.New("RTIOUnderflow",
		"RTIO underflow at channel {rtio_channel_info:0}, {1} mu",
		int64(channel), int64(timestamp), 0)
}

func unreachableError(channel uint32, timestamp uint64) *eh.Exception {
	return eh.New("RTIODestinationUnreachable",
		"RTIO destination unreachable, output, at channel {rtio_channel_info:0}, {1} mu",
		int64(channel), int64(timestamp), 0)
}
