// Package supervisor implements the host-facing end of the core protocol:
// it boots program images into the kernel core, answers every request a
// running program relays over the mailbox, and drains the asynchronous RPC
// queue concurrently with the run.
//
// The stores behind the protocol (cache rows, DMA traces, RPC result
// scripts, subkernel outcomes, bus fixtures) are held in memory and are
// programmable, so a supervisor doubles as the integration harness for
// complete kernel runs.
package supervisor

import (
	"errors"
	"fmt"
	"sync"

	"code.hybscloud.com/iox"

	"github.com/HTGAzureX1212/artiq/eh"
	"github.com/HTGAzureX1212/artiq/hal"
	"github.com/HTGAzureX1212/artiq/mailbox"
	"github.com/HTGAzureX1212/artiq/proto"
	"github.com/HTGAzureX1212/artiq/rpc"
	"github.com/HTGAzureX1212/artiq/rpcq"
)

// Options configure the supervisor for the role of the core it serves.
type Options struct {
	// Satellite serves a satellite-role core: a remote playback start is
	// answered directly with the outcome reply, since the core has no local
	// controller to poll and no separate await request follows.
	Satellite bool
}

// Status classifies how a run ended.
type Status uint8

const (
	StatusFinished Status = iota
	StatusAborted
	StatusException
)

func (s Status) String() string {
	switch s {
	case StatusFinished:
		return "finished"
	case StatusAborted:
		return "aborted"
	case StatusException:
		return "exception"
	default:
		return "unknown"
	}
}

// Outcome is the terminal state of one run.
type Outcome struct {
	Status    Status
	Exception *eh.Exception
	Backtrace []string
}

// RPCCall is one host procedure invocation observed during a run, whether it
// arrived through the asynchronous queue or over the mailbox.
type RPCCall struct {
	Async   bool
	Service uint32
	Tag     string
	Args    []any
}

// TraceInfo describes a stored DMA trace.
type TraceInfo struct {
	ID       int32
	Data     []byte
	Duration int64
	UsesDDMA bool
}

type cacheRow struct {
	value []int32
	busy  bool
}

type traceEntry struct {
	id       int32
	data     []byte
	duration int64
	ddma     bool
}

type rpcStep struct {
	data  []byte
	reply proto.RpcRecvReply
}

type subkernelFault struct {
	status    proto.SubkernelStatus
	exception *eh.Exception
}

// Supervisor owns the host side of one mailbox pair and the stores its
// protocol serves.
type Supervisor struct {
	side   *mailbox.Side
	q      *rpcq.Queue
	logger hal.Logger
	opts   Options

	mu sync.Mutex

	cache       map[string]*cacheRow
	traces      map[string]*traceEntry
	nextTraceID int32
	recName     string
	recData     []byte

	rpcSteps []rpcStep
	calls    []RPCCall

	loadFails map[uint32]bool
	faults    map[uint32]subkernelFault
	msgFaults map[int32]subkernelFault
	msgCounts map[int32][]uint8
	remote    map[int32]proto.DmaAwaitRemoteReply

	remoteStarts   []proto.DmaStartRemoteRequest
	subkernelLoads []proto.SubkernelLoadRunRequest
	subkernelSends []proto.SubkernelMsgSend

	failedBuses map[uint32]bool
	i2cReads    map[uint32][]uint8
	i2cWrites   map[uint32][]uint8
	spiWords    map[uint32]uint32
	spiConfigs  []proto.SPISetConfigRequest

	transcript []byte
	partial    string
}

// New wires a supervisor to its mailbox side and the shared asynchronous RPC
// queue. Completed log lines are forwarded to logger as they are assembled;
// a nil logger keeps the transcript only.
func New(side *mailbox.Side, q *rpcq.Queue, logger hal.Logger, opts Options) *Supervisor {
	return &Supervisor{
		side:        side,
		q:           q,
		logger:      logger,
		opts:        opts,
		cache:       make(map[string]*cacheRow),
		traces:      make(map[string]*traceEntry),
		nextTraceID: 1,
		loadFails:   make(map[uint32]bool),
		faults:      make(map[uint32]subkernelFault),
		msgFaults:   make(map[int32]subkernelFault),
		msgCounts:   make(map[int32][]uint8),
		remote:      make(map[int32]proto.DmaAwaitRemoteReply),
		failedBuses: make(map[uint32]bool),
		i2cReads:    make(map[uint32][]uint8),
		i2cWrites:   make(map[uint32][]uint8),
		spiWords:    make(map[uint32]uint32),
	}
}

// Launch sends the program image to the core and waits for the load verdict.
func (s *Supervisor) Launch(image []byte) error {
	return s.launch(image, nil)
}

// LaunchAt behaves like Launch and additionally posts a timeline cursor
// update, which the core applies between load and start. Satellite cores are
// brought onto the synchronized clock this way.
func (s *Supervisor) LaunchAt(image []byte, timestamp uint64) error {
	return s.launch(image, &timestamp)
}

func (s *Supervisor) launch(image []byte, timestamp *uint64) error {
	s.side.Send(proto.LoadRequest{Image: image})
	if timestamp != nil {
		// The load request has been acknowledged, so the outbound slot is
		// free and the update is already pending when the core polls for it
		// after replying.
		if err := s.side.Post(proto.UpdateNow{Timestamp: *timestamp}); err != nil {
			return err
		}
	}
	var loadErr error
	s.side.Recv(func(m proto.Message) {
		reply, ok := m.(proto.LoadReply)
		if !ok {
			loadErr = fmt.Errorf("unexpected load reply: %s", m.Kind())
			return
		}
		if reply.Err != "" {
			loadErr = errors.New(reply.Err)
		}
	})
	return loadErr
}

// Serve answers protocol requests until the core reports a terminal message,
// then returns the run outcome. A drain worker consumes the asynchronous RPC
// queue for the whole duration of the run; it is the queue's only consumer.
func (s *Supervisor) Serve() Outcome {
	stop := make(chan struct{})
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		s.drain(stop)
	}()

	var bo iox.Backoff
	for {
		var reply proto.Message
		var outcome *Outcome
		err := s.side.TryRecv(func(m proto.Message) {
			reply, outcome = s.dispatch(m)
		})
		if err != nil {
			bo.Wait()
			continue
		}
		bo.Reset()
		if reply != nil {
			s.side.Send(reply)
		}
		if outcome != nil {
			close(stop)
			<-drained
			return *outcome
		}
	}
}

// drain dequeues and records asynchronous RPC packets. After stop it makes
// one final sweep, so nothing enqueued before the terminal message is lost.
func (s *Supervisor) drain(stop <-chan struct{}) {
	var bo iox.Backoff
	for {
		if err := s.q.TryDrain(s.recordPacket); err == nil {
			bo.Reset()
			continue
		}
		select {
		case <-stop:
			for s.q.TryDrain(s.recordPacket) == nil {
			}
			return
		default:
			bo.Wait()
		}
	}
}

func (s *Supervisor) recordPacket(packet []byte) {
	async, service, tag, args, err := rpc.DecodePacket(packet)
	if err != nil {
		s.appendLog(fmt.Sprintf("malformed async RPC packet: %v\n", err))
		return
	}
	s.mu.Lock()
	s.calls = append(s.calls, RPCCall{Async: async, Service: service, Tag: string(tag), Args: args})
	s.mu.Unlock()
}

// dispatch handles one message inside the receive window, before
// acknowledgment: anything borrowed from the message is copied here. The
// returned reply is sent after acknowledgment; a non-nil outcome ends Serve.
func (s *Supervisor) dispatch(m proto.Message) (proto.Message, *Outcome) {
	switch v := m.(type) {
	case proto.Log:
		s.appendLog(v.Text)

	case proto.RpcSend:
		// Mailbox-path calls never overtake queued ones: the core drains
		// the queue before sending, so appending here keeps global
		// submission order.
		s.mu.Lock()
		s.calls = append(s.calls, RPCCall{
			Async:   v.Async,
			Service: v.Service,
			Tag:     string(v.Tag),
			Args:    append([]any(nil), v.Args...),
		})
		s.mu.Unlock()

	case proto.RpcRecvRequest:
		step := s.nextRPCStep()
		// The slot aliases kernel memory only until acknowledgment.
		if len(step.data) > 0 {
			copy(v.Slot, step.data)
		}
		return step.reply, nil

	case proto.RpcFlush:
		// Acknowledgment is what releases the core, so the queue must be
		// empty before this handler returns. The drain worker stays the
		// sole consumer; this side only watches the depth.
		var bo iox.Backoff
		for !s.q.Empty() {
			bo.Wait()
		}

	case proto.CacheGetRequest:
		return s.cacheGet(v.Key), nil
	case proto.CachePutRequest:
		return s.cachePut(v.Key, v.Value), nil

	case proto.DmaRecordStart:
		s.dmaStart(v.Name)
	case proto.DmaRecordAppend:
		s.dmaAppend(v.Data)
	case proto.DmaRecordStop:
		s.dmaStop(v.Duration, v.EnableDDMA)
	case proto.DmaEraseRequest:
		s.dmaErase(v.Name)
	case proto.DmaRetrieveRequest:
		return s.dmaRetrieve(v.Name), nil
	case proto.DmaStartRemoteRequest:
		return s.remoteStart(v), nil
	case proto.DmaAwaitRemoteRequest:
		return s.remoteAwait(v.ID), nil

	case proto.SubkernelLoadRunRequest:
		return s.subkernelLoadRun(v), nil
	case proto.SubkernelAwaitFinishRequest:
		return s.subkernelFinish(v.ID), nil
	case proto.SubkernelMsgSend:
		s.subkernelSend(v)
	case proto.SubkernelMsgRecvRequest:
		return s.subkernelMsgRecv(v.ID), nil

	case proto.I2CStartRequest:
		return s.i2cBasic(v.Bus), nil
	case proto.I2CRestartRequest:
		return s.i2cBasic(v.Bus), nil
	case proto.I2CStopRequest:
		return s.i2cBasic(v.Bus), nil
	case proto.I2CWriteRequest:
		return s.i2cWrite(v.Bus, v.Data), nil
	case proto.I2CReadRequest:
		return s.i2cRead(v.Bus), nil
	case proto.SPISetConfigRequest:
		return s.spiSetConfig(v), nil
	case proto.SPIWriteRequest:
		return s.spiWrite(v.Bus, v.Data), nil
	case proto.SPIReadRequest:
		return s.spiRead(v.Bus), nil

	case proto.RunFinished:
		s.sessionEnd()
		return nil, &Outcome{Status: StatusFinished}
	case proto.RunAborted:
		s.sessionEnd()
		return nil, &Outcome{Status: StatusAborted}
	case proto.RunException:
		s.sessionEnd()
		out := &Outcome{Status: StatusException, Backtrace: append([]string(nil), v.Backtrace...)}
		if v.Exception != nil {
			ex := *v.Exception
			out.Exception = &ex
		}
		return nil, out

	default:
		s.appendLog(fmt.Sprintf("unhandled message %s\n", m.Kind()))
	}
	return nil, nil
}
