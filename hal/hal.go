// Package hal is the hardware register surface of the kernel core: the RTIO
// clock, the output engine, the DMA playback controller, the bus arbiter,
// caches, the stack guard, and memory regions.
//
// Interfaces model the register-level contract; Emulated provides the host
// implementation used by the supervisor harness and tests.
package hal

// Logger writes newline-delimited log lines.
type Logger interface {
	WriteLineString(s string)
	WriteLineBytes(b []byte)
}

// Clock exposes the RTIO time registers, all split into 32-bit halves.
//
// Now is the timeline cursor: the timestamp the next submitted event is
// scheduled at. It is written only by the kernel core (and by a satellite
// clock synchronization at load time). Counter is the free-running hardware
// time and advances independently of this core.
type Clock interface {
	NowHi() uint32
	NowLo() uint32
	SetNowHi(v uint32)
	SetNowLo(v uint32)
	CounterHi() uint32
	CounterLo() uint32
}

// ReadNow assembles the timeline cursor. The cursor has a single writer
// (this core), so no coherence dance is needed.
func ReadNow(c Clock) uint64 {
	return uint64(c.NowHi())<<32 | uint64(c.NowLo())
}

// WriteNow stores the timeline cursor, high half first.
func WriteNow(c Clock, v uint64) {
	c.SetNowHi(uint32(v >> 32))
	c.SetNowLo(uint32(v))
}

// ReadCounter assembles a coherent counter value from the split registers.
// The counter advances concurrently; a carry between the two reads is
// detected by re-reading the high half.
func ReadCounter(c Clock) uint64 {
	for {
		hi := c.CounterHi()
		lo := c.CounterLo()
		if c.CounterHi() == hi {
			return uint64(hi)<<32 | uint64(lo)
		}
	}
}

// RTIOStatus is the status word of the direct output engine.
type RTIOStatus uint8

const (
	// RTIOStatusWait: the engine cannot accept the event yet; retry.
	RTIOStatusWait RTIOStatus = 1 << iota
	// RTIOStatusUnderflow: the event timestamp is already in the past.
	RTIOStatusUnderflow
	// RTIOStatusDestinationUnreachable: the target channel is not routable.
	RTIOStatusDestinationUnreachable
)

// RTIO is the direct output engine: one timed event per Submit. words is
// borrowed for the duration of the call.
type RTIO interface {
	Submit(timestamp uint64, target int32, words []int32) RTIOStatus
}

// DMA playback error bits, latched with the offending channel and timestamp
// until ClearError.
const (
	DMAErrorUnderflow uint8 = 1 << iota
	DMAErrorDestinationUnreachable
)

// DMAController programs hardware playback of a recorded trace. The
// controller reads the trace in place; the buffer must stay untouched while
// Busy reports true.
type DMAController interface {
	SetBase(trace []byte)
	SetTimeOffset(offset uint64)
	Enable()
	Busy() bool
	Error() uint8
	ErrorChannel() uint32
	ErrorTimestamp() uint64
	ClearError()
}

// Master selects which engine drives the RTIO bus.
type Master uint8

const (
	MasterCPU Master = iota
	MasterDMA
)

// Router is the RTIO bus arbiter. While MasterDMA is selected, direct
// submissions from the CPU report RTIOStatusWait.
type Router interface {
	SelectMaster(m Master)
}

// Cache exposes the CPU cache maintenance operations.
type Cache interface {
	FlushI()
	FlushD()
}

// StackGuard installs the guard page below the program stack. Contains is
// used by the trap path to tell a stack overflow from a stray access.
type StackGuard interface {
	Install(base, size uint64)
	Contains(addr uint64) bool
}

// Memory registers allocator regions and zeroes image segments.
type Memory interface {
	RegisterRegion(name string, base, size uint64)
	Zero(base, size uint64)
}

// TrapCause identifies a CPU trap.
type TrapCause uint8

const (
	TrapLoadFault TrapCause = iota + 1
	TrapStoreFault
	TrapIllegalInstruction
	TrapMisaligned
	TrapBreakpoint
)

func (c TrapCause) String() string {
	switch c {
	case TrapLoadFault:
		return "load fault"
	case TrapStoreFault:
		return "store fault"
	case TrapIllegalInstruction:
		return "illegal instruction"
	case TrapMisaligned:
		return "misaligned access"
	case TrapBreakpoint:
		return "breakpoint"
	default:
		return "unknown trap"
	}
}

// TrapInfo is the decoded trap register state.
type TrapInfo struct {
	Cause TrapCause
	PC    uint64
	Addr  uint64
}

// Traps delivers CPU traps to the single registered handler. The handler
// runs synchronously on the trapping thread and does not return control to
// the interrupted code.
type Traps interface {
	OnTrap(handler func(TrapInfo))
}

// HAL is the full register surface handed to the kernel core.
type HAL interface {
	Clock() Clock
	RTIO() RTIO
	DMA() DMAController
	Router() Router
	Cache() Cache
	StackGuard() StackGuard
	Memory() Memory
	Traps() Traps
	Logger() Logger
}
