package hal

import (
	"encoding/binary"
	"sync"
)

// Event is one timed write that reached the bus, from a direct submission
// or from DMA playback.
type Event struct {
	Timestamp uint64
	Target    int32
	Words     []int32
}

// Region is a named address range registered with the memory device.
type Region struct {
	Name string
	Base uint64
	Size uint64
}

// busyPolls is how many Busy reads the emulated DMA controller reports true
// for after Enable, so playback loops actually poll.
const busyPolls = 2

// dmaHeaderBytes is the fixed prefix of one trace record: length byte,
// three high target bytes, 64-bit timestamp, low target byte.
const dmaHeaderBytes = 13

// Emulated is an in-memory register surface. The devices share one time
// base and one event bus, so DMA playback and direct submissions land in
// the same place a test can inspect.
//
// The concrete type carries the test hooks; the kernel core is handed the
// HAL view only.
type Emulated struct {
	mu sync.Mutex

	now     uint64
	counter uint64

	events      []Event
	unreachable map[uint32]bool
	waitCycles  int

	master Master

	dmaTrace  []byte
	dmaOffset uint64
	dmaBusy   int
	dmaError  uint8
	dmaChan   uint32
	dmaTime   uint64

	flushedI int
	flushedD int

	guardBase uint64
	guardSize uint64

	regions []Region
	zeroed  []Region

	trap func(TrapInfo)

	lines []string
}

// NewEmulated returns a fresh emulated register surface.
func NewEmulated() *Emulated {
	return &Emulated{unreachable: make(map[uint32]bool)}
}

func (e *Emulated) Clock() Clock           { return emClock{e} }
func (e *Emulated) RTIO() RTIO             { return emRTIO{e} }
func (e *Emulated) DMA() DMAController     { return emDMA{e} }
func (e *Emulated) Router() Router         { return emRouter{e} }
func (e *Emulated) Cache() Cache           { return emCache{e} }
func (e *Emulated) StackGuard() StackGuard { return emGuard{e} }
func (e *Emulated) Memory() Memory         { return emMemory{e} }
func (e *Emulated) Traps() Traps           { return emTraps{e} }
func (e *Emulated) Logger() Logger         { return emLogger{e} }

type emClock struct{ e *Emulated }

func (c emClock) NowHi() uint32 {
	c.e.mu.Lock()
	defer c.e.mu.Unlock()
	return uint32(c.e.now >> 32)
}

func (c emClock) NowLo() uint32 {
	c.e.mu.Lock()
	defer c.e.mu.Unlock()
	return uint32(c.e.now)
}

func (c emClock) SetNowHi(v uint32) {
	c.e.mu.Lock()
	defer c.e.mu.Unlock()
	c.e.now = uint64(v)<<32 | c.e.now&0xffffffff
}

func (c emClock) SetNowLo(v uint32) {
	c.e.mu.Lock()
	defer c.e.mu.Unlock()
	c.e.now = c.e.now&^uint64(0xffffffff) | uint64(v)
}

func (c emClock) CounterHi() uint32 {
	c.e.mu.Lock()
	defer c.e.mu.Unlock()
	return uint32(c.e.counter >> 32)
}

func (c emClock) CounterLo() uint32 {
	c.e.mu.Lock()
	defer c.e.mu.Unlock()
	return uint32(c.e.counter)
}

type emRTIO struct{ e *Emulated }

func (r emRTIO) Submit(timestamp uint64, target int32, words []int32) RTIOStatus {
	e := r.e
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.master == MasterDMA {
		return RTIOStatusWait
	}
	if e.waitCycles > 0 {
		e.waitCycles--
		return RTIOStatusWait
	}
	if e.unreachable[uint32(target)>>8] {
		return RTIOStatusDestinationUnreachable
	}
	if timestamp < e.counter {
		return RTIOStatusUnderflow
	}
	e.events = append(e.events, Event{
		Timestamp: timestamp,
		Target:    target,
		Words:     append([]int32(nil), words...),
	})
	return 0
}

type emDMA struct{ e *Emulated }

func (d emDMA) SetBase(trace []byte) {
	d.e.mu.Lock()
	defer d.e.mu.Unlock()
	d.e.dmaTrace = trace
}

func (d emDMA) SetTimeOffset(offset uint64) {
	d.e.mu.Lock()
	defer d.e.mu.Unlock()
	d.e.dmaOffset = offset
}

// Enable runs the playback. The emulation consumes the whole trace here and
// then counts down Busy, so callers still exercise their poll loop.
func (d emDMA) Enable() {
	e := d.e
	e.mu.Lock()
	defer e.mu.Unlock()
	trace := e.dmaTrace
	for len(trace) > 0 && trace[0] != 0 {
		length := int(trace[0])
		if length < dmaHeaderBytes || length > len(trace) {
			break
		}
		channel := uint32(trace[1]) | uint32(trace[2])<<8 | uint32(trace[3])<<16
		timestamp := binary.LittleEndian.Uint64(trace[4:12]) + e.dmaOffset
		target := int32(channel<<8 | uint32(trace[12]))
		words := make([]int32, 0, (length-dmaHeaderBytes)/4)
		for off := dmaHeaderBytes; off+4 <= length; off += 4 {
			words = append(words, int32(binary.LittleEndian.Uint32(trace[off:])))
		}
		trace = trace[length:]
		switch {
		case e.unreachable[channel]:
			if e.dmaError == 0 {
				e.dmaChan, e.dmaTime = channel, timestamp
			}
			e.dmaError |= DMAErrorDestinationUnreachable
		case timestamp < e.counter:
			if e.dmaError == 0 {
				e.dmaChan, e.dmaTime = channel, timestamp
			}
			e.dmaError |= DMAErrorUnderflow
		default:
			e.events = append(e.events, Event{Timestamp: timestamp, Target: target, Words: words})
		}
	}
	e.dmaBusy = busyPolls
}

func (d emDMA) Busy() bool {
	d.e.mu.Lock()
	defer d.e.mu.Unlock()
	if d.e.dmaBusy > 0 {
		d.e.dmaBusy--
		return true
	}
	return false
}

func (d emDMA) Error() uint8 {
	d.e.mu.Lock()
	defer d.e.mu.Unlock()
	return d.e.dmaError
}

func (d emDMA) ErrorChannel() uint32 {
	d.e.mu.Lock()
	defer d.e.mu.Unlock()
	return d.e.dmaChan
}

func (d emDMA) ErrorTimestamp() uint64 {
	d.e.mu.Lock()
	defer d.e.mu.Unlock()
	return d.e.dmaTime
}

func (d emDMA) ClearError() {
	d.e.mu.Lock()
	defer d.e.mu.Unlock()
	d.e.dmaError = 0
	d.e.dmaChan = 0
	d.e.dmaTime = 0
}

type emRouter struct{ e *Emulated }

func (r emRouter) SelectMaster(m Master) {
	r.e.mu.Lock()
	defer r.e.mu.Unlock()
	r.e.master = m
}

type emCache struct{ e *Emulated }

func (c emCache) FlushI() {
	c.e.mu.Lock()
	defer c.e.mu.Unlock()
	c.e.flushedI++
}

func (c emCache) FlushD() {
	c.e.mu.Lock()
	defer c.e.mu.Unlock()
	c.e.flushedD++
}

type emGuard struct{ e *Emulated }

func (g emGuard) Install(base, size uint64) {
	g.e.mu.Lock()
	defer g.e.mu.Unlock()
	g.e.guardBase, g.e.guardSize = base, size
}

func (g emGuard) Contains(addr uint64) bool {
	g.e.mu.Lock()
	defer g.e.mu.Unlock()
	return g.e.guardSize > 0 && addr >= g.e.guardBase && addr < g.e.guardBase+g.e.guardSize
}

type emMemory struct{ e *Emulated }

func (m emMemory) RegisterRegion(name string, base, size uint64) {
	m.e.mu.Lock()
	defer m.e.mu.Unlock()
	m.e.regions = append(m.e.regions, Region{Name: name, Base: base, Size: size})
}

func (m emMemory) Zero(base, size uint64) {
	m.e.mu.Lock()
	defer m.e.mu.Unlock()
	m.e.zeroed = append(m.e.zeroed, Region{Base: base, Size: size})
}

type emTraps struct{ e *Emulated }

func (t emTraps) OnTrap(handler func(TrapInfo)) {
	t.e.mu.Lock()
	defer t.e.mu.Unlock()
	t.e.trap = handler
}

type emLogger struct{ e *Emulated }

func (l emLogger) WriteLineString(s string) {
	l.e.mu.Lock()
	defer l.e.mu.Unlock()
	l.e.lines = append(l.e.lines, s)
}

func (l emLogger) WriteLineBytes(b []byte) {
	l.e.mu.Lock()
	defer l.e.mu.Unlock()
	l.e.lines = append(l.e.lines, string(b))
}

// SetCounter pins the hardware counter to v.
func (e *Emulated) SetCounter(v uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.counter = v
}

// AdvanceCounter moves the hardware counter forward by d.
func (e *Emulated) AdvanceCounter(d uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.counter += d
}

// SetUnreachable marks a channel routable or not for both the direct engine
// and DMA playback.
func (e *Emulated) SetUnreachable(channel uint32, unreachable bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if unreachable {
		e.unreachable[channel] = true
	} else {
		delete(e.unreachable, channel)
	}
}

// SetWaitCycles makes the next n direct submissions report RTIOStatusWait.
func (e *Emulated) SetWaitCycles(n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.waitCycles = n
}

// TriggerTrap dispatches a trap to the registered handler on the calling
// goroutine. The handler is expected not to return control to the
// interrupted code.
func (e *Emulated) TriggerTrap(info TrapInfo) {
	e.mu.Lock()
	h := e.trap
	e.mu.Unlock()
	if h != nil {
		h(info)
	}
}

// Events returns a copy of everything that reached the bus so far.
func (e *Emulated) Events() []Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Event(nil), e.events...)
}

// CurrentMaster reports which engine owns the bus.
func (e *Emulated) CurrentMaster() Master {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.master
}

// LogLines returns a copy of the lines written to the logger.
func (e *Emulated) LogLines() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.lines...)
}

// CacheFlushes reports how many instruction and data flushes were issued.
func (e *Emulated) CacheFlushes() (i, d int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.flushedI, e.flushedD
}

// Regions returns a copy of the registered allocator regions.
func (e *Emulated) Regions() []Region {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Region(nil), e.regions...)
}

// Zeroed returns a copy of the ranges cleared through the memory device.
func (e *Emulated) Zeroed() []Region {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Region(nil), e.zeroed...)
}
