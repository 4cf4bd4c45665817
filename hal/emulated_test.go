package hal

import (
	"encoding/binary"
	"reflect"
	"testing"
)

// record assembles one trace record by hand: length byte, three high target
// bytes, timestamp, low target byte, then the data words.
func record(target int32, timestamp uint64, words ...int32) []byte {
	b := make([]byte, dmaHeaderBytes+4*len(words))
	b[0] = byte(len(b))
	b[1] = byte(uint32(target) >> 8)
	b[2] = byte(uint32(target) >> 16)
	b[3] = byte(uint32(target) >> 24)
	binary.LittleEndian.PutUint64(b[4:], timestamp)
	b[12] = byte(uint32(target))
	for i, w := range words {
		binary.LittleEndian.PutUint32(b[dmaHeaderBytes+4*i:], uint32(w))
	}
	return b
}

func TestClockRegisters(t *testing.T) {
	e := NewEmulated()
	c := e.Clock()

	WriteNow(c, 0x123456789abcdef0)
	if got := c.NowHi(); got != 0x12345678 {
		t.Fatalf("NowHi = %#x, want 0x12345678", got)
	}
	if got := c.NowLo(); got != 0x9abcdef0 {
		t.Fatalf("NowLo = %#x, want 0x9abcdef0", got)
	}
	if got := ReadNow(c); got != 0x123456789abcdef0 {
		t.Fatalf("ReadNow = %#x", got)
	}

	e.SetCounter(0x1fffffffe)
	if got := ReadCounter(c); got != 0x1fffffffe {
		t.Fatalf("ReadCounter = %#x, want 0x1fffffffe", got)
	}
	e.AdvanceCounter(2)
	if got := ReadCounter(c); got != 0x200000000 {
		t.Fatalf("ReadCounter after advance = %#x, want 0x200000000", got)
	}
}

func TestSubmitAppendsEvent(t *testing.T) {
	e := NewEmulated()
	e.SetCounter(100)

	words := []int32{7, -1}
	if st := e.RTIO().Submit(200, 0x050402, words); st != 0 {
		t.Fatalf("status = %v, want 0", st)
	}
	words[0] = 99

	evs := e.Events()
	if len(evs) != 1 {
		t.Fatalf("events = %d, want 1", len(evs))
	}
	want := Event{Timestamp: 200, Target: 0x050402, Words: []int32{7, -1}}
	if !reflect.DeepEqual(evs[0], want) {
		t.Fatalf("event = %+v, want %+v", evs[0], want)
	}
}

func TestSubmitUnderflow(t *testing.T) {
	e := NewEmulated()
	e.SetCounter(1000)

	if st := e.RTIO().Submit(999, 0x0100, []int32{1}); st != RTIOStatusUnderflow {
		t.Fatalf("status = %v, want underflow", st)
	}
	if len(e.Events()) != 0 {
		t.Fatal("underflowed event reached the bus")
	}
	if st := e.RTIO().Submit(1000, 0x0100, []int32{1}); st != 0 {
		t.Fatalf("status at counter = %v, want 0", st)
	}
}

func TestSubmitUnreachable(t *testing.T) {
	e := NewEmulated()
	e.SetUnreachable(5, true)

	if st := e.RTIO().Submit(10, 0x0500, []int32{1}); st != RTIOStatusDestinationUnreachable {
		t.Fatalf("status = %v, want destination unreachable", st)
	}
	e.SetUnreachable(5, false)
	if st := e.RTIO().Submit(10, 0x0500, []int32{1}); st != 0 {
		t.Fatalf("status after rerouting = %v, want 0", st)
	}
}

func TestSubmitWaitsWhileDMAOwnsBus(t *testing.T) {
	e := NewEmulated()
	e.Router().SelectMaster(MasterDMA)

	if st := e.RTIO().Submit(10, 0x0100, []int32{1}); st != RTIOStatusWait {
		t.Fatalf("status = %v, want wait", st)
	}
	e.Router().SelectMaster(MasterCPU)
	if st := e.RTIO().Submit(10, 0x0100, []int32{1}); st != 0 {
		t.Fatalf("status after handover = %v, want 0", st)
	}
}

func TestSubmitWaitCycles(t *testing.T) {
	e := NewEmulated()
	e.SetWaitCycles(2)

	for i := 0; i < 2; i++ {
		if st := e.RTIO().Submit(10, 0x0100, []int32{1}); st != RTIOStatusWait {
			t.Fatalf("submission %d: status = %v, want wait", i, st)
		}
	}
	if st := e.RTIO().Submit(10, 0x0100, []int32{1}); st != 0 {
		t.Fatalf("status after wait cycles = %v, want 0", st)
	}
}

func TestPlaybackAppliesTimeOffset(t *testing.T) {
	e := NewEmulated()
	e.SetCounter(100)

	trace := append(record(0x0504, 1000, 7), record(0x0610, 2000, 8, 9)...)
	dma := e.DMA()
	dma.SetBase(trace)
	dma.SetTimeOffset(500)
	dma.Enable()

	polls := 0
	for dma.Busy() {
		polls++
	}
	if polls != busyPolls {
		t.Fatalf("busy polls = %d, want %d", polls, busyPolls)
	}
	if err := dma.Error(); err != 0 {
		t.Fatalf("error = %#x, want 0", err)
	}

	want := []Event{
		{Timestamp: 1500, Target: 0x0504, Words: []int32{7}},
		{Timestamp: 2500, Target: 0x0610, Words: []int32{8, 9}},
	}
	if got := e.Events(); !reflect.DeepEqual(got, want) {
		t.Fatalf("events = %+v, want %+v", got, want)
	}
}

func TestPlaybackStopsAtZeroLength(t *testing.T) {
	e := NewEmulated()

	trace := append(record(0x0100, 10, 1), 0x00, 0xff, 0xff)
	dma := e.DMA()
	dma.SetBase(trace)
	dma.Enable()

	if got := len(e.Events()); got != 1 {
		t.Fatalf("events = %d, want 1", got)
	}
}

func TestPlaybackLatchesFirstError(t *testing.T) {
	e := NewEmulated()
	e.SetCounter(5000)

	trace := append(record(0x030200, 1000, 1), record(0x040200, 2000, 2)...)
	dma := e.DMA()
	dma.SetBase(trace)
	dma.Enable()

	if got := dma.Error(); got != DMAErrorUnderflow {
		t.Fatalf("error = %#x, want underflow", got)
	}
	if got := dma.ErrorChannel(); got != 0x0302 {
		t.Fatalf("error channel = %#x, want 0x0302", got)
	}
	if got := dma.ErrorTimestamp(); got != 1000 {
		t.Fatalf("error timestamp = %d, want 1000", got)
	}
	if got := len(e.Events()); got != 0 {
		t.Fatalf("events = %d, want 0", got)
	}

	dma.ClearError()
	if dma.Error() != 0 || dma.ErrorChannel() != 0 || dma.ErrorTimestamp() != 0 {
		t.Fatal("error state survived ClearError")
	}
}

func TestPlaybackAccumulatesErrorBits(t *testing.T) {
	e := NewEmulated()
	e.SetCounter(5000)
	e.SetUnreachable(9, true)

	trace := append(record(0x000900, 9000, 1), record(0x000200, 1000, 2)...)
	dma := e.DMA()
	dma.SetBase(trace)
	dma.Enable()

	if got := dma.Error(); got != DMAErrorUnderflow|DMAErrorDestinationUnreachable {
		t.Fatalf("error = %#x, want both bits", got)
	}
	if got := dma.ErrorChannel(); got != 9 {
		t.Fatalf("error channel = %d, want first offender 9", got)
	}
	if got := dma.ErrorTimestamp(); got != 9000 {
		t.Fatalf("error timestamp = %d, want 9000", got)
	}
}

func TestTrapDispatch(t *testing.T) {
	e := NewEmulated()

	e.TriggerTrap(TrapInfo{Cause: TrapLoadFault}) // no handler yet

	var got TrapInfo
	e.Traps().OnTrap(func(info TrapInfo) { got = info })
	want := TrapInfo{Cause: TrapStoreFault, PC: 0x4000, Addr: 0xdead}
	e.TriggerTrap(want)
	if got != want {
		t.Fatalf("trap = %+v, want %+v", got, want)
	}
}

func TestStackGuardContains(t *testing.T) {
	e := NewEmulated()
	g := e.StackGuard()

	if g.Contains(0x1000) {
		t.Fatal("empty guard claims an address")
	}
	g.Install(0x1000, 0x1000)
	for addr, want := range map[uint64]bool{
		0x0fff: false,
		0x1000: true,
		0x1fff: true,
		0x2000: false,
	} {
		if got := g.Contains(addr); got != want {
			t.Fatalf("Contains(%#x) = %v, want %v", addr, got, want)
		}
	}
}

func TestMemoryAndCacheBookkeeping(t *testing.T) {
	e := NewEmulated()

	e.Memory().RegisterRegion("kernel", 0x40000000, 0x800000)
	e.Memory().Zero(0x40100000, 0x2000)
	if got := e.Regions(); len(got) != 1 || got[0].Name != "kernel" {
		t.Fatalf("regions = %+v", got)
	}
	if got := e.Zeroed(); len(got) != 1 || got[0].Base != 0x40100000 || got[0].Size != 0x2000 {
		t.Fatalf("zeroed = %+v", got)
	}

	e.Cache().FlushD()
	e.Cache().FlushI()
	e.Cache().FlushI()
	i, d := e.CacheFlushes()
	if i != 2 || d != 1 {
		t.Fatalf("flushes = %d/%d, want 2/1", i, d)
	}
}

func TestLoggerCollectsLines(t *testing.T) {
	e := NewEmulated()
	log := e.Logger()

	log.WriteLineString("first")
	log.WriteLineBytes([]byte("second"))
	want := []string{"first", "second"}
	if got := e.LogLines(); !reflect.DeepEqual(got, want) {
		t.Fatalf("lines = %q, want %q", got, want)
	}
}
