package kern

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/HTGAzureX1212/artiq/eh"
	"github.com/HTGAzureX1212/artiq/hal"
	"github.com/HTGAzureX1212/artiq/loader"
	"github.com/HTGAzureX1212/artiq/mailbox"
	"github.com/HTGAzureX1212/artiq/proto"
	"github.com/HTGAzureX1212/artiq/rpc"
	"github.com/HTGAzureX1212/artiq/rpcq"
)

type harness struct {
	core *Core
	sup  *mailbox.Side
	emu  *hal.Emulated
	q    *rpcq.Queue
}

func newHarnessProgram(t *testing.T, opts Options, prog loader.Program) *harness {
	t.Helper()
	reg := loader.NewRegistry()
	if err := reg.Register("exp", func() loader.Program { return prog }); err != nil {
		t.Fatal(err)
	}
	kernSide, sup := mailbox.Pair()
	emu := hal.NewEmulated()
	q := rpcq.New()
	core := NewCore(kernSide, q, emu, loader.NewLoader(reg), opts)
	return &harness{core: core, sup: sup, emu: emu, q: q}
}

func newHarness(t *testing.T, opts Options, program func(*Context) error) *harness {
	t.Helper()
	return newHarnessProgram(t, opts, loader.Program{Entry: program})
}

func testOptions() Options {
	return Options{
		LogChannel:  0x20,
		HeapRegions: []hal.Region{{Name: "heap", Base: 0x100000, Size: 0x40000}},
		LoadRegion:  hal.Region{Name: "kernel", Base: 0x200000, Size: 0x10000},
		StackGuard:  hal.Region{Name: "guard", Base: 0x1ff000, Size: 0x1000},
	}
}

func testImage(t *testing.T, bss uint32) []byte {
	t.Helper()
	image, err := loader.EncodeImage(loader.Header{Version: loader.Version, BSSSize: bss, Name: "exp"})
	if err != nil {
		t.Fatal(err)
	}
	return image
}

func recvTimeout(t *testing.T, s *mailbox.Side) proto.Message {
	t.Helper()
	ch := make(chan proto.Message, 1)
	go func() {
		var m proto.Message
		s.Recv(func(x proto.Message) { m = x })
		ch <- m
	}()
	select {
	case m := <-ch:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a message")
		return nil
	}
}

// boot starts the core and walks it through a successful load.
func (h *harness) boot(t *testing.T, image []byte) {
	t.Helper()
	go h.core.Run()
	h.sup.Send(proto.LoadRequest{Image: image})
	reply, ok := recvTimeout(t, h.sup).(proto.LoadReply)
	if !ok || reply.Err != "" {
		t.Fatalf("load reply %#v", reply)
	}
}

func waitDone(t *testing.T, c *Core) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("core did not halt")
	}
}

func TestRunFinishedCleanly(t *testing.T) {
	h := newHarness(t, testOptions(), func(ctx *Context) error { return nil })
	h.boot(t, testImage(t, 4096))

	if _, ok := recvTimeout(t, h.sup).(proto.RpcFlush); !ok {
		t.Fatal("expected rpc_flush")
	}
	if _, ok := recvTimeout(t, h.sup).(proto.RunFinished); !ok {
		t.Fatal("expected run_finished")
	}
	waitDone(t, h.core)
	if !h.core.Halted() {
		t.Fatal("core still marked running")
	}

	opts := testOptions()
	if regions := h.emu.Regions(); len(regions) != 1 || regions[0].Name != "heap" {
		t.Fatalf("allocator regions %v", regions)
	}
	wantBase := opts.LoadRegion.Base + opts.LoadRegion.Size - 4096
	if zeroed := h.emu.Zeroed(); len(zeroed) != 1 || zeroed[0].Base != wantBase || zeroed[0].Size != 4096 {
		t.Fatalf("zeroed %v", zeroed)
	}
	if i, d := h.emu.CacheFlushes(); i != 1 || d != 1 {
		t.Fatalf("cache flushes i=%d d=%d", i, d)
	}
	if !h.emu.StackGuard().Contains(opts.StackGuard.Base) {
		t.Fatal("stack guard not installed")
	}
}

func TestLoadFailureHalts(t *testing.T) {
	h := newHarness(t, testOptions(), func(ctx *Context) error { return nil })
	go h.core.Run()

	image, err := loader.EncodeImage(loader.Header{Version: loader.Version, Name: "ghost"})
	if err != nil {
		t.Fatal(err)
	}
	h.sup.Send(proto.LoadRequest{Image: image})
	reply, ok := recvTimeout(t, h.sup).(proto.LoadReply)
	if !ok || !strings.Contains(reply.Err, "no such program") {
		t.Fatalf("load reply %#v", reply)
	}
	waitDone(t, h.core)
	if err := h.sup.TryRecv(nil); err == nil {
		t.Fatal("unexpected message after a failed load")
	}
}

func TestBadImageReported(t *testing.T) {
	h := newHarness(t, testOptions(), func(ctx *Context) error { return nil })
	go h.core.Run()

	h.sup.Send(proto.LoadRequest{Image: []byte("garbage")})
	reply, ok := recvTimeout(t, h.sup).(proto.LoadReply)
	if !ok || !strings.Contains(reply.Err, "malformed image header") {
		t.Fatalf("load reply %#v", reply)
	}
	waitDone(t, h.core)
}

func TestUpdateNowApplied(t *testing.T) {
	var seen uint64
	h := newHarness(t, testOptions(), func(ctx *Context) error {
		seen = ctx.Now()
		return nil
	})
	go h.core.Run()

	h.sup.Send(proto.LoadRequest{Image: testImage(t, 0)})
	// The load request is acknowledged, so the slot is free: post the clock
	// update now and it is already pending when the core polls between load
	// and start.
	if err := h.sup.Post(proto.UpdateNow{Timestamp: 0x123456789A}); err != nil {
		t.Fatal(err)
	}

	if reply, ok := recvTimeout(t, h.sup).(proto.LoadReply); !ok || reply.Err != "" {
		t.Fatalf("load reply %#v", reply)
	}
	if _, ok := recvTimeout(t, h.sup).(proto.RpcFlush); !ok {
		t.Fatal("expected rpc_flush")
	}
	if _, ok := recvTimeout(t, h.sup).(proto.RunFinished); !ok {
		t.Fatal("expected run_finished")
	}
	waitDone(t, h.core)

	if seen != 0x123456789A {
		t.Fatalf("program saw cursor %#x, want %#x", seen, uint64(0x123456789A))
	}
	if now := hal.ReadNow(h.emu.Clock()); now != 0x123456789A {
		t.Fatalf("cursor = %#x", now)
	}
}

func TestBootDesyncHalts(t *testing.T) {
	h := newHarness(t, testOptions(), func(ctx *Context) error { return nil })
	go h.core.Run()

	// Wrong variant instead of the load request: the send wedges forever,
	// but the core must still become observably halted.
	go h.sup.Send(proto.CachePutReply{})
	waitDone(t, h.core)
	if !h.core.Halted() {
		t.Fatal("core still marked running")
	}
}

func TestStartDesyncHalts(t *testing.T) {
	h := newHarness(t, testOptions(), func(ctx *Context) error { return nil })
	go h.core.Run()

	h.sup.Send(proto.LoadRequest{Image: testImage(t, 0)})
	if err := h.sup.Post(proto.CachePutReply{}); err != nil {
		t.Fatal(err)
	}

	if reply, ok := recvTimeout(t, h.sup).(proto.LoadReply); !ok || reply.Err != "" {
		t.Fatalf("load reply %#v", reply)
	}
	waitDone(t, h.core)
}

func TestRunExceptionReported(t *testing.T) {
	h := newHarness(t, testOptions(), func(ctx *Context) error {
		return eh.New("ValueError", "out of range {0}", 42)
	})
	h.boot(t, testImage(t, 0))

	re, ok := recvTimeout(t, h.sup).(proto.RunException)
	if !ok {
		t.Fatal("expected run_exception")
	}
	ex := re.Exception
	if ex.ID != eh.GetExceptionID("ValueError") || ex.Message != "out of range {0}" || ex.Param[0] != 42 {
		t.Fatalf("exception %+v", ex)
	}
	if len(re.Backtrace) != 1 || !strings.Contains(re.Backtrace[0], "core_test.go") {
		t.Fatalf("backtrace %v", re.Backtrace)
	}
	waitDone(t, h.core)
}

func TestPlainErrorWrapped(t *testing.T) {
	h := newHarness(t, testOptions(), func(ctx *Context) error {
		return errors.New("gpio busy")
	})
	h.boot(t, testImage(t, 0))

	re, ok := recvTimeout(t, h.sup).(proto.RunException)
	if !ok {
		t.Fatal("expected run_exception")
	}
	if re.Exception.ID != eh.GetExceptionID("RuntimeError") || re.Exception.Message != "gpio busy" {
		t.Fatalf("exception %+v", re.Exception)
	}
	waitDone(t, h.core)
}

func TestPanicAborted(t *testing.T) {
	h := newHarness(t, testOptions(), func(ctx *Context) error {
		panic("boom")
	})
	h.boot(t, testImage(t, 0))

	lg, ok := recvTimeout(t, h.sup).(proto.Log)
	if !ok {
		t.Fatal("expected a log line")
	}
	if !strings.HasPrefix(lg.Text, "panic at ") || !strings.Contains(lg.Text, "core_test.go") ||
		!strings.Contains(lg.Text, "boom") || !strings.HasSuffix(lg.Text, "\n") {
		t.Fatalf("log %q", lg.Text)
	}
	if _, ok := recvTimeout(t, h.sup).(proto.RunAborted); !ok {
		t.Fatal("expected run_aborted")
	}
	waitDone(t, h.core)
}

func TestTrapAborted(t *testing.T) {
	var h *harness
	h = newHarness(t, testOptions(), func(ctx *Context) error {
		h.emu.TriggerTrap(hal.TrapInfo{Cause: hal.TrapIllegalInstruction, PC: 0x1234})
		return nil
	})
	h.boot(t, testImage(t, 0))

	lg, ok := recvTimeout(t, h.sup).(proto.Log)
	if !ok || lg.Text != "illegal instruction at PC 0x001234, trap value 0x000000\n" {
		t.Fatalf("log %q", lg.Text)
	}
	if _, ok := recvTimeout(t, h.sup).(proto.RunAborted); !ok {
		t.Fatal("expected run_aborted")
	}
	waitDone(t, h.core)
}

func TestTrapStackGuard(t *testing.T) {
	var h *harness
	h = newHarness(t, testOptions(), func(ctx *Context) error {
		h.emu.TriggerTrap(hal.TrapInfo{Cause: hal.TrapLoadFault, PC: 0x2000, Addr: 0x1ff800})
		return nil
	})
	h.boot(t, testImage(t, 0))

	lg, ok := recvTimeout(t, h.sup).(proto.Log)
	if !ok || lg.Text != "load fault at PC 0x002000 in stack guard page (0x1ff800); stack overflow in user kernel code?\n" {
		t.Fatalf("log %q", lg.Text)
	}
	if _, ok := recvTimeout(t, h.sup).(proto.RunAborted); !ok {
		t.Fatal("expected run_aborted")
	}
	waitDone(t, h.core)
}

func TestNilEntryAborts(t *testing.T) {
	h := newHarnessProgram(t, testOptions(), loader.Program{})
	h.boot(t, testImage(t, 0))

	lg, ok := recvTimeout(t, h.sup).(proto.Log)
	if !ok || lg.Text != "program image exports no __modinit__\n" {
		t.Fatalf("log %q", lg.Text)
	}
	if _, ok := recvTimeout(t, h.sup).(proto.RunAborted); !ok {
		t.Fatal("expected run_aborted")
	}
	waitDone(t, h.core)
}

func TestWritebackFlushFinishOrder(t *testing.T) {
	obj := &loader.Object{ID: 7, Fields: []any{int32(0), "label"}}
	tree := []*loader.TypeDesc{{
		Attrs: []loader.Attr{
			{Index: 0, Tag: "i", Name: "count"},
			{Index: 1, Tag: "", Name: "scratch"},
		},
		Objects: []*loader.Object{obj},
	}}
	h := newHarnessProgram(t, testOptions(), loader.Program{
		Entry: func(ctx *Context) error {
			obj.Fields[0] = int32(31337)
			return nil
		},
		TypeInfo: tree,
	})
	h.boot(t, testImage(t, 0))

	if _, ok := recvTimeout(t, h.sup).(proto.RpcFlush); !ok {
		t.Fatal("expected rpc_flush")
	}
	// The write-back call must be queued before the flush marker; the
	// tagless attribute is skipped.
	if h.q.Len() != 1 {
		t.Fatalf("queue depth %d", h.q.Len())
	}
	var packet []byte
	if err := h.q.TryDrain(func(p []byte) { packet = append([]byte(nil), p...) }); err != nil {
		t.Fatal(err)
	}
	async, service, tag, args, err := rpc.DecodePacket(packet)
	if err != nil {
		t.Fatal(err)
	}
	if !async || service != 0 || string(tag) != "isi" {
		t.Fatalf("packet async=%v service=%d tag=%q", async, service, tag)
	}
	if len(args) != 3 || args[0] != int32(7) || args[1] != "count" || args[2] != int32(31337) {
		t.Fatalf("args %v", args)
	}
	if _, ok := recvTimeout(t, h.sup).(proto.RunFinished); !ok {
		t.Fatal("expected run_finished")
	}
	waitDone(t, h.core)
}

func TestCoreLogValidation(t *testing.T) {
	h := newHarness(t, testOptions(), func(ctx *Context) error {
		ctx.CoreLog("measurement done\n")
		ctx.CoreLog("bad \xff tail")
		return nil
	})
	h.boot(t, testImage(t, 0))

	if lg, ok := recvTimeout(t, h.sup).(proto.Log); !ok || lg.Text != "measurement done\n" {
		t.Fatalf("log %q", lg.Text)
	}
	if lg, ok := recvTimeout(t, h.sup).(proto.Log); !ok || lg.Text != "bad " {
		t.Fatalf("log %q", lg.Text)
	}
	if lg, ok := recvTimeout(t, h.sup).(proto.Log); !ok || lg.Text != "(invalid utf-8)\n" {
		t.Fatalf("log %q", lg.Text)
	}
	if _, ok := recvTimeout(t, h.sup).(proto.RpcFlush); !ok {
		t.Fatal("expected rpc_flush")
	}
	if _, ok := recvTimeout(t, h.sup).(proto.RunFinished); !ok {
		t.Fatal("expected run_finished")
	}
	waitDone(t, h.core)
}

func TestTimelineOps(t *testing.T) {
	var now, counter uint64
	var h *harness
	h = newHarness(t, testOptions(), func(ctx *Context) error {
		ctx.At(1000)
		ctx.Delay(500)
		now = ctx.Now()
		h.emu.SetCounter(700)
		counter = ctx.Counter()
		return nil
	})
	h.boot(t, testImage(t, 0))

	if _, ok := recvTimeout(t, h.sup).(proto.RpcFlush); !ok {
		t.Fatal("expected rpc_flush")
	}
	if _, ok := recvTimeout(t, h.sup).(proto.RunFinished); !ok {
		t.Fatal("expected run_finished")
	}
	waitDone(t, h.core)

	if now != 1500 {
		t.Fatalf("cursor = %d, want 1500", now)
	}
	if counter != 700 {
		t.Fatalf("counter = %d, want 700", counter)
	}
}
