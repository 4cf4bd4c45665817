// Package kern runs one program per session on the kernel CPU: it receives
// the image, links it, executes it, and reports how the run ended. All host
// communication goes through the mailbox protocol; the core never outlives
// a run.
package kern

import (
	"fmt"
	"runtime"
	"strings"
	"sync"

	"code.hybscloud.com/atomix"

	"github.com/HTGAzureX1212/artiq/eh"
	"github.com/HTGAzureX1212/artiq/hal"
	"github.com/HTGAzureX1212/artiq/loader"
	"github.com/HTGAzureX1212/artiq/mailbox"
	"github.com/HTGAzureX1212/artiq/nrtbus"
	"github.com/HTGAzureX1212/artiq/proto"
	"github.com/HTGAzureX1212/artiq/rpc"
	"github.com/HTGAzureX1212/artiq/rpcq"
	"github.com/HTGAzureX1212/artiq/rtio"
	"github.com/HTGAzureX1212/artiq/subkernel"
)

// Options configures one core.
type Options struct {
	// Satellite selects satellite-node behavior: DMA playback is delegated
	// to the local controller's master and a clock update may arrive
	// between load and start.
	Satellite bool
	// LogChannel is the RTIO channel the recordable log output drives.
	LogChannel uint32
	// HeapRegions are handed to the allocator before anything else runs.
	HeapRegions []hal.Region
	// LoadRegion receives the program image; its tail holds the
	// uninitialized-data segment.
	LoadRegion hal.Region
	// StackGuard is the guard page installed below the program stack.
	StackGuard hal.Region
}

// Core executes one program and halts.
type Core struct {
	side *mailbox.Side
	h    hal.HAL
	ld   *loader.Loader
	opts Options

	rpc    *rpc.Client
	engine *rtio.Engine
	sub    *subkernel.Client
	bus    *nrtbus.Bus

	running  atomix.Uint32
	haltOnce sync.Once
	done     chan struct{}
}

// trapAbort carries a decoded CPU trap out of the handler and into the
// program interceptor.
type trapAbort struct{ message string }

// abortError is the internal terminal state for panics and traps.
type abortError struct{ message string }

func (e abortError) Error() string { return e.message }

// NewCore wires a core to its mailbox side, async RPC queue, register
// surface, and program loader.
func NewCore(side *mailbox.Side, queue *rpcq.Queue, h hal.HAL, ld *loader.Loader, opts Options) *Core {
	c := &Core{
		side: side,
		h:    h,
		ld:   ld,
		opts: opts,
		done: make(chan struct{}),
	}
	c.running.Store(1)
	c.rpc = rpc.NewClient(side, queue, c.protocolFatal)
	c.engine = rtio.NewEngine(side, h, c.protocolFatal, rtio.Options{
		Satellite:  opts.Satellite,
		LogChannel: opts.LogChannel,
	})
	c.sub = subkernel.NewClient(side, h.Clock(), c.protocolFatal)
	c.bus = nrtbus.NewBus(side, c.protocolFatal)
	h.Traps().OnTrap(c.handleTrap)
	return c
}

// Halted reports whether the core has stopped for good.
func (c *Core) Halted() bool { return c.running.Load() == 0 }

// Done is closed when the core halts.
func (c *Core) Done() <-chan struct{} { return c.done }

func (c *Core) halt() {
	c.haltOnce.Do(func() {
		c.running.Store(0)
		close(c.done)
	})
}

// protocolFatal is the desynchronization path: the two sides no longer
// agree on the protocol state, so neither can make progress. The core is
// marked halted first so Done stays observable, then the report is sent.
// The send wedges against the equally stuck peer; this never returns.
func (c *Core) protocolFatal(detail string) {
	c.halt()
	c.side.Send(proto.Log{Text: detail + "\n"})
	select {}
}

// Run executes one session: load, link, run, report, halt.
func (c *Core) Run() {
	for _, r := range c.opts.HeapRegions {
		c.h.Memory().RegisterRegion(r.Name, r.Base, r.Size)
	}
	eh.ResetBuffer(c.opts.LoadRegion.Base)

	var image []byte
	c.side.Recv(func(m proto.Message) {
		req, ok := m.(proto.LoadRequest)
		if !ok {
			c.protocolFatal("unexpected request: " + m.Kind().String())
		}
		// The image is borrowed until acknowledgment.
		image = append([]byte(nil), req.Image...)
	})

	lib, err := c.ld.Load(image, c.opts.LoadRegion)
	if err != nil {
		c.side.Send(proto.LoadReply{Err: err.Error()})
		c.halt()
		return
	}
	c.side.Send(proto.LoadReply{})

	// Satellite supervisors may post a clock update between load and start.
	_ = c.side.TryRecv(func(m proto.Message) {
		now, ok := m.(proto.UpdateNow)
		if !ok {
			c.protocolFatal("unexpected request: " + m.Kind().String())
		}
		hal.WriteNow(c.h.Clock(), now.Timestamp)
	})

	sym, ok := lib.Lookup(loader.SymbolEntry)
	if !ok {
		c.abort("program image exports no " + loader.SymbolEntry)
		return
	}
	entry, ok := sym.(func(*Context) error)
	if !ok {
		c.abort("program entry is not func(*Context) error")
		return
	}

	bss := lib.BSS()
	c.h.Memory().Zero(bss.Base, bss.Size)
	c.h.StackGuard().Install(c.opts.StackGuard.Base, c.opts.StackGuard.Size)
	c.h.Cache().FlushD()
	c.h.Cache().FlushI()

	ctx := &Context{core: c}
	err = c.execute(func() error { return entry(ctx) })
	if err == nil {
		err = c.execute(func() error {
			if sym, ok := lib.Lookup(loader.SymbolTypeInfo); ok {
				c.attributeWriteback(sym.([]*loader.TypeDesc))
			}
			return nil
		})
	}

	switch e := err.(type) {
	case nil:
		// An async RPC posted just before completion must be drained
		// before the supervisor can observe RunFinished, or a host that
		// polls completion first would miss it.
		c.side.Send(proto.RpcFlush{})
		c.side.Send(proto.RunFinished{})
	case *eh.Exception:
		c.side.Send(proto.RunException{Exception: e, Backtrace: raiseSite(e)})
	case abortError:
		c.abort(e.message)
	default:
		ex := eh.New("RuntimeError", err.Error())
		c.side.Send(proto.RunException{Exception: ex, Backtrace: raiseSite(ex)})
	}
	c.halt()
}

// abort reports abnormal termination: the reason as a log line, then the
// terminal status.
func (c *Core) abort(message string) {
	c.side.Send(proto.Log{Text: message + "\n"})
	c.side.Send(proto.RunAborted{})
	c.halt()
}

// execute runs one program phase, converting anything that escapes
// abnormally into the matching terminal state.
func (c *Core) execute(f func() error) (err error) {
	defer func() {
		switch r := recover().(type) {
		case nil:
		case trapAbort:
			err = abortError{message: r.message}
		default:
			err = abortError{message: fmt.Sprintf("panic at %s: %v", panicSite(), r)}
		}
	}()
	return f()
}

func (c *Core) handleTrap(info hal.TrapInfo) {
	panic(trapAbort{message: c.trapMessage(info)})
}

func (c *Core) trapMessage(info hal.TrapInfo) string {
	if info.Cause == hal.TrapLoadFault || info.Cause == hal.TrapStoreFault {
		if c.h.StackGuard().Contains(info.Addr) {
			return fmt.Sprintf("%v at PC %#08x in stack guard page (%#08x); stack overflow in user kernel code?",
				info.Cause, info.PC, info.Addr)
		}
	}
	return fmt.Sprintf("%v at PC %#08x, trap value %#08x", info.Cause, info.PC, info.Addr)
}

// panicSite names the frame that raised the in-flight panic, skipping the
// runtime's own panic plumbing.
func panicSite() string {
	var pcs [32]uintptr
	n := runtime.Callers(3, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])
	for {
		f, more := frames.Next()
		if f.Function != "" && !strings.HasPrefix(f.Function, "runtime.") {
			return fmt.Sprintf("%s:%d", f.File, f.Line)
		}
		if !more {
			return "unknown location"
		}
	}
}

func raiseSite(ex *eh.Exception) []string {
	return []string{fmt.Sprintf("%s (%s:%d)", ex.Function, ex.File, ex.Line)}
}
