// artiq-host boots a kernel core against an in-process supervisor and runs a
// demonstration experiment end to end: timeline output, DMA recording and
// playback, cache access, host RPC, and console logging.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/HTGAzureX1212/artiq/hal"
	"github.com/HTGAzureX1212/artiq/internal/buildinfo"
	"github.com/HTGAzureX1212/artiq/kern"
	"github.com/HTGAzureX1212/artiq/loader"
	"github.com/HTGAzureX1212/artiq/mailbox"
	"github.com/HTGAzureX1212/artiq/rpcq"
	"github.com/HTGAzureX1212/artiq/supervisor"
)

// consoleLogger prints supervisor-assembled log lines to standard output.
type consoleLogger struct{}

func (consoleLogger) WriteLineString(s string) { fmt.Println(s) }
func (consoleLogger) WriteLineBytes(b []byte)  { fmt.Println(string(b)) }

const pulseTarget = 0x11 << 8

func demo(ctx *kern.Context) error {
	ctx.CoreLog("demo experiment starting\n")

	ctx.At(10000)
	for i := 0; i < 4; i++ {
		if err := ctx.Output(pulseTarget, 1); err != nil {
			return err
		}
		ctx.Delay(500)
		if err := ctx.Output(pulseTarget, 0); err != nil {
			return err
		}
		ctx.Delay(500)
	}

	// Record the same burst as a named trace, then replay it twice further
	// down the timeline.
	if err := ctx.DMARecordStart("burst"); err != nil {
		return err
	}
	ctx.At(0)
	for i := 0; i < 3; i++ {
		if err := ctx.Output(pulseTarget, 1); err != nil {
			return err
		}
		ctx.Delay(200)
		if err := ctx.Output(pulseTarget, 0); err != nil {
			return err
		}
		ctx.Delay(200)
	}
	if err := ctx.DMARecordStop(int64(ctx.Now()), false); err != nil {
		return err
	}
	tr, err := ctx.DMARetrieve("burst")
	if err != nil {
		return err
	}
	if err := ctx.DMAPlayback(20000, tr); err != nil {
		return err
	}
	if err := ctx.DMAPlayback(30000, tr); err != nil {
		return err
	}

	// Leave a calibration row for the next run and report to the host.
	if err := ctx.CachePut("demo.calibration", []int32{100, 200, 300}); err != nil {
		return err
	}
	if err := ctx.RPCAsync(1, "si", "pulses emitted", int32(10)); err != nil {
		return err
	}
	ctx.CoreLog("demo experiment done\n")
	return nil
}

func main() {
	var dumpPath string
	var version bool
	flag.StringVar(&dumpPath, "dump", "", "Write the recorded trace to this file.")
	flag.BoolVar(&version, "version", false, "Print the build identifier and exit.")
	flag.Parse()

	if version {
		fmt.Println("artiq-host", buildinfo.Short())
		return
	}

	if err := run(dumpPath); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(dumpPath string) error {
	reg := loader.NewRegistry()
	if err := reg.Register("demo", func() loader.Program {
		return loader.Program{Entry: demo}
	}); err != nil {
		return err
	}
	image, err := loader.EncodeImage(loader.Header{Version: loader.Version, Name: "demo"})
	if err != nil {
		return err
	}

	kernSide, supSide := mailbox.Pair()
	emu := hal.NewEmulated()
	q := rpcq.New()
	core := kern.NewCore(kernSide, q, emu, loader.NewLoader(reg), kern.Options{
		LogChannel:  0x20,
		HeapRegions: []hal.Region{{Name: "heap", Base: 0x40400000, Size: 0x3ff000}},
		StackGuard:  hal.Region{Name: "guard", Base: 0x407ff000, Size: 0x1000},
		LoadRegion:  hal.Region{Name: "kernel", Base: 0x40800000, Size: 0x400000},
	})
	sup := supervisor.New(supSide, q, consoleLogger{}, supervisor.Options{})

	go core.Run()
	if err := sup.Launch(image); err != nil {
		return fmt.Errorf("load: %w", err)
	}
	out := sup.Serve()

	fmt.Println("run", out.Status)
	if out.Exception != nil {
		fmt.Println("exception:", out.Exception.Error())
		for _, frame := range out.Backtrace {
			fmt.Println("  at", frame)
		}
	}
	for _, call := range sup.RPCCalls() {
		fmt.Printf("rpc service=%d tag=%q args=%v\n", call.Service, call.Tag, call.Args)
	}
	if v, ok := sup.CacheValue("demo.calibration"); ok {
		fmt.Println("calibration row:", v)
	}
	fmt.Printf("%d direct events emitted\n", len(emu.Events()))

	if tr, ok := sup.Trace("burst"); ok {
		fmt.Printf("trace \"burst\": %d bytes, %d mu\n", len(tr.Data), tr.Duration)
		if dumpPath != "" {
			if err := os.WriteFile(dumpPath, tr.Data, 0o644); err != nil {
				return fmt.Errorf("write trace %q: %w", dumpPath, err)
			}
			fmt.Println("trace written to", dumpPath)
		}
	}
	return nil
}
