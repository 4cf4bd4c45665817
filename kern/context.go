package kern

import (
	"unicode/utf8"

	"github.com/HTGAzureX1212/artiq/hal"
	"github.com/HTGAzureX1212/artiq/proto"
	"github.com/HTGAzureX1212/artiq/rtio"
)

// Context is the service surface handed to the running program. Every
// method maps onto one runtime service; the program holds no other handle
// into the system.
type Context struct {
	core *Core
}

// Now returns the timeline cursor.
func (ctx *Context) Now() uint64 { return hal.ReadNow(ctx.core.h.Clock()) }

// At moves the timeline cursor to timestamp.
func (ctx *Context) At(timestamp uint64) { hal.WriteNow(ctx.core.h.Clock(), timestamp) }

// Delay advances the timeline cursor by d machine units.
func (ctx *Context) Delay(d uint64) { ctx.At(ctx.Now() + d) }

// Counter returns the hardware timeline counter, which trails the cursor.
func (ctx *Context) Counter() uint64 { return hal.ReadCounter(ctx.core.h.Clock()) }

// Output submits one output event at the timeline cursor. During a DMA
// recording it lands in the trace instead of on the bus.
func (ctx *Context) Output(target, word int32) error {
	return ctx.core.engine.Output(target, word)
}

// OutputWide submits one event carrying up to the wide-word limit.
func (ctx *Context) OutputWide(target int32, words []int32) error {
	return ctx.core.engine.OutputWide(target, words)
}

// RTIOLog emits text on the recordable log channel.
func (ctx *Context) RTIOLog(text string) error { return ctx.core.engine.Log(text) }

// CoreLog forwards text to the host log. An invalid UTF-8 tail is cut off
// and flagged rather than forwarded.
func (ctx *Context) CoreLog(text string) {
	if utf8.ValidString(text) {
		ctx.core.side.Send(proto.Log{Text: text})
		return
	}
	ctx.core.side.Send(proto.Log{Text: text[:validUpTo(text)]})
	ctx.core.side.Send(proto.Log{Text: "(invalid utf-8)\n"})
}

func validUpTo(s string) int {
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			return i
		}
		i += size
	}
	return len(s)
}

// RPC issues a synchronous host call. The result (or raised exception)
// must then be pulled through RPCReceive.
func (ctx *Context) RPC(service uint32, tag string, args ...any) error {
	return ctx.core.rpc.Call(service, tag, args...)
}

// RPCAsync issues a fire-and-forget host call.
func (ctx *Context) RPCAsync(service uint32, tag string, args ...any) error {
	return ctx.core.rpc.CallAsync(service, tag, args...)
}

// RPCReceive performs one step of the chunked result protocol.
func (ctx *Context) RPCReceive(slot []byte) (int, error) {
	return ctx.core.rpc.ReceiveResult(slot)
}

// CacheGet fetches the cached row for key; a missing key yields an empty
// row.
func (ctx *Context) CacheGet(key string) []int32 { return ctx.core.rpc.CacheGet(key) }

// CachePut replaces the cached row for key.
func (ctx *Context) CachePut(key string, value []int32) error {
	return ctx.core.rpc.CachePut(key, value)
}

// DMARecordStart begins recording output events into the named trace.
func (ctx *Context) DMARecordStart(name string) error {
	return ctx.core.engine.RecordStart(name)
}

// DMARecordStop ends the recording, stamping its duration.
func (ctx *Context) DMARecordStop(duration int64, enableDDMA bool) error {
	return ctx.core.engine.RecordStop(duration, enableDDMA)
}

// DMAErase discards the named trace.
func (ctx *Context) DMAErase(name string) { ctx.core.engine.Erase(name) }

// DMARetrieve fetches the named trace's playback handle.
func (ctx *Context) DMARetrieve(name string) (rtio.Trace, error) {
	return ctx.core.engine.Retrieve(name)
}

// DMAPlayback replays a retrieved trace at timestamp.
func (ctx *Context) DMAPlayback(timestamp int64, tr rtio.Trace) error {
	return ctx.core.engine.Playback(timestamp, tr)
}

// SubkernelLoadRun loads subkernel id onto destination, starting it when
// run is set.
func (ctx *Context) SubkernelLoadRun(id uint32, destination uint8, run bool) error {
	return ctx.core.sub.LoadRun(id, destination, run)
}

// SubkernelAwaitFinish blocks until subkernel id finishes.
func (ctx *Context) SubkernelAwaitFinish(id uint32, timeout int64) error {
	return ctx.core.sub.AwaitFinish(id, timeout)
}

// SubkernelSend relays a typed message to subkernel id.
func (ctx *Context) SubkernelSend(id uint32, isReturn bool, destination uint8, count uint8, tag []byte, args []any) {
	ctx.core.sub.SendMessage(id, isReturn, destination, count, tag, args)
}

// SubkernelAwaitMessage blocks until a matching message arrives and returns
// its argument count.
func (ctx *Context) SubkernelAwaitMessage(id int32, timeout int64, tags []byte, min, max uint8) (uint8, error) {
	return ctx.core.sub.AwaitMessage(id, timeout, tags, min, max)
}

// I2CStart issues a start condition.
func (ctx *Context) I2CStart(bus uint32) error { return ctx.core.bus.I2CStart(bus) }

// I2CRestart issues a repeated start condition.
func (ctx *Context) I2CRestart(bus uint32) error { return ctx.core.bus.I2CRestart(bus) }

// I2CStop issues a stop condition.
func (ctx *Context) I2CStop(bus uint32) error { return ctx.core.bus.I2CStop(bus) }

// I2CWrite shifts one byte out and reports the device acknowledge bit.
func (ctx *Context) I2CWrite(bus uint32, data uint8) (bool, error) {
	return ctx.core.bus.I2CWrite(bus, data)
}

// I2CRead shifts one byte in, acknowledging it when ack is set.
func (ctx *Context) I2CRead(bus uint32, ack bool) (uint8, error) {
	return ctx.core.bus.I2CRead(bus, ack)
}

// SPISetConfig programs the bus configuration.
func (ctx *Context) SPISetConfig(bus uint32, flags, length, div, cs uint8) error {
	return ctx.core.bus.SPISetConfig(bus, flags, length, div, cs)
}

// SPIWrite shifts one transfer out.
func (ctx *Context) SPIWrite(bus uint32, data uint32) error {
	return ctx.core.bus.SPIWrite(bus, data)
}

// SPIRead returns the last transfer shifted in.
func (ctx *Context) SPIRead(bus uint32) (uint32, error) { return ctx.core.bus.SPIRead(bus) }
