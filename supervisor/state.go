package supervisor

import (
	"strings"

	"github.com/HTGAzureX1212/artiq/eh"
	"github.com/HTGAzureX1212/artiq/proto"
)

// Cache rows follow a checkout discipline: a read marks the row busy until
// the run ends, and writes to a busy row are refused. The core hands out
// direct references to row storage, so a row must stay untouched while a
// running program may still hold one.

func (s *Supervisor) cacheGet(key string) proto.CacheGetReply {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.cache[key]
	if !ok {
		return proto.CacheGetReply{}
	}
	row.busy = true
	return proto.CacheGetReply{Value: row.value}
}

func (s *Supervisor) cachePut(key string, value []int32) proto.CachePutReply {
	s.mu.Lock()
	defer s.mu.Unlock()
	if row, ok := s.cache[key]; ok && row.busy {
		return proto.CachePutReply{}
	}
	s.cache[key] = &cacheRow{value: append([]int32(nil), value...)}
	return proto.CachePutReply{Succeeded: true}
}

// sessionEnd releases every checked-out cache row. Runs on each terminal
// message: the program that borrowed the rows no longer exists.
func (s *Supervisor) sessionEnd() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.cache {
		row.busy = false
	}
}

func (s *Supervisor) dmaStart(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recName = name
	s.recData = nil
}

func (s *Supervisor) dmaAppend(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recData = append(s.recData, data...)
}

func (s *Supervisor) dmaStop(duration int64, ddma bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextTraceID
	s.nextTraceID++
	s.traces[s.recName] = &traceEntry{id: id, data: s.recData, duration: duration, ddma: ddma}
	s.recName = ""
	s.recData = nil
}

func (s *Supervisor) dmaErase(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.traces, name)
}

func (s *Supervisor) dmaRetrieve(name string) proto.DmaRetrieveReply {
	s.mu.Lock()
	defer s.mu.Unlock()
	tr, ok := s.traces[name]
	if !ok {
		return proto.DmaRetrieveReply{}
	}
	// The trace bytes are handed out by reference; entries are never
	// mutated after recording stops, so the reference stays stable.
	return proto.DmaRetrieveReply{
		Trace:    tr.data,
		Duration: tr.duration,
		UsesDDMA: tr.ddma,
		ID:       tr.id,
		Found:    true,
	}
}

func (s *Supervisor) remoteStart(v proto.DmaStartRemoteRequest) proto.Message {
	s.mu.Lock()
	s.remoteStarts = append(s.remoteStarts, v)
	reply := s.remote[v.ID]
	s.mu.Unlock()
	if s.opts.Satellite {
		return reply
	}
	// A master polls its local controller first and awaits separately.
	return nil
}

func (s *Supervisor) remoteAwait(id int32) proto.DmaAwaitRemoteReply {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remote[id]
}

func (s *Supervisor) nextRPCStep() rpcStep {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.rpcSteps) == 0 {
		return rpcStep{}
	}
	step := s.rpcSteps[0]
	s.rpcSteps = s.rpcSteps[1:]
	return step
}

func (s *Supervisor) subkernelLoadRun(v proto.SubkernelLoadRunRequest) proto.SubkernelLoadRunReply {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subkernelLoads = append(s.subkernelLoads, v)
	return proto.SubkernelLoadRunReply{Succeeded: !s.loadFails[v.ID]}
}

func (s *Supervisor) subkernelFinish(id uint32) proto.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fault, ok := s.faults[id]; ok {
		return proto.SubkernelError{Status: fault.status, Exception: fault.exception}
	}
	return proto.SubkernelAwaitFinishReply{}
}

func (s *Supervisor) subkernelSend(v proto.SubkernelMsgSend) {
	rec := v
	rec.Tag = append([]byte(nil), v.Tag...)
	rec.Args = append([]any(nil), v.Args...)
	if v.Destination != nil {
		d := *v.Destination
		rec.Destination = &d
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subkernelSends = append(s.subkernelSends, rec)
}

func (s *Supervisor) subkernelMsgRecv(id int32) proto.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fault, ok := s.msgFaults[id]; ok {
		return proto.SubkernelError{Status: fault.status, Exception: fault.exception}
	}
	count := uint8(1)
	if queue := s.msgCounts[id]; len(queue) > 0 {
		count = queue[0]
		s.msgCounts[id] = queue[1:]
	}
	return proto.SubkernelMsgRecvReply{Count: count}
}

func (s *Supervisor) i2cBasic(bus uint32) proto.I2CBasicReply {
	s.mu.Lock()
	defer s.mu.Unlock()
	return proto.I2CBasicReply{Succeeded: !s.failedBuses[bus]}
}

func (s *Supervisor) i2cWrite(bus uint32, data uint8) proto.I2CBasicReply {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failedBuses[bus] {
		return proto.I2CBasicReply{}
	}
	s.i2cWrites[bus] = append(s.i2cWrites[bus], data)
	return proto.I2CBasicReply{Succeeded: true, Ack: true}
}

func (s *Supervisor) i2cRead(bus uint32) proto.I2CReadReply {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failedBuses[bus] {
		return proto.I2CReadReply{}
	}
	// An unprogrammed read sees an idle bus: all lines high.
	data := uint8(0xff)
	if queue := s.i2cReads[bus]; len(queue) > 0 {
		data = queue[0]
		s.i2cReads[bus] = queue[1:]
	}
	return proto.I2CReadReply{Succeeded: true, Data: data}
}

func (s *Supervisor) spiSetConfig(v proto.SPISetConfigRequest) proto.SPIBasicReply {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failedBuses[v.Bus] {
		return proto.SPIBasicReply{}
	}
	s.spiConfigs = append(s.spiConfigs, v)
	return proto.SPIBasicReply{Succeeded: true}
}

func (s *Supervisor) spiWrite(bus uint32, data uint32) proto.SPIBasicReply {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failedBuses[bus] {
		return proto.SPIBasicReply{}
	}
	s.spiWords[bus] = data
	return proto.SPIBasicReply{Succeeded: true}
}

func (s *Supervisor) spiRead(bus uint32) proto.SPIReadReply {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failedBuses[bus] {
		return proto.SPIReadReply{}
	}
	// Loopback: reads return the last word written to the bus.
	return proto.SPIReadReply{Succeeded: true, Data: s.spiWords[bus]}
}

func (s *Supervisor) appendLog(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcript = append(s.transcript, text...)
	s.partial += text
	for {
		i := strings.IndexByte(s.partial, '\n')
		if i < 0 {
			return
		}
		line := s.partial[:i]
		s.partial = s.partial[i+1:]
		if s.logger != nil {
			s.logger.WriteLineString(line)
		}
	}
}

// SetCache seeds or replaces a cache row before a run.
func (s *Supervisor) SetCache(key string, value []int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache[key] = &cacheRow{value: append([]int32(nil), value...)}
}

// CacheValue returns the current value of a cache row.
func (s *Supervisor) CacheValue(key string) ([]int32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.cache[key]
	if !ok {
		return nil, false
	}
	return append([]int32(nil), row.value...), true
}

// QueueRPCReply appends one step to the synchronous RPC result script. Each
// result request consumes a step: data is copied into the caller's slot and
// reply is returned. With the script empty, requests are answered "value
// complete".
func (s *Supervisor) QueueRPCReply(data []byte, reply proto.RpcRecvReply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rpcSteps = append(s.rpcSteps, rpcStep{data: append([]byte(nil), data...), reply: reply})
}

// FailSubkernelLoad makes load requests for subkernel id report failure.
func (s *Supervisor) FailSubkernelLoad(id uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadFails[id] = true
}

// FailSubkernel makes awaiting subkernel id report the given failure.
func (s *Supervisor) FailSubkernel(id uint32, status proto.SubkernelStatus, ex *eh.Exception) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[id] = subkernelFault{status: status, exception: ex}
}

// FailSubkernelMessage makes message receives for subkernel id report the
// given failure.
func (s *Supervisor) FailSubkernelMessage(id int32, status proto.SubkernelStatus, ex *eh.Exception) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgFaults[id] = subkernelFault{status: status, exception: ex}
}

// QueueSubkernelMessage queues the argument count announced for the next
// message receive from subkernel id. Unqueued receives announce one.
func (s *Supervisor) QueueSubkernelMessage(id int32, count uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgCounts[id] = append(s.msgCounts[id], count)
}

// SetRemoteDMAReply programs the outcome of the remote playback leg for
// trace id. Unprogrammed legs complete cleanly.
func (s *Supervisor) SetRemoteDMAReply(id int32, reply proto.DmaAwaitRemoteReply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remote[id] = reply
}

// FailBus makes every cycle on the given I2C or SPI bus fail.
func (s *Supervisor) FailBus(bus uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failedBuses[bus] = true
}

// QueueI2CRead queues bytes to be returned by reads on the given bus.
func (s *Supervisor) QueueI2CRead(bus uint32, data ...uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.i2cReads[bus] = append(s.i2cReads[bus], data...)
}

// RPCCalls returns every host call observed so far, in submission order.
func (s *Supervisor) RPCCalls() []RPCCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RPCCall(nil), s.calls...)
}

// Logs returns the full log transcript, including any unterminated tail.
func (s *Supervisor) Logs() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return string(s.transcript)
}

// Trace returns a stored DMA trace by name.
func (s *Supervisor) Trace(name string) (TraceInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tr, ok := s.traces[name]
	if !ok {
		return TraceInfo{}, false
	}
	return TraceInfo{ID: tr.id, Data: tr.data, Duration: tr.duration, UsesDDMA: tr.ddma}, true
}

// RemoteStarts returns every remote playback start received so far.
func (s *Supervisor) RemoteStarts() []proto.DmaStartRemoteRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]proto.DmaStartRemoteRequest(nil), s.remoteStarts...)
}

// SubkernelLoads returns every subkernel load request received so far.
func (s *Supervisor) SubkernelLoads() []proto.SubkernelLoadRunRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]proto.SubkernelLoadRunRequest(nil), s.subkernelLoads...)
}

// SubkernelSends returns every subkernel message relayed so far.
func (s *Supervisor) SubkernelSends() []proto.SubkernelMsgSend {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]proto.SubkernelMsgSend(nil), s.subkernelSends...)
}

// I2CWrites returns the bytes written to the given I2C bus so far.
func (s *Supervisor) I2CWrites(bus uint32) []uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint8(nil), s.i2cWrites[bus]...)
}

// SPIConfigs returns every SPI configuration applied so far.
func (s *Supervisor) SPIConfigs() []proto.SPISetConfigRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]proto.SPISetConfigRequest(nil), s.spiConfigs...)
}
