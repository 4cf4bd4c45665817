package proto

import "github.com/HTGAzureX1212/artiq/eh"

// LoadRequest carries a program image to be linked and run.
type LoadRequest struct {
	Image []byte
}

// LoadReply reports the outcome of loading. Err is empty on success.
type LoadReply struct {
	Err string
}

// UpdateNow synchronizes the RTIO timeline cursor. Sent by the supervisor to
// satellite cores between load and start.
type UpdateNow struct {
	Timestamp uint64
}

// Log carries one log fragment from the kernel core. Fragments are
// concatenated by the supervisor; a line ends at '\n'.
type Log struct {
	Text string
}

// RunFinished reports clean program completion. It is always preceded by
// RpcFlush so the supervisor observes every queued asynchronous RPC first.
type RunFinished struct{}

// RunAborted reports abnormal termination (panic or trap). The core halts
// after sending it; details travel in preceding Log messages.
type RunAborted struct{}

// RunException reports an exception that escaped the program.
type RunException struct {
	Exception *eh.Exception
	Backtrace []string
}

func (LoadRequest) Kind() Kind  { return KindLoadRequest }
func (LoadReply) Kind() Kind    { return KindLoadReply }
func (UpdateNow) Kind() Kind    { return KindUpdateNow }
func (Log) Kind() Kind          { return KindLog }
func (RunFinished) Kind() Kind  { return KindRunFinished }
func (RunAborted) Kind() Kind   { return KindRunAborted }
func (RunException) Kind() Kind { return KindRunException }
