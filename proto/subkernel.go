package proto

import "github.com/HTGAzureX1212/artiq/eh"

// SubkernelStatus classifies a failed subkernel operation.
type SubkernelStatus uint8

const (
	SubkernelOK SubkernelStatus = iota
	SubkernelIncorrectState
	SubkernelTimeout
	SubkernelCommLost
	SubkernelOtherError
	SubkernelException
)

func (s SubkernelStatus) String() string {
	switch s {
	case SubkernelOK:
		return "ok"
	case SubkernelIncorrectState:
		return "incorrect_state"
	case SubkernelTimeout:
		return "timeout"
	case SubkernelCommLost:
		return "comm_lost"
	case SubkernelOtherError:
		return "other_error"
	case SubkernelException:
		return "exception"
	default:
		return "unknown"
	}
}

// SubkernelLoadRunRequest asks the supervisor to load a subkernel onto a
// satellite, and optionally start it immediately. Timestamp carries the
// current timeline cursor so the satellite starts on a synchronized clock.
type SubkernelLoadRunRequest struct {
	ID          uint32
	Destination uint8
	Run         bool
	Timestamp   uint64
}

// SubkernelLoadRunReply reports load/run success.
type SubkernelLoadRunReply struct {
	Succeeded bool
}

// SubkernelAwaitFinishRequest blocks until subkernel ID finishes or the
// host-side timeout (in milliseconds, negative = forever) fires.
type SubkernelAwaitFinishRequest struct {
	ID      uint32
	Timeout int64
}

// SubkernelAwaitFinishReply reports clean completion. Failures arrive as
// SubkernelError instead.
type SubkernelAwaitFinishReply struct{}

// SubkernelMsgSend relays a typed message to a subkernel, or a return value
// back from one (Destination nil).
type SubkernelMsgSend struct {
	ID          uint32
	Destination *uint8
	Count       uint8
	Tag         []byte
	Args        []any
}

// SubkernelMsgRecvRequest blocks until a message from subkernel ID matching
// one of Tags arrives, or the timeout fires.
type SubkernelMsgRecvRequest struct {
	ID      int32
	Timeout int64
	Tags    []byte
}

// SubkernelMsgRecvReply reports an arrived message. The caller pulls each of
// the Count arguments through the RPC receive protocol afterwards.
type SubkernelMsgRecvReply struct {
	Count uint8
}

// SubkernelError is the failure reply shared by the await operations. When
// Status is SubkernelException, Exception carries the propagated record
// verbatim.
type SubkernelError struct {
	Status    SubkernelStatus
	Exception *eh.Exception
}

func (SubkernelLoadRunRequest) Kind() Kind     { return KindSubkernelLoadRunRequest }
func (SubkernelLoadRunReply) Kind() Kind       { return KindSubkernelLoadRunReply }
func (SubkernelAwaitFinishRequest) Kind() Kind { return KindSubkernelAwaitFinishRequest }
func (SubkernelAwaitFinishReply) Kind() Kind   { return KindSubkernelAwaitFinishReply }
func (SubkernelMsgSend) Kind() Kind            { return KindSubkernelMsgSend }
func (SubkernelMsgRecvRequest) Kind() Kind     { return KindSubkernelMsgRecvRequest }
func (SubkernelMsgRecvReply) Kind() Kind       { return KindSubkernelMsgRecvReply }
func (SubkernelError) Kind() Kind              { return KindSubkernelError }
