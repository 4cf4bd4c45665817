// Package proto defines the closed set of messages exchanged between the
// kernel core and the supervisor over the mailbox.
//
// The tag space is synchronized with the supervisor out of band: adding a
// variant requires both ends to agree, and no version field exists on the
// wire. Messages carrying slices pass references; the storage belongs to the
// sender until the mailbox acknowledges the message.
package proto

// Kind identifies a message variant.
type Kind uint16

const (
	KindLoadRequest Kind = iota + 1
	KindLoadReply
	KindUpdateNow
	KindLog
	KindRpcSend
	KindRpcRecvRequest
	KindRpcRecvReply
	KindRpcFlush
	KindCacheGetRequest
	KindCacheGetReply
	KindCachePutRequest
	KindCachePutReply
	KindDmaRecordStart
	KindDmaRecordAppend
	KindDmaRecordStop
	KindDmaEraseRequest
	KindDmaRetrieveRequest
	KindDmaRetrieveReply
	KindDmaStartRemoteRequest
	KindDmaAwaitRemoteRequest
	KindDmaAwaitRemoteReply
	KindSubkernelLoadRunRequest
	KindSubkernelLoadRunReply
	KindSubkernelAwaitFinishRequest
	KindSubkernelAwaitFinishReply
	KindSubkernelMsgSend
	KindSubkernelMsgRecvRequest
	KindSubkernelMsgRecvReply
	KindSubkernelError
	KindI2CStartRequest
	KindI2CRestartRequest
	KindI2CStopRequest
	KindI2CWriteRequest
	KindI2CReadRequest
	KindI2CBasicReply
	KindI2CReadReply
	KindSPISetConfigRequest
	KindSPIWriteRequest
	KindSPIReadRequest
	KindSPIBasicReply
	KindSPIReadReply
	KindRunFinished
	KindRunException
	KindRunAborted
)

func (k Kind) String() string {
	switch k {
	case KindLoadRequest:
		return "load_request"
	case KindLoadReply:
		return "load_reply"
	case KindUpdateNow:
		return "update_now"
	case KindLog:
		return "log"
	case KindRpcSend:
		return "rpc_send"
	case KindRpcRecvRequest:
		return "rpc_recv_request"
	case KindRpcRecvReply:
		return "rpc_recv_reply"
	case KindRpcFlush:
		return "rpc_flush"
	case KindCacheGetRequest:
		return "cache_get_request"
	case KindCacheGetReply:
		return "cache_get_reply"
	case KindCachePutRequest:
		return "cache_put_request"
	case KindCachePutReply:
		return "cache_put_reply"
	case KindDmaRecordStart:
		return "dma_record_start"
	case KindDmaRecordAppend:
		return "dma_record_append"
	case KindDmaRecordStop:
		return "dma_record_stop"
	case KindDmaEraseRequest:
		return "dma_erase_request"
	case KindDmaRetrieveRequest:
		return "dma_retrieve_request"
	case KindDmaRetrieveReply:
		return "dma_retrieve_reply"
	case KindDmaStartRemoteRequest:
		return "dma_start_remote_request"
	case KindDmaAwaitRemoteRequest:
		return "dma_await_remote_request"
	case KindDmaAwaitRemoteReply:
		return "dma_await_remote_reply"
	case KindSubkernelLoadRunRequest:
		return "subkernel_load_run_request"
	case KindSubkernelLoadRunReply:
		return "subkernel_load_run_reply"
	case KindSubkernelAwaitFinishRequest:
		return "subkernel_await_finish_request"
	case KindSubkernelAwaitFinishReply:
		return "subkernel_await_finish_reply"
	case KindSubkernelMsgSend:
		return "subkernel_msg_send"
	case KindSubkernelMsgRecvRequest:
		return "subkernel_msg_recv_request"
	case KindSubkernelMsgRecvReply:
		return "subkernel_msg_recv_reply"
	case KindSubkernelError:
		return "subkernel_error"
	case KindI2CStartRequest:
		return "i2c_start_request"
	case KindI2CRestartRequest:
		return "i2c_restart_request"
	case KindI2CStopRequest:
		return "i2c_stop_request"
	case KindI2CWriteRequest:
		return "i2c_write_request"
	case KindI2CReadRequest:
		return "i2c_read_request"
	case KindI2CBasicReply:
		return "i2c_basic_reply"
	case KindI2CReadReply:
		return "i2c_read_reply"
	case KindSPISetConfigRequest:
		return "spi_set_config_request"
	case KindSPIWriteRequest:
		return "spi_write_request"
	case KindSPIReadRequest:
		return "spi_read_request"
	case KindSPIBasicReply:
		return "spi_basic_reply"
	case KindSPIReadReply:
		return "spi_read_reply"
	case KindRunFinished:
		return "run_finished"
	case KindRunException:
		return "run_exception"
	case KindRunAborted:
		return "run_aborted"
	default:
		return "unknown"
	}
}

// Message is implemented by every variant in this package and by nothing
// else.
type Message interface {
	Kind() Kind
}
