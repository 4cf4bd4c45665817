package proto

import "testing"

// The tag space is closed and host-synchronized; every variant must map to a
// distinct, named kind.
func TestVariantKinds(t *testing.T) {
	msgs := []Message{
		LoadRequest{}, LoadReply{}, UpdateNow{}, Log{},
		RpcSend{}, RpcRecvRequest{}, RpcRecvReply{}, RpcFlush{},
		CacheGetRequest{}, CacheGetReply{}, CachePutRequest{}, CachePutReply{},
		DmaRecordStart{}, DmaRecordAppend{}, DmaRecordStop{},
		DmaEraseRequest{}, DmaRetrieveRequest{}, DmaRetrieveReply{},
		DmaStartRemoteRequest{}, DmaAwaitRemoteRequest{}, DmaAwaitRemoteReply{},
		SubkernelLoadRunRequest{}, SubkernelLoadRunReply{},
		SubkernelAwaitFinishRequest{}, SubkernelAwaitFinishReply{},
		SubkernelMsgSend{}, SubkernelMsgRecvRequest{}, SubkernelMsgRecvReply{},
		SubkernelError{},
		I2CStartRequest{}, I2CRestartRequest{}, I2CStopRequest{},
		I2CWriteRequest{}, I2CReadRequest{}, I2CBasicReply{}, I2CReadReply{},
		SPISetConfigRequest{}, SPIWriteRequest{}, SPIReadRequest{},
		SPIBasicReply{}, SPIReadReply{},
		RunFinished{}, RunException{}, RunAborted{},
	}

	seen := make(map[Kind]string, len(msgs))
	for _, m := range msgs {
		k := m.Kind()
		if k.String() == "unknown" {
			t.Fatalf("variant %T has no Kind name", m)
		}
		if prev, dup := seen[k]; dup {
			t.Fatalf("kind %s claimed by both %s and %T", k, prev, m)
		}
		seen[k] = k.String()
	}
}
