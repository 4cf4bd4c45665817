package proto

// DmaRecordStart announces that a named trace recording has begun.
type DmaRecordStart struct {
	Name string
}

// DmaRecordAppend appends an opaque block of encoded trace records to the
// recording announced by the last DmaRecordStart.
type DmaRecordAppend struct {
	Data []byte
}

// DmaRecordStop closes the current recording.
type DmaRecordStop struct {
	Duration   int64
	EnableDDMA bool
}

// DmaEraseRequest deletes a stored trace. Fire and forget: no reply.
type DmaEraseRequest struct {
	Name string
}

// DmaRetrieveRequest looks up a stored trace by name.
type DmaRetrieveRequest struct {
	Name string
}

// DmaRetrieveReply returns a reference to the stored trace bytes plus its
// metadata. Found is false when the name was never recorded; the other
// fields are then meaningless.
type DmaRetrieveReply struct {
	Trace    []byte
	Duration int64
	UsesDDMA bool
	ID       int32
	Found    bool
}

// DmaStartRemoteRequest starts playback of trace ID on the satellites at the
// given timeline offset.
type DmaStartRemoteRequest struct {
	ID        int32
	Timestamp int64
}

// DmaAwaitRemoteRequest blocks the supervisor until the remote leg of trace
// ID finishes (or the host-side timeout fires).
type DmaAwaitRemoteRequest struct {
	ID int32
}

// DmaAwaitRemoteReply reports the remote leg outcome. Error uses the DMA
// controller bit encoding: bit 0 underflow, bit 1 destination unreachable;
// Channel and Timestamp locate the offending event.
type DmaAwaitRemoteReply struct {
	Timeout   bool
	Error     uint8
	Channel   uint32
	Timestamp uint64
}

func (DmaRecordStart) Kind() Kind        { return KindDmaRecordStart }
func (DmaRecordAppend) Kind() Kind       { return KindDmaRecordAppend }
func (DmaRecordStop) Kind() Kind         { return KindDmaRecordStop }
func (DmaEraseRequest) Kind() Kind       { return KindDmaEraseRequest }
func (DmaRetrieveRequest) Kind() Kind    { return KindDmaRetrieveRequest }
func (DmaRetrieveReply) Kind() Kind      { return KindDmaRetrieveReply }
func (DmaStartRemoteRequest) Kind() Kind { return KindDmaStartRemoteRequest }
func (DmaAwaitRemoteRequest) Kind() Kind { return KindDmaAwaitRemoteRequest }
func (DmaAwaitRemoteReply) Kind() Kind   { return KindDmaAwaitRemoteReply }
