package proto

import "github.com/HTGAzureX1212/artiq/eh"

// RpcSend asks the supervisor to invoke a host-resident procedure. Args hold
// the live argument values; Tag describes their shapes (see package rpc).
// Async calls normally travel through the lock-free queue instead; an async
// RpcSend on the mailbox is the degraded path taken when the queue is full or
// the encoded packet exceeds a queue slot.
type RpcSend struct {
	Async   bool
	Service uint32
	Tag     []byte
	Args    []any
}

// RpcRecvRequest asks for the next chunk of an RPC result. The supervisor
// writes into Slot, which aliases caller memory for exactly the duration of
// the exchange.
type RpcRecvRequest struct {
	Slot []byte
}

// RpcRecvReply answers one RpcRecvRequest. AllocSize > 0 means "call again
// with a buffer of that many bytes"; 0 means the value is complete. A
// non-nil Exception means the remote call failed and must be raised into the
// program instead of returning a value.
type RpcRecvReply struct {
	AllocSize int
	Exception *eh.Exception
}

// RpcFlush asks the supervisor to drain the asynchronous RPC queue before
// acknowledging. Sent once before RunFinished.
type RpcFlush struct{}

// CacheGetRequest fetches a row from the host-resident cache.
type CacheGetRequest struct {
	Key string
}

// CacheGetReply returns the row value; missing rows yield an empty value.
type CacheGetReply struct {
	Value []int32
}

// CachePutRequest stores a row in the host-resident cache.
type CachePutRequest struct {
	Key   string
	Value []int32
}

// CachePutReply reports whether the store succeeded. Succeeded is false when
// the host marks the row busy.
type CachePutReply struct {
	Succeeded bool
}

func (RpcSend) Kind() Kind         { return KindRpcSend }
func (RpcRecvRequest) Kind() Kind  { return KindRpcRecvRequest }
func (RpcRecvReply) Kind() Kind    { return KindRpcRecvReply }
func (RpcFlush) Kind() Kind        { return KindRpcFlush }
func (CacheGetRequest) Kind() Kind { return KindCacheGetRequest }
func (CacheGetReply) Kind() Kind   { return KindCacheGetReply }
func (CachePutRequest) Kind() Kind { return KindCachePutRequest }
func (CachePutReply) Kind() Kind   { return KindCachePutReply }
