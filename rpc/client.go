package rpc

import (
	"code.hybscloud.com/iox"

	"github.com/HTGAzureX1212/artiq/eh"
	"github.com/HTGAzureX1212/artiq/mailbox"
	"github.com/HTGAzureX1212/artiq/proto"
	"github.com/HTGAzureX1212/artiq/rpcq"
)

// Client speaks the RPC half of the supervisor protocol. Synchronous calls
// travel over the mailbox; asynchronous calls are pre-encoded into the
// bounded queue drained by the supervisor out of band.
type Client struct {
	side  *mailbox.Side
	queue *rpcq.Queue
	fatal func(string)
}

// NewClient wires a client to the kernel mailbox side and the async queue.
// fatal is the protocol-desynchronization path; it must not return.
func NewClient(side *mailbox.Side, queue *rpcq.Queue, fatal func(string)) *Client {
	return &Client{side: side, queue: queue, fatal: fatal}
}

// Queue exposes the async queue for completion barriers (RpcFlush).
func (c *Client) Queue() *rpcq.Queue {
	return c.queue
}

// syncBarrier spins until every asynchronous call has been drained by the
// supervisor. Mailbox traffic must not overtake queued async calls, or the
// host would observe calls out of submission order.
func (c *Client) syncBarrier() {
	var bo iox.Backoff
	for !c.queue.Empty() {
		bo.Wait()
	}
}

// Call issues a synchronous RPC. The host performs the call; the program
// retrieves the result (or the raised exception) through ReceiveResult.
// Arguments are validated against tag before anything is sent.
func (c *Client) Call(service uint32, tag string, args ...any) error {
	t := []byte(tag)
	if err := CheckArgs(t, args); err != nil {
		return err
	}
	c.syncBarrier()
	c.side.Send(proto.RpcSend{Async: false, Service: service, Tag: t, Args: args})
	return nil
}

// CallAsync issues a fire-and-forget RPC. The call is encoded into the
// bounded queue; when the queue is full or the packet exceeds a slot, it
// degrades to a synchronous mailbox send (still flagged async, so the host
// does not produce a result). Submission order among async calls is
// preserved on both paths.
func (c *Client) CallAsync(service uint32, tag string, args ...any) error {
	t := []byte(tag)
	packet, err := EncodePacket(true, service, t, args)
	if err != nil {
		return err
	}
	if err := c.queue.TryEnqueue(packet); err == nil {
		return nil
	}
	c.syncBarrier()
	c.side.Send(proto.RpcSend{Async: true, Service: service, Tag: t, Args: args})
	return nil
}

// ReceiveResult performs one step of the chunked result protocol: it offers
// slot to the host and reports how many more bytes the host needs.
//
// The caller loops: a positive return means "call again with a buffer of
// that size"; zero means the value is complete. When the host reports that
// the call raised, the reconstructed exception is returned as the error and
// no value will ever be produced.
func (c *Client) ReceiveResult(slot []byte) (int, error) {
	c.side.Send(proto.RpcRecvRequest{Slot: slot})
	var n int
	var ex *eh.Exception
	c.side.Recv(func(m proto.Message) {
		reply, ok := m.(proto.RpcRecvReply)
		if !ok {
			c.fatal("unexpected reply: " + m.Kind().String())
		}
		n = reply.AllocSize
		if reply.Exception != nil {
			// The record is borrowed until acknowledgment; stage a copy
			// the kernel owns before raising it into the program.
			ex = eh.Stage(reply.Exception)
		}
	})
	if ex != nil {
		return 0, ex
	}
	return n, nil
}

// CacheGet fetches the cached row for key. A missing key yields an empty
// row, not an error.
func (c *Client) CacheGet(key string) []int32 {
	c.side.Send(proto.CacheGetRequest{Key: key})
	reply := mailbox.Expect[proto.CacheGetReply](c.side, c.fatal)
	return reply.Value
}

// CachePut replaces the cached row for key. The host refuses while the row
// is checked out by an outstanding read.
func (c *Client) CachePut(key string, value []int32) error {
	c.side.Send(proto.CachePutRequest{Key: key, Value: value})
	reply := mailbox.Expect[proto.CachePutReply](c.side, c.fatal)
	if !reply.Succeeded {
		return eh.New("CacheError", "cannot put into a busy cache row")
	}
	return nil
}
