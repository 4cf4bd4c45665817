// Package subkernel coordinates program fragments on remote satellite
// nodes: loading, starting, awaiting completion, and relaying typed
// messages. Lifecycle state lives on the supervisor; this end only issues
// requests and interprets replies.
package subkernel

import (
	"github.com/HTGAzureX1212/artiq/eh"
	"github.com/HTGAzureX1212/artiq/hal"
	"github.com/HTGAzureX1212/artiq/mailbox"
	"github.com/HTGAzureX1212/artiq/proto"
)

// Client issues subkernel requests over the mailbox.
type Client struct {
	side  *mailbox.Side
	clock hal.Clock
	fatal func(string)
}

// NewClient wires a client to its mailbox side. fatal is the protocol
// desynchronization path and must not return.
func NewClient(side *mailbox.Side, clock hal.Clock, fatal func(string)) *Client {
	return &Client{side: side, clock: clock, fatal: fatal}
}

// LoadRun asks the supervisor to load subkernel id onto destination, and to
// start it immediately when run is set. The request carries the current
// timeline cursor so the satellite starts on a synchronized clock.
func (c *Client) LoadRun(id uint32, destination uint8, run bool) error {
	c.side.Send(proto.SubkernelLoadRunRequest{
		ID:          id,
		Destination: destination,
		Run:         run,
		Timestamp:   hal.ReadNow(c.clock),
	})
	reply := mailbox.Expect[proto.SubkernelLoadRunReply](c.side, c.fatal)
	if !reply.Succeeded {
		return eh.New("SubkernelError", "Error loading or running the subkernel")
	}
	return nil
}

// AwaitFinish blocks until subkernel id finishes. The timeout is enforced
// host-side, in milliseconds, negative meaning forever.
func (c *Client) AwaitFinish(id uint32, timeout int64) error {
	c.side.Send(proto.SubkernelAwaitFinishRequest{ID: id, Timeout: timeout})
	var err error
	c.side.Recv(func(m proto.Message) {
		switch v := m.(type) {
		case proto.SubkernelAwaitFinishReply:
		case proto.SubkernelError:
			err = statusError(v)
		default:
			c.fatal("unexpected reply: " + m.Kind().String())
		}
	})
	return err
}

// SendMessage relays a typed message to subkernel id. When isReturn is set
// the message is a return value travelling back to the caller's node and the
// destination is implied by the host-side session, so none is sent.
func (c *Client) SendMessage(id uint32, isReturn bool, destination uint8, count uint8, tag []byte, args []any) {
	msg := proto.SubkernelMsgSend{ID: id, Count: count, Tag: tag, Args: args}
	if !isReturn {
		d := destination
		msg.Destination = &d
	}
	c.side.Send(msg)
}

// AwaitMessage blocks until a message from subkernel id matching one of the
// accepted tags arrives, and returns its argument count, checked against
// [min, max]. The caller must then pull each argument through the RPC
// receive protocol, count times.
func (c *Client) AwaitMessage(id int32, timeout int64, tags []byte, min, max uint8) (uint8, error) {
	c.side.Send(proto.SubkernelMsgRecvRequest{ID: id, Timeout: timeout, Tags: tags})
	var count uint8
	var err error
	c.side.Recv(func(m proto.Message) {
		switch v := m.(type) {
		case proto.SubkernelMsgRecvReply:
			if v.Count < min || v.Count > max {
				err = eh.New("SubkernelError", "Received less or more arguments than expected")
				return
			}
			count = v.Count
		case proto.SubkernelError:
			err = statusError(v)
		default:
			c.fatal("unexpected reply: " + m.Kind().String())
		}
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// statusError maps a failure reply onto the error raised into the program.
// A propagated exception is staged before the acknowledgment hands the
// record back to the supervisor, then re-raised verbatim.
func statusError(v proto.SubkernelError) error {
	switch v.Status {
	case proto.SubkernelIncorrectState:
		return eh.New("SubkernelError", "Subkernel not running")
	case proto.SubkernelTimeout:
		return eh.New("SubkernelError", "Subkernel timed out")
	case proto.SubkernelCommLost:
		return eh.New("SubkernelError", "Lost communication with satellite")
	case proto.SubkernelException:
		return eh.Stage(v.Exception)
	default:
		return eh.New("SubkernelError", "An error occurred during subkernel operation")
	}
}
