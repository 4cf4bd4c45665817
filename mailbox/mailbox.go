// Package mailbox implements the single-slot synchronous message channel
// between the kernel core and the supervisor core.
//
// Each direction holds at most one in-flight message. Send publishes a
// reference and busy-polls until the peer acknowledges; the message storage
// belongs to the sender until then. There is no queueing, no timeout and no
// retry: the mailbox is a rendezvous primitive, and all retry or timeout
// semantics belong to the layers above it.
package mailbox

import (
	"code.hybscloud.com/atomix"
	"code.hybscloud.com/iox"

	"github.com/HTGAzureX1212/artiq/proto"
)

const (
	slotEmpty uint32 = iota
	slotPosted
)

// slot is one direction of the channel: a message cell plus a hand-off flag.
// The flag's atomic transitions order the plain msg accesses on both sides.
type slot struct {
	state atomix.Uint32
	msg   proto.Message
}

type pair struct {
	toSupervisor slot
	toKernel     slot
}

// Side is one end of a connected mailbox pair.
type Side struct {
	out *slot
	in  *slot
}

// Pair creates a connected mailbox. The first side is conventionally the
// kernel core's, the second the supervisor's; they are symmetric.
func Pair() (*Side, *Side) {
	p := &pair{}
	kern := &Side{out: &p.toSupervisor, in: &p.toKernel}
	sup := &Side{out: &p.toKernel, in: &p.toSupervisor}
	return kern, sup
}

// Send publishes m and busy-polls until the peer acknowledges it. If the
// outbound slot still holds an unacknowledged message (a protocol bug in the
// layer above), Send waits for it to drain rather than corrupting the slot.
func (s *Side) Send(m proto.Message) {
	var bo iox.Backoff
	for s.out.state.Load() != slotEmpty {
		bo.Wait()
	}
	s.out.msg = m
	s.out.state.Store(slotPosted)

	bo.Reset()
	for s.out.state.Load() != slotEmpty {
		bo.Wait()
	}
}

// Post publishes m without waiting for acknowledgment, the way a hardware
// mailbox word is written and forgotten. It fails with iox.ErrWouldBlock if
// the outbound slot is still occupied. The caller must not touch m again
// until the peer has consumed it.
func (s *Side) Post(m proto.Message) error {
	if s.out.state.Load() != slotEmpty {
		return iox.ErrWouldBlock
	}
	s.out.msg = m
	s.out.state.Store(slotPosted)
	return nil
}

// Recv busy-polls until a message arrives, invokes handler with a borrowed
// view of it, then acknowledges. The message reference must not escape the
// handler: once acknowledged, the sender owns the storage again.
func (s *Side) Recv(handler func(proto.Message)) {
	var bo iox.Backoff
	for s.in.state.Load() != slotPosted {
		bo.Wait()
	}
	s.deliver(handler)
}

// TryRecv behaves like Recv when a message is pending and returns
// iox.ErrWouldBlock immediately otherwise.
func (s *Side) TryRecv(handler func(proto.Message)) error {
	if s.in.state.Load() != slotPosted {
		return iox.ErrWouldBlock
	}
	s.deliver(handler)
	return nil
}

func (s *Side) deliver(handler func(proto.Message)) {
	m := s.in.msg
	if handler != nil {
		handler(m)
	}
	s.in.msg = nil
	s.in.state.Store(slotEmpty)
}
