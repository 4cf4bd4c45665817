// Package rpcq provides the bounded queue that carries asynchronous RPC
// packets from the kernel to the supervisor drain.
//
// The queue is strictly single-producer single-consumer: the kernel
// goroutine enqueues, the supervisor drain dequeues. Ordering with the
// synchronous RPC path is preserved by the depth counter: a packet counts
// toward the depth from before it enters the ring until after the drain
// callback has fully delivered it, so a producer observing Empty() knows
// every prior asynchronous call has reached the supervisor.
package rpcq

import (
	"errors"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/lfq"
)

const (
	// SlotSize is the largest encoded RPC packet the queue accepts.
	// Larger calls must take the synchronous path.
	SlotSize = 1024

	// Depth is the bounded capacity of the ring.
	Depth = 32
)

var ErrPacketTooBig = errors.New("rpcq: packet exceeds slot size")

// Queue is a bounded SPSC ring of encoded RPC packets.
type Queue struct {
	ring  lfq.SPSC[[]byte]
	depth atomix.Uint32
	slot  []byte
}

// New returns an initialized queue.
func New() *Queue {
	q := &Queue{}
	q.ring.Init(Depth)
	return q
}

// TryEnqueue copies packet into the ring. It returns ErrPacketTooBig when
// the packet cannot fit a slot and iox.ErrWouldBlock when the ring is
// full. The caller may reuse packet's backing array once TryEnqueue
// returns.
func (q *Queue) TryEnqueue(packet []byte) error {
	if len(packet) > SlotSize {
		return ErrPacketTooBig
	}
	q.slot = append(q.slot[:0:0], packet...)
	q.depth.Add(1)
	if err := q.ring.Enqueue(&q.slot); err != nil {
		q.depth.Add(^uint32(0))
		return err
	}
	return nil
}

// TryDrain dequeues one packet and hands it to deliver. The depth counter
// is released only after deliver returns, so producers polling Empty see
// the packet as outstanding until it has fully landed. Returns
// iox.ErrWouldBlock when the ring is empty.
func (q *Queue) TryDrain(deliver func(packet []byte)) error {
	p, err := q.ring.Dequeue()
	if err != nil {
		return err
	}
	deliver(p)
	q.depth.Add(^uint32(0))
	return nil
}

// Empty reports whether no packet is enqueued or still being delivered.
func (q *Queue) Empty() bool {
	return q.depth.Load() == 0
}

// Len returns the number of outstanding packets.
func (q *Queue) Len() int {
	return int(q.depth.Load())
}
