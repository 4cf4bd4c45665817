package rpcq

import "testing"

// BenchmarkEnqueueDrain measures one packet through the ring.
func BenchmarkEnqueueDrain(b *testing.B) {
	q := New()
	packet := make([]byte, 64)
	sink := func([]byte) {}

	b.ReportAllocs()
	for b.Loop() {
		if err := q.TryEnqueue(packet); err != nil {
			b.Fatal(err)
		}
		if err := q.TryDrain(sink); err != nil {
			b.Fatal(err)
		}
	}
}
