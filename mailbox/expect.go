package mailbox

import "github.com/HTGAzureX1212/artiq/proto"

// Expect receives the next message and asserts it is variant T.
//
// Any other variant is a protocol desynchronization: fatal is invoked with a
// description, from inside the receive handler, before the message would be
// acknowledged. fatal must not return; the message is then never
// acknowledged and the peer's Send stays blocked, which is the intended
// wedge. The protocol is designed to make this unreachable in correct
// operation.
func Expect[T proto.Message](s *Side, fatal func(string)) (v T) {
	s.Recv(func(m proto.Message) {
		got, ok := m.(T)
		if !ok {
			fatal("unexpected reply: " + m.Kind().String())
		}
		v = got
	})
	return v
}
