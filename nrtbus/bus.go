// Package nrtbus relays non-realtime I2C and SPI bus cycles through the
// supervisor. The kernel core has no bus master of its own; every entry
// point is a blocking request/reply round trip, far off the RTIO timeline.
package nrtbus

import (
	"github.com/HTGAzureX1212/artiq/eh"
	"github.com/HTGAzureX1212/artiq/mailbox"
	"github.com/HTGAzureX1212/artiq/proto"
)

// Bus issues bus cycle requests over the mailbox.
type Bus struct {
	side  *mailbox.Side
	fatal func(string)
}

// NewBus wires a relay to its mailbox side. fatal is the protocol
// desynchronization path and must not return.
func NewBus(side *mailbox.Side, fatal func(string)) *Bus {
	return &Bus{side: side, fatal: fatal}
}

// I2CStart issues a start condition on bus.
func (b *Bus) I2CStart(bus uint32) error {
	b.side.Send(proto.I2CStartRequest{Bus: bus})
	reply := mailbox.Expect[proto.I2CBasicReply](b.side, b.fatal)
	if !reply.Succeeded {
		return eh.New("I2CError", "I2C start failed")
	}
	return nil
}

// I2CRestart issues a repeated start condition on bus.
func (b *Bus) I2CRestart(bus uint32) error {
	b.side.Send(proto.I2CRestartRequest{Bus: bus})
	reply := mailbox.Expect[proto.I2CBasicReply](b.side, b.fatal)
	if !reply.Succeeded {
		return eh.New("I2CError", "I2C restart failed")
	}
	return nil
}

// I2CStop issues a stop condition on bus.
func (b *Bus) I2CStop(bus uint32) error {
	b.side.Send(proto.I2CStopRequest{Bus: bus})
	reply := mailbox.Expect[proto.I2CBasicReply](b.side, b.fatal)
	if !reply.Succeeded {
		return eh.New("I2CError", "I2C stop failed")
	}
	return nil
}

// I2CWrite shifts one byte out and reports the device acknowledge bit.
func (b *Bus) I2CWrite(bus uint32, data uint8) (bool, error) {
	b.side.Send(proto.I2CWriteRequest{Bus: bus, Data: data})
	reply := mailbox.Expect[proto.I2CBasicReply](b.side, b.fatal)
	if !reply.Succeeded {
		return false, eh.New("I2CError", "I2C write failed")
	}
	return reply.Ack, nil
}

// I2CRead shifts one byte in, acknowledging it when ack is set.
func (b *Bus) I2CRead(bus uint32, ack bool) (uint8, error) {
	b.side.Send(proto.I2CReadRequest{Bus: bus, Ack: ack})
	reply := mailbox.Expect[proto.I2CReadReply](b.side, b.fatal)
	if !reply.Succeeded {
		return 0, eh.New("I2CError", "I2C read failed")
	}
	return reply.Data, nil
}

// SPISetConfig programs flags, transfer length, clock divider, and chip
// select for bus.
func (b *Bus) SPISetConfig(bus uint32, flags, length, div, cs uint8) error {
	b.side.Send(proto.SPISetConfigRequest{Bus: bus, Flags: flags, Length: length, Div: div, CS: cs})
	reply := mailbox.Expect[proto.SPIBasicReply](b.side, b.fatal)
	if !reply.Succeeded {
		return eh.New("SPIError", "SPI set config failed")
	}
	return nil
}

// SPIWrite shifts one transfer out on bus.
func (b *Bus) SPIWrite(bus uint32, data uint32) error {
	b.side.Send(proto.SPIWriteRequest{Bus: bus, Data: data})
	reply := mailbox.Expect[proto.SPIBasicReply](b.side, b.fatal)
	if !reply.Succeeded {
		return eh.New("SPIError", "SPI write failed")
	}
	return nil
}

// SPIRead returns the last transfer shifted in on bus.
func (b *Bus) SPIRead(bus uint32) (uint32, error) {
	b.side.Send(proto.SPIReadRequest{Bus: bus})
	reply := mailbox.Expect[proto.SPIReadReply](b.side, b.fatal)
	if !reply.Succeeded {
		return 0, eh.New("SPIError", "SPI read failed")
	}
	return reply.Data, nil
}
