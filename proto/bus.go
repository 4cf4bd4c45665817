package proto

// Non-realtime I2C and SPI bus access is relayed through the supervisor; the
// kernel core has no bus master of its own.

type I2CStartRequest struct {
	Bus uint32
}

type I2CRestartRequest struct {
	Bus uint32
}

type I2CStopRequest struct {
	Bus uint32
}

type I2CWriteRequest struct {
	Bus  uint32
	Data uint8
}

type I2CReadRequest struct {
	Bus uint32
	Ack bool
}

// I2CBasicReply acknowledges start/restart/stop/write. For writes, Ack
// reports the device acknowledge bit.
type I2CBasicReply struct {
	Succeeded bool
	Ack       bool
}

type I2CReadReply struct {
	Succeeded bool
	Data      uint8
}

type SPISetConfigRequest struct {
	Bus    uint32
	Flags  uint8
	Length uint8
	Div    uint8
	CS     uint8
}

type SPIWriteRequest struct {
	Bus  uint32
	Data uint32
}

type SPIReadRequest struct {
	Bus uint32
}

type SPIBasicReply struct {
	Succeeded bool
}

type SPIReadReply struct {
	Succeeded bool
	Data      uint32
}

func (I2CStartRequest) Kind() Kind     { return KindI2CStartRequest }
func (I2CRestartRequest) Kind() Kind   { return KindI2CRestartRequest }
func (I2CStopRequest) Kind() Kind      { return KindI2CStopRequest }
func (I2CWriteRequest) Kind() Kind     { return KindI2CWriteRequest }
func (I2CReadRequest) Kind() Kind      { return KindI2CReadRequest }
func (I2CBasicReply) Kind() Kind       { return KindI2CBasicReply }
func (I2CReadReply) Kind() Kind        { return KindI2CReadReply }
func (SPISetConfigRequest) Kind() Kind { return KindSPISetConfigRequest }
func (SPIWriteRequest) Kind() Kind     { return KindSPIWriteRequest }
func (SPIReadRequest) Kind() Kind      { return KindSPIReadRequest }
func (SPIBasicReply) Kind() Kind       { return KindSPIBasicReply }
func (SPIReadReply) Kind() Kind        { return KindSPIReadReply }
