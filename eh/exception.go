// Package eh holds the exception records exchanged between the kernel core
// and the supervisor, and the name→ID intern table both sides agree on.
package eh

import (
	"fmt"
	"runtime"
	"sync"
)

// Exception is a structured fault record. It crosses the mailbox by value:
// the receiving side must copy it (see Stage) before the sender reuses the
// storage.
//
// Message may contain host-side interpolation slots such as
// "{rtio_channel_info:0}" or "{1}"; they are filled from Param by the
// supervisor, never by this core.
type Exception struct {
	ID       uint32
	File     string
	Line     int32
	Column   int32
	Function string
	Message  string
	Param    [3]int64
}

func (e *Exception) Error() string {
	return fmt.Sprintf("%s: %s", Name(e.ID), e.Message)
}

// Name returns the interned exception name for id, or "UnknownException".
func Name(id uint32) string {
	names.mu.Lock()
	defer names.mu.Unlock()
	if int(id) < len(names.byID) {
		return names.byID[id]
	}
	return "UnknownException"
}

// GetExceptionID interns name and returns its stable ID. Core names carry
// fixed IDs synchronized with the supervisor; unknown names are assigned the
// next free slot.
func GetExceptionID(name string) uint32 {
	names.mu.Lock()
	defer names.mu.Unlock()
	if id, ok := names.byName[name]; ok {
		return id
	}
	id := uint32(len(names.byID))
	names.byID = append(names.byID, name)
	names.byName[name] = id
	return id
}

var names struct {
	mu     sync.Mutex
	byID   []string
	byName map[string]uint32
}

func init() {
	// Fixed slots. The supervisor indexes the same table; reordering is a
	// protocol break.
	core := []string{
		"RuntimeError",
		"RTIOUnderflow",
		"RTIOOverflow",
		"RTIODestinationUnreachable",
		"DMAError",
		"I2CError",
		"CacheError",
		"SPIError",
		"SubkernelError",
		"AssertionError",
		"ZeroDivisionError",
		"IndexError",
	}
	names.byID = append(names.byID, core...)
	names.byName = make(map[string]uint32, len(core))
	for id, n := range core {
		names.byName[n] = uint32(id)
	}
}

// New builds an exception named name, recording the caller as the raise site.
func New(name, message string, params ...int64) *Exception {
	e := &Exception{
		ID:       GetExceptionID(name),
		Message:  message,
		Function: "(unknown)",
	}
	if pc, file, line, ok := runtime.Caller(1); ok {
		e.File = file
		e.Line = int32(line)
		if fn := runtime.FuncForPC(pc); fn != nil {
			e.Function = fn.Name()
		}
	}
	copy(e.Param[:], params)
	return e
}
