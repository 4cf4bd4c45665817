// Package loader resolves program images into runnable libraries. An image
// carries a header naming a registered program; loading binds the program's
// exported symbols and the memory bookkeeping for one run. Symbols resolve
// by name only; images are never patched after load.
package loader

import (
	"errors"
	"fmt"

	"github.com/HTGAzureX1212/artiq/hal"
)

// Symbols every image may export.
const (
	SymbolEntry    = "__modinit__"
	SymbolTypeInfo = "typeinfo"
)

var (
	ErrUnknownProgram = errors.New("loader: no such program")
	ErrRegionTooSmall = errors.New("loader: load region too small")
)

// Library is a loaded program image.
type Library struct {
	header  Header
	region  hal.Region
	symbols map[string]any
}

func (l *Library) Name() string       { return l.header.Name }
func (l *Library) Satellite() bool    { return l.header.Satellite() }
func (l *Library) Region() hal.Region { return l.region }

// BSS returns the uninitialized-data region carved from the tail of the
// load region. Its size may be zero.
func (l *Library) BSS() hal.Region {
	return hal.Region{
		Name: "bss",
		Base: l.region.Base + l.region.Size - uint64(l.header.BSSSize),
		Size: uint64(l.header.BSSSize),
	}
}

// Lookup resolves an exported symbol; the second return is false when the
// image does not export it. Callers assert the value to the symbol's known
// shape.
func (l *Library) Lookup(symbol string) (any, bool) {
	v, ok := l.symbols[symbol]
	return v, ok
}

// Loader instantiates libraries from images using a program registry.
type Loader struct {
	reg *Registry
}

func NewLoader(reg *Registry) *Loader { return &Loader{reg: reg} }

// Load parses image, resolves its program, and binds the exported symbols
// into a fresh Library placed in region.
func (ld *Loader) Load(image []byte, region hal.Region) (*Library, error) {
	h, err := DecodeImage(image)
	if err != nil {
		return nil, err
	}
	if h.Version != Version {
		return nil, fmt.Errorf("%w %d", ErrVersion, h.Version)
	}
	if uint64(h.BSSSize) > region.Size {
		return nil, fmt.Errorf("%w: %d uninitialized bytes in %d", ErrRegionTooSmall, h.BSSSize, region.Size)
	}
	factory, ok := ld.reg.Resolve(h.Name)
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownProgram, h.Name)
	}
	prog := factory()
	lib := &Library{header: h, region: region, symbols: make(map[string]any, 2)}
	if prog.Entry != nil {
		lib.symbols[SymbolEntry] = prog.Entry
	}
	if prog.TypeInfo != nil {
		lib.symbols[SymbolTypeInfo] = prog.TypeInfo
	}
	return lib, nil
}
