package can

import (
	"errors"
	"fmt"
)

// ErrInvalidFilter marks out-of-range filter identifiers or masks.
var ErrInvalidFilter = errors.New("can: invalid filter")

// Filter is a kernel-side acceptance rule: a frame matches when
// frame.ID & Mask == ID & Mask, or when it does not and Invert is set.
// Evaluation happens in the device (kernel filter table or serial adapter
// shim), not in the streaming layer.
type Filter struct {
	ID       uint32
	Mask     uint32
	Extended bool
	Invert   bool
}

// Validate range-checks the filter before installation.
func (f Filter) Validate() error {
	limit := uint32(SFFMask)
	if f.Extended {
		limit = EFFMask
	}
	if f.ID > limit {
		return fmt.Errorf("%w: id 0x%X", ErrInvalidFilter, f.ID)
	}
	if f.Mask > EFFMask {
		return fmt.Errorf("%w: mask 0x%X", ErrInvalidFilter, f.Mask)
	}
	return nil
}

// Match applies the rule to a frame.
func (f Filter) Match(fr Frame) bool {
	m := fr.ID&f.Mask == f.ID&f.Mask
	if f.Invert {
		return !m
	}
	return m
}

// FrameFilter decides whether a frame belongs to a software-side sequence.
type FrameFilter func(Frame) bool

// ByID matches frames with the exact identifier.
func ByID(id uint32) FrameFilter {
	return func(f Frame) bool { return f.ID == id }
}

// OfKind matches frames of one classified kind.
func OfKind(k Kind) FrameFilter {
	return func(f Frame) bool { return f.Kind() == k }
}

// And composes two filters; nil components are treated as match-all.
func And(a, b FrameFilter) FrameFilter {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	default:
		return func(f Frame) bool { return a(f) && b(f) }
	}
}
