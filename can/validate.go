package can

import (
	"errors"
	"fmt"
)

// Sentinel validation errors; callers classify via errors.Is.
var (
	ErrInvalidID          = errors.New("can: identifier out of range")
	ErrInvalidDataLength  = errors.New("can: invalid data length")
	ErrInvalidCombination = errors.New("can: invalid flag combination")
)

// fdLengths is the set of payload sizes the CAN FD wire format can encode.
var fdLengths = map[uint8]struct{}{
	0: {}, 1: {}, 2: {}, 3: {}, 4: {}, 5: {}, 6: {}, 7: {}, 8: {},
	12: {}, 16: {}, 20: {}, 24: {}, 32: {}, 48: {}, 64: {},
}

// ValidFDLength reports whether n is an encodable CAN FD payload size.
func ValidFDLength(n uint8) bool {
	_, ok := fdLengths[n]
	return ok
}

// Validate checks the frame against the rules enforced before any frame is
// handed to a device or surfaced to a consumer:
//
//   - identifier within the range implied by Extended
//   - classic payload <= 8 bytes; FD payload in the valid-size set
//   - Remote and FD never combined
//   - remote frames carry no payload and request 0..8 bytes
//
// It has no side effects and never retries.
func (f Frame) Validate() error {
	limit := uint32(SFFMask)
	if f.Extended {
		limit = EFFMask
	}
	if f.ID > limit {
		return fmt.Errorf("%w: 0x%X (extended=%v)", ErrInvalidID, f.ID, f.Extended)
	}
	if f.Remote && f.FD {
		return fmt.Errorf("%w: remote and fd", ErrInvalidCombination)
	}
	if f.Remote {
		if f.Length != 0 {
			return fmt.Errorf("%w: remote frame with payload", ErrInvalidDataLength)
		}
		if f.DLC > MaxDataLen {
			return fmt.Errorf("%w: remote dlc %d", ErrInvalidDataLength, f.DLC)
		}
		return nil
	}
	if f.FD {
		if !ValidFDLength(f.Length) {
			return fmt.Errorf("%w: %d not an fd size", ErrInvalidDataLength, f.Length)
		}
		return nil
	}
	if f.Length > MaxDataLen {
		return fmt.Errorf("%w: %d > %d", ErrInvalidDataLength, f.Length, MaxDataLen)
	}
	return nil
}
