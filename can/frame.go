// Package can holds the CAN frame model shared by every backend and the
// streaming layer: frame construction, kind classification and validation.
package can

// SocketCAN flag bits for can_id (same values as <linux/can.h>)
const (
	EFFFlag = 0x80000000 // extended frame format
	RTRFlag = 0x40000000 // remote transmission request
	ERRFlag = 0x20000000 // error message frame
	SFFMask = 0x7FF
	EFFMask = 0x1FFFFFFF
)

// MaxDataLen is the classic CAN payload bound; MaxFDDataLen the CAN FD bound.
const (
	MaxDataLen   = 8
	MaxFDDataLen = 64
)

// Frame is one CAN bus message. It is a plain comparable value: two frames
// with the same identifier, flags and payload compare equal, which the tests
// rely on.
//
// Only Data[:Length] carries payload. A remote frame has no payload; DLC
// records the requested length instead. At most one of Remote/FD may be set;
// Error may combine with either.
type Frame struct {
	ID       uint32 // 11-bit (standard) or 29-bit (extended)
	Extended bool
	Remote   bool
	Error    bool
	FD       bool
	DLC      uint8 // requested length for remote frames (0..8)
	Length   uint8
	Data     [64]byte
}

// Kind partitions frames into the four mutually exclusive categories used by
// filtering and routing.
type Kind uint8

const (
	KindData Kind = iota
	KindRemote
	KindError
	KindFD
)

func (k Kind) String() string {
	switch k {
	case KindData:
		return "data"
	case KindRemote:
		return "remote"
	case KindError:
		return "error"
	case KindFD:
		return "fd"
	}
	return "unknown"
}

// Kind classifies the frame. Total and pure: every frame maps to exactly one
// kind. Error outranks remote and FD so controller-reported faults are never
// mistaken for application data.
func (f Frame) Kind() Kind {
	switch {
	case f.Error:
		return KindError
	case f.Remote:
		return KindRemote
	case f.FD:
		return KindFD
	default:
		return KindData
	}
}

// New builds a data frame, deriving Extended from the identifier range when
// the id does not fit 11 bits.
func New(id uint32, data []byte) Frame {
	f := Frame{ID: id, Extended: id > SFFMask, Length: uint8(min(len(data), MaxFDDataLen))}
	copy(f.Data[:], data)
	if len(data) > MaxDataLen {
		f.FD = true
	}
	return f
}

// NewRemote builds a remote transmission request for dlc payload bytes.
func NewRemote(id uint32, dlc uint8) Frame {
	return Frame{ID: id, Extended: id > SFFMask, Remote: true, DLC: dlc}
}

// NewFD builds a CAN FD data frame.
func NewFD(id uint32, data []byte) Frame {
	f := New(id, data)
	f.FD = true
	return f
}

// Payload returns the valid portion of the data array.
func (f *Frame) Payload() []byte { return f.Data[:f.Length] }
