//go:build linux

package socketcan

import (
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"golang.org/x/sys/unix"

	"github.com/kstaniek/go-canstream/can"
)

// canfdMTU is sizeof(struct canfd_frame); x/sys only defines CAN_MTU.
const canfdMTU = 72

// Device is one bound raw CAN socket. The descriptor is kept nonblocking;
// every blocking operation goes through poll(2) with an explicit deadline.
type Device struct {
	fd     int
	fdMode bool
}

// Open creates and binds a raw CAN socket on iface. With fdMode the socket
// accepts and delivers CAN FD frames (CAN_RAW_FD_FRAMES).
func Open(iface string, fdMode bool) (*Device, error) {
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("socket(AF_CAN): %w", err)
	}
	fdFrames := 0
	if fdMode {
		fdFrames = 1
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FD_FRAMES, fdFrames); err != nil {
		// Older kernels may not know this option; ignore ENOPROTOOPT unless
		// FD mode was explicitly requested.
		if fdMode || err != unix.ENOPROTOOPT {
			_ = unix.Close(fd)
			return nil, fmt.Errorf("set CAN FD mode: %w", err)
		}
	}
	// Deliver controller error frames; the classifier routes them separately.
	if err := unix.SetsockoptInt(fd, unix.SOL_CAN_RAW, unix.CAN_RAW_ERR_FILTER, can.EFFMask); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("enable error frames: %w", err)
	}
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("if %q: %w", iface, err)
	}
	if err := unix.Bind(fd, &unix.SockaddrCAN{Ifindex: ifi.Index}); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("bind(can@%s): %w", iface, err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("set nonblock: %w", err)
	}
	return &Device{fd: fd, fdMode: fdMode}, nil
}

func (d *Device) Close() error { return unix.Close(d.fd) }

// ReadFrame reads exactly one frame, waiting at most timeout for the socket
// to become readable. timeout <= 0 blocks indefinitely. Returns
// ErrReadTimeout when the deadline expires with no frame.
func (d *Device) ReadFrame(fr *can.Frame, timeout time.Duration) error {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	var buf [canfdMTU]byte
	for {
		ms := -1
		if timeout > 0 {
			remain := time.Until(deadline)
			if remain <= 0 {
				return ErrReadTimeout
			}
			// Round up so a 1ms timeout never degenerates to a zero poll.
			ms = int((remain + time.Millisecond - 1) / time.Millisecond)
		}
		pfd := []unix.PollFd{{Fd: int32(d.fd), Events: unix.POLLIN}}
		n, err := unix.Poll(pfd, ms)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return fmt.Errorf("poll: %w", err)
		}
		if n == 0 {
			return ErrReadTimeout
		}
		rn, err := unix.Read(d.fd, buf[:])
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			continue // lost the race for the frame; wait again
		}
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		return decodeFrame(buf[:rn], fr)
	}
}

// decodeFrame cooks a kernel can_frame (16 bytes) or canfd_frame (72 bytes)
// into the portable model. Field order per <linux/can.h>:
//
//	can_id  u32  [0:4]  (includes EFF/RTR/ERR flag bits)
//	len     u8   [4]
//	flags   u8   [5]    (canfd_frame only)
//	pad     2B   [6:8]
//	data    ...  [8:]
//
// The kernel provides fields in host byte order; common Linux targets are
// little-endian.
func decodeFrame(buf []byte, fr *can.Frame) error {
	isFD := false
	switch len(buf) {
	case unix.CAN_MTU:
	case canfdMTU:
		isFD = true
	default:
		return fmt.Errorf("short read: %d", len(buf))
	}
	id := binary.LittleEndian.Uint32(buf[0:4])
	*fr = can.Frame{
		Extended: id&can.EFFFlag != 0,
		Remote:   id&can.RTRFlag != 0,
		Error:    id&can.ERRFlag != 0,
		FD:       isFD,
	}
	if fr.Extended || fr.Error {
		fr.ID = id & can.EFFMask
	} else {
		fr.ID = id & can.SFFMask
	}
	length := buf[4]
	if isFD {
		if length > can.MaxFDDataLen {
			length = can.MaxFDDataLen
		}
		fr.Remote = false // no RTR in CAN FD framing
		fr.Length = length
		copy(fr.Data[:], buf[8:8+int(length)])
		return nil
	}
	if length > can.MaxDataLen {
		length = can.MaxDataLen
	}
	if fr.Remote {
		fr.DLC = length // DLC-only request, no payload bytes
		return nil
	}
	fr.Length = length
	copy(fr.Data[:], buf[8:8+int(length)])
	return nil
}

// WriteFrame writes one frame, encoding classic or FD layout from the flags.
func (d *Device) WriteFrame(fr can.Frame) error {
	size := unix.CAN_MTU
	if fr.FD {
		size = canfdMTU
	}
	var buf [canfdMTU]byte
	id := fr.ID
	if fr.Extended {
		id |= can.EFFFlag
	}
	if fr.Remote {
		id |= can.RTRFlag
	}
	binary.LittleEndian.PutUint32(buf[0:4], id)
	if fr.Remote {
		buf[4] = fr.DLC
	} else {
		buf[4] = fr.Length
		copy(buf[8:], fr.Data[:fr.Length])
	}
	for {
		_, err := unix.Write(d.fd, buf[:size])
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			pfd := []unix.PollFd{{Fd: int32(d.fd), Events: unix.POLLOUT}}
			if _, perr := unix.Poll(pfd, 1000); perr != nil && perr != unix.EINTR {
				return fmt.Errorf("poll(out): %w", perr)
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("write: %w", err)
		}
		return nil
	}
}

// SetFilters installs the kernel acceptance rules, replacing any previous set.
// An empty slice installs a single accept-all rule.
func (d *Device) SetFilters(filters []can.Filter) error {
	raw := make([]unix.CanFilter, 0, len(filters))
	for _, f := range filters {
		id := f.ID
		if f.Invert {
			id |= unix.CAN_INV_FILTER
		}
		raw = append(raw, unix.CanFilter{Id: id, Mask: f.Mask})
	}
	if len(raw) == 0 {
		raw = append(raw, unix.CanFilter{Id: 0, Mask: 0})
	}
	if err := unix.SetsockoptCanRawFilter(d.fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FILTER, raw); err != nil {
		return fmt.Errorf("set filters: %w", err)
	}
	return nil
}

// ClearFilters restores accept-all reception.
func (d *Device) ClearFilters() error { return d.SetFilters(nil) }
