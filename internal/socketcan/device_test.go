//go:build linux

package socketcan

import (
	"encoding/binary"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/kstaniek/go-canstream/can"
)

func classicBuf(id uint32, data []byte) []byte {
	buf := make([]byte, unix.CAN_MTU)
	binary.LittleEndian.PutUint32(buf[0:4], id)
	buf[4] = byte(len(data))
	copy(buf[8:], data)
	return buf
}

func fdBuf(id uint32, data []byte) []byte {
	buf := make([]byte, canfdMTU)
	binary.LittleEndian.PutUint32(buf[0:4], id)
	buf[4] = byte(len(data))
	copy(buf[8:], data)
	return buf
}

func TestDecodeFrameClassic(t *testing.T) {
	var f can.Frame
	if err := decodeFrame(classicBuf(0x123, []byte{0xDE, 0xAD}), &f); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if f.ID != 0x123 || f.Extended || f.FD || f.Length != 2 || f.Data[0] != 0xDE || f.Data[1] != 0xAD {
		t.Fatalf("frame = %+v", f)
	}

	if err := decodeFrame(classicBuf(0x18DAF110|can.EFFFlag, []byte{1}), &f); err != nil {
		t.Fatalf("decode extended: %v", err)
	}
	if f.ID != 0x18DAF110 || !f.Extended {
		t.Fatalf("extended frame = %+v", f)
	}

	buf := classicBuf(0x456|can.RTRFlag, nil)
	buf[4] = 4 // requested length travels in the DLC byte
	if err := decodeFrame(buf, &f); err != nil {
		t.Fatalf("decode remote: %v", err)
	}
	if !f.Remote || f.DLC != 4 || f.Length != 0 {
		t.Fatalf("remote frame = %+v", f)
	}
}

func TestDecodeFrameFD(t *testing.T) {
	data := make([]byte, 48)
	for i := range data {
		data[i] = byte(i)
	}
	var f can.Frame
	if err := decodeFrame(fdBuf(0x321, data), &f); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !f.FD || f.Length != 48 || f.Data[47] != 47 {
		t.Fatalf("fd frame = %+v", f)
	}
	// The RTR bit has no meaning in FD framing and must not survive decode.
	if err := decodeFrame(fdBuf(0x321|can.RTRFlag, data[:8]), &f); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if f.Remote {
		t.Fatalf("rtr bit leaked into fd frame: %+v", f)
	}
}

func TestDecodeFrameRejectsOddSizes(t *testing.T) {
	var f can.Frame
	for _, n := range []int{0, 8, unix.CAN_MTU - 1, unix.CAN_MTU + 1, canfdMTU + 1} {
		if err := decodeFrame(make([]byte, n), &f); err == nil {
			t.Fatalf("size %d: expected error", n)
		}
	}
}
