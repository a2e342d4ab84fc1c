// Package slcan implements the CAN device over a serial SLCAN (LAWICEL)
// adapter. Frames travel as ASCII lines: 't'/'T' for standard/extended data,
// 'r'/'R' for remote requests, each terminated by CR. Adapters have no kernel
// filter table, so installed filters are evaluated in software on receive.
package slcan

import (
	"bytes"
	"fmt"

	"github.com/kstaniek/go-canstream/can"
)

const hexDigits = "0123456789ABCDEF"

// Codec translates between frames and SLCAN ASCII lines.
type Codec struct{}

// Encode renders one frame as an SLCAN line including the trailing CR.
// CAN FD has no SLCAN representation.
func (Codec) Encode(f can.Frame) ([]byte, error) {
	if f.FD {
		return nil, fmt.Errorf("slcan: fd frames not representable")
	}
	var b bytes.Buffer
	switch {
	case f.Remote && f.Extended:
		b.WriteByte('R')
	case f.Remote:
		b.WriteByte('r')
	case f.Extended:
		b.WriteByte('T')
	default:
		b.WriteByte('t')
	}
	idDigits := 3
	if f.Extended {
		idDigits = 8
	}
	for i := idDigits - 1; i >= 0; i-- {
		b.WriteByte(hexDigits[(f.ID>>(4*i))&0xF])
	}
	if f.Remote {
		b.WriteByte(hexDigits[f.DLC&0xF])
	} else {
		b.WriteByte(hexDigits[f.Length&0xF])
		for _, d := range f.Data[:f.Length] {
			b.WriteByte(hexDigits[d>>4])
			b.WriteByte(hexDigits[d&0xF])
		}
	}
	b.WriteByte('\r')
	return b.Bytes(), nil
}

// DecodeStream drains complete lines from acc, invoking onFrame for each
// parsed frame. Incomplete trailing input stays buffered; unparseable lines
// (adapter acks, noise) are discarded.
func (Codec) DecodeStream(acc *bytes.Buffer, onFrame func(can.Frame)) {
	for {
		raw := acc.Bytes()
		i := bytes.IndexAny(raw, "\r\n")
		if i < 0 {
			return
		}
		line := make([]byte, i)
		copy(line, raw[:i])
		acc.Next(i + 1)
		if f, ok := parseLine(line); ok {
			onFrame(f)
		}
	}
}

func parseLine(line []byte) (can.Frame, bool) {
	if len(line) == 0 {
		return can.Frame{}, false
	}
	var f can.Frame
	switch line[0] {
	case 'T':
		f.Extended = true
	case 'R':
		f.Extended = true
		f.Remote = true
	case 'r':
		f.Remote = true
	case 't':
	default:
		return can.Frame{}, false // ack ('z'/'Z'), status or noise
	}
	idDigits := 3
	if f.Extended {
		idDigits = 8
	}
	if len(line) < 1+idDigits+1 {
		return can.Frame{}, false
	}
	id, ok := parseHex(line[1 : 1+idDigits])
	if !ok {
		return can.Frame{}, false
	}
	f.ID = id
	n, ok := parseHex(line[1+idDigits : 1+idDigits+1])
	if !ok || n > can.MaxDataLen {
		return can.Frame{}, false
	}
	if f.Remote {
		f.DLC = uint8(n)
		return f, len(line) == 1+idDigits+1
	}
	data := line[1+idDigits+1:]
	if len(data) != int(n)*2 {
		return can.Frame{}, false
	}
	for i := 0; i < int(n); i++ {
		v, ok := parseHex(data[i*2 : i*2+2])
		if !ok {
			return can.Frame{}, false
		}
		f.Data[i] = byte(v)
	}
	f.Length = uint8(n)
	return f, true
}

func parseHex(s []byte) (uint32, bool) {
	var v uint32
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
			v = v<<4 | uint32(c-'0')
		case c >= 'A' && c <= 'F':
			v = v<<4 | uint32(c-'A'+10)
		case c >= 'a' && c <= 'f':
			v = v<<4 | uint32(c-'a'+10)
		default:
			return 0, false
		}
	}
	return v, true
}
