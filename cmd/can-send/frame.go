package main

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/kstaniek/go-canstream/can"
)

// parseFrameArg parses the cansend-style frame notation:
//
//	123#DEADBEEF      classic data frame
//	123#R4            remote request for 4 bytes
//	123##DEADBEEF...  CAN FD data frame
//
// Identifiers longer than three hex digits select the extended format.
func parseFrameArg(arg string) (can.Frame, error) {
	idStr, rest, ok := strings.Cut(arg, "#")
	if !ok {
		return can.Frame{}, fmt.Errorf("invalid frame %q (want ID#DATA)", arg)
	}
	id, err := strconv.ParseUint(idStr, 16, 32)
	if err != nil || id > uint64(can.EFFMask) {
		return can.Frame{}, fmt.Errorf("invalid identifier %q", idStr)
	}
	extended := len(idStr) > 3

	if fdData, isFD := strings.CutPrefix(rest, "#"); isFD {
		data, err := hex.DecodeString(fdData)
		if err != nil {
			return can.Frame{}, fmt.Errorf("invalid data %q", fdData)
		}
		f := can.NewFD(uint32(id), data)
		f.Extended = extended
		return f, nil
	}
	if rStr, isRemote := strings.CutPrefix(rest, "R"); isRemote {
		dlc := 0
		if rStr != "" {
			dlc, err = strconv.Atoi(rStr)
			if err != nil || dlc < 0 || dlc > int(can.MaxDataLen) {
				return can.Frame{}, fmt.Errorf("invalid remote length %q", rStr)
			}
		}
		f := can.NewRemote(uint32(id), uint8(dlc))
		f.Extended = extended
		return f, nil
	}
	data, err := hex.DecodeString(rest)
	if err != nil {
		return can.Frame{}, fmt.Errorf("invalid data %q", rest)
	}
	if len(data) > int(can.MaxDataLen) {
		return can.Frame{}, fmt.Errorf("classic frame carries at most %d bytes (got %d); use ## for fd", can.MaxDataLen, len(data))
	}
	f := can.New(uint32(id), data)
	f.Extended = extended
	return f, nil
}
