package main

import (
	"fmt"
	"strings"

	"github.com/kstaniek/go-canstream/can"
)

// formatFrame renders one frame in candump style:
//
//	can0  123   [2]  DE AD
//	can0  18DAF110   [1]  01
//	can0  456   [4]  remote request
func formatFrame(iface string, f can.Frame) string {
	id := fmt.Sprintf("%03X", f.ID)
	if f.Extended {
		id = fmt.Sprintf("%08X", f.ID)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s  %s", iface, id)
	switch f.Kind() {
	case can.KindRemote:
		fmt.Fprintf(&b, "   [%d]  remote request", f.DLC)
	case can.KindError:
		fmt.Fprintf(&b, "   [%d]  error frame", f.Length)
	default:
		fmt.Fprintf(&b, "   [%d] ", f.Length)
		for _, d := range f.Payload() {
			fmt.Fprintf(&b, " %02X", d)
		}
		if f.FD {
			b.WriteString("  (fd)")
		}
	}
	return b.String()
}
