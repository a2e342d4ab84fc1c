package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/kstaniek/go-canstream"
	"github.com/kstaniek/go-canstream/internal/logging"
)

// Populated via -ldflags at release build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	backend := flag.String("backend", "socketcan", "CAN backend: socketcan|slcan")
	canIf := flag.String("can-if", "can0", "SocketCAN interface (when --backend=socketcan)")
	serialDev := flag.String("serial", "/dev/ttyACM0", "Serial adapter path (when --backend=slcan)")
	baud := flag.Int("baud", 115200, "Serial baud rate")
	fdMode := flag.Bool("fd", false, "Open the socket in CAN FD mode (socketcan only)")
	count := flag.Int("count", 1, "Number of copies to send")
	gap := flag.Duration("gap", 0, "Pause between copies")
	async := flag.Bool("async", false, "Queue on the async TX worker instead of writing synchronously")
	logLevel := flag.String("log-level", "warn", "Log level: debug|info|warn|error")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("can-send %s (commit %s, built %s)\n", version, commit, date)
		return
	}
	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: can-send [flags] ID#DATA | ID#Rn | ID##DATA")
		os.Exit(2)
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(*logLevel)); err != nil {
		lvl = slog.LevelWarn
	}
	l := logging.New("text", lvl, os.Stderr).With("app", "can-send")
	logging.Set(l)

	frame, err := parseFrameArg(flag.Arg(0))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if *count < 1 {
		fmt.Fprintln(os.Stderr, "count must be >= 1")
		os.Exit(2)
	}

	var opts []canstream.Option
	if *fdMode {
		opts = append(opts, canstream.WithFD())
	}
	var sock *canstream.Socket
	if *backend == "slcan" {
		sock, err = canstream.OpenSerial(*serialDev, *baud, opts...)
	} else {
		sock, err = canstream.Open(*canIf, opts...)
	}
	if err != nil {
		l.Error("socket_open_error", "error", err)
		os.Exit(1)
	}
	defer func() { _ = sock.Close() }()

	for i := 0; i < *count; i++ {
		if i > 0 && *gap > 0 {
			time.Sleep(*gap)
		}
		if *async {
			err = sock.SendAsync(frame)
		} else {
			err = sock.Send(frame)
		}
		if err != nil {
			l.Error("send_error", "error", err)
			os.Exit(1)
		}
	}
}
