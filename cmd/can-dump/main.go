package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/kstaniek/go-canstream"
	"github.com/kstaniek/go-canstream/can"
	"github.com/kstaniek/go-canstream/internal/metrics"
)

const (
	openBackoffMin = 20 * time.Millisecond
	openBackoffMax = 500 * time.Millisecond
	openAttempts   = 5
)

func main() {
	cfg, showVersion := parseFlags()
	if showVersion {
		fmt.Printf("can-dump %s (commit %s, built %s)\n", version, commit, date)
		return
	}
	if cfg == nil {
		os.Exit(2)
	}
	l := setupLogger(cfg.logFormat, cfg.logLevel)
	l.Info("build_info", "version", version, "commit", commit, "date", date)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	var wg sync.WaitGroup
	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)

	sock, err := openSocket(ctx, cfg)
	if err != nil {
		l.Error("socket_open_error", "error", err)
		os.Exit(1)
	}
	defer func() { _ = sock.Close() }()

	if len(cfg.filterSet) > 0 {
		if err := sock.SetFilters(cfg.filterSet); err != nil {
			l.Error("set_filters_error", "error", err)
			os.Exit(1)
		}
		l.Info("filters_installed", "count", len(cfg.filterSet))
	}

	metrics.SetReadinessFunc(func() bool { return sock.IsOpen() && ctx.Err() == nil })
	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		srvHTTP := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = srvHTTP.Shutdown(context.Background()) }()

		if cfg.mdnsEnable {
			if port := metricsPort(cfg.metricsAddr); port > 0 {
				cleanupMDNS, merr := startMDNS(ctx, cfg, port)
				if merr != nil {
					l.Warn("mdns_start_failed", "error", merr)
				} else {
					l.Info("mdns_started", "service", mdnsServiceType, "port", port)
					defer cleanupMDNS()
				}
			}
		}
	} else if cfg.mdnsEnable {
		l.Warn("mdns_disabled", "reason", "no metrics address to advertise")
	}

	switch cfg.mode {
	case "listen":
		err = runListen(ctx, cfg, sock)
	case "stream":
		err = runStream(ctx, cfg, sock)
	case "collect":
		err = runCollect(cfg, sock)
	}
	cancel()
	wg.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		l.Error("dump_error", "error", err)
		os.Exit(1)
	}
}

// openSocket opens the configured backend, retrying transient failures with
// exponential backoff. Interfaces come and go on embedded hosts; a few
// retries cover a device that is still settling at boot.
func openSocket(ctx context.Context, cfg *appConfig) (*canstream.Socket, error) {
	var opts []canstream.Option
	if cfg.fdMode {
		opts = append(opts, canstream.WithFD())
	}
	opts = append(opts, canstream.WithTxQueue(cfg.txQueue))

	backoff := openBackoffMin
	var lastErr error
	for attempt := 0; attempt < openAttempts; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var (
			s   *canstream.Socket
			err error
		)
		if cfg.backend == "slcan" {
			s, err = canstream.OpenSerial(cfg.serialDev, cfg.baud, opts...)
		} else {
			s, err = canstream.Open(cfg.canIf, opts...)
		}
		if err == nil {
			return s, nil
		}
		lastErr = err
		time.Sleep(backoff)
		backoff *= 2
		if backoff > openBackoffMax {
			backoff = openBackoffMax
		}
	}
	return nil, lastErr
}

func metricsPort(addr string) int {
	if _, p, err := net.SplitHostPort(addr); err == nil {
		if pn, perr := strconv.Atoi(p); perr == nil {
			return pn
		}
	}
	return 0
}

// runListen arms the push loop and prints frames until a signal arrives or a
// fatal read error ends the session.
func runListen(ctx context.Context, cfg *appConfig, sock *canstream.Socket) error {
	iface := sock.Interface()
	fatal := make(chan error, 1)
	defer sock.OnFrame(func(f can.Frame) {
		if accepted(cfg, f) {
			fmt.Println(formatFrame(iface, f))
		}
	})()
	defer sock.OnError(func(err error) {
		select {
		case fatal <- err:
		default:
		}
	})()

	if err := sock.StartListening(canstream.ListenOptions{
		Interval:    cfg.interval,
		ReadTimeout: cfg.readTimeout,
	}); err != nil {
		return err
	}
	defer sock.StopListening()

	select {
	case <-ctx.Done():
		return nil
	case err := <-fatal:
		return err
	}
}

// accepted applies the id/kind selector to push-model frames; the pull modes
// use the sequence variants instead.
func accepted(cfg *appConfig, f can.Frame) bool {
	if cfg.idSet {
		return f.ID == cfg.idVal
	}
	if cfg.kindSet {
		return f.Kind() == cfg.kindVal
	}
	return true
}

func runStream(ctx context.Context, cfg *appConfig, sock *canstream.Socket) error {
	opts := canstream.StreamOptions{
		Timeout:   cfg.timeout,
		MaxFrames: cfg.maxFrames,
	}
	seq := sock.Frames(opts)
	if cfg.idSet {
		seq = sock.FramesWithID(cfg.idVal, opts)
	} else if cfg.kindSet {
		seq = sock.FramesOfType(cfg.kindVal, opts)
	}
	iface := sock.Interface()
	for f, err := range seq {
		if err != nil {
			return err
		}
		fmt.Println(formatFrame(iface, f))
		if ctx.Err() != nil {
			break
		}
	}
	return nil
}

func runCollect(cfg *appConfig, sock *canstream.Socket) error {
	opts := canstream.StreamOptions{
		Timeout:   cfg.timeout,
		MaxFrames: cfg.maxFrames,
	}
	if cfg.idSet {
		opts.Filter = can.ByID(cfg.idVal)
	} else if cfg.kindSet {
		opts.Filter = can.OfKind(cfg.kindVal)
	}
	batch, err := sock.CollectFrames(opts)
	if err != nil {
		return err
	}
	iface := sock.Interface()
	for _, f := range batch {
		fmt.Println(formatFrame(iface, f))
	}
	return nil
}
