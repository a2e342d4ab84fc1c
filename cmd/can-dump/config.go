package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kstaniek/go-canstream/can"
)

type appConfig struct {
	backend         string
	canIf           string
	serialDev       string
	baud            int
	fdMode          bool
	mode            string
	id              string
	kind            string
	maxFrames       int
	timeout         time.Duration
	interval        time.Duration
	readTimeout     time.Duration
	filters         string
	txQueue         int
	logFormat       string
	logLevel        string
	metricsAddr     string
	logMetricsEvery time.Duration
	mdnsEnable      bool
	mdnsName        string

	// derived in validate()
	idVal     uint32
	idSet     bool
	kindVal   can.Kind
	kindSet   bool
	filterSet []can.Filter
}

func parseFlags() (*appConfig, bool) {
	cfg := &appConfig{}
	backend := flag.String("backend", "socketcan", "CAN backend: socketcan|slcan")
	canIf := flag.String("can-if", "can0", "SocketCAN interface (when --backend=socketcan)")
	serialDev := flag.String("serial", "/dev/ttyACM0", "Serial adapter path (when --backend=slcan)")
	baud := flag.Int("baud", 115200, "Serial baud rate")
	fdMode := flag.Bool("fd", false, "Open the socket in CAN FD mode (socketcan only)")
	mode := flag.String("mode", "listen", "Consumption mode: listen|stream|collect")
	id := flag.String("id", "", "Only frames with this hex identifier (e.g. 123 or 18DAF110)")
	kind := flag.String("kind", "", "Only frames of this kind: data|remote|error|fd")
	maxFrames := flag.Int("max-frames", 0, "Stop after this many frames (0 = unbounded; collect requires > 0)")
	timeout := flag.Duration("timeout", 0, "Per-read timeout for stream/collect (0 = default)")
	interval := flag.Duration("interval", 0, "Listener poll interval (0 = default)")
	readTimeout := flag.Duration("read-timeout", 0, "Listener per-tick read timeout (0 = default)")
	filters := flag.String("filters", "", "Kernel acceptance rules as hex id:mask pairs, comma separated (e.g. 200:700,300:7F0)")
	txQueue := flag.Int("tx-queue", 1024, "Async TX queue capacity")
	logFormat := flag.String("log-format", "text", "Log format: text|json")
	logLevel := flag.String("log-level", "info", "Log level: debug|info|warn|error")
	metricsAddr := flag.String("metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	logMetricsEvery := flag.Duration("log-metrics-interval", 0, "If >0, periodically log metrics counters (for non-Prometheus setups)")
	mdnsEnable := flag.Bool("mdns-enable", false, "Advertise the metrics endpoint via mDNS")
	mdnsName := flag.String("mdns-name", "", "mDNS instance name (default can-dump-<hostname>)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	// Track which flags were explicitly set to give them precedence over env.
	setFlags := map[string]struct{}{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })
	cfg.backend = *backend
	cfg.canIf = *canIf
	cfg.serialDev = *serialDev
	cfg.baud = *baud
	cfg.fdMode = *fdMode
	cfg.mode = *mode
	cfg.id = *id
	cfg.kind = *kind
	cfg.maxFrames = *maxFrames
	cfg.timeout = *timeout
	cfg.interval = *interval
	cfg.readTimeout = *readTimeout
	cfg.filters = *filters
	cfg.txQueue = *txQueue
	cfg.logFormat = *logFormat
	cfg.logLevel = *logLevel
	cfg.metricsAddr = *metricsAddr
	cfg.logMetricsEvery = *logMetricsEvery
	cfg.mdnsEnable = *mdnsEnable
	cfg.mdnsName = *mdnsName

	if err := applyEnvOverrides(cfg, setFlags); err != nil {
		fmt.Printf("environment override error: %v\n", err)
		return nil, *showVersion
	}
	if err := cfg.validate(); err != nil {
		fmt.Printf("configuration error: %v\n", err)
		return nil, *showVersion
	}
	return cfg, *showVersion
}

// validate checks values and ranges and resolves the derived selector fields.
// It does not attempt to open devices.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	switch c.backend {
	case "socketcan", "slcan":
	default:
		return fmt.Errorf("invalid backend: %s", c.backend)
	}
	switch c.mode {
	case "listen", "stream", "collect":
	default:
		return fmt.Errorf("invalid mode: %s", c.mode)
	}
	if c.fdMode && c.backend == "slcan" {
		return errors.New("fd mode requires --backend=socketcan")
	}
	if c.baud <= 0 {
		return fmt.Errorf("baud must be > 0 (got %d)", c.baud)
	}
	if c.txQueue <= 0 {
		return fmt.Errorf("tx-queue must be > 0 (got %d)", c.txQueue)
	}
	if c.maxFrames < 0 {
		return fmt.Errorf("max-frames must be >= 0 (got %d)", c.maxFrames)
	}
	if c.mode == "collect" && c.maxFrames == 0 {
		return errors.New("collect mode requires --max-frames > 0")
	}
	if c.id != "" {
		v, err := strconv.ParseUint(c.id, 16, 32)
		if err != nil || v > uint64(can.EFFMask) {
			return fmt.Errorf("invalid id: %s", c.id)
		}
		c.idVal = uint32(v)
		c.idSet = true
	}
	if c.kind != "" {
		switch c.kind {
		case "data":
			c.kindVal = can.KindData
		case "remote":
			c.kindVal = can.KindRemote
		case "error":
			c.kindVal = can.KindError
		case "fd":
			c.kindVal = can.KindFD
		default:
			return fmt.Errorf("invalid kind: %s", c.kind)
		}
		c.kindSet = true
	}
	if c.idSet && c.kindSet {
		return errors.New("id and kind selectors are mutually exclusive")
	}
	flt, err := parseFilters(c.filters)
	if err != nil {
		return err
	}
	c.filterSet = flt
	return nil
}

// parseFilters turns "200:700,300:7F0" into acceptance rules. Identifiers
// above the standard range mark the rule extended.
func parseFilters(s string) ([]can.Filter, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var out []can.Filter
	for _, pair := range strings.Split(s, ",") {
		idStr, maskStr, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if !ok {
			return nil, fmt.Errorf("invalid filter %q (want id:mask)", pair)
		}
		id, err := strconv.ParseUint(idStr, 16, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid filter id %q", idStr)
		}
		mask, err := strconv.ParseUint(maskStr, 16, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid filter mask %q", maskStr)
		}
		f := can.Filter{ID: uint32(id), Mask: uint32(mask), Extended: id > uint64(can.SFFMask)}
		if err := f.Validate(); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

// applyEnvOverrides maps CAN_DUMP_* environment variables to config fields
// unless a corresponding flag was explicitly set. Empty values are ignored;
// durations accept Go time.ParseDuration format.
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	get := func(k string) (string, bool) { v, ok := os.LookupEnv(k); return strings.TrimSpace(v), ok }
	if _, ok := set["backend"]; !ok {
		if v, ok := get("CAN_DUMP_BACKEND"); ok && v != "" {
			c.backend = v
		}
	}
	if _, ok := set["can-if"]; !ok {
		if v, ok := get("CAN_DUMP_IF"); ok && v != "" {
			c.canIf = v
		}
	}
	if _, ok := set["serial"]; !ok {
		if v, ok := get("CAN_DUMP_SERIAL"); ok && v != "" {
			c.serialDev = v
		}
	}
	if _, ok := set["baud"]; !ok {
		if v, ok := get("CAN_DUMP_BAUD"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.baud = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid CAN_DUMP_BAUD: %w", err)
			}
		}
	}
	if _, ok := set["fd"]; !ok {
		if v, ok := get("CAN_DUMP_FD"); ok && v != "" {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "on":
				c.fdMode = true
			case "0", "false", "no", "off":
				c.fdMode = false
			}
		}
	}
	if _, ok := set["mode"]; !ok {
		if v, ok := get("CAN_DUMP_MODE"); ok && v != "" {
			c.mode = v
		}
	}
	if _, ok := set["id"]; !ok {
		if v, ok := get("CAN_DUMP_ID"); ok && v != "" {
			c.id = v
		}
	}
	if _, ok := set["kind"]; !ok {
		if v, ok := get("CAN_DUMP_KIND"); ok && v != "" {
			c.kind = v
		}
	}
	if _, ok := set["max-frames"]; !ok {
		if v, ok := get("CAN_DUMP_MAX_FRAMES"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				c.maxFrames = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid CAN_DUMP_MAX_FRAMES: %w", err)
			}
		}
	}
	if _, ok := set["timeout"]; !ok {
		if v, ok := get("CAN_DUMP_TIMEOUT"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				c.timeout = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid CAN_DUMP_TIMEOUT: %w", err)
			}
		}
	}
	if _, ok := set["interval"]; !ok {
		if v, ok := get("CAN_DUMP_INTERVAL"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				c.interval = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid CAN_DUMP_INTERVAL: %w", err)
			}
		}
	}
	if _, ok := set["read-timeout"]; !ok {
		if v, ok := get("CAN_DUMP_READ_TIMEOUT"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				c.readTimeout = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid CAN_DUMP_READ_TIMEOUT: %w", err)
			}
		}
	}
	if _, ok := set["filters"]; !ok {
		if v, ok := get("CAN_DUMP_FILTERS"); ok && v != "" {
			c.filters = v
		}
	}
	if _, ok := set["tx-queue"]; !ok {
		if v, ok := get("CAN_DUMP_TX_QUEUE"); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.txQueue = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid CAN_DUMP_TX_QUEUE: %w", err)
			}
		}
	}
	if _, ok := set["log-format"]; !ok {
		if v, ok := get("CAN_DUMP_LOG_FORMAT"); ok && v != "" {
			c.logFormat = v
		}
	}
	if _, ok := set["log-level"]; !ok {
		if v, ok := get("CAN_DUMP_LOG_LEVEL"); ok && v != "" {
			c.logLevel = v
		}
	}
	if _, ok := set["metrics-addr"]; !ok {
		if v, ok := get("CAN_DUMP_METRICS"); ok {
			c.metricsAddr = v
		}
	}
	if _, ok := set["log-metrics-interval"]; !ok {
		if v, ok := get("CAN_DUMP_LOG_METRICS_INTERVAL"); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d >= 0 {
				c.logMetricsEvery = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid CAN_DUMP_LOG_METRICS_INTERVAL: %w", err)
			}
		}
	}
	if _, ok := set["mdns-enable"]; !ok {
		if v, ok := get("CAN_DUMP_MDNS_ENABLE"); ok && v != "" {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "on":
				c.mdnsEnable = true
			case "0", "false", "no", "off":
				c.mdnsEnable = false
			}
		}
	}
	if _, ok := set["mdns-name"]; !ok {
		if v, ok := get("CAN_DUMP_MDNS_NAME"); ok && v != "" {
			c.mdnsName = v
		}
	}
	return firstErr
}
