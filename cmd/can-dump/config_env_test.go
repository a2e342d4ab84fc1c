package main

import (
	"os"
	"testing"
	"time"
)

func TestApplyEnvOverrides_Basic(t *testing.T) {
	base := baseConfig()

	os.Setenv("CAN_DUMP_BACKEND", "slcan")
	os.Setenv("CAN_DUMP_BAUD", "230400")
	os.Setenv("CAN_DUMP_MODE", "stream")
	os.Setenv("CAN_DUMP_TIMEOUT", "250ms")
	os.Setenv("CAN_DUMP_MDNS_ENABLE", "true")
	t.Cleanup(func() {
		os.Unsetenv("CAN_DUMP_BACKEND")
		os.Unsetenv("CAN_DUMP_BAUD")
		os.Unsetenv("CAN_DUMP_MODE")
		os.Unsetenv("CAN_DUMP_TIMEOUT")
		os.Unsetenv("CAN_DUMP_MDNS_ENABLE")
	})
	if err := applyEnvOverrides(base, map[string]struct{}{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if base.backend != "slcan" {
		t.Fatalf("expected backend override, got %s", base.backend)
	}
	if base.baud != 230400 {
		t.Fatalf("expected baud override, got %d", base.baud)
	}
	if base.mode != "stream" {
		t.Fatalf("expected mode override, got %s", base.mode)
	}
	if base.timeout != 250*time.Millisecond {
		t.Fatalf("expected timeout 250ms got %v", base.timeout)
	}
	if !base.mdnsEnable {
		t.Fatalf("expected mdnsEnable true")
	}
}

func TestApplyEnvOverrides_FlagPrecedence(t *testing.T) {
	base := &appConfig{baud: 115200}
	os.Setenv("CAN_DUMP_BAUD", "230400")
	t.Cleanup(func() { os.Unsetenv("CAN_DUMP_BAUD") })
	// Simulate user passed -baud flag (so env should be ignored)
	if err := applyEnvOverrides(base, map[string]struct{}{"baud": {}}); err != nil {
		t.Fatalf("err: %v", err)
	}
	if base.baud != 115200 {
		t.Fatalf("expected baud unchanged 115200 got %d", base.baud)
	}
}

func TestApplyEnvOverrides_BadDuration(t *testing.T) {
	base := baseConfig()
	os.Setenv("CAN_DUMP_TIMEOUT", "soon")
	t.Cleanup(func() { os.Unsetenv("CAN_DUMP_TIMEOUT") })
	if err := applyEnvOverrides(base, map[string]struct{}{}); err == nil {
		t.Fatalf("expected error for bad duration")
	}
}
