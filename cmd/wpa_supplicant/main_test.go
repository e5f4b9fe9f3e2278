package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/pflag"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"

	"github.com/mdlayher/wpa"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name         string
		debug, quiet int
		level        zapcore.Level
	}{
		{
			name:  "default",
			level: zapcore.InfoLevel,
		},
		{
			name:  "debug",
			debug: 1,
			level: zapcore.DebugLevel,
		},
		{
			name:  "clamped debug",
			debug: 3,
			level: zapcore.DebugLevel,
		},
		{
			name:  "quiet",
			quiet: 2,
			level: zapcore.ErrorLevel,
		},
		{
			name:  "clamped quiet",
			quiet: 10,
			level: zapcore.FatalLevel,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log, err := newLogger(tt.debug, tt.quiet)
			if err != nil {
				t.Fatalf("failed to create logger: %v", err)
			}

			if !log.Core().Enabled(tt.level) {
				t.Fatalf("level %s not enabled", tt.level)
			}
			if tt.level > zapcore.DebugLevel && log.Core().Enabled(tt.level-1) {
				t.Fatalf("level %s unexpectedly enabled", tt.level-1)
			}
		})
	}
}

func TestFlags(t *testing.T) {
	var o options
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	addFlags(fs, &o)

	if err := fs.Parse([]string{"-i", "wlan0", "-c", "/etc/wpa.yaml", "-dd", "--preauth=false"}); err != nil {
		t.Fatalf("failed to parse flags: %v", err)
	}

	want := options{
		iface:  "wlan0",
		config: "/etc/wpa.yaml",
		debug:  2,
	}
	if diff := cmp.Diff(want, o, cmp.AllowUnexported(options{})); diff != "" {
		t.Fatalf("unexpected options (-want +got):\n%s", diff)
	}
}

func TestVersionCommand(t *testing.T) {
	cmd := newRootCommand()

	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("failed to execute: %v", err)
	}

	if diff := cmp.Diff("wpa_supplicant devel\n", out.String()); diff != "" {
		t.Fatalf("unexpected output (-want +got):\n%s", diff)
	}
}

func TestRootCommandRequiresFlags(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetArgs([]string{})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	if err := cmd.Execute(); err == nil {
		t.Fatal("expected an error, but none occurred")
	}
}

func TestWatchConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wpa.yaml")
	write := func(s string) {
		t.Helper()
		if err := os.WriteFile(path, []byte(s), 0o600); err != nil {
			t.Fatalf("failed to write config: %v", err)
		}
	}
	write("networks:\n  - ssid: old\n    key_mgmt: [NONE]\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	applied := make(chan []wpa.NetworkProfile, 8)
	errC := make(chan error, 1)
	go func() {
		errC <- watchConfig(ctx, path, zaptest.NewLogger(t), func(ps []wpa.NetworkProfile) {
			applied <- ps
		})
	}()

	// Keep rewriting until the watcher is established and notices.
	deadline := time.After(10 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()

	var ps []wpa.NetworkProfile
wait:
	for {
		select {
		case ps = <-applied:
			break wait
		case <-tick.C:
			write("networks:\n  - ssid: new\n    key_mgmt: [NONE]\n")
		case <-deadline:
			t.Fatal("timed out waiting for reload")
		}
	}

	if diff := cmp.Diff("new", string(ps[0].SSID)); diff != "" {
		t.Fatalf("unexpected SSID (-want +got):\n%s", diff)
	}

	cancel()
	if err := <-errC; err != nil {
		t.Fatalf("failed to watch: %v", err)
	}
}
