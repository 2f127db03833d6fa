package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/JacobSoderblom/krypin/internal/config"
)

func TestRunVersionText(t *testing.T) {
	var buf bytes.Buffer
	if err := run(context.Background(), &buf, io.Discard, []string{"version"}); err != nil {
		t.Fatalf("run version failed: %v", err)
	}

	out := buf.String()
	for _, want := range []string{"krypin", "version:", "go_version:"} {
		if !strings.Contains(out, want) {
			t.Errorf("version output missing %q:\n%s", want, out)
		}
	}
}

func TestRunVersionJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := run(context.Background(), &buf, io.Discard, []string{"-o", "json", "version"}); err != nil {
		t.Fatalf("run version failed: %v", err)
	}

	var info map[string]string
	if err := json.Unmarshal(buf.Bytes(), &info); err != nil {
		t.Fatalf("version -o json emitted invalid JSON: %v\n%s", err, buf.String())
	}
	if info["version"] == "" {
		t.Errorf("version field missing from %v", info)
	}
}

func TestRunNoArgsPrintsUsage(t *testing.T) {
	var buf bytes.Buffer
	if err := run(context.Background(), &buf, io.Discard, nil); err != nil {
		t.Fatalf("run with no args failed: %v", err)
	}

	out := buf.String()
	for _, want := range []string{"serve", "init", "version", "-config"} {
		if !strings.Contains(out, want) {
			t.Errorf("usage output missing %q:\n%s", want, out)
		}
	}
}

func TestRunUnknownCommand(t *testing.T) {
	err := run(context.Background(), io.Discard, io.Discard, []string{"bogus"})
	if err == nil || !strings.Contains(err.Error(), "unknown command") {
		t.Fatalf("err = %v, want unknown command", err)
	}
}

func TestRunUnknownFlag(t *testing.T) {
	err := run(context.Background(), io.Discard, io.Discard, []string{"-bogus"})
	if err == nil || !strings.Contains(err.Error(), "unknown flag") {
		t.Fatalf("err = %v, want unknown flag", err)
	}
}

func TestRunUnknownOutputFormat(t *testing.T) {
	err := run(context.Background(), io.Discard, io.Discard, []string{"-o", "xml", "version"})
	if err == nil || !strings.Contains(err.Error(), "unknown output format") {
		t.Fatalf("err = %v, want unknown output format", err)
	}
}

func TestRunInitFreshDirectory(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer

	if err := run(context.Background(), &buf, io.Discard, []string{"init", dir}); err != nil {
		t.Fatalf("run init failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "krypin.yaml"))
	if err != nil {
		t.Fatalf("krypin.yaml not created: %v", err)
	}
	for _, want := range []string{"bind:", "bus:", "storage:", "heartbeat:"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("starter config missing %q", want)
		}
	}
	if !strings.Contains(buf.String(), "✓") {
		t.Errorf("output missing created marker:\n%s", buf.String())
	}

	// The starter file must round-trip through the loader: every value
	// in it is a documented default.
	cfg, err := config.Resolve(filepath.Join(dir, "krypin.yaml"))
	if err != nil {
		t.Fatalf("starter config does not load: %v", err)
	}
	if cfg.Bus.Kind != config.BusInMem {
		t.Errorf("got bus kind %q, want inmem", cfg.Bus.Kind)
	}
}

func TestRunInitSkipsExistingConfig(t *testing.T) {
	dir := t.TempDir()
	sentinel := []byte("# sentinel, do not overwrite\n")
	path := filepath.Join(dir, "krypin.yaml")
	if err := os.WriteFile(path, sentinel, 0o644); err != nil {
		t.Fatalf("write sentinel: %v", err)
	}

	var buf bytes.Buffer
	if err := run(context.Background(), &buf, io.Discard, []string{"init", dir}); err != nil {
		t.Fatalf("run init failed: %v", err)
	}

	if !strings.Contains(buf.String(), "exists, skipping") {
		t.Errorf("output missing skip marker:\n%s", buf.String())
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read krypin.yaml: %v", err)
	}
	if !bytes.Equal(got, sentinel) {
		t.Errorf("krypin.yaml was overwritten: %q", got)
	}
}

func TestRunServeRejectsBadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "krypin.yaml")
	if err := os.WriteFile(path, []byte("bus:\n  kind: carrier-pigeon\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	err := run(context.Background(), io.Discard, io.Discard, []string{"serve", "-config", path})
	if err == nil || !strings.Contains(err.Error(), "unknown bus kind") {
		t.Fatalf("err = %v, want unknown bus kind", err)
	}
}

func TestRunServeRejectsBadLogLevel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "krypin.yaml")
	if err := os.WriteFile(path, []byte("bind: 127.0.0.1:0\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	err := run(context.Background(), io.Discard, io.Discard, []string{"serve", "-config", path, "-log-level", "loud"})
	if err == nil || !strings.Contains(err.Error(), "unknown log level") {
		t.Fatalf("err = %v, want unknown log level", err)
	}
}

// TestRunServeLifecycle boots the full hub on an ephemeral port with
// in-memory backends and verifies that cancelling the context produces
// a clean shutdown.
func TestRunServeLifecycle(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "krypin.yaml")
	if err := os.WriteFile(path, []byte("bind: 127.0.0.1:0\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- run(ctx, io.Discard, io.Discard, []string{"serve", "-config", path, "--with-demo"})
	}()

	// Give the hub a beat to start, then request shutdown.
	time.Sleep(200 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("serve returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not shut down after context cancel")
	}
}
