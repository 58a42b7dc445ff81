package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestBank_Transfer(t *testing.T) {
	b := newBank(2, 100)

	if err := b.transfer(0, 1, 40); err != nil {
		t.Fatalf("transfer() error = %v", err)
	}
	if b.accounts[0].balance != 60 || b.accounts[1].balance != 140 {
		t.Errorf("balances = %d/%d, want 60/140", b.accounts[0].balance, b.accounts[1].balance)
	}

	tests := []struct {
		name     string
		from, to int
		amount   int64
		wantErr  error
	}{
		{"overdraft", 0, 1, 61, errInsufficientFunds},
		{"same account", 1, 1, 1, errSameAccount},
		{"unknown source", -1, 0, 1, errNoSuchAccount},
		{"unknown destination", 0, 2, 1, errNoSuchAccount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := b.transfer(tt.from, tt.to, tt.amount); !errors.Is(err, tt.wantErr) {
				t.Errorf("transfer() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if total, _ := b.total(); total != 200 {
		t.Errorf("total() = %d, want 200", total)
	}
}

func TestBank_ConcurrentOppositeTransfers(t *testing.T) {
	b := newBank(2, 1_000_000)

	var wg sync.WaitGroup
	for _, dir := range [][2]int{{0, 1}, {1, 0}} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 5000; i++ {
				_ = b.transfer(dir[0], dir[1], 1)
			}
		}()
	}
	wg.Wait()

	if total, _ := b.total(); total != 2_000_000 {
		t.Errorf("total() = %d, want 2000000", total)
	}
}

func TestParseFlags(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr bool
	}{
		{"defaults", nil, false},
		{"one account", []string{"-accounts", "1"}, true},
		{"no producers", []string{"-producers", "0"}, true},
		{"negative transfers", []string{"-transfers", "-5"}, true},
		{"negative rate", []string{"-rate", "-1"}, true},
		{"unknown flag", []string{"-workers", "3"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseFlags(tt.args, io.Discard)
			if (err != nil) != tt.wantErr {
				t.Errorf("parseFlags() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRun_ConservesBalance(t *testing.T) {
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{
		"-env-prefix", "",
		"-accounts", "8",
		"-transfers", "5000",
		"-producers", "4",
		"-metrics-addr", "off",
		"-log-level", "error",
	}, &stdout, &stderr)
	if err != nil {
		t.Fatalf("run() error = %v\nstderr: %s", err, stderr.String())
	}

	out := stdout.String()
	for _, want := range []string{"submitted=5000", "failed=0", "total balance conserved: 8000 across 8 accounts"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRun_WithConfigFileTracingAndMetrics(t *testing.T) {
	path := filepath.Join(t.TempDir(), "parallel.yaml")
	cfg := `
pool:
  workers: 3
  shutdown_policy: drain
  stop_timeout: 10s
log:
  level: warn
metrics:
  enabled: true
  address: "127.0.0.1:0"
tracing:
  exporter: stdout
  service_name: bank-test
`
	if err := os.WriteFile(path, []byte(cfg), 0600); err != nil {
		t.Fatal(err)
	}

	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{
		"-config", path,
		"-env-prefix", "",
		"-accounts", "4",
		"-transfers", "20",
		"-producers", "2",
		"-rate", "10000",
	}, &stdout, &stderr)
	if err != nil {
		t.Fatalf("run() error = %v\nstderr: %s", err, stderr.String())
	}

	if !strings.Contains(stdout.String(), "3 workers") {
		t.Errorf("output should report the configured worker count:\n%s", stdout.String())
	}
	if !strings.Contains(stderr.String(), "parallel.task") {
		t.Error("stdout trace exporter should have written task spans")
	}
}

func TestRun_InvalidEnvironment(t *testing.T) {
	t.Setenv("BANKTEST_POOL_WORKERS", "-2")
	err := run(context.Background(), []string{"-env-prefix", "BANKTEST", "-metrics-addr", "off"}, io.Discard, io.Discard)
	if err == nil {
		t.Error("run() should reject a negative worker count from the environment")
	}
}

func TestRun_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var stdout bytes.Buffer
	err := run(ctx, []string{
		"-env-prefix", "",
		"-transfers", "1000",
		"-metrics-addr", "off",
		"-log-level", "error",
	}, &stdout, io.Discard)
	if err != nil {
		t.Fatalf("run() with a cancelled context error = %v", err)
	}
	if !strings.Contains(stdout.String(), "total balance conserved") {
		t.Errorf("balance should still be checked after cancellation:\n%s", stdout.String())
	}
}
