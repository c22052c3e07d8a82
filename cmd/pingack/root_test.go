package main

import (
	"errors"
	"testing"
	"time"

	"github.com/spf13/pflag"

	"github.com/ryandielhenn/pingack/internal/config"
)

func newFlags(o *options) *pflag.FlagSet {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	o.addCommonFlags(fs)
	fs.Int64Var(&o.address, "address", 77, "")
	fs.DurationVar(&o.retryInterval, "retry-interval", 5*time.Second, "")
	return fs
}

func TestLoadOnlyAppliesChangedFlags(t *testing.T) {
	var o options
	fs := newFlags(&o)
	if err := fs.Parse([]string{"--transport", "etcd", "--retry-interval", "2s"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	t.Setenv("PINGACK_HTTP_ADDR", ":9100")

	cfg, err := o.load(fs, config.RoleWorker)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Transport != config.TransportEtcd {
		t.Fatalf("Transport = %q, want etcd", cfg.Transport)
	}
	if cfg.RetryInterval.Duration != 2*time.Second {
		t.Fatalf("RetryInterval = %v, want 2s", cfg.RetryInterval)
	}
	if cfg.HTTPAddr != ":9100" {
		t.Fatalf("HTTPAddr = %q, want env value", cfg.HTTPAddr)
	}
	if cfg.Address != 77 {
		t.Fatalf("Address = %d, want random default 77", cfg.Address)
	}
}

func TestLoadRejectsBadFlags(t *testing.T) {
	var o options
	fs := newFlags(&o)
	fs.Parse([]string{"--transport", "smoke-signals"})
	if _, err := o.load(fs, config.RoleWorker); !errors.Is(err, config.ErrInvalid) {
		t.Fatalf("load err = %v, want ErrInvalid", err)
	}
}
