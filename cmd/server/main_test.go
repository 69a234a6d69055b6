// Package main tests for server startup and shutdown.
package main

import (
	"bytes"
	"context"
	"os"
	"testing"
	"time"

	"github.com/kimhsiao/habitnexus/backend/internal/config"
	"github.com/kimhsiao/habitnexus/backend/internal/logging"
)

func TestServe_ShutsDownOnCancel(t *testing.T) {
	logging.Init(os.Stderr, logging.LevelError)

	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Server.Listen = "127.0.0.1:0"
	cfg.Server.Tokens = map[string]string{"t": "u"}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, cfg) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serve() did not stop after cancel")
	}
}

func TestRootCmd_Version(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--version"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !bytes.Contains(out.Bytes(), []byte(Version)) {
		t.Errorf("output %q does not contain version %q", out.String(), Version)
	}
}
