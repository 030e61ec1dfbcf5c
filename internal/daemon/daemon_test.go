// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package daemon

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDispatch_Ping(t *testing.T) {
	d := New(testLogger(), "", "")

	resp := d.Dispatch(Request{Command: CommandPing})
	if !resp.Success {
		t.Fatalf("expected success, got error: %s", resp.Error)
	}
	data, ok := resp.Data.(map[string]any)
	if !ok || data["message"] != "pong" {
		t.Fatalf("expected pong message, got %#v", resp.Data)
	}
}

func TestDispatch_UnknownCommand(t *testing.T) {
	d := New(testLogger(), "", "")

	resp := d.Dispatch(Request{Command: "not_a_real_command"})
	if resp.Success {
		t.Fatal("expected failure for unknown command")
	}
}

// TestMutualExclusion_ServerBlocksClientAndViceVersa cobre o caso em que
// um papel server já está rodando: iniciar um client deve falhar sem
// tocar o estado de nenhum dos papéis, e simetricamente para um client
// rodando bloqueando start_server.
func TestMutualExclusion_ServerBlocksClientAndViceVersa(t *testing.T) {
	d := New(testLogger(), "", "")

	d.mu.Lock()
	d.serverRole = &ServerRole{}
	d.mu.Unlock()

	resp := d.Dispatch(Request{Command: CommandStartClient})
	if resp.Success {
		t.Fatal("expected start_client to fail while server is running")
	}
	if resp.Error != "Cannot start client while server is running" {
		t.Fatalf("unexpected error message: %q", resp.Error)
	}

	d.mu.Lock()
	d.serverRole = nil
	d.clientRole = &ClientRole{}
	d.mu.Unlock()

	resp = d.Dispatch(Request{Command: CommandStartServer})
	if resp.Success {
		t.Fatal("expected start_server to fail while client is running")
	}
	if resp.Error != "Cannot start server while client is running" {
		t.Fatalf("unexpected error message: %q", resp.Error)
	}

	d.mu.Lock()
	d.clientRole = nil
	d.mu.Unlock()
}

func TestDispatch_StartServerWithoutConfig(t *testing.T) {
	d := New(testLogger(), "", "")

	resp := d.Dispatch(Request{Command: CommandStartServer})
	if resp.Success {
		t.Fatal("expected start_server to fail with no configuration loaded")
	}
	if resp.Error != "no server configuration loaded" {
		t.Fatalf("unexpected error message: %q", resp.Error)
	}
}

func TestDispatch_StreamToggleRoundTrip(t *testing.T) {
	d := New(testLogger(), "", "")

	resp := d.Dispatch(Request{Command: CommandDisableStream, Params: map[string]any{"stream": "clipboard"}})
	if !resp.Success {
		t.Fatalf("disable_stream failed: %s", resp.Error)
	}

	resp = d.Dispatch(Request{Command: CommandGetStreams})
	if !resp.Success {
		t.Fatalf("get_streams failed: %s", resp.Error)
	}
	data := resp.Data.(map[string]any)
	streams := data["streams"].(map[string]bool)
	if streams["clipboard"] {
		t.Error("clipboard should report disabled")
	}
	if !streams["mouse"] || !streams["keyboard"] || !streams["file"] {
		t.Errorf("untouched streams should stay enabled, got %v", streams)
	}

	resp = d.Dispatch(Request{Command: CommandEnableStream, Params: map[string]any{"stream": "clipboard"}})
	if !resp.Success {
		t.Fatalf("enable_stream failed: %s", resp.Error)
	}
	resp = d.Dispatch(Request{Command: CommandGetStreams})
	streams = resp.Data.(map[string]any)["streams"].(map[string]bool)
	if !streams["clipboard"] {
		t.Error("clipboard should be enabled again")
	}
}

func TestDispatch_StreamToggleRejectsUnknownStream(t *testing.T) {
	d := New(testLogger(), "", "")

	resp := d.Dispatch(Request{Command: CommandDisableStream, Params: map[string]any{"stream": "video"}})
	if resp.Success {
		t.Fatal("expected failure for unknown stream name")
	}
}

func TestDispatch_OTPQueryReportsNoneWhenNotRequested(t *testing.T) {
	d := New(testLogger(), "", "")

	resp := d.Dispatch(Request{Command: CommandCheckOTPNeeded})
	if !resp.Success {
		t.Fatalf("unexpected failure: %s", resp.Error)
	}
	data, ok := resp.Data.(map[string]any)
	if !ok || data["otp_needed"] != false {
		t.Fatalf("expected otp_needed=false, got %#v", resp.Data)
	}
}

func TestServe_RoundTrip(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "screenlinkd.sock")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- Serve(ctx, socketPath, testLogger(), func(req Request) Response {
			if req.Command == CommandPing {
				return ok(map[string]any{"message": "pong"})
			}
			return fail("unexpected command: %s", req.Command)
		})
	}()

	waitForSocket(t, socketPath)

	resp, err := Dial(socketPath, Request{Command: CommandPing})
	if err != nil {
		t.Fatalf("dialing daemon socket: %v", err)
	}
	if !resp.Success {
		t.Fatalf("expected success, got error: %s", resp.Error)
	}

	cancel()
	select {
	case err := <-serveErr:
		if err != nil {
			t.Fatalf("Serve returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Serve to shut down")
	}
}

func TestServe_SocketHasOwnerOnlyPermissions(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "screenlinkd.sock")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- Serve(ctx, socketPath, testLogger(), func(Request) Response {
			return ok(nil)
		})
	}()

	waitForSocket(t, socketPath)

	info, err := os.Stat(socketPath)
	if err != nil {
		t.Fatalf("stating socket: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("expected socket mode 0600, got %o", perm)
	}

	cancel()
	<-serveErr
}

func waitForSocket(t *testing.T, path string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(path); err == nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for socket %s to appear", path)
}
