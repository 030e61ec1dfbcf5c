// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package filexfer

import (
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/nishisan-dev/screenlink/internal/clients"
	"github.com/nishisan-dev/screenlink/internal/config"
	"github.com/nishisan-dev/screenlink/internal/eventbus"
	"github.com/nishisan-dev/screenlink/internal/wire"
)

type fakeAddr string

func (a fakeAddr) Network() string { return "fake" }
func (a fakeAddr) String() string  { return string(a) }

type fakeConn struct{ addr fakeAddr }

func (f fakeConn) RemoteAddr() net.Addr { return f.addr }
func (f fakeConn) Close() error         { return nil }

func newTestRegistry(t *testing.T) *clients.Registry {
	t.Helper()
	reg := clients.NewRegistry([]config.ClientEntry{
		{Name: "left-box", Screen: "left", Address: "10.0.0.1"},
		{Name: "right-box", Screen: "right", Address: "10.0.0.2"},
	})
	for _, rec := range reg.All() {
		reg.Attach(rec, fakeConn{fakeAddr(rec.Address)})
	}
	return reg
}

type recordingSender struct {
	mu  sync.Mutex
	got []struct {
		screen clients.Screen
		m      *wire.Message
	}
}

func (s *recordingSender) send(screen clients.Screen, m *wire.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, struct {
		screen clients.Screen
		m      *wire.Message
	}{screen, m})
	return nil
}

func (s *recordingSender) commandsTo(screen clients.Screen) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, e := range s.got {
		if e.screen == screen {
			cmd, _ := e.m.Payload["command"].(string)
			out = append(out, cmd)
		}
	}
	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testFileXferConfig(t *testing.T) config.FileXferConfig {
	t.Helper()
	return config.FileXferConfig{
		Compression:     "gzip",
		StallPollCount:  5,
		StallPollPeriod: 10 * time.Millisecond,
		DownloadDir:     t.TempDir(),
	}
}

func TestServerCoordinatorBridgesRequestToOwner(t *testing.T) {
	reg := newTestRegistry(t)
	bus := eventbus.New(16, 16)
	defer bus.Stop()
	sender := &recordingSender{}
	coord := NewServerCoordinator(reg, bus, sender.send, testLogger(), testFileXferConfig(t))

	coord.HandleClientCopied("left", &wire.Message{Payload: wire.Payload{"name": "doc.txt", "size": int64(4), "path": "/tmp/doc.txt"}})

	if got := coord.Status(); got.Kind != OwnerClient || got.Screen != "left" {
		t.Fatalf("Status() = %+v, want owner=left", got)
	}
	if cmds := sender.commandsTo("right"); len(cmds) != 1 || cmds[0] != cmdFileCopied {
		t.Errorf("expected file_copied broadcast to right, got %v", cmds)
	}
	if cmds := sender.commandsTo("left"); len(cmds) != 0 {
		t.Errorf("owner should not receive its own broadcast, got %v", cmds)
	}

	coord.HandleClientRequest("right", &wire.Message{})

	if cmds := sender.commandsTo("left"); len(cmds) != 1 || cmds[0] != cmdFileRequest {
		t.Fatalf("expected file_request forwarded to bridge owner left, got %v", cmds)
	}

	start := &wire.Message{Payload: wire.Payload{"command": cmdFileStart, "name": "doc.txt", "size": int64(4), "compression": "gzip"}}
	coord.HandleFile("left", start)
	chunk := &wire.Message{Payload: wire.Payload{"command": cmdFileChunk, "chunk_index": int64(0), "data": "irrelevant"}}
	coord.HandleFile("left", chunk)
	end := &wire.Message{Payload: wire.Payload{"command": cmdFileEnd}}
	coord.HandleFile("left", end)

	cmds := sender.commandsTo("right")
	want := []string{cmdFileCopied, cmdFileStart, cmdFileChunk, cmdFileEnd}
	if len(cmds) != len(want) {
		t.Fatalf("commands forwarded to right = %v, want %v", cmds, want)
	}
	for i := range want {
		if cmds[i] != want[i] {
			t.Errorf("command[%d] = %q, want %q", i, cmds[i], want[i])
		}
	}
}

func TestServerCoordinatorRejectsSelfRequest(t *testing.T) {
	reg := newTestRegistry(t)
	bus := eventbus.New(16, 16)
	defer bus.Stop()
	sender := &recordingSender{}
	coord := NewServerCoordinator(reg, bus, sender.send, testLogger(), testFileXferConfig(t))

	coord.HandleClientCopied("left", &wire.Message{Payload: wire.Payload{"name": "doc.txt", "size": int64(4), "path": "/tmp/doc.txt"}})
	coord.HandleClientRequest("left", &wire.Message{})

	if cmds := sender.commandsTo("left"); len(cmds) != 0 {
		t.Errorf("self-request should not trigger any bridge message, got %v", cmds)
	}
}

func TestServerCoordinatorClientDisconnectClearsBridge(t *testing.T) {
	reg := newTestRegistry(t)
	bus := eventbus.New(16, 16)
	defer bus.Stop()
	sender := &recordingSender{}
	coord := NewServerCoordinator(reg, bus, sender.send, testLogger(), testFileXferConfig(t))

	coord.HandleClientCopied("left", &wire.Message{Payload: wire.Payload{"name": "doc.txt", "size": int64(4), "path": "/tmp/doc.txt"}})
	coord.HandleClientRequest("right", &wire.Message{})

	coord.ClientDisconnected("left")

	cmds := sender.commandsTo("right")
	if len(cmds) == 0 || cmds[len(cmds)-1] != cmdFileEnd {
		t.Errorf("expected a failure notification to the requester, got %v", cmds)
	}
}
