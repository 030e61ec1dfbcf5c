// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package filexfer

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nishisan-dev/screenlink/internal/eventbus"
	"github.com/nishisan-dev/screenlink/internal/wire"
)

type recordingClientSend struct {
	mu  sync.Mutex
	got []*wire.Message
}

func (s *recordingClientSend) send(m *wire.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, m)
	return nil
}

func (s *recordingClientSend) commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, m := range s.got {
		cmd, _ := m.Payload["command"].(string)
		out = append(out, cmd)
	}
	return out
}

func TestClientCoordinatorLocalCopyReportsToServer(t *testing.T) {
	bus := eventbus.New(16, 16)
	defer bus.Stop()
	sender := &recordingClientSend{}
	coord := NewClientCoordinator(bus, sender.send, testLogger(), testFileXferConfig(t))

	path := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := coord.LocalCopy("notes.txt", 5, path); err != nil {
		t.Fatal(err)
	}

	if cmds := sender.commands(); len(cmds) != 1 || cmds[0] != cmdFileCopied {
		t.Errorf("commands = %v, want [file_copied]", cmds)
	}
	if got := coord.Status(); got.Kind != OwnerLocalClient {
		t.Errorf("Status().Kind = %v, want OwnerLocalClient", got.Kind)
	}
}

func TestClientCoordinatorServesOwnedFileOnRequest(t *testing.T) {
	bus := eventbus.New(16, 16)
	defer bus.Stop()
	sender := &recordingClientSend{}
	coord := NewClientCoordinator(bus, sender.send, testLogger(), testFileXferConfig(t))

	path := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(path, []byte("hello world"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := coord.LocalCopy("notes.txt", 11, path); err != nil {
		t.Fatal(err)
	}

	coord.HandleCommand(&wire.Message{Payload: wire.Payload{"command": cmdFileRequest}})

	var cmds []string
	for i := 0; i < 100; i++ {
		cmds = sender.commands()
		if len(cmds) > 0 && cmds[len(cmds)-1] == cmdFileEnd {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if len(cmds) < 3 {
		t.Fatalf("expected file_copied, file_start, >=1 chunk, file_end; got %v", cmds)
	}
	if cmds[len(cmds)-1] != cmdFileEnd {
		t.Errorf("last command = %q, want file_end", cmds[len(cmds)-1])
	}
}

func TestClientCoordinatorRejectsPasteWithNothingCopied(t *testing.T) {
	bus := eventbus.New(16, 16)
	defer bus.Stop()
	sender := &recordingClientSend{}
	coord := NewClientCoordinator(bus, sender.send, testLogger(), testFileXferConfig(t))

	if err := coord.LocalPasteRequest(); err == nil {
		t.Error("expected error pasting before any copy was registered")
	}
}
