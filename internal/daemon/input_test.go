// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package daemon

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nishisan-dev/screenlink/internal/bus"
	"github.com/nishisan-dev/screenlink/internal/capability"
	"github.com/nishisan-dev/screenlink/internal/config"
	"github.com/nishisan-dev/screenlink/internal/transport"
	"github.com/nishisan-dev/screenlink/internal/wire"
)

type recordingSink struct {
	mu       sync.Mutex
	injected []capability.MouseEvent
	warped   [][2]float64
	keys     []capability.KeyEvent
	clips    []capability.ClipboardContent
}

func (s *recordingSink) InjectMouse(ev capability.MouseEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.injected = append(s.injected, ev)
	return nil
}

func (s *recordingSink) WarpCursor(x, y float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.warped = append(s.warped, [2]float64{x, y})
	return nil
}

func (s *recordingSink) InjectKey(ev capability.KeyEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = append(s.keys, ev)
	return nil
}

func (s *recordingSink) SetClipboard(c capability.ClipboardContent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clips = append(s.clips, c)
	return nil
}

func TestClientRole_InjectMouseDenormalizesToLocalScreen(t *testing.T) {
	sink := &recordingSink{}
	r := &ClientRole{
		logger: testLogger(),
		traits: capability.Traits{MouseSink: sink},
		width:  1920,
		height: 1080,
	}

	r.injectMouse(&wire.Message{
		Type: wire.TypeMouse,
		Payload: wire.Payload{"events": []any{
			wire.Payload{"x": 0.5, "y": 0.5, "event": "move"},
			wire.Payload{"x": 0.25, "y": 1.0, "event": "click", "button": "left", "is_pressed": true},
		}},
	})

	if len(sink.injected) != 2 {
		t.Fatalf("injected %d events, want 2", len(sink.injected))
	}
	if got := sink.injected[0]; got.X != 960 || got.Y != 540 || got.Event != "move" {
		t.Errorf("first event = %+v, want (960, 540) move", got)
	}
	if got := sink.injected[1]; got.X != 480 || got.Y != 1080 || !got.IsPressed || got.Button != "left" {
		t.Errorf("second event = %+v, want (480, 1080) pressed left click", got)
	}
}

func TestClientRole_InjectKeysReplaysBatchInOrder(t *testing.T) {
	sink := &recordingSink{}
	r := &ClientRole{
		logger: testLogger(),
		traits: capability.Traits{KeySink: sink},
	}

	r.injectKeys(&wire.Message{
		Type: wire.TypeKeyboard,
		Payload: wire.Payload{"events": []any{
			wire.Payload{"key": "a", "event": "press"},
			wire.Payload{"key": "a", "event": "release"},
		}},
	})

	if len(sink.keys) != 2 {
		t.Fatalf("injected %d key events, want 2", len(sink.keys))
	}
	if sink.keys[0].Event != "press" || sink.keys[1].Event != "release" {
		t.Errorf("key events out of order: %+v", sink.keys)
	}
}

// TestClientRole_CrossScreenWarpsToEntryEdge cobre a geometria do
// handoff: um client posicionado à esquerda do server é entrado pela
// própria borda direita, na altura que o cursor do server tinha ao
// cruzar.
func TestClientRole_CrossScreenWarpsToEntryEdge(t *testing.T) {
	sink := &recordingSink{}
	r := &ClientRole{
		cfg:    &config.ClientConfig{Client: config.ClientInfo{Screen: "left"}},
		logger: testLogger(),
		traits: capability.Traits{MouseSink: sink},
		width:  1920,
		height: 1080,
	}

	r.handleCrossScreen(&wire.Message{
		Type: wire.TypeCommand,
		Payload: wire.Payload{
			"command": transport.CommandCrossScreen,
			"params":  wire.Payload{"x": 0.0, "y": 0.5},
		},
	})

	if len(sink.warped) != 1 {
		t.Fatalf("warped %d times, want 1", len(sink.warped))
	}
	got := sink.warped[0]
	if got[0] != 1920-defaultScreenThreshold-10 {
		t.Errorf("entry x = %v, want inner right edge", got[0])
	}
	if got[1] != 540 {
		t.Errorf("entry y = %v, want 540", got[1])
	}
}

func TestClientRole_SendReturnCarriesNormalizedCrossAxis(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sent := make(chan *wire.Message, 1)
	r := &ClientRole{
		cfg:    &config.ClientConfig{Client: config.ClientInfo{Screen: "left"}},
		logger: testLogger(),
		width:  1920,
		height: 1080,
	}
	r.queue = bus.NewSendQueue(ctx, 8, func(m *wire.Message) error {
		sent <- m
		return nil
	})

	r.sendReturn("left", 1915, 540)

	select {
	case m := <-sent:
		cmd, _ := m.Payload["command"].(string)
		if cmd != transport.CommandReturn {
			t.Fatalf("command = %q, want %q", cmd, transport.CommandReturn)
		}
		params, ok := m.Payload["params"].(wire.Payload)
		if !ok {
			t.Fatalf("params missing: %#v", m.Payload)
		}
		if params["direction"] != "left" {
			t.Errorf("direction = %v, want left", params["direction"])
		}
		if params["position"] != 0.5 {
			t.Errorf("position = %v, want 0.5", params["position"])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for return message")
	}
}
