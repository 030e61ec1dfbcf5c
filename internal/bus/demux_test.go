// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package bus

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/nishisan-dev/screenlink/internal/wire"
)

func TestDemux_RoutesByStreamType(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	got := make(map[string]int)
	done := make(chan struct{})
	mark := func(name string) Handler {
		return func(*wire.Message) {
			mu.Lock()
			got[name]++
			if len(got) == 4 {
				close(done)
			}
			mu.Unlock()
		}
	}

	d := NewDemux(ctx, 8, slog.Default(),
		mark("mouse"), mark("keyboard"), mark("clipboard"), mark("file"),
		nil, nil)

	d.Dispatch(&wire.Message{Type: wire.TypeMouse})
	d.Dispatch(&wire.Message{Type: wire.TypeKeyboard})
	d.Dispatch(&wire.Message{Type: wire.TypeClipboard})
	d.Dispatch(&wire.Message{Type: wire.TypeFile})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for all four streams to dispatch")
	}
}

func TestDemux_CommandAndExchangeHandledInline(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var commandSeen, exchangeSeen bool
	d := NewDemux(ctx, 8, slog.Default(), nil, nil, nil, nil,
		func(*wire.Message) { commandSeen = true },
		func(*wire.Message) { exchangeSeen = true })

	d.Dispatch(&wire.Message{Type: wire.TypeCommand})
	d.Dispatch(&wire.Message{Type: wire.TypeExchange})

	if !commandSeen || !exchangeSeen {
		t.Errorf("expected both inline handlers to run synchronously, got command=%v exchange=%v", commandSeen, exchangeSeen)
	}
}

func TestDemux_DropsWhenQueueFull(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	block := make(chan struct{})
	started := make(chan struct{})
	once := sync.Once{}
	d := NewDemux(ctx, 1, slog.Default(), func(*wire.Message) {
		once.Do(func() { close(started) })
		<-block
	}, nil, nil, nil, nil, nil)

	if ok := d.Dispatch(&wire.Message{Type: wire.TypeMouse}); !ok {
		t.Fatal("expected first dispatch to succeed")
	}
	<-started
	if ok := d.Dispatch(&wire.Message{Type: wire.TypeMouse}); !ok {
		t.Fatal("expected second dispatch to fill the queue")
	}
	if ok := d.Dispatch(&wire.Message{Type: wire.TypeMouse}); ok {
		t.Error("expected third dispatch to be dropped once the queue is full")
	}
	close(block)
}
