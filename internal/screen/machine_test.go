// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package screen

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/nishisan-dev/screenlink/internal/capability"
	"github.com/nishisan-dev/screenlink/internal/clients"
	"github.com/nishisan-dev/screenlink/internal/config"
	"github.com/nishisan-dev/screenlink/internal/eventbus"
)

type fakeConn struct{}

func (fakeConn) RemoteAddr() net.Addr { return &net.TCPAddr{} }
func (fakeConn) Close() error         { return nil }

type fakeMouseSink struct {
	mu       sync.Mutex
	warpedTo []point
}

func (f *fakeMouseSink) InjectMouse(capability.MouseEvent) error { return nil }

func (f *fakeMouseSink) WarpCursor(x, y float64) error {
	f.mu.Lock()
	f.warpedTo = append(f.warpedTo, point{x, y})
	f.mu.Unlock()
	return nil
}

func (f *fakeMouseSink) last() (point, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.warpedTo) == 0 {
		return point{}, false
	}
	return f.warpedTo[len(f.warpedTo)-1], true
}

type fakeOverlay struct {
	mu      sync.Mutex
	visible []bool
}

func (f *fakeOverlay) SetOverlayVisible(v bool) {
	f.mu.Lock()
	f.visible = append(f.visible, v)
	f.mu.Unlock()
}

func (f *fakeOverlay) last() (bool, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.visible) == 0 {
		return false, false
	}
	return f.visible[len(f.visible)-1], true
}

func newTestRegistry(connectedScreens ...clients.Screen) *clients.Registry {
	entries := []config.ClientEntry{
		{Name: "left", Screen: "left", Address: "10.0.0.1:24800"},
		{Name: "right", Screen: "right", Address: "10.0.0.2:24800"},
	}
	reg := clients.NewRegistry(entries)
	for _, s := range connectedScreens {
		rec := reg.ByScreen(s)
		if rec != nil {
			reg.Attach(rec, fakeConn{})
		}
	}
	return reg
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestMachine_EdgeCrossedWarpsAndTogglesOverlay(t *testing.T) {
	reg := newTestRegistry(clients.Right)
	bus := eventbus.New(8, 8)
	defer bus.Stop()
	sink := &fakeMouseSink{}
	overlay := &fakeOverlay{}

	m := NewMachine(reg, bus, capability.Traits{MouseSink: sink, Overlay: overlay}, 1920, 1080, 2)
	m.Start()
	defer m.Stop()

	m.UpdatePosition(1920, 540)
	m.EdgeCrossed(clients.Right)

	waitFor(t, func() bool {
		active := m.Active()
		return active != nil && *active == clients.Right
	})
	waitFor(t, func() bool {
		_, ok := sink.last()
		return ok
	})
	waitFor(t, func() bool {
		v, ok := overlay.last()
		return ok && v
	})

	got, _ := sink.last()
	wantX, wantY := WarpPoint(clients.Right, 1920, 1080, 2, 1920, 540)
	if got.x != wantX || got.y != wantY {
		t.Errorf("warp target = %+v, want (%v, %v)", got, wantX, wantY)
	}
}

func TestMachine_EdgeCrossedIgnoredWhenTargetUnconnected(t *testing.T) {
	reg := newTestRegistry()
	bus := eventbus.New(8, 8)
	defer bus.Stop()

	m := NewMachine(reg, bus, capability.Traits{}, 1920, 1080, 2)
	m.Start()
	defer m.Stop()

	m.EdgeCrossed(clients.Right)
	time.Sleep(50 * time.Millisecond)

	if active := m.Active(); active != nil {
		t.Errorf("active = %v, want nil (target not connected)", *active)
	}
}

func TestMachine_ReturnEdgeWarpsToOppositeEdgeAndClearsActive(t *testing.T) {
	reg := newTestRegistry(clients.Right)
	bus := eventbus.New(8, 8)
	defer bus.Stop()
	sink := &fakeMouseSink{}
	overlay := &fakeOverlay{}

	m := NewMachine(reg, bus, capability.Traits{MouseSink: sink, Overlay: overlay}, 1920, 1080, 2)
	m.Start()
	defer m.Stop()

	m.UpdatePosition(1920, 300)
	m.EdgeCrossed(clients.Right)
	waitFor(t, func() bool {
		active := m.Active()
		return active != nil && *active == clients.Right
	})

	// Retenta enquanto a janela de blocked da guarda, aberta pela primeira
	// transição, ainda pode estar ativa.
	waitFor(t, func() bool {
		m.ReturnEdge(clients.Right)
		return m.Active() == nil
	})
	waitFor(t, func() bool {
		v, ok := overlay.last()
		return ok && !v
	})

	got, _ := sink.last()
	wantX, wantY := WarpPoint(clients.Left, 1920, 1080, 2, 1920, 300)
	if got.x != wantX || got.y != wantY {
		t.Errorf("return warp target = %+v, want (%v, %v)", got, wantX, wantY)
	}
}

func TestMachine_ReturnEdgeAtUsesReportedCoordinate(t *testing.T) {
	reg := newTestRegistry(clients.Left)
	bus := eventbus.New(8, 8)
	defer bus.Stop()
	sink := &fakeMouseSink{}

	m := NewMachine(reg, bus, capability.Traits{MouseSink: sink}, 1920, 1080, 10)
	m.Start()
	defer m.Stop()

	m.UpdatePosition(5, 500)
	m.EdgeCrossed(clients.Left)
	waitFor(t, func() bool {
		active := m.Active()
		return active != nil && *active == clients.Left
	})

	// O client reporta o próprio cursor em 400px numa tela de 1080px; o
	// warp de retorno deve aterrissar nessa altura, não nos 500px gravados
	// quando o controle deixou o server.
	waitFor(t, func() bool {
		m.ReturnEdgeAt(clients.Left, 400.0/1080.0)
		return m.Active() == nil
	})
	waitFor(t, func() bool {
		p, ok := sink.last()
		return ok && p.x == 1900
	})

	got, _ := sink.last()
	if got.x != 1900 {
		t.Errorf("return warp x = %v, want 1900", got.x)
	}
	if diff := got.y - 400; diff > 1e-6 || diff < -1e-6 {
		t.Errorf("return warp y = %v, want 400", got.y)
	}
}

func TestMachine_ClientDisconnectedClearsOnlyIfActive(t *testing.T) {
	reg := newTestRegistry(clients.Right)
	bus := eventbus.New(8, 8)
	defer bus.Stop()

	m := NewMachine(reg, bus, capability.Traits{}, 1920, 1080, 2)
	m.Start()
	defer m.Stop()

	m.EdgeCrossed(clients.Right)
	waitFor(t, func() bool {
		active := m.Active()
		return active != nil && *active == clients.Right
	})

	m.ClientDisconnected(clients.Left)
	time.Sleep(50 * time.Millisecond)
	if active := m.Active(); active == nil {
		t.Fatal("active cleared by disconnect of an unrelated screen")
	}

	m.ClientDisconnected(clients.Right)
	waitFor(t, func() bool { return m.Active() == nil })
}
