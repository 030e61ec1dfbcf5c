// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package clients

import (
	"net"
	"testing"

	"github.com/nishisan-dev/screenlink/internal/config"
)

type fakeConn struct{ addr net.Addr }

func (f fakeConn) RemoteAddr() net.Addr { return f.addr }
func (f fakeConn) Close() error         { return nil }

func newTestRegistry() *Registry {
	return NewRegistry([]config.ClientEntry{
		{Name: "laptop", Screen: "left", Address: "10.0.0.2"},
		{Name: "tablet", Screen: "right", Address: "10.0.0.3"},
	})
}

func TestRegistry_ByScreenAndAddress(t *testing.T) {
	reg := newTestRegistry()

	rec := reg.ByScreen(Left)
	if rec == nil || rec.Name != "laptop" {
		t.Fatalf("expected laptop at Left, got %+v", rec)
	}

	byAddr := reg.ByAddress("10.0.0.3")
	if byAddr == nil || byAddr.Name != "tablet" {
		t.Fatalf("expected tablet at 10.0.0.3, got %+v", byAddr)
	}

	if reg.ByAddress("10.0.0.99") != nil {
		t.Error("expected nil for unconfigured address")
	}
}

func TestRegistry_AttachDetach(t *testing.T) {
	reg := newTestRegistry()
	rec := reg.ByScreen(Left)

	if rec.Connected() {
		t.Fatal("expected record to start disconnected")
	}

	reg.Attach(rec, fakeConn{})
	if !rec.Connected() {
		t.Fatal("expected record to be connected after Attach")
	}

	reg.Detach(rec)
	if rec.Connected() {
		t.Fatal("expected record to be disconnected after Detach")
	}
}

func TestRegistry_AddRejectsDuplicateScreen(t *testing.T) {
	reg := newTestRegistry()
	err := reg.Add(config.ClientEntry{Name: "phone", Screen: "left", Address: "10.0.0.4"})
	if err == nil {
		t.Fatal("expected error adding a client at an already-configured screen")
	}
}

func TestRegistry_RemoveUnknown(t *testing.T) {
	reg := newTestRegistry()
	if err := reg.Remove("nonexistent"); err == nil {
		t.Fatal("expected error removing an unknown client")
	}
}

func TestRegistry_SizeRoundTrip(t *testing.T) {
	reg := newTestRegistry()
	rec := reg.ByScreen(Right)
	rec.SetSize(1920, 1080)
	w, h := rec.Size()
	if w != 1920 || h != 1080 {
		t.Errorf("expected size 1920x1080, got %dx%d", w, h)
	}
}
