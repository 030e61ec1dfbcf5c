// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package screen

import (
	"testing"

	"github.com/nishisan-dev/screenlink/internal/clients"
)

func TestEdgeAt(t *testing.T) {
	const w, h, threshold = 1920.0, 1080.0, 10.0

	cases := []struct {
		name string
		x, y float64
		want clients.Screen
		hit  bool
	}{
		{"center", 960, 540, "", false},
		{"left edge", 5, 500, clients.Left, true},
		{"right edge", 1915, 500, clients.Right, true},
		{"top edge", 960, 3, clients.Up, true},
		{"bottom edge", 960, 1075, clients.Down, true},
		{"just inside left", 11, 500, "", false},
		{"corner resolves horizontal first", 2, 2, clients.Left, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, hit := EdgeAt(tc.x, tc.y, w, h, threshold)
			if hit != tc.hit || got != tc.want {
				t.Errorf("EdgeAt(%v, %v) = (%q, %v), want (%q, %v)", tc.x, tc.y, got, hit, tc.want, tc.hit)
			}
		})
	}
}

func TestNormalizeClampsToUnitRange(t *testing.T) {
	if got := Normalize(-5, 1920); got != 0 {
		t.Errorf("Normalize(-5) = %v, want 0", got)
	}
	if got := Normalize(2000, 1920); got != 1 {
		t.Errorf("Normalize(2000, 1920) = %v, want 1", got)
	}
	if got := Normalize(960, 1920); got != 0.5 {
		t.Errorf("Normalize(960, 1920) = %v, want 0.5", got)
	}
	if got := Normalize(10, 0); got != 0 {
		t.Errorf("Normalize with zero extent = %v, want 0", got)
	}
}

func TestDenormalizeInvertsNormalize(t *testing.T) {
	if got := Denormalize(Normalize(480, 1920), 1920); got != 480 {
		t.Errorf("round trip = %v, want 480", got)
	}
	// Extensões diferentes modelam o caso entre resoluções: uma posição
	// normalizada numa tela aterrissa proporcionalmente em outra.
	if got := Denormalize(Normalize(960, 1920), 3840); got != 1920 {
		t.Errorf("cross-resolution denormalize = %v, want 1920", got)
	}
}
