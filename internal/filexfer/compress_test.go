// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package filexfer

import (
	"bytes"
	"testing"
)

func TestCodecRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog "), 200)

	for _, name := range []string{"", "gzip", "zstd"} {
		codec, err := NewCodec(name)
		if err != nil {
			t.Fatalf("NewCodec(%q): %v", name, err)
		}
		compressed, err := codec.Compress(payload)
		if err != nil {
			t.Fatalf("%s Compress: %v", name, err)
		}
		if len(compressed) >= len(payload) {
			t.Errorf("%s: compressed size %d not smaller than input %d", name, len(compressed), len(payload))
		}
		out, err := codec.Decompress(compressed)
		if err != nil {
			t.Fatalf("%s Decompress: %v", name, err)
		}
		if !bytes.Equal(out, payload) {
			t.Errorf("%s: round trip mismatch", name)
		}
	}
}

func TestNewCodecRejectsUnknown(t *testing.T) {
	if _, err := NewCodec("lz4"); err == nil {
		t.Error("expected error for unsupported codec name")
	}
}
