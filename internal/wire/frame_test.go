// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package wire

import (
	"bytes"
	"errors"
	"testing"
)

func TestFrame_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	body := []byte("arbitrary frame body")

	if err := WriteFrame(&buf, body); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	got, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if !bytes.Equal(got, body) {
		t.Errorf("expected body %q, got %q", body, got)
	}
}

func TestReadFrame_BadMagic(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0, 0, 0, 3, 'X', 'X'})
	buf.Write([]byte("abc"))

	if _, err := ReadFrame(&buf); !errors.Is(err, ErrBadMagic) {
		t.Errorf("expected ErrBadMagic, got %v", err)
	}
}

func TestReadFrame_IncompleteBody(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0, 0, 0, 10, Magic[0], Magic[1]})
	buf.Write([]byte("abc"))

	if _, err := ReadFrame(&buf); !errors.Is(err, ErrIncompleteBody) {
		t.Errorf("expected ErrIncompleteBody, got %v", err)
	}
}

func TestReadFrame_TooShortHeader(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0, 0, 1})

	if _, err := ReadFrame(&buf); !errors.Is(err, ErrFrameTooShort) {
		t.Errorf("expected ErrFrameTooShort, got %v", err)
	}
}

func TestReadFrame_BodyTooLong(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF, Magic[0], Magic[1]})

	if _, err := ReadFrame(&buf); !errors.Is(err, ErrFrameBodyTooLong) {
		t.Errorf("expected ErrFrameBodyTooLong, got %v", err)
	}
}

func TestMessage_FrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	msg := &Message{
		Type: TypeClipboard, Timestamp: 5, SeqID: 1,
		Source: "server", Target: "left",
		Payload: Payload{"content": "x", "content_type": "text/plain"},
	}

	if err := WriteMessage(&buf, msg); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	got, err := ReadMessage(&buf)
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if got.Payload["content"] != "x" {
		t.Errorf("expected content %q, got %q", "x", got.Payload["content"])
	}
}
