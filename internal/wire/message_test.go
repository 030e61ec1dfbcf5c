// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package wire

import (
	"reflect"
	"testing"
)

func TestMessage_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		msg  *Message
	}{
		{
			name: "mouse move",
			msg: &Message{
				Type:      TypeMouse,
				Timestamp: 1700000000,
				SeqID:     42,
				Source:    "server",
				Target:    "left",
				Payload: Payload{
					"x": int64(120), "y": int64(340), "dx": int64(5), "dy": int64(-2),
					"event": "move", "is_pressed": false,
				},
			},
		},
		{
			name: "keyboard batch",
			msg: &Message{
				Type:      TypeKeyboard,
				Timestamp: 1700000001,
				SeqID:     7,
				Source:    "server",
				Target:    "right",
				Payload: Payload{
					"events": []any{
						Payload{"key": "a", "event": "press"},
						Payload{"key": "a", "event": "release"},
					},
				},
			},
		},
		{
			name: "clipboard content",
			msg: &Message{
				Type:      TypeClipboard,
				Timestamp: 1700000002,
				SeqID:     1,
				Source:    "left",
				Target:    "server",
				Payload: Payload{
					"content":      "hello world",
					"content_type": "text/plain",
				},
			},
		},
		{
			name: "command file_copied",
			msg: &Message{
				Type:      TypeCommand,
				Timestamp: 1700000003,
				SeqID:     9,
				Source:    "server",
				Target:    "all",
				Payload: Payload{
					"command": "file_copied",
					"params": Payload{
						"name": "report.pdf",
						"size": int64(4096),
						"path": "/tmp/report.pdf",
					},
				},
			},
		},
		{
			name: "chunk fields set",
			msg: &Message{
				Type:        TypeFile,
				Timestamp:   1700000004,
				SeqID:       3,
				Source:      "server",
				Target:      "left",
				IsChunk:     true,
				MessageID:   "abc-123",
				ChunkIndex:  2,
				TotalChunks: 5,
				Payload:     Payload{"data": "c29tZSBieXRlcw=="},
			},
		},
		{
			name: "empty payload",
			msg: &Message{
				Type:      TypeExchange,
				Timestamp: 0,
				SeqID:     0,
				Source:    "server",
				Target:    "client",
				Payload:   Payload{},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, err := EncodeBody(tt.msg)
			if err != nil {
				t.Fatalf("EncodeBody: %v", err)
			}

			got, err := DecodeBody(body)
			if err != nil {
				t.Fatalf("DecodeBody: %v", err)
			}

			if !reflect.DeepEqual(got, tt.msg) {
				t.Errorf("round trip mismatch:\n got=%+v\nwant=%+v", got, tt.msg)
			}
		})
	}
}

func TestDecodeBody_TruncatedFailsCleanly(t *testing.T) {
	msg := &Message{
		Type: TypeMouse, Source: "server", Target: "left",
		Payload: Payload{"x": int64(1)},
	}
	body, err := EncodeBody(msg)
	if err != nil {
		t.Fatalf("EncodeBody: %v", err)
	}

	if _, err := DecodeBody(body[:len(body)-3]); err == nil {
		t.Fatal("expected error decoding truncated body, got nil")
	}
}

func TestEncodeValue_UnsupportedType(t *testing.T) {
	msg := &Message{
		Type: TypeMouse, Source: "server", Target: "left",
		Payload: Payload{"bad": struct{ X int }{X: 1}},
	}
	if _, err := EncodeBody(msg); err == nil {
		t.Fatal("expected error encoding unsupported payload value type")
	}
}
