// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package wire

import (
	"reflect"
	"testing"
)

func TestChunk_SmallMessageNotFragmented(t *testing.T) {
	msg := &Message{
		Type: TypeClipboard, Source: "server", Target: "left",
		Payload: Payload{"content": "short", "content_type": "text/plain"},
	}

	chunks, err := Chunk(msg, DefaultChunkCap)
	if err != nil {
		t.Fatalf("Chunk: %v", err)
	}
	if len(chunks) != 1 || chunks[0].IsChunk {
		t.Fatalf("expected a single non-chunk message, got %+v", chunks)
	}
}

func TestChunk_ReassembleInOrder(t *testing.T) {
	big := make([]byte, 5*DefaultChunkCap)
	for i := range big {
		big[i] = byte(i % 251)
	}
	msg := &Message{
		Type: TypeFile, Source: "server", Target: "left",
		Payload: Payload{"content": string(big), "content_type": "application/octet-stream"},
	}

	chunks, err := Chunk(msg, DefaultChunkCap)
	if err != nil {
		t.Fatalf("Chunk: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected message to be fragmented, got %d chunk(s)", len(chunks))
	}

	r := NewReassembler()
	var got *Message
	for _, c := range chunks {
		m, complete, err := r.Add(c)
		if err != nil {
			t.Fatalf("Add: %v", err)
		}
		if complete {
			got = m
		}
	}
	if got == nil {
		t.Fatal("expected reassembly to complete after all chunks added")
	}
	if !reflect.DeepEqual(got.Payload, msg.Payload) {
		t.Error("reassembled payload does not match original")
	}
}

func TestChunk_ReassembleOutOfOrder(t *testing.T) {
	big := make([]byte, 3*DefaultChunkCap)
	msg := &Message{
		Type: TypeFile, Source: "server", Target: "right",
		Payload: Payload{"content": string(big), "content_type": "application/octet-stream"},
	}

	chunks, err := Chunk(msg, DefaultChunkCap)
	if err != nil {
		t.Fatalf("Chunk: %v", err)
	}

	// Entrega em ordem reversa ainda deve remontar corretamente.
	reversed := make([]*Message, len(chunks))
	for i, c := range chunks {
		reversed[len(chunks)-1-i] = c
	}

	r := NewReassembler()
	var got *Message
	for _, c := range reversed {
		m, complete, err := r.Add(c)
		if err != nil {
			t.Fatalf("Add: %v", err)
		}
		if complete {
			got = m
		}
	}
	if got == nil {
		t.Fatal("expected reassembly to complete after all chunks added, regardless of order")
	}
}

func TestReassembler_IncompleteLeavesPending(t *testing.T) {
	big := make([]byte, 3*DefaultChunkCap)
	msg := &Message{
		Type: TypeFile, Source: "server", Target: "right",
		Payload: Payload{"content": string(big), "content_type": "application/octet-stream"},
	}
	chunks, err := Chunk(msg, DefaultChunkCap)
	if err != nil {
		t.Fatalf("Chunk: %v", err)
	}

	r := NewReassembler()
	if _, complete, err := r.Add(chunks[0]); err != nil || complete {
		t.Fatalf("expected incomplete group after first chunk, complete=%v err=%v", complete, err)
	}

	pending := r.Pending()
	if len(pending) != 1 || pending[0] != chunks[0].MessageID {
		t.Errorf("expected one pending group for %q, got %v", chunks[0].MessageID, pending)
	}

	r.Discard(chunks[0].MessageID)
	if len(r.Pending()) != 0 {
		t.Error("expected no pending groups after Discard")
	}
}

func TestReassembler_MismatchedTotalChunksErrors(t *testing.T) {
	r := NewReassembler()
	first := &Message{IsChunk: true, MessageID: "m1", ChunkIndex: 0, TotalChunks: 3, Payload: Payload{"data": "AA=="}}
	second := &Message{IsChunk: true, MessageID: "m1", ChunkIndex: 1, TotalChunks: 4, Payload: Payload{"data": "AA=="}}

	if _, _, err := r.Add(first); err != nil {
		t.Fatalf("Add(first): %v", err)
	}
	if _, _, err := r.Add(second); err == nil {
		t.Fatal("expected error for mismatched total_chunks on the same message_id")
	}
}
