// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package wire

import (
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
)

// DefaultChunkCap é o tamanho máximo de corpo por frame antes que o sender
// precise fragmentar a mensagem (16 KiB).
const DefaultChunkCap = 16 * 1024

// Erros de reassembly.
var (
	ErrChunkMismatch   = errors.New("wire: chunk message_id/total_chunks mismatch")
	ErrChunkIncomplete = errors.New("wire: chunk group incomplete")
)

// Chunk fragmenta m se seu corpo codificado exceder cap. O payload original
// é codificado, base64-codificado e dividido em até totalChunks pedaços,
// cada um embutido no payload ("data") de uma mensagem-chunk que preserva o
// Type, Source e Target originais. Mensagens que cabem em um frame são
// devolvidas como uma fatia de um único elemento, sem IsChunk marcado.
func Chunk(m *Message, cap int) ([]*Message, error) {
	if cap <= 0 {
		cap = DefaultChunkCap
	}

	body, err := EncodeBody(m)
	if err != nil {
		return nil, fmt.Errorf("encoding message for chunk sizing: %w", err)
	}
	if len(body) <= cap {
		return []*Message{m}, nil
	}

	encoded := base64.StdEncoding.EncodeToString(body)
	total := (len(encoded) + cap - 1) / cap
	messageID := NewMessageID()

	chunks := make([]*Message, 0, total)
	for i := 0; i < total; i++ {
		start := i * cap
		end := start + cap
		if end > len(encoded) {
			end = len(encoded)
		}
		chunks = append(chunks, &Message{
			Type:        m.Type,
			Timestamp:   m.Timestamp,
			SeqID:       m.SeqID,
			Source:      m.Source,
			Target:      m.Target,
			IsChunk:     true,
			MessageID:   messageID,
			ChunkIndex:  uint32(i),
			TotalChunks: uint32(total),
			Payload:     Payload{"data": encoded[start:end]},
		})
	}
	return chunks, nil
}

type pendingGroup struct {
	total  uint32
	pieces map[uint32]string
}

// Reassembler acumula chunks por message_id e reconstrói a mensagem original
// quando todos os índices [0, total) chegaram. Uma instância não é segura
// para descartar entre goroutines sem Discard — chamadores de longa duração
// devem chamar Discard ao desistir de um grupo.
type Reassembler struct {
	mu     sync.Mutex
	groups map[string]*pendingGroup
}

// NewReassembler cria um reassembler vazio.
func NewReassembler() *Reassembler {
	return &Reassembler{groups: make(map[string]*pendingGroup)}
}

// Add processa m. Mensagens não fragmentadas (IsChunk == false) são
// devolvidas imediatamente como completas. Para chunks, Add retorna
// (msg, true, nil) quando o grupo inteiro chegou, (nil, false, nil) enquanto
// o grupo segue incompleto, e um erro quando o chunk contradiz o estado já
// acumulado para o mesmo message_id.
func (r *Reassembler) Add(m *Message) (*Message, bool, error) {
	if !m.IsChunk {
		return m, true, nil
	}

	data, _ := m.Payload["data"].(string)

	r.mu.Lock()
	group, ok := r.groups[m.MessageID]
	if !ok {
		group = &pendingGroup{total: m.TotalChunks, pieces: make(map[uint32]string, m.TotalChunks)}
		r.groups[m.MessageID] = group
	}
	if group.total != m.TotalChunks {
		r.mu.Unlock()
		return nil, false, fmt.Errorf("%w: message_id=%s", ErrChunkMismatch, m.MessageID)
	}
	group.pieces[m.ChunkIndex] = data

	complete := uint32(len(group.pieces)) == group.total
	var encoded string
	if complete {
		encoded, _ = concatInOrder(group.pieces, group.total)
		delete(r.groups, m.MessageID)
	}
	r.mu.Unlock()

	if !complete {
		return nil, false, nil
	}

	body, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, false, fmt.Errorf("decoding reassembled chunk payload: %w", err)
	}
	msg, err := DecodeBody(body)
	if err != nil {
		return nil, false, fmt.Errorf("decoding reassembled message: %w", err)
	}
	return msg, true, nil
}

// Discard abandona um grupo pendente, por exemplo quando a conexão que o
// alimentava caiu antes de enviar todos os chunks.
func (r *Reassembler) Discard(messageID string) {
	r.mu.Lock()
	delete(r.groups, messageID)
	r.mu.Unlock()
}

// Pending retorna os message_id ainda incompletos, para varreduras de stall.
func (r *Reassembler) Pending() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.groups))
	for id := range r.groups {
		ids = append(ids, id)
	}
	return ids
}

func concatInOrder(pieces map[uint32]string, total uint32) (string, error) {
	var sb []byte
	for i := uint32(0); i < total; i++ {
		p, ok := pieces[i]
		if !ok {
			return "", fmt.Errorf("%w: missing chunk_index=%d", ErrChunkIncomplete, i)
		}
		sb = append(sb, p...)
	}
	return string(sb), nil
}
