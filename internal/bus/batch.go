// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package bus

import (
	"sync"
	"time"

	"github.com/nishisan-dev/screenlink/internal/wire"
)

// Batcher coalesce um stream de eventos de alta frequência (movimento de
// mouse, teclas) em uma mensagem de saída por target, descarregando
// quando um limiar de contagem ou de tempo é atingido: mouse descarrega
// em 10 eventos/20ms, teclado em 7 eventos/10ms. A ordem por origem é
// preservada porque os eventos de cada target acumulam num único slice,
// na ordem de chegada.
type Batcher struct {
	msgType  wire.MessageType
	maxCount int
	maxWait  time.Duration
	onFlush  func(m *wire.Message)

	mu      sync.Mutex
	pending map[string][]any
	timers  map[string]*time.Timer
}

// NewBatcher monta um batcher para msgType, descarregando os eventos
// acumulados de um target via onFlush sempre que maxCount é atingido ou
// maxWait passou desde seu primeiro evento bufferizado, o que vier antes.
func NewBatcher(msgType wire.MessageType, maxCount int, maxWait time.Duration, onFlush func(*wire.Message)) *Batcher {
	return &Batcher{
		msgType:  msgType,
		maxCount: maxCount,
		maxWait:  maxWait,
		onFlush:  onFlush,
		pending:  make(map[string][]any),
		timers:   make(map[string]*time.Timer),
	}
}

// Add anexa event para target, iniciando o timer de flush do target no
// primeiro evento bufferizado e descarregando imediatamente ao atingir
// maxCount.
func (b *Batcher) Add(target string, event any) {
	b.mu.Lock()

	b.pending[target] = append(b.pending[target], event)
	first := len(b.pending[target]) == 1
	full := len(b.pending[target]) >= b.maxCount

	if first && !full {
		b.timers[target] = time.AfterFunc(b.maxWait, func() { b.flush(target) })
	}

	if full {
		events := b.pending[target]
		delete(b.pending, target)
		if t := b.timers[target]; t != nil {
			t.Stop()
			delete(b.timers, target)
		}
		b.mu.Unlock()
		b.emit(target, events)
		return
	}

	b.mu.Unlock()
}

func (b *Batcher) flush(target string) {
	b.mu.Lock()
	events, ok := b.pending[target]
	if !ok || len(events) == 0 {
		b.mu.Unlock()
		return
	}
	delete(b.pending, target)
	delete(b.timers, target)
	b.mu.Unlock()

	b.emit(target, events)
}

func (b *Batcher) emit(target string, events []any) {
	m := &wire.Message{
		Type:      b.msgType,
		Target:    target,
		Timestamp: time.Now().Unix(),
		Payload:   wire.Payload{"events": events},
	}
	b.onFlush(m)
}

// FlushAll força todo target com eventos pendentes a descarregar
// imediatamente, usado no shutdown para não descartar input bufferizado
// em silêncio.
func (b *Batcher) FlushAll() {
	b.mu.Lock()
	targets := make([]string, 0, len(b.pending))
	for t := range b.pending {
		targets = append(targets, t)
	}
	b.mu.Unlock()

	for _, t := range targets {
		b.flush(t)
	}
}
