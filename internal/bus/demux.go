// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package bus

import (
	"context"
	"log/slog"

	"github.com/nishisan-dev/screenlink/internal/wire"
)

// Handler processa uma mensagem decodificada. É invocado pelo worker
// por-stream do demux e não deve bloquear indefinidamente — um handler
// travado só paralisa o próprio tipo de stream, nunca os outros.
type Handler func(*wire.Message)

// Demux espalha as mensagens decodificadas em uma fila limitada por tipo
// de stream (mouse, teclado, clipboard, arquivo), cada uma drenada por
// uma goroutine dedicada. Dentro de um tipo de stream e uma origem, a
// entrega é estritamente em ordem de recepção; entre tipos de stream
// nenhuma ordem é prometida. Mensagens de comando/exchange (respostas de
// health-check, notificações de transição de tela) são tratadas inline,
// na goroutine do chamador, por serem de baixo volume e sensíveis a
// latência.
type Demux struct {
	mouse     chan *wire.Message
	keyboard  chan *wire.Message
	clipboard chan *wire.Message
	file      chan *wire.Message

	onCommand  Handler
	onExchange Handler

	logger *slog.Logger
}

// NewDemux monta um Demux com a profundidade de fila por stream dada e
// dispara seus quatro workers, rodando até ctx ser cancelado.
func NewDemux(ctx context.Context, depth int, logger *slog.Logger, onMouse, onKeyboard, onClipboard, onFile, onCommand, onExchange Handler) *Demux {
	d := &Demux{
		mouse:      make(chan *wire.Message, depth),
		keyboard:   make(chan *wire.Message, depth),
		clipboard:  make(chan *wire.Message, depth),
		file:       make(chan *wire.Message, depth),
		onCommand:  onCommand,
		onExchange: onExchange,
		logger:     logger,
	}

	go d.worker(ctx, d.mouse, onMouse)
	go d.worker(ctx, d.keyboard, onKeyboard)
	go d.worker(ctx, d.clipboard, onClipboard)
	go d.worker(ctx, d.file, onFile)

	return d
}

func (d *Demux) worker(ctx context.Context, queue chan *wire.Message, handle Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-queue:
			if !ok {
				return
			}
			if handle != nil {
				handle(m)
			}
		}
	}
}

// Dispatch roteia m para sua fila de stream pelo tipo de mensagem.
// Retorna false se a fila de destino estava cheia e a mensagem foi
// descartada (logado).
func (d *Demux) Dispatch(m *wire.Message) bool {
	var queue chan *wire.Message
	switch m.Type {
	case wire.TypeMouse:
		queue = d.mouse
	case wire.TypeKeyboard:
		queue = d.keyboard
	case wire.TypeClipboard:
		queue = d.clipboard
	case wire.TypeFile:
		queue = d.file
	case wire.TypeCommand:
		if d.onCommand != nil {
			d.onCommand(m)
		}
		return true
	case wire.TypeExchange:
		if d.onExchange != nil {
			d.onExchange(m)
		}
		return true
	default:
		return true
	}

	select {
	case queue <- m:
		return true
	default:
		d.logger.Warn("dropping message: consumer queue full", "type", m.Type.String())
		return false
	}
}
