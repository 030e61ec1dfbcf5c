// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nishisan-dev/screenlink/internal/bus"
	"github.com/nishisan-dev/screenlink/internal/capability"
	"github.com/nishisan-dev/screenlink/internal/clients"
	"github.com/nishisan-dev/screenlink/internal/config"
	"github.com/nishisan-dev/screenlink/internal/eventbus"
	"github.com/nishisan-dev/screenlink/internal/filexfer"
	"github.com/nishisan-dev/screenlink/internal/screen"
	"github.com/nishisan-dev/screenlink/internal/transport"
	"github.com/nishisan-dev/screenlink/internal/wire"
)

// clientQueueDepth limita o pipeline único de demux/fila do client;
// diferente do server há só um peer, então uma profundidade fixa basta.
const clientQueueDepth = 256

// ClientRole amarra o transport client, um demux de entrada, uma fila de
// prioridade de saída, os traits locais de injeção/captura e o
// coordenador de transferência de arquivos do lado client. Diferente do
// ServerRole só existe um peer, então não há mapa de pipelines por tela.
type ClientRole struct {
	cfg      *config.ClientConfig
	logger   *slog.Logger
	bus      *eventbus.Bus
	filexfer *filexfer.ClientCoordinator
	tclient  *transport.Client
	demux    *bus.Demux
	queue    *bus.SendQueue

	traits  capability.Traits
	streams *streamGate
	width   float64
	height  float64

	ctx    context.Context
	cancel context.CancelFunc
}

// NewClientRole monta um ClientRole ocioso; Start inicia o loop de
// resolve/connect/reconnect. traits carrega os bindings de injeção da
// plataforma — campos nil deixam aquele stream inerte, e um probe de
// tamanho de tela nil cai no default de canvas virtual para o
// configuration exchange.
func NewClientRole(cfg *config.ClientConfig, logger *slog.Logger, traits capability.Traits) *ClientRole {
	logger = logger.With("role", "client")
	ebus := eventbus.New(256, 200)

	r := &ClientRole{cfg: cfg, logger: logger, bus: ebus, traits: traits, streams: newStreamGate()}
	r.filexfer = filexfer.NewClientCoordinator(ebus, r.send, logger, cfg.FileXfer)

	var size transport.SizeProvider
	if traits.ScreenSize != nil {
		size = func() (int, int) {
			w, h, err := traits.ScreenSize.ScreenSize()
			if err != nil {
				return 0, 0
			}
			return w, h
		}
	}
	r.tclient = transport.NewClient(cfg, ebus, logger, size, r.onMessage)
	return r
}

// Start dispara os workers do demux, a fila de envio, o loop de captura
// da borda de retorno e o loop de conexão do próprio client.
func (r *ClientRole) Start(parent context.Context) error {
	r.ctx, r.cancel = context.WithCancel(parent)

	r.width, r.height = defaultScreenWidth, defaultScreenHeight
	if r.traits.ScreenSize != nil {
		if w, h, err := r.traits.ScreenSize.ScreenSize(); err == nil && w > 0 && h > 0 {
			r.width, r.height = float64(w), float64(h)
		}
	}

	onCommand := func(m *wire.Message) {
		cmd, _ := m.Payload["command"].(string)
		switch cmd {
		case transport.CommandFileCopied, transport.CommandFileRequest:
			r.filexfer.HandleCommand(m)
		case transport.CommandCrossScreen:
			r.handleCrossScreen(m)
		case transport.CommandDisconnect:
			// O fechamento do socket vem em seguida; o loop de reconexão
			// assume a partir daí.
			r.logger.Info("server requested disconnect")
		}
	}
	onFile := func(m *wire.Message) {
		if r.streams.enabled("file") {
			r.filexfer.HandleFile(m)
		}
	}
	r.demux = bus.NewDemux(r.ctx, clientQueueDepth, r.logger, r.injectMouse, r.injectKeys, r.setClipboard, onFile, onCommand, noop)
	r.queue = bus.NewSendQueue(r.ctx, clientQueueDepth, func(m *wire.Message) error { return r.tclient.Send(m) })

	go r.captureLoop(r.ctx)

	r.tclient.Start(r.ctx)
	return nil
}

// Stop encerra o loop de conexão e toda task de pipeline.
func (r *ClientRole) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.tclient.Stop()
	r.bus.Stop()
}

func (r *ClientRole) onMessage(m *wire.Message) {
	if r.demux != nil {
		r.demux.Dispatch(m)
	}
}

func (r *ClientRole) send(m *wire.Message) error {
	if r.queue == nil {
		return fmt.Errorf("daemon: client role not started")
	}
	return r.queue.Enqueue(m)
}

// injectMouse reaplica uma mensagem MOUSE em lote através do sink de
// mouse local, desnormalizando as coordenadas de cada evento para o
// tamanho desta tela.
func (r *ClientRole) injectMouse(m *wire.Message) {
	if r.traits.MouseSink == nil || !r.streams.enabled("mouse") {
		return
	}
	events, _ := m.Payload["events"].([]any)
	for _, e := range events {
		p, ok := e.(wire.Payload)
		if !ok {
			continue
		}
		ev := capability.MouseEvent{
			X:         screen.Denormalize(floatParam(p, "x"), r.width),
			Y:         screen.Denormalize(floatParam(p, "y"), r.height),
			DX:        floatParam(p, "dx"),
			DY:        floatParam(p, "dy"),
			Button:    stringParam(p, "button"),
			Event:     stringParam(p, "event"),
			IsPressed: boolParam(p, "is_pressed"),
		}
		if err := r.traits.MouseSink.InjectMouse(ev); err != nil {
			r.logger.Warn("injecting mouse event", "error", err)
		}
	}
}

// injectKeys reaplica uma mensagem KEYBOARD em lote através do sink de
// teclado local, sem remapear nada — o server já remapeou conforme sua
// tabela key_remap antes de enviar.
func (r *ClientRole) injectKeys(m *wire.Message) {
	if r.traits.KeySink == nil || !r.streams.enabled("keyboard") {
		return
	}
	events, _ := m.Payload["events"].([]any)
	for _, e := range events {
		p, ok := e.(wire.Payload)
		if !ok {
			continue
		}
		ev := capability.KeyEvent{Key: stringParam(p, "key"), Event: stringParam(p, "event")}
		if err := r.traits.KeySink.InjectKey(ev); err != nil {
			r.logger.Warn("injecting key event", "error", err)
		}
	}
}

func (r *ClientRole) setClipboard(m *wire.Message) {
	if r.traits.ClipSink == nil || !r.streams.enabled("clipboard") {
		return
	}
	content := capability.ClipboardContent{
		Content:     stringParam(m.Payload, "content"),
		ContentType: stringParam(m.Payload, "content_type"),
	}
	if err := r.traits.ClipSink.SetClipboard(content); err != nil {
		r.logger.Warn("setting clipboard", "error", err)
	}
}

// handleCrossScreen posiciona o cursor local no ponto de entrada
// correspondente ao ponto de saída do server: um client posicionado à
// esquerda do server é entrado pela própria borda direita, preservando a
// coordenada do eixo cruzado reportada pelo server.
func (r *ClientRole) handleCrossScreen(m *wire.Message) {
	if r.traits.MouseSink == nil {
		return
	}
	params, _ := m.Payload["params"].(wire.Payload)
	mx := screen.Denormalize(floatParam(params, "x"), r.width)
	my := screen.Denormalize(floatParam(params, "y"), r.height)

	entry := screen.Opposite(clients.Screen(r.cfg.Client.Screen))
	x, y := screen.WarpPoint(entry, r.width, r.height, defaultScreenThreshold, mx, my)
	if err := r.traits.MouseSink.WarpCursor(x, y); err != nil {
		r.logger.Warn("warping cursor on cross_screen", "error", err)
	}
}

// captureLoop observa o movimento local do mouse pela borda de retorno —
// a borda voltada para o server — e a reporta com a posição normalizada
// do eixo cruzado do cursor. Um latch impede a borda de redisparar a
// cada amostra de movimento enquanto o cursor está encostado nela.
func (r *ClientRole) captureLoop(ctx context.Context) {
	if r.traits.Mouse == nil {
		return
	}
	events := r.traits.Mouse.MouseEvents()
	position := clients.Screen(r.cfg.Client.Screen)
	returnEdge := screen.Opposite(position)

	atEdge := false
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Event != "move" {
				continue
			}
			s, onEdge := screen.EdgeAt(ev.X, ev.Y, r.width, r.height, defaultScreenThreshold)
			if !onEdge || s != returnEdge {
				atEdge = false
				continue
			}
			if atEdge {
				continue
			}
			atEdge = true
			r.sendReturn(position, ev.X, ev.Y)
		}
	}
}

func (r *ClientRole) sendReturn(position clients.Screen, x, y float64) {
	var cross float64
	switch position {
	case clients.Left, clients.Right:
		cross = screen.Normalize(y, r.height)
	default:
		cross = screen.Normalize(x, r.width)
	}
	m := &wire.Message{
		Type:      wire.TypeCommand,
		Timestamp: time.Now().Unix(),
		Payload: wire.Payload{
			"command": transport.CommandReturn,
			"params":  wire.Payload{"direction": string(position), "position": cross},
		},
	}
	if err := r.send(m); err != nil {
		r.logger.Warn("sending return edge", "error", err)
	}
}

func floatParam(p wire.Payload, key string) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	default:
		return 0
	}
}

func boolParam(p wire.Payload, key string) bool {
	v, _ := p[key].(bool)
	return v
}

// Status reporta o payload de dados do comando client_status.
func (r *ClientRole) Status() map[string]any {
	return map[string]any{
		"running":          true,
		"server_host":      r.cfg.Server.Address,
		"server_port":      r.cfg.Server.Port,
		"connected":        r.tclient.State() == transport.StateConnected,
		"ssl_enabled":      r.cfg.TLS.Enabled,
		"connection_state": r.tclient.State(),
		"recent_events":    r.bus.Recent(20),
	}
}
