// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nishisan-dev/screenlink/internal/bus"
	"github.com/nishisan-dev/screenlink/internal/capability"
	"github.com/nishisan-dev/screenlink/internal/clients"
	"github.com/nishisan-dev/screenlink/internal/config"
	"github.com/nishisan-dev/screenlink/internal/discovery"
	"github.com/nishisan-dev/screenlink/internal/eventbus"
	"github.com/nishisan-dev/screenlink/internal/filexfer"
	"github.com/nishisan-dev/screenlink/internal/screen"
	"github.com/nishisan-dev/screenlink/internal/transport"
	"github.com/nishisan-dev/screenlink/internal/wire"
)

// defaultScreenWidth/Height/Threshold substituem um probe real de display
// quando nenhum capability.ScreenSizeProbe foi injetado: a máquina de
// estados de tela raciocina então sobre um canvas virtual fixo. Um build
// de plataforma fornece valores reais via capability.Traits.ScreenSize.
const (
	defaultScreenWidth     = 1920.0
	defaultScreenHeight    = 1080.0
	defaultScreenThreshold = 10.0
)

// ServerRole amarra todas as peças do lado server: o registry de clients,
// a máquina de estados de transição de tela, o accept loop do transport,
// um pipeline de message bus (demux na entrada, fila de prioridade na
// saída) por tela conectada, o loop de captura de input local e o
// coordenador de transferência de arquivos. É criado do zero a cada
// start_server e descartado no stop_server.
type ServerRole struct {
	cfg       *config.ServerConfig
	logger    *slog.Logger
	bus       *eventbus.Bus
	registry  *clients.Registry
	machine   *screen.Machine
	filexfer  *filexfer.ServerCoordinator
	tserver   *transport.Server
	publisher *discovery.Publisher

	traits     capability.Traits
	streams    *streamGate
	width      float64
	height     float64
	threshold  float64
	mouseBatch *bus.Batcher
	keyBatch   *bus.Batcher

	mu          sync.Mutex
	demuxCancel map[clients.Screen]context.CancelFunc
	queues      map[clients.Screen]*bus.SendQueue
	demuxes     map[clients.Screen]*bus.Demux

	ctx    context.Context
	cancel context.CancelFunc
	runErr chan error
}

// NewServerRole monta um ServerRole ocioso; Start começa a aceitar
// conexões. traits carrega os bindings de captura/injeção que este build
// tiver — campos nil simplesmente deixam aquele stream de input inerte.
func NewServerRole(cfg *config.ServerConfig, logger *slog.Logger, traits capability.Traits) *ServerRole {
	logger = logger.With("role", "server")
	ebus := eventbus.New(256, 200)
	registry := clients.NewRegistry(cfg.Clients)

	width, height := defaultScreenWidth, defaultScreenHeight
	if traits.ScreenSize != nil {
		if w, h, err := traits.ScreenSize.ScreenSize(); err == nil && w > 0 && h > 0 {
			width, height = float64(w), float64(h)
		}
	}
	machine := screen.NewMachine(registry, ebus, traits, width, height, defaultScreenThreshold)

	r := &ServerRole{
		cfg:         cfg,
		logger:      logger,
		bus:         ebus,
		registry:    registry,
		machine:     machine,
		traits:      traits,
		streams:     newStreamGate(),
		width:       width,
		height:      height,
		threshold:   defaultScreenThreshold,
		demuxCancel: make(map[clients.Screen]context.CancelFunc),
		queues:      make(map[clients.Screen]*bus.SendQueue),
		demuxes:     make(map[clients.Screen]*bus.Demux),
		runErr:      make(chan error, 1),
	}

	r.mouseBatch = bus.NewBatcher(wire.TypeMouse, cfg.Bus.MouseBatchCount, cfg.Bus.MouseBatchInterval, r.flushBatch)
	r.keyBatch = bus.NewBatcher(wire.TypeKeyboard, cfg.Bus.KeyBatchCount, cfg.Bus.KeyBatchInterval, r.flushBatch)

	r.filexfer = filexfer.NewServerCoordinator(registry, ebus, r.queueSend, logger, cfg.FileXfer)

	r.tserver = transport.NewServer(cfg, registry, ebus, logger, r.onMessage)
	ebus.Subscribe(r.onEvent)

	return r
}

// Start dispara o accept loop, as tasks de guarda da máquina de tela, o
// loop de captura local e a publicação mDNS opcional. Retorna nil logo
// após disparar o accept loop em background, sem esperar o bind do
// listener; uma falha de bind não é reportada por Start.
func (r *ServerRole) Start(parent context.Context) error {
	r.ctx, r.cancel = context.WithCancel(parent)
	r.machine.Start()

	if r.cfg.Discovery.Enabled {
		// Apenas consultivo: a checagem de conflito autoritativa continua
		// sendo o bind do listener, mas pular portas que outras instâncias
		// já anunciam evita a maioria das colisões de antemão.
		port, err := discovery.ResolvePort(r.ctx, r.cfg.Discovery.AppName, r.cfg.Server.Port, time.Second)
		if err == nil && port != r.cfg.Server.Port {
			r.logger.Info("port already advertised, moving", "configured", r.cfg.Server.Port, "using", port)
			r.cfg.Server.Port = port
		}

		pub, err := discovery.Publish(r.cfg.Discovery.AppName, r.cfg.Server.BindAddress, r.cfg.Server.Name, r.cfg.Server.Port)
		if err != nil {
			r.logger.Warn("mdns publish failed", "error", err)
		} else {
			r.publisher = pub
		}
	}

	go r.captureLoop(r.ctx)

	go func() {
		r.runErr <- r.tserver.Run(r.ctx)
	}()

	return nil
}

// Stop encerra toda task em background que este papel iniciou.
func (r *ServerRole) Stop() {
	r.mouseBatch.FlushAll()
	r.keyBatch.FlushAll()

	// Avisa os clients conectados que este é um stop deliberado, não um
	// crash, para que reportem uma desconexão limpa. Best effort.
	bye := &wire.Message{
		Type:      wire.TypeCommand,
		Timestamp: time.Now().Unix(),
		Payload:   wire.Payload{"command": transport.CommandDisconnect},
	}
	for _, rec := range r.registry.All() {
		if rec.Connected() {
			_ = r.sendTo(rec.Screen, bye)
		}
	}

	if r.cancel != nil {
		r.cancel()
	}
	r.machine.Stop()
	if r.publisher != nil {
		r.publisher.Close()
	}
	r.bus.Stop()
	select {
	case <-r.runErr:
	default:
	}
}

func (r *ServerRole) onEvent(e eventbus.Event) {
	switch e.Type {
	case "client_connected":
		r.attachPipeline(clients.Screen(e.Screen))
	case "client_disconnected":
		r.detachPipeline(clients.Screen(e.Screen))
		r.machine.ClientDisconnected(clients.Screen(e.Screen))
		r.filexfer.ClientDisconnected(clients.Screen(e.Screen))
	case "screen_transition":
		if e.Screen != "" && e.Screen != "none" {
			r.notifyCrossScreen(clients.Screen(e.Screen))
		}
	}
}

// notifyCrossScreen informa ao client que passa a receber input onde o
// cursor cruzou, em forma normalizada, para que ele posicione o próprio
// cursor no ponto de entrada correspondente.
func (r *ServerRole) notifyCrossScreen(s clients.Screen) {
	x, y := r.machine.Position()
	m := &wire.Message{
		Type:      wire.TypeCommand,
		Timestamp: time.Now().Unix(),
		Target:    string(s),
		Payload: wire.Payload{
			"command": transport.CommandCrossScreen,
			"params": wire.Payload{
				"x": screen.Normalize(x, r.width),
				"y": screen.Normalize(y, r.height),
			},
		},
	}
	r.enqueue(s, m)
}

// captureLoop drena os traits de captura local: movimento do mouse
// alimenta a detecção de borda enquanto o input é local e o batcher de
// mouse enquanto uma tela remota está ativa; eventos de teclado alimentam
// o batcher de teclado; mudanças de clipboard são difundidas a todos os
// clients.
func (r *ServerRole) captureLoop(ctx context.Context) {
	var mouseCh <-chan capability.MouseEvent
	var keyCh <-chan capability.KeyEvent
	var clipCh <-chan capability.ClipboardContent
	if r.traits.Mouse != nil {
		mouseCh = r.traits.Mouse.MouseEvents()
	}
	if r.traits.Keyboard != nil {
		keyCh = r.traits.Keyboard.KeyEvents()
	}
	if r.traits.Clipboard != nil {
		clipCh = r.traits.Clipboard.ClipboardChanges()
	}
	if mouseCh == nil && keyCh == nil && clipCh == nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-mouseCh:
			if !ok {
				mouseCh = nil
				continue
			}
			r.handleLocalMouse(ev)
		case ev, ok := <-keyCh:
			if !ok {
				keyCh = nil
				continue
			}
			r.handleLocalKey(ev)
		case content, ok := <-clipCh:
			if !ok {
				clipCh = nil
				continue
			}
			r.broadcastClipboard(content, "")
		}
	}
}

func (r *ServerRole) handleLocalMouse(ev capability.MouseEvent) {
	r.machine.UpdatePosition(ev.X, ev.Y)

	active := r.machine.Active()
	if active == nil {
		if ev.Event == "move" {
			if s, ok := screen.EdgeAt(ev.X, ev.Y, r.width, r.height, r.threshold); ok {
				r.machine.EdgeCrossed(s)
			}
		}
		return
	}
	if !r.streams.enabled("mouse") {
		return
	}

	r.mouseBatch.Add(string(*active), wire.Payload{
		"x":          screen.Normalize(ev.X, r.width),
		"y":          screen.Normalize(ev.Y, r.height),
		"dx":         ev.DX,
		"dy":         ev.DY,
		"button":     ev.Button,
		"event":      ev.Event,
		"is_pressed": ev.IsPressed,
	})
}

func (r *ServerRole) handleLocalKey(ev capability.KeyEvent) {
	active := r.machine.Active()
	if active == nil || !r.streams.enabled("keyboard") {
		return
	}
	r.keyBatch.Add(string(*active), wire.Payload{"key": ev.Key, "event": ev.Event})
}

// broadcastClipboard empurra o novo conteúdo de clipboard a todo client
// conectado exceto a tela de origem, para que o cluster inteiro
// compartilhe um único clipboard.
func (r *ServerRole) broadcastClipboard(content capability.ClipboardContent, except clients.Screen) {
	if !r.streams.enabled("clipboard") {
		return
	}
	m := &wire.Message{
		Type:      wire.TypeClipboard,
		Timestamp: time.Now().Unix(),
		Payload:   wire.Payload{"content": content.Content, "content_type": content.ContentType},
	}
	for _, rec := range r.registry.All() {
		if rec.Screen == except || !rec.Connected() {
			continue
		}
		r.enqueue(rec.Screen, m)
	}
}

func (r *ServerRole) handleClientClipboard(from clients.Screen, m *wire.Message) {
	content, _ := m.Payload["content"].(string)
	ctype, _ := m.Payload["content_type"].(string)

	if r.traits.ClipSink != nil {
		if err := r.traits.ClipSink.SetClipboard(capability.ClipboardContent{Content: content, ContentType: ctype}); err != nil {
			r.logger.Warn("setting local clipboard", "from", from, "error", err)
		}
	}
	r.broadcastClipboard(capability.ClipboardContent{Content: content, ContentType: ctype}, from)
}

func (r *ServerRole) attachPipeline(s clients.Screen) {
	ctx, cancel := context.WithCancel(r.ctx)

	onClipboard := func(m *wire.Message) {
		if r.streams.enabled("clipboard") {
			r.handleClientClipboard(s, m)
		}
	}
	onFile := func(m *wire.Message) {
		if r.streams.enabled("file") {
			r.filexfer.HandleFile(s, m)
		}
	}
	onCommand := func(m *wire.Message) {
		cmd, _ := m.Payload["command"].(string)
		switch cmd {
		case transport.CommandFileCopied:
			r.filexfer.HandleClientCopied(s, m)
		case transport.CommandFileRequest:
			if r.streams.enabled("file") {
				r.filexfer.HandleClientRequest(s, m)
			}
		case transport.CommandReturn:
			if params, ok := m.Payload["params"].(wire.Payload); ok {
				if pos, ok := params["position"].(float64); ok {
					r.machine.ReturnEdgeAt(s, pos)
					return
				}
			}
			r.machine.ReturnEdge(s)
		}
	}
	demux := bus.NewDemux(ctx, r.cfg.Bus.QueueDepth, r.logger, noop, noop, onClipboard, onFile, onCommand, noop)
	queue := bus.NewSendQueue(ctx, r.cfg.Bus.QueueDepth, func(m *wire.Message) error {
		return r.sendTo(s, m)
	})

	r.mu.Lock()
	r.demuxCancel[s] = cancel
	r.queues[s] = queue
	r.demuxes[s] = demux
	r.mu.Unlock()
}

func (r *ServerRole) detachPipeline(s clients.Screen) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cancel, ok := r.demuxCancel[s]; ok {
		cancel()
		delete(r.demuxCancel, s)
	}
	delete(r.queues, s)
	delete(r.demuxes, s)
}

// queueSend é a SendFunc entregue ao coordenador de arquivos: roteia pela
// fila de prioridade da tela (chunks de arquivo entram na prioridade 5,
// abaixo de input e clipboard), caindo para envio direto quando nenhum
// pipeline está anexado.
func (r *ServerRole) queueSend(s clients.Screen, m *wire.Message) error {
	r.mu.Lock()
	q := r.queues[s]
	r.mu.Unlock()

	if q == nil {
		return r.sendTo(s, m)
	}
	return q.Enqueue(m)
}

// enqueue é queueSend para chamadores que não propagam erro: falhas são
// apenas logadas e a mensagem descartada.
func (r *ServerRole) enqueue(s clients.Screen, m *wire.Message) {
	if err := r.queueSend(s, m); err != nil {
		r.logger.Warn("dropping outbound message", "screen", s, "type", m.Type.String(), "error", err)
	}
}

func (r *ServerRole) flushBatch(m *wire.Message) {
	r.enqueue(clients.Screen(m.Target), m)
}

func (r *ServerRole) sendTo(s clients.Screen, m *wire.Message) error {
	rec := r.registry.ByScreen(s)
	if rec == nil || !rec.Connected() {
		return fmt.Errorf("daemon: screen %q is not connected", s)
	}
	conn, ok := rec.Conn().(*transport.Connection)
	if !ok {
		return fmt.Errorf("daemon: screen %q has no sendable connection", s)
	}
	return conn.Send(m)
}

func (r *ServerRole) onMessage(s clients.Screen, m *wire.Message) {
	r.mu.Lock()
	d := r.demuxes[s]
	r.mu.Unlock()
	if d != nil {
		d.Dispatch(m)
	}
}

func noop(*wire.Message) {}

// Status reporta o payload de dados do comando server_status.
func (r *ServerRole) Status() map[string]any {
	connected := 0
	for _, rec := range r.registry.All() {
		if rec.Connected() {
			connected++
		}
	}
	return map[string]any{
		"running":            true,
		"host":               r.cfg.Server.BindAddress,
		"port":               r.cfg.Server.Port,
		"connected_clients":  connected,
		"registered_clients": len(r.registry.All()),
		"ssl_enabled":        r.cfg.TLS.Enabled,
		"active_screen":      activeScreenLabel(r.machine),
		"recent_events":      r.bus.Recent(20),
	}
}

func activeScreenLabel(m *screen.Machine) string {
	if s := m.Active(); s != nil {
		return string(*s)
	}
	return "none"
}
