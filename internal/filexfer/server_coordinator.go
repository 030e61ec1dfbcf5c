// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package filexfer

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/nishisan-dev/screenlink/internal/clients"
	"github.com/nishisan-dev/screenlink/internal/config"
	"github.com/nishisan-dev/screenlink/internal/eventbus"
	"github.com/nishisan-dev/screenlink/internal/logging"
	"github.com/nishisan-dev/screenlink/internal/wire"
)

// inbound emparelha um Receiver com o arquivo de log dedicado aberto
// para ele, para que finishInbound feche o arquivo e decida mantê-lo ou
// removê-lo quando a transferência resolver.
type inbound struct {
	recv   *Receiver
	logger *slog.Logger
	closer io.Closer
	name   string
}

// SendFunc entrega m à conexão da tela nomeada. O papel server a amarra
// como uma closure sobre seu clients.Registry, de modo que este package
// nunca precisa de referência direta ao tipo de conexão de
// internal/transport.
type SendFunc func(screen clients.Screen, m *wire.Message) error

// ServerCoordinator possui o registro de posse de arquivo do lado
// server, o estado de bridge que encaminha uma transferência entre dois
// clients sem interpretá-la, e o conjunto de transferências de entrada
// sendo recebidas diretamente pelo server (no máximo uma por tela
// remetente).
type ServerCoordinator struct {
	mu     sync.Mutex
	owner  Record
	bridge *Bridge
	active map[clients.Screen]*inbound

	registry *clients.Registry
	bus      *eventbus.Bus
	send     SendFunc
	logger   *slog.Logger
	cfg      config.FileXferConfig
}

// NewServerCoordinator monta um ServerCoordinator. cfg fornece
// compressão, cap de banda, tolerância a stall e o diretório de download
// usado quando o próprio server é o solicitante.
func NewServerCoordinator(registry *clients.Registry, bus *eventbus.Bus, send SendFunc, logger *slog.Logger, cfg config.FileXferConfig) *ServerCoordinator {
	return &ServerCoordinator{
		active:   make(map[clients.Screen]*inbound),
		registry: registry,
		bus:      bus,
		send:     send,
		logger:   logger.With("component", "filexfer_server"),
		cfg:      cfg,
	}
}

// Status retorna um snapshot do registro de posse atual, para o comando
// de status do daemon.
func (c *ServerCoordinator) Status() Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.owner
}

// LocalCopy grava uma cópia feita no próprio host server e difunde a
// posse para todo client conectado.
func (c *ServerCoordinator) LocalCopy(name string, size int64, path string) {
	c.mu.Lock()
	c.owner = Record{Kind: OwnerServer, Name: name, Size: size, Path: path}
	c.bridge = nil
	c.mu.Unlock()

	c.broadcast(fileCopiedMessage(name, size, path), "")
	c.bus.Publish(eventbus.Event{Type: "file_copied", Message: name})
}

// HandleClientCopied processa um comando file_copied recebido da tela
// from: grava a posse sob aquela tela e redifunde para todos os outros
// clients conectados.
func (c *ServerCoordinator) HandleClientCopied(from clients.Screen, m *wire.Message) {
	name, _ := m.Payload["name"].(string)
	size, _ := m.Payload["size"].(int64)
	path, _ := m.Payload["path"].(string)

	c.mu.Lock()
	c.owner = Record{Kind: OwnerClient, Screen: from, Name: name, Size: size, Path: path}
	c.bridge = nil
	c.mu.Unlock()

	c.broadcast(fileCopiedMessage(name, size, path), string(from))
	c.bus.Publish(eventbus.Event{Type: "file_copied", Screen: string(from), Message: name})
}

func (c *ServerCoordinator) broadcast(m *wire.Message, except string) {
	for _, rec := range c.registry.All() {
		if string(rec.Screen) == except || !rec.Connected() {
			continue
		}
		if err := c.send(rec.Screen, m); err != nil {
			c.logger.Warn("broadcasting file_copied", "screen", rec.Screen, "error", err)
		}
	}
}

// LocalPasteRequest resolve um paste feito no próprio host server: um
// arquivo possuído pelo server não exige ida à rede, enquanto um
// possuído por um client é pedido àquele client diretamente (nenhum
// bridge envolvido — o server é o solicitante).
func (c *ServerCoordinator) LocalPasteRequest() error {
	c.mu.Lock()
	owner := c.owner
	c.mu.Unlock()

	switch owner.Kind {
	case OwnerNone:
		return errNoFileCopied
	case OwnerServer:
		return nil
	case OwnerClient:
		return c.send(owner.Screen, fileRequestMessage())
	default:
		return nil
	}
}

// HandleClientRequest processa um comando file_request recebido da tela
// from, resolvendo-o contra o registro de posse atual: servido
// localmente, bridgeado por outro client, ou rejeitado se nada foi
// registrado ainda.
func (c *ServerCoordinator) HandleClientRequest(from clients.Screen, _ *wire.Message) {
	c.mu.Lock()
	owner := c.owner
	c.mu.Unlock()

	switch owner.Kind {
	case OwnerNone:
		c.logger.Warn("file request with no registered file", "requester", from)

	case OwnerServer:
		c.serveLocal(from, owner)

	case OwnerClient:
		if owner.Screen == from {
			c.logger.Warn("client requested the file it owns itself", "requester", from)
			return
		}
		c.startBridge(owner.Screen, from)

	default:
		c.logger.Warn("file request against an unexpected ownership state", "requester", from, "kind", owner.Kind)
	}
}

func (c *ServerCoordinator) serveLocal(to clients.Screen, owner Record) {
	codec, err := NewCodec(c.cfg.Compression)
	if err != nil {
		c.logger.Error("resolving compression codec", "error", err)
		return
	}
	streamer := NewStreamer(codec, c.cfg.Compression, DefaultChunkSize, c.cfg.BandwidthRaw)
	go func() {
		if err := streamer.Stream(context.Background(), owner.Path, func(m *wire.Message) error {
			return c.send(to, m)
		}); err != nil {
			c.logger.Error("streaming local file", "to", to, "error", err)
		}
	}()
}

func (c *ServerCoordinator) startBridge(owner, requester clients.Screen) {
	rec := c.registry.ByScreen(owner)
	if rec == nil || !rec.Connected() {
		c.logger.Warn("bridge owner is not connected", "owner", owner)
		return
	}

	c.mu.Lock()
	c.bridge = &Bridge{Owner: owner, Requester: requester}
	c.mu.Unlock()

	if err := c.send(owner, fileRequestMessage()); err != nil {
		c.logger.Error("forwarding file request to bridge owner", "owner", owner, "error", err)
		c.mu.Lock()
		c.bridge = nil
		c.mu.Unlock()
	}
}

// HandleFile processa uma mensagem file_start/file_chunk/file_end
// chegando no stream FILE da tela from: mensagens em bridge são
// encaminhadas ao solicitante byte a byte sem inspecionar nada além da
// tag de comando; todo o resto pertence a uma transferência em que o
// próprio server é o solicitante.
func (c *ServerCoordinator) HandleFile(from clients.Screen, m *wire.Message) {
	c.mu.Lock()
	bridge := c.bridge
	c.mu.Unlock()

	if bridge != nil && bridge.Owner == from {
		if err := c.send(bridge.Requester, m); err != nil {
			c.logger.Error("bridging file message", "owner", from, "requester", bridge.Requester, "error", err)
		}
		if cmd, _ := m.Payload["command"].(string); cmd == cmdFileEnd {
			c.mu.Lock()
			c.bridge = nil
			c.mu.Unlock()
		}
		return
	}

	c.handleInbound(from, m)
}

func (c *ServerCoordinator) handleInbound(from clients.Screen, m *wire.Message) {
	cmd, _ := m.Payload["command"].(string)
	switch cmd {
	case cmdFileStart:
		name, _ := m.Payload["name"].(string)
		size, _ := m.Payload["size"].(int64)
		compression, _ := m.Payload["compression"].(string)

		codec, err := NewCodec(compression)
		if err != nil {
			c.logger.Error("unknown compression in file_start", "from", from, "error", err)
			return
		}
		recv, err := NewReceiver(c.cfg.DownloadDir, name, size, codec)
		if err != nil {
			c.logger.Error("starting inbound transfer", "from", from, "error", err)
			return
		}
		xferLog, closer, logPath, err := logging.NewSessionLogger(c.logger, c.cfg.TransferLogDir, string(from), name)
		if err != nil {
			c.logger.Warn("opening transfer log", "from", from, "error", err)
			xferLog, closer = c.logger, io.NopCloser(nil)
		}
		xferLog.Info("inbound transfer started", "from", from, "name", name, "size", size, "log_path", logPath)

		c.mu.Lock()
		if _, busy := c.active[from]; busy {
			c.mu.Unlock()
			c.logger.Warn("rejecting concurrent inbound transfer", "from", from)
			recv.abort()
			closer.Close()
			return
		}
		c.active[from] = &inbound{recv: recv, logger: xferLog, closer: closer, name: name}
		c.mu.Unlock()

	case cmdFileChunk:
		c.mu.Lock()
		in := c.active[from]
		c.mu.Unlock()
		if in == nil {
			return
		}
		index, _ := m.Payload["chunk_index"].(int64)
		data, _ := m.Payload["data"].(string)
		if err := in.recv.WriteChunk(index, data); err != nil {
			in.logger.Error("writing file chunk", "index", index, "error", err)
		}

	case cmdFileEnd:
		c.mu.Lock()
		in := c.active[from]
		delete(c.active, from)
		c.mu.Unlock()
		if in == nil {
			return
		}
		go c.finishInbound(from, in)
	}
}

func (c *ServerCoordinator) finishInbound(from clients.Screen, in *inbound) {
	defer in.closer.Close()

	path, err := in.recv.WaitComplete(context.Background(), c.cfg.StallPollCount, c.cfg.StallPollPeriod)
	if err != nil {
		in.logger.Error("file transfer failed", "from", from, "error", err)
		c.bus.Publish(eventbus.Event{Type: "file_transfer_failed", Screen: string(from), Message: err.Error()})
		return
	}
	in.logger.Info("file transfer complete", "from", from, "path", path)
	c.bus.Publish(eventbus.Event{Type: "file_transfer_complete", Screen: string(from), Message: path})
	logging.RemoveSessionLog(c.cfg.TransferLogDir, string(from), in.name)
}

// ClientDisconnected limpa qualquer estado de bridge envolvendo a tela
// que desconectou e notifica o lado solicitante, best effort.
func (c *ServerCoordinator) ClientDisconnected(s clients.Screen) {
	c.mu.Lock()
	bridge := c.bridge
	if bridge != nil && (bridge.Owner == s || bridge.Requester == s) {
		c.bridge = nil
	}
	in, hadInbound := c.active[s]
	delete(c.active, s)
	c.mu.Unlock()

	if hadInbound {
		in.recv.abort()
		in.closer.Close()
	}

	if bridge == nil || bridge.Owner != s {
		return
	}
	failure := &wire.Message{
		Type:      wire.TypeCommand,
		Timestamp: time.Now().Unix(),
		Payload:   wire.Payload{"command": cmdFileEnd, "error": "bridge owner disconnected"},
	}
	if err := c.send(bridge.Requester, failure); err != nil {
		c.logger.Warn("notifying bridge requester of owner disconnect", "requester", bridge.Requester, "error", err)
	}
}
