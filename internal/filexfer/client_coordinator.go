// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package filexfer

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/nishisan-dev/screenlink/internal/config"
	"github.com/nishisan-dev/screenlink/internal/eventbus"
	"github.com/nishisan-dev/screenlink/internal/logging"
	"github.com/nishisan-dev/screenlink/internal/wire"
)

// ClientCoordinator é a metade client do protocolo de transferência de
// arquivos: um client só fala com o server, então seus estados de posse
// e transferência não são chaveados (no máximo um peer, no máximo um de
// cada).
type ClientCoordinator struct {
	mu     sync.Mutex
	owner  Record
	active *inbound

	bus    *eventbus.Bus
	send   func(*wire.Message) error
	logger *slog.Logger
	cfg    config.FileXferConfig
}

// NewClientCoordinator monta um ClientCoordinator. send entrega uma
// mensagem ao server pela única conexão de transport do client.
func NewClientCoordinator(bus *eventbus.Bus, send func(*wire.Message) error, logger *slog.Logger, cfg config.FileXferConfig) *ClientCoordinator {
	return &ClientCoordinator{
		bus:    bus,
		send:   send,
		logger: logger.With("component", "filexfer_client"),
		cfg:    cfg,
	}
}

// Status retorna um snapshot do registro de posse atual, para o comando
// de status do daemon.
func (c *ClientCoordinator) Status() Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.owner
}

// LocalCopy grava uma cópia feita neste host client e a reporta ao
// server para broadcast de alcance de rede.
func (c *ClientCoordinator) LocalCopy(name string, size int64, path string) error {
	c.mu.Lock()
	c.owner = Record{Kind: OwnerLocalClient, Name: name, Size: size, Path: path}
	c.mu.Unlock()
	return c.send(fileCopiedMessage(name, size, path))
}

// HandleCommand processa um comando file_copied ou file_request recebido
// do server.
func (c *ClientCoordinator) HandleCommand(m *wire.Message) {
	cmd, _ := m.Payload["command"].(string)
	switch cmd {
	case cmdFileCopied:
		name, _ := m.Payload["name"].(string)
		size, _ := m.Payload["size"].(int64)
		c.mu.Lock()
		c.owner = Record{Kind: OwnerExternal, Name: name, Size: size}
		c.mu.Unlock()
		c.bus.Publish(eventbus.Event{Type: "file_copied", Message: name})

	case cmdFileRequest:
		c.serveOwned()
	}
}

func (c *ClientCoordinator) serveOwned() {
	c.mu.Lock()
	owner := c.owner
	c.mu.Unlock()

	if owner.Kind != OwnerLocalClient {
		c.logger.Warn("file request received but this host does not own the file")
		return
	}

	codec, err := NewCodec(c.cfg.Compression)
	if err != nil {
		c.logger.Error("resolving compression codec", "error", err)
		return
	}
	streamer := NewStreamer(codec, c.cfg.Compression, DefaultChunkSize, c.cfg.BandwidthRaw)
	go func() {
		if err := streamer.Stream(context.Background(), owner.Path, c.send); err != nil {
			c.logger.Error("streaming file to server", "error", err)
		}
	}()
}

// HandleFile processa uma mensagem file_start/file_chunk/file_end
// recebida do server: uma transferência direta ou a ponta final de um
// bridge que o server montou em nome deste client — indistinguíveis, e
// deliberadamente, do ponto de vista do client.
func (c *ClientCoordinator) HandleFile(m *wire.Message) {
	cmd, _ := m.Payload["command"].(string)
	switch cmd {
	case cmdFileStart:
		name, _ := m.Payload["name"].(string)
		size, _ := m.Payload["size"].(int64)
		compression, _ := m.Payload["compression"].(string)

		codec, err := NewCodec(compression)
		if err != nil {
			c.logger.Error("unknown compression in file_start", "error", err)
			return
		}
		recv, err := NewReceiver(c.cfg.DownloadDir, name, size, codec)
		if err != nil {
			c.logger.Error("starting inbound transfer", "error", err)
			return
		}
		xferLog, closer, logPath, err := logging.NewSessionLogger(c.logger, c.cfg.TransferLogDir, "client", name)
		if err != nil {
			c.logger.Warn("opening transfer log", "error", err)
			xferLog, closer = c.logger, io.NopCloser(nil)
		}
		xferLog.Info("inbound transfer started", "name", name, "size", size, "log_path", logPath)

		c.mu.Lock()
		if c.active != nil {
			c.mu.Unlock()
			c.logger.Warn("rejecting concurrent inbound transfer")
			recv.abort()
			closer.Close()
			return
		}
		c.active = &inbound{recv: recv, logger: xferLog, closer: closer, name: name}
		c.mu.Unlock()

	case cmdFileChunk:
		c.mu.Lock()
		in := c.active
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
		in := c.active
		c.active = nil
		c.mu.Unlock()
		if in == nil {
			return
		}
		go c.finishInbound(in)
	}
}

func (c *ClientCoordinator) finishInbound(in *inbound) {
	defer in.closer.Close()

	path, err := in.recv.WaitComplete(context.Background(), c.cfg.StallPollCount, c.cfg.StallPollPeriod)
	if err != nil {
		in.logger.Error("file transfer failed", "error", err)
		c.bus.Publish(eventbus.Event{Type: "file_transfer_failed", Message: err.Error()})
		return
	}
	in.logger.Info("file transfer complete", "path", path)
	c.bus.Publish(eventbus.Event{Type: "file_transfer_complete", Message: path})
	logging.RemoveSessionLog(c.cfg.TransferLogDir, "client", in.name)
}

// LocalPasteRequest resolve um paste feito neste host client: um arquivo
// que este client já possui não exige ida à rede, enquanto um de posse
// externa é pedido ao server, que resolve a fonte real de forma
// transparente (ele próprio, ou bridgeado de outro client).
func (c *ClientCoordinator) LocalPasteRequest() error {
	c.mu.Lock()
	owner := c.owner
	c.mu.Unlock()

	switch owner.Kind {
	case OwnerNone:
		return errNoFileCopied
	case OwnerLocalClient:
		return nil
	case OwnerExternal:
		return c.send(fileRequestMessage())
	default:
		return nil
	}
}
