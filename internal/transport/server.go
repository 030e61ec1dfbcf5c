// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/nishisan-dev/screenlink/internal/clients"
	"github.com/nishisan-dev/screenlink/internal/config"
	"github.com/nishisan-dev/screenlink/internal/eventbus"
	"github.com/nishisan-dev/screenlink/internal/pki"
	"github.com/nishisan-dev/screenlink/internal/wire"
)

// exchangeTimeout limita quanto o handshake de configuration exchange
// pode demorar antes do socket aceito ser descartado como sem resposta.
const exchangeTimeout = 5 * time.Second

// Server aceita sockets de client, completa o configuration exchange e
// anexa o resultado ao registry de clients. Mensagens decodificadas
// sobem por OnMessage; ele nunca inspeciona a semântica dos payloads.
type Server struct {
	cfg      *config.ServerConfig
	registry *clients.Registry
	bus      *eventbus.Bus
	logger   *slog.Logger

	onMessage func(screen clients.Screen, m *wire.Message)
}

// NewServer monta um Server ligado a registry para consultas de client e
// a bus para eventos de ciclo de vida (conexão, desconexão, rejeição).
func NewServer(cfg *config.ServerConfig, registry *clients.Registry, bus *eventbus.Bus, logger *slog.Logger, onMessage func(clients.Screen, *wire.Message)) *Server {
	return &Server{cfg: cfg, registry: registry, bus: bus, logger: logger, onMessage: onMessage}
}

// Run faz bind, envelopa com TLS opcionalmente e aceita conexões até ctx
// ser cancelado. Espelha o formato de accept-loop-com-backoff usado nos
// demais componentes de socket deste codebase.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.BindAddress, s.cfg.Server.Port)

	var ln net.Listener
	var err error
	if s.cfg.TLS.Enabled {
		tlsCfg, terr := pki.NewServerTLSConfig(s.cfg.TLS.CACert, s.cfg.TLS.Cert, s.cfg.TLS.Key)
		if terr != nil {
			return fmt.Errorf("transport: configuring TLS: %w", terr)
		}
		ln, err = tls.Listen("tcp", addr, tlsCfg)
	} else {
		ln, err = net.Listen("tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("transport: listening on %s: %w", addr, err)
	}
	defer ln.Close()

	s.logger.Info("transport server listening", "address", addr, "tls", s.cfg.TLS.Enabled)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	consecutiveErrors := 0
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				s.logger.Info("transport server shutdown complete")
				return nil
			default:
				consecutiveErrors++
				s.logger.Error("accepting connection", "error", err, "consecutive_errors", consecutiveErrors)
				if consecutiveErrors > 5 {
					delay := time.Duration(consecutiveErrors) * 100 * time.Millisecond
					if delay > 5*time.Second {
						delay = 5 * time.Second
					}
					time.Sleep(delay)
				}
				continue
			}
		}

		consecutiveErrors = 0
		go s.handleAccepted(conn)
	}
}

func (s *Server) handleAccepted(conn net.Conn) {
	addr := peerIP(conn.RemoteAddr())
	rec := s.registry.ByAddress(addr)
	if rec == nil {
		s.logger.Warn("rejecting connection from unconfigured peer", "address", addr)
		conn.Close()
		return
	}
	if rec.Connected() {
		s.logger.Warn("rejecting duplicate connection", "screen", rec.Screen, "address", addr)
		conn.Close()
		return
	}

	w, h, err := s.exchangeConfiguration(conn)
	if err != nil {
		s.logger.Error("configuration exchange failed", "address", addr, "error", err)
		conn.Close()
		return
	}
	rec.SetSize(w, h)

	c := newConnection(conn, int(s.cfg.Transport.ChunkCapRaw), func(m *wire.Message) {
		if s.onMessage != nil {
			s.onMessage(rec.Screen, m)
		}
	}, func(err error) {
		s.handleDisconnect(rec, err)
	})
	s.registry.Attach(rec, c)

	s.bus.Publish(eventbus.Event{Type: "client_connected", Screen: string(rec.Screen), Message: rec.Name})
	s.logger.Info("client attached", "screen", rec.Screen, "name", rec.Name, "width", w, "height", h)

	go s.healthCheck(rec, c)
}

// exchangeConfiguration executa o lado server do handshake de
// configuração: pede o tamanho de tela do peer e então reporta o
// próprio. A mensagem EXCHANGE sentinela leva payload vazio como
// request; a resposta leva width/height; a réplica do server espelha o
// mesmo formato de volta para que ambos os lados loguem uma troca
// simétrica.
func (s *Server) exchangeConfiguration(conn net.Conn) (width, height int, err error) {
	conn.SetDeadline(time.Now().Add(exchangeTimeout))
	defer conn.SetDeadline(time.Time{})

	request := &wire.Message{Type: wire.TypeExchange, SeqID: 0}
	if err := wire.WriteMessage(conn, request); err != nil {
		return 0, 0, fmt.Errorf("requesting screen size: %w", err)
	}

	reply, err := wire.ReadMessage(conn)
	if err != nil {
		return 0, 0, fmt.Errorf("reading screen size reply: %w", err)
	}
	if reply.Type != wire.TypeExchange {
		return 0, 0, fmt.Errorf("expected exchange reply, got %s", reply.Type)
	}
	width, height, err = decodeSize(reply)
	if err != nil {
		return 0, 0, err
	}

	own := &wire.Message{
		Type:    wire.TypeExchange,
		Payload: wire.Payload{exchangeWidthKey: int64(width), exchangeHeightKey: int64(height)},
	}
	if err := wire.WriteMessage(conn, own); err != nil {
		return 0, 0, fmt.Errorf("acknowledging screen size: %w", err)
	}
	return width, height, nil
}

func (s *Server) healthCheck(rec *clients.Record, c *Connection) {
	ticker := time.NewTicker(s.cfg.Transport.HealthInterval)
	defer ticker.Stop()
	for range ticker.C {
		if !rec.Connected() || rec.Conn() != clients.Conn(c) {
			return
		}
		ping := &wire.Message{Type: wire.TypeCommand, Payload: wire.Payload{"command": CommandPing}}
		if err := c.Send(ping); err != nil {
			s.logger.Warn("health check failed", "screen", rec.Screen, "error", err)
			c.Close()
			return
		}
	}
}

func (s *Server) handleDisconnect(rec *clients.Record, cause error) {
	if !rec.Connected() {
		return
	}
	s.registry.Detach(rec)
	s.bus.Publish(eventbus.Event{Type: "client_disconnected", Screen: string(rec.Screen), Message: errString(cause)})
	s.logger.Info("client detached", "screen", rec.Screen, "name", rec.Name, "cause", errString(cause))
}

func decodeSize(m *wire.Message) (int, int, error) {
	w, ok := m.Payload[exchangeWidthKey].(int64)
	if !ok {
		return 0, 0, errors.New("transport: exchange reply missing width")
	}
	h, ok := m.Payload[exchangeHeightKey].(int64)
	if !ok {
		return 0, 0, errors.New("transport: exchange reply missing height")
	}
	return int(w), int(h), nil
}

func peerIP(addr net.Addr) string {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return strings.TrimSuffix(host, "%")
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
