// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nishisan-dev/screenlink/internal/config"
	"github.com/nishisan-dev/screenlink/internal/discovery"
	"github.com/nishisan-dev/screenlink/internal/eventbus"
	"github.com/nishisan-dev/screenlink/internal/pki"
	"github.com/nishisan-dev/screenlink/internal/wire"
)

// Constantes de estado do client, espelhando o ciclo de vida de conexão
// que um registro server-side atravessa, mas observado do próprio lado
// do client.
const (
	StateDisconnected = "disconnected"
	StateConnecting   = "connecting"
	StateConnected    = "connected"
)

// dialTimeout limita o handshake TCP/TLS inicial.
const dialTimeout = 10 * time.Second

// SizeProvider retorna as dimensões da tela local deste host, amostradas
// a cada configuration exchange (um client pode rodar num display que
// muda de resolução entre reconexões).
type SizeProvider func() (width, height int)

// Client resolve o server (configurado direto ou via descoberta),
// completa o configuration exchange e mantém um único loop de leitura
// rodando, reconectando no próprio ritmo quando o socket cai.
type Client struct {
	cfg    *config.ClientConfig
	bus    *eventbus.Bus
	logger *slog.Logger
	size   SizeProvider

	onMessage func(*wire.Message)

	state atomic.Value // string

	mu       sync.Mutex
	conn     *Connection
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewClient monta um Client. size é amostrado a cada (re)conexão para
// responder ao request de configuration exchange do server.
func NewClient(cfg *config.ClientConfig, bus *eventbus.Bus, logger *slog.Logger, size SizeProvider, onMessage func(*wire.Message)) *Client {
	c := &Client{
		cfg:       cfg,
		bus:       bus,
		logger:    logger.With("component", "transport_client"),
		size:      size,
		onMessage: onMessage,
		stopCh:    make(chan struct{}),
	}
	c.state.Store(StateDisconnected)
	return c
}

// State retorna o estado atual da conexão.
func (c *Client) State() string { return c.state.Load().(string) }

// Send escreve m na conexão atual, ou retorna erro se está desconectado.
func (c *Client) Send(m *wire.Message) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("transport: client not connected")
	}
	return conn.Send(m)
}

// Start inicia o loop de resolve/connect/reconnect em background.
func (c *Client) Start(ctx context.Context) {
	c.wg.Add(1)
	go c.run(ctx)
}

// Stop encerra o loop de reconexão e fecha qualquer conexão viva.
func (c *Client) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.mu.Unlock()
	c.wg.Wait()
	c.state.Store(StateDisconnected)
}

func (c *Client) run(ctx context.Context) {
	defer c.wg.Done()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		c.state.Store(StateConnecting)
		conn, err := c.connect(ctx)
		if err != nil {
			c.logger.Warn("connect failed", "error", err, "retry_in", c.cfg.Transport.ReconnectInterval)
			c.bus.Publish(eventbus.Event{Type: "server_connect_failed", Message: err.Error()})
			c.state.Store(StateDisconnected)

			select {
			case <-c.stopCh:
				return
			case <-ctx.Done():
				return
			case <-time.After(c.cfg.Transport.ReconnectInterval):
			}
			continue
		}

		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
		c.state.Store(StateConnected)
		c.bus.Publish(eventbus.Event{Type: "server_connected"})
		c.logger.Info("connected to server")

		c.waitDisconnected(conn)

		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		c.state.Store(StateDisconnected)
		c.bus.Publish(eventbus.Event{Type: "server_disconnected"})
		c.logger.Info("disconnected from server, will retry")

		select {
		case <-c.stopCh:
			return
		case <-ctx.Done():
			return
		case <-time.After(c.cfg.Transport.ReconnectInterval):
		}
	}
}

// resolveAddress retorna o host:port a discar, vindo da configuração
// estática ou da descoberta mDNS quando nenhum endereço está
// configurado.
func (c *Client) resolveAddress(ctx context.Context) (string, error) {
	if c.cfg.Server.Address != "" {
		port := c.cfg.Server.Port
		if port == 0 {
			port = 24800
		}
		return fmt.Sprintf("%s:%d", c.cfg.Server.Address, port), nil
	}

	instances, err := discovery.Browse(ctx, c.cfg.Discovery.AppName, c.cfg.Discovery.WaitTimeout)
	if err != nil {
		return "", fmt.Errorf("discovering server: %w", err)
	}
	if len(instances) == 0 {
		return "", fmt.Errorf("no server found advertising %q", c.cfg.Discovery.AppName)
	}
	inst := instances[0]
	return fmt.Sprintf("%s:%d", inst.Address, inst.Port), nil
}

func (c *Client) connect(ctx context.Context) (*Connection, error) {
	addr, err := c.resolveAddress(ctx)
	if err != nil {
		return nil, err
	}

	var rawConn net.Conn
	dialer := &net.Dialer{Timeout: dialTimeout}
	if c.cfg.TLS.Enabled {
		tlsCfg, err := pki.NewClientTLSConfig(c.cfg.TLS.CACert, c.cfg.TLS.ClientCert, c.cfg.TLS.ClientKey)
		if err != nil {
			return nil, err
		}
		host, _, splitErr := net.SplitHostPort(addr)
		if splitErr == nil {
			tlsCfg.ServerName = host
		}
		rawConn, err = tls.DialWithDialer(dialer, "tcp", addr, tlsCfg)
		if err != nil {
			return nil, err
		}
	} else {
		rawConn, err = dialer.Dial("tcp", addr)
		if err != nil {
			return nil, err
		}
	}

	if err := c.exchangeConfiguration(rawConn); err != nil {
		rawConn.Close()
		return nil, err
	}

	conn := newConnection(rawConn, int(c.cfg.Transport.ChunkCapRaw), c.onMessage, nil)
	return conn, nil
}

// waitDisconnected bloqueia até o loop de leitura de conn ter saído.
func (c *Client) waitDisconnected(conn *Connection) {
	<-conn.closed
}

// exchangeConfiguration executa o lado client do handshake de
// configuração: lê o request sentinela do server, responde com o tamanho
// de tela local e então lê o tamanho do server de volta.
func (c *Client) exchangeConfiguration(conn net.Conn) error {
	conn.SetDeadline(time.Now().Add(exchangeTimeout))
	defer conn.SetDeadline(time.Time{})

	if _, err := wire.ReadMessage(conn); err != nil {
		return fmt.Errorf("reading exchange request: %w", err)
	}

	w, h := 0, 0
	if c.size != nil {
		w, h = c.size()
	}
	reply := &wire.Message{
		Type:    wire.TypeExchange,
		Payload: wire.Payload{exchangeWidthKey: int64(w), exchangeHeightKey: int64(h)},
	}
	if err := wire.WriteMessage(conn, reply); err != nil {
		return fmt.Errorf("sending local screen size: %w", err)
	}

	if _, err := wire.ReadMessage(conn); err != nil {
		return fmt.Errorf("reading server screen size: %w", err)
	}
	return nil
}
