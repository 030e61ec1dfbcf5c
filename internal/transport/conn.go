// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package transport possui o ciclo de vida de socket para os papéis
// server e client: envelopamento TLS, o handshake de configuration
// exchange, as tasks de leitura/escrita por conexão, heartbeats de
// health-check e a reconexão do lado client. Entrega as mensagens
// decodificadas para cima, ao message bus, e nunca interpreta a
// semântica dos payloads.
package transport

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nishisan-dev/screenlink/internal/wire"
)

// Valores de comando trafegados em mensagens TypeCommand.
const (
	CommandPing        = "ping"
	CommandPong        = "pong"
	CommandCrossScreen = "cross_screen"
	CommandReturn      = "return"
	CommandDisconnect  = "disconnect"
	CommandFileRequest = "file_request"
	CommandFileCopied  = "file_copied"
	CommandFileStart   = "file_start"
	CommandFileChunk   = "file_chunk"
	CommandFileEnd     = "file_end"
)

// exchangeWidthKey/exchangeHeightKey são as chaves de payload EXCHANGE
// usadas durante o handshake de configuration exchange.
const (
	exchangeWidthKey  = "width"
	exchangeHeightKey = "height"
)

// OnMessage é invocado para cada mensagem totalmente remontada que uma
// Connection recebe, em ordem de chegada. Não deve bloquear por muito
// tempo — o loop de leitura é single-threaded por conexão.
type OnMessage func(*wire.Message)

// OnClosed é invocado uma única vez, quando o loop de leitura da conexão
// sai por qualquer motivo (peer fechou, erro de I/O, Close explícito).
type OnClosed func(err error)

// Connection envelopa um socket anexado: o destino final da fila de
// envio e o estado de remontagem que o loop de leitura mantém.
// Atributos: endereço remoto, fila de envio, timestamp de última
// atividade — a fila de envio em si vive em internal/bus; Connection
// expõe o primitivo Send cru pelo qual o bus escreve.
type Connection struct {
	conn net.Conn

	chunkCap int

	writeMu sync.Mutex

	lastActivity atomic.Int64

	reassembler *wire.Reassembler

	onMessage OnMessage
	onClosed  OnClosed

	closeOnce sync.Once
	closed    chan struct{}
}

// newConnection envelopa conn e inicia seu loop de leitura. onMessage e
// onClosed são chamados a partir da goroutine de leitura.
func newConnection(conn net.Conn, chunkCap int, onMessage OnMessage, onClosed OnClosed) *Connection {
	c := &Connection{
		conn:        conn,
		chunkCap:    chunkCap,
		reassembler: wire.NewReassembler(),
		onMessage:   onMessage,
		onClosed:    onClosed,
		closed:      make(chan struct{}),
	}
	c.lastActivity.Store(time.Now().UnixNano())
	go c.readLoop()
	return c
}

// RemoteAddr satisfaz clients.Conn.
func (c *Connection) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// Send codifica m, fragmentando pelo chunker do wire se preciso, e
// escreve cada frame resultante. Seguro para uso concorrente — um único
// mutex de escrita serializa os frames no socket, de modo que grupos de
// chunks nunca se intercalam com frames alheios de outro chamador.
func (c *Connection) Send(m *wire.Message) error {
	chunks, err := wire.Chunk(m, c.chunkCap)
	if err != nil {
		return fmt.Errorf("transport: chunking message: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	for _, chunk := range chunks {
		if err := wire.WriteMessage(c.conn, chunk); err != nil {
			return fmt.Errorf("transport: writing frame: %w", err)
		}
	}
	return nil
}

// LastActivity retorna o timestamp do frame recebido mais recentemente.
func (c *Connection) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

// Close fecha o socket subjacente. Idempotente.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.conn.Close()
	})
	return err
}

func (c *Connection) readLoop() {
	var exitErr error
	for {
		msg, err := wire.ReadMessage(c.conn)
		if err != nil {
			exitErr = err
			break
		}
		c.lastActivity.Store(time.Now().UnixNano())

		complete, ok, rerr := c.reassembler.Add(msg)
		if rerr != nil {
			// Erro de protocolo: inconsistência de chunk. Fecha a conexão
			// ofensora, não derruba o processo.
			exitErr = rerr
			break
		}
		if !ok {
			continue
		}
		if c.onMessage != nil {
			c.onMessage(complete)
		}
	}

	c.Close()
	if c.onClosed != nil {
		c.onClosed(exitErr)
	}
}
