// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package clients guarda o registry server-side das telas de client
// configuradas: um escritor (o accept path do transport), muitos leitores
// (a máquina de estados de tela, o message bus, o comando de status do
// daemon).
package clients

import (
	"fmt"
	"net"
	"sync"

	"github.com/nishisan-dev/screenlink/internal/config"
)

// Screen identifica uma posição de borda configurada.
type Screen string

const (
	Left  Screen = "left"
	Right Screen = "right"
	Up    Screen = "up"
	Down  Screen = "down"
)

// Conn é a superfície mínima que o registry precisa de uma conexão de
// transport viva, mantida estreita para que internal/transport a
// satisfaça sem clients importar transport (o que criaria um ciclo de
// import).
type Conn interface {
	RemoteAddr() net.Addr
	Close() error
}

// Record é um registro de client: atributos vindos da configuração mais
// o estado mutável de conexão populado pelo accept path do transport.
// Criado a partir da configuração, o handle de conexão é populado no
// accept e limpo na desconexão; o registro em si persiste entre
// reconexões.
type Record struct {
	Name     string
	Screen   Screen
	Address  string
	Width    int
	Height   int
	KeyRemap map[string]string

	mu        sync.RWMutex
	conn      Conn
	connected bool
}

// Connected reporta se o registro tem uma conexão viva no momento.
func (r *Record) Connected() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.connected
}

// Conn retorna o handle da conexão viva, ou nil se desconectado.
func (r *Record) Conn() Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conn
}

// SetSize grava o tamanho de tela remoto negociado durante o
// configuration exchange.
func (r *Record) SetSize(w, h int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Width, r.Height = w, h
}

// Size retorna o tamanho da tela remota.
func (r *Record) Size() (int, int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.Width, r.Height
}

// Registry é o store single-writer/many-reader de clients configurados,
// chaveado por posição de tela. Leituras (ByScreen, ByAddress, ByName,
// All, consultas de Connected) vêm da máquina de estados de tela e do
// bus; os escritores são o accept loop do transport (Attach/Detach de uma
// conexão) e os comandos de edição de clients do daemon (Add/Remove).
type Registry struct {
	mu      sync.RWMutex
	byName  map[string]*Record
	byAddr  map[string]*Record
	screens map[Screen]*Record
}

// NewRegistry monta um registry a partir das entradas de client
// configuradas estaticamente. A unicidade de tela já foi garantida pela
// validação da configuração.
func NewRegistry(entries []config.ClientEntry) *Registry {
	reg := &Registry{
		byName:  make(map[string]*Record, len(entries)),
		byAddr:  make(map[string]*Record, len(entries)),
		screens: make(map[Screen]*Record, len(entries)),
	}
	for _, e := range entries {
		rec := &Record{
			Name:     e.Name,
			Screen:   Screen(e.Screen),
			Address:  e.Address,
			KeyRemap: e.KeyRemap,
		}
		reg.byName[e.Name] = rec
		reg.byAddr[e.Address] = rec
		reg.screens[rec.Screen] = rec
	}
	return reg
}

// ByScreen retorna o registro configurado na posição s, ou nil.
func (r *Registry) ByScreen(s Screen) *Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.screens[s]
}

// ByAddress retorna o registro cujo endereço configurado bate com addr,
// ou nil se nenhum client está configurado ali. Usado pelo accept path
// do transport para rejeitar conexões de peers não configurados.
func (r *Registry) ByAddress(addr string) *Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byAddr[addr]
}

// ByName retorna o registro com o nome configurado dado, ou nil.
func (r *Registry) ByName(name string) *Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byName[name]
}

// All retorna todos os registros configurados, para reporte de status e
// broadcast.
func (r *Registry) All() []*Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Record, 0, len(r.screens))
	for _, rec := range r.screens {
		out = append(out, rec)
	}
	return out
}

// Attach marca rec como conectado com o handle de transport dado.
// Chamado somente pelo accept path do transport após um configuration
// exchange bem-sucedido.
func (r *Registry) Attach(rec *Record, conn Conn) {
	rec.mu.Lock()
	rec.conn = conn
	rec.connected = true
	rec.mu.Unlock()
}

// Detach limpa o handle de conexão de um registro na desconexão. O
// registro em si é mantido para poder reconectar depois.
func (r *Registry) Detach(rec *Record) {
	rec.mu.Lock()
	rec.conn = nil
	rec.connected = false
	rec.mu.Unlock()
}

// Add registra um novo client em runtime (comando `add_client` do
// daemon). Retorna erro se a posição de tela já está ocupada.
func (r *Registry) Add(entry config.ClientEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := Screen(entry.Screen)
	if _, exists := r.screens[s]; exists {
		return fmt.Errorf("clients: screen %q is already configured", s)
	}
	rec := &Record{Name: entry.Name, Screen: s, Address: entry.Address, KeyRemap: entry.KeyRemap}
	r.byName[entry.Name] = rec
	r.byAddr[entry.Address] = rec
	r.screens[s] = rec
	return nil
}

// Remove apaga um client configurado pelo nome. O chamador é responsável
// por fechar qualquer conexão viva antes.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.byName[name]
	if !ok {
		return fmt.Errorf("clients: no client named %q", name)
	}
	delete(r.byName, name)
	delete(r.byAddr, rec.Address)
	delete(r.screens, rec.Screen)
	return nil
}
