// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package screen

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/nishisan-dev/screenlink/internal/capability"
	"github.com/nishisan-dev/screenlink/internal/clients"
	"github.com/nishisan-dev/screenlink/internal/eventbus"
)

// guardTimeout é quanto tempo o securer espera o checker terminar um
// warp antes de limpar a flag blocked de qualquer forma.
const guardTimeout = 5 * time.Second

// Machine possui o estado de tela ativa do core do server mais as tasks
// de guarda checker/securer que impedem um warp de cursor lento de
// disputar com um segundo cruzamento de borda num flip trepidante.
type Machine struct {
	registry  *clients.Registry
	bus       *eventbus.Bus
	traits    capability.Traits
	width     float64
	height    float64
	threshold float64

	mu     sync.Mutex
	active *clients.Screen
	mx, my float64
	warpTo *point

	blocked atomic.Bool

	checkerSignal  chan struct{}
	securerSignal  chan struct{}
	transitionDone chan struct{}
	stopCh         chan struct{}
	wg             sync.WaitGroup
}

type point struct{ x, y float64 }

// NewMachine monta uma Machine para um server cuja tela local mede
// width x height pixels, com bordas de threshold pixels de largura.
func NewMachine(registry *clients.Registry, bus *eventbus.Bus, traits capability.Traits, width, height, threshold float64) *Machine {
	return &Machine{
		registry:       registry,
		bus:            bus,
		traits:         traits,
		width:          width,
		height:         height,
		threshold:      threshold,
		checkerSignal:  make(chan struct{}, 1),
		securerSignal:  make(chan struct{}, 1),
		transitionDone: make(chan struct{}, 1),
		stopCh:         make(chan struct{}),
	}
}

// Start dispara as tasks de guarda checker e securer.
func (m *Machine) Start() {
	m.wg.Add(2)
	go m.checker()
	go m.securer()
}

// Stop encerra as tasks de guarda.
func (m *Machine) Stop() {
	close(m.stopCh)
	m.wg.Wait()
}

// Active retorna a tela ativa no momento, ou nil se o input é local.
func (m *Machine) Active() *clients.Screen {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// UpdatePosition grava a última posição conhecida do cursor local,
// amostrada pelo listener de mouse a cada evento de movimento.
func (m *Machine) UpdatePosition(x, y float64) {
	m.mu.Lock()
	m.mx, m.my = x, y
	m.mu.Unlock()
}

// Position retorna a última posição conhecida do cursor local.
func (m *Machine) Position() (x, y float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mx, m.my
}

// EdgeCrossed trata um evento local de EdgeCrossed(direção): o listener
// de mouse detectou o cursor atingindo a borda s.
func (m *Machine) EdgeCrossed(s clients.Screen) {
	m.transition(&s, false, nil)
}

// ReturnEdge trata um evento ReturnEdge(direção) reportado por um client
// remoto cuja própria borda o cursor atingiu. O warp de retorno reusa a
// última posição gravada antes do controle deixar o server.
func (m *Machine) ReturnEdge(clients.Screen) {
	m.transition(nil, true, nil)
}

// ReturnEdgeAt é ReturnEdge com a coordenada do eixo cruzado reportada
// pelo client, normalizada em [0,1]: o warp de retorno aterrissa na
// mesma altura relativa (ou largura, para bordas verticais) que o cursor
// tinha no client, em vez de onde estava ao deixar o server.
func (m *Machine) ReturnEdgeAt(_ clients.Screen, cross float64) {
	m.transition(nil, true, &cross)
}

// ClientDisconnected colapsa a tela ativa para None se o client que está
// desconectando detém o input. O colapso ignora a guarda de transição:
// um client morto nunca pode continuar ativo, mesmo com um warp em voo.
func (m *Machine) ClientDisconnected(s clients.Screen) {
	m.mu.Lock()
	isActive := m.active != nil && *m.active == s
	if isActive {
		m.active = nil
		m.warpTo = nil
	}
	m.mu.Unlock()

	if isActive {
		m.bus.Publish(eventbus.Event{Type: "screen_transition", Screen: "none"})
		m.signalChanged()
	}
}

func (m *Machine) configured(s clients.Screen) bool {
	return m.registry.ByScreen(s) != nil
}

func (m *Machine) connected(s clients.Screen) bool {
	rec := m.registry.ByScreen(s)
	return rec != nil && rec.Connected()
}

func (m *Machine) transition(target *clients.Screen, isReturn bool, cross *float64) {
	m.mu.Lock()
	active := m.active
	mx, my := m.mx, m.my
	m.mu.Unlock()

	blocked := m.blocked.Load()
	newState := Decide(active, target, blocked, m.configured, m.connected)

	switch newState {
	case NoTransition:
		return

	case NoScreen:
		m.mu.Lock()
		prevActive := m.active
		m.active = nil
		if isReturn && prevActive != nil {
			if cross != nil {
				switch *prevActive {
				case clients.Left, clients.Right:
					my = Denormalize(*cross, m.height)
				case clients.Up, clients.Down:
					mx = Denormalize(*cross, m.width)
				}
			}
			edge := Opposite(*prevActive)
			x, y := WarpPoint(edge, m.width, m.height, m.threshold, mx, my)
			m.warpTo = &point{x, y}
		} else {
			m.warpTo = nil
		}
		m.mu.Unlock()
		m.bus.Publish(eventbus.Event{Type: "screen_transition", Screen: "none"})
		m.signalChanged()

	default:
		s := clients.Screen(newState)
		x, y := WarpPoint(s, m.width, m.height, m.threshold, mx, my)
		m.mu.Lock()
		m.active = &s
		m.warpTo = &point{x, y}
		m.mu.Unlock()
		m.bus.Publish(eventbus.Event{Type: "screen_transition", Screen: string(s)})
		m.signalChanged()
	}
}

func (m *Machine) signalChanged() {
	select {
	case m.checkerSignal <- struct{}{}:
	default:
	}
	select {
	case m.securerSignal <- struct{}{}:
	default:
	}
}

// checker executa o warp de cursor e o toggle do overlay para uma
// transição, e então sinaliza transition_completed.
func (m *Machine) checker() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopCh:
			return
		case <-m.checkerSignal:
			m.mu.Lock()
			warpTo := m.warpTo
			active := m.active
			m.mu.Unlock()

			if warpTo != nil && m.traits.MouseSink != nil {
				m.traits.MouseSink.WarpCursor(warpTo.x, warpTo.y)
			}
			if m.traits.Overlay != nil {
				m.traits.Overlay.SetOverlayVisible(active != nil)
			}
			if m.traits.Suppressor != nil {
				m.traits.Suppressor.SetSuppressed(active != nil)
			}

			select {
			case m.transitionDone <- struct{}{}:
			default:
			}
		}
	}
}

// securer bloqueia novas transições enquanto um warp está em voo,
// limpando após transition_completed ou guardTimeout, o que vier antes —
// sem isso um warp lento mais movimento contínuo do mouse produz flips
// trepidantes.
func (m *Machine) securer() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopCh:
			return
		case <-m.securerSignal:
			m.blocked.Store(true)
			select {
			case <-m.transitionDone:
			case <-time.After(guardTimeout):
			case <-m.stopCh:
			}
			m.blocked.Store(false)
		}
	}
}
