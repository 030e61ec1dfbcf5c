// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package capability declara os traits de plataforma que o core consome
// mas não implementa: captura e síntese brutas de mouse/teclado/clipboard
// e probe de tamanho de tela. Nenhum corpo de plataforma vive aqui,
// apenas as interfaces e o conjunto de traits que um papel monta a partir
// das implementações concretas que recebe.
//
// Cada papel (server ou client) recebe um valor Traits concreto na
// construção e chama direto pelos campos de interface, de modo que o
// dispatch é resolvido uma vez, na amarração, não a cada evento de input.
package capability

// MouseEvent descreve um evento de mouse. X e Y são pixels absolutos na
// tela local; a normalização para a forma de wire independente de
// resolução (x/screen_width, y/screen_height) acontece na fronteira de
// envio, e o lado receptor desnormaliza com o próprio tamanho de tela.
type MouseEvent struct {
	X, Y      float64
	DX, DY    float64
	Button    string
	Event     string // move, click, rclick, scroll, position
	IsPressed bool
}

// KeyEvent descreve um evento de teclado capturado.
type KeyEvent struct {
	Key   string
	Event string // press, release
}

// MouseSource captura a atividade local do mouse. Implementações devem
// continuar reportando movimento mesmo com o input suprimido, para que o
// chamador ainda detecte o cursor atingindo uma borda de retorno.
type MouseSource interface {
	MouseEvents() <-chan MouseEvent
}

// MouseSink sintetiza eventos de mouse na máquina local.
type MouseSink interface {
	InjectMouse(MouseEvent) error
	WarpCursor(x, y float64) error
}

// Suppressor alterna a entrega local de cliques/scroll enquanto o input
// está roteado para uma tela remota. O movimento continua fluindo para
// MouseSource de qualquer forma.
type Suppressor interface {
	SetSuppressed(bool)
}

// KeyboardSource captura a atividade local do teclado.
type KeyboardSource interface {
	KeyEvents() <-chan KeyEvent
}

// KeyboardSink sintetiza eventos de teclado na máquina local.
type KeyboardSink interface {
	InjectKey(KeyEvent) error
}

// ClipboardSource reporta mudanças do clipboard local como
// (content, content_type).
type ClipboardSource interface {
	ClipboardChanges() <-chan ClipboardContent
}

// ClipboardContent é um payload de clipboard.
type ClipboardContent struct {
	Content     string
	ContentType string
}

// ClipboardSink escreve conteúdo no clipboard local.
type ClipboardSink interface {
	SetClipboard(ClipboardContent) error
}

// ScreenSizeProbe reporta o tamanho da tela local em pixels.
type ScreenSizeProbe interface {
	ScreenSize() (width, height int, err error)
}

// OverlayToggle minimiza ou maximiza o overlay de captura usado pela
// task checker da máquina de estados de tela para mostrar/ocultar o
// cursor local.
type OverlayToggle interface {
	SetOverlayVisible(bool)
}

// Traits é o conjunto de capacidades em tempo de compilação que um papel
// monta a partir dos bindings de plataforma que recebeu. Um papel server
// tipicamente amarra MouseSource/KeyboardSource/Suppressor/OverlayToggle
// (ele captura); um papel client amarra MouseSink/KeyboardSink (ele
// injeta); ambos amarram clipboard e tamanho de tela, já que clipboard e
// paste fluem nos dois sentidos. Campos nil são válidos — um papel que
// nunca precisa de um trait o deixa vazio, e os chamadores checam nil
// antes de invocá-lo.
type Traits struct {
	Mouse      MouseSource
	MouseSink  MouseSink
	Suppressor Suppressor
	Keyboard   KeyboardSource
	KeySink    KeyboardSink
	Clipboard  ClipboardSource
	ClipSink   ClipboardSink
	ScreenSize ScreenSizeProbe
	Overlay    OverlayToggle
}
