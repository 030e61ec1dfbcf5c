// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package screen

import "github.com/nishisan-dev/screenlink/internal/clients"

// EdgeAt reporta qual borda, se alguma, a posição (x, y) do cursor
// atingiu numa tela do tamanho dado, com bordas de threshold pixels de
// largura. Cantos resolvem na ordem direita/esquerda/baixo/cima.
func EdgeAt(x, y, width, height, threshold float64) (clients.Screen, bool) {
	switch {
	case x >= width-threshold:
		return clients.Right, true
	case x <= threshold:
		return clients.Left, true
	case y >= height-threshold:
		return clients.Down, true
	case y <= threshold:
		return clients.Up, true
	}
	return "", false
}

// Normalize mapeia uma coordenada de pixel absoluta para a forma de wire
// [0,1] independente de resolução, com clamp para que uma coordenada
// logo além da borda física nunca saia do intervalo unitário.
func Normalize(v, extent float64) float64 {
	if extent <= 0 {
		return 0
	}
	n := v / extent
	if n < 0 {
		return 0
	}
	if n > 1 {
		return 1
	}
	return n
}

// Denormalize é o inverso de Normalize no tamanho da própria tela
// receptora.
func Denormalize(n, extent float64) float64 {
	return n * extent
}
