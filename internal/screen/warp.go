// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package screen

import "github.com/nishisan-dev/screenlink/internal/clients"

// inset é a distância segura em que um cursor warpado aterrissa do pixel
// literal da borda (um pequeno recuo seguro, ε ≈ 10 px).
const inset = 10.0

// WarpPoint calcula o ponto interno seguro da borda s numa tela do
// tamanho dado e com o threshold de borda dado, preservando a coordenada
// do eixo cruzado (my para esquerda/direita, mx para cima/baixo) para
// que o cursor continue de onde cruzou em vez de pular para um canto.
func WarpPoint(s clients.Screen, width, height, threshold, mx, my float64) (x, y float64) {
	switch s {
	case clients.Left:
		return threshold + inset, my
	case clients.Right:
		return width - threshold - inset, my
	case clients.Up:
		return mx, threshold + inset
	case clients.Down:
		return mx, height - threshold - inset
	default:
		return mx, my
	}
}
