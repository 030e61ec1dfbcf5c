// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package bus

import "errors"

var (
	// ErrQueueFull é retornado por SendQueue.Enqueue quando a fila está
	// na capacidade configurada.
	ErrQueueFull = errors.New("bus: send queue full")
	// ErrQueueClosed é retornado por SendQueue.Enqueue após Stop.
	ErrQueueClosed = errors.New("bus: send queue closed")
)
