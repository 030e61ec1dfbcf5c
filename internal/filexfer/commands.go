// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package filexfer

import "github.com/nishisan-dev/screenlink/internal/transport"

// Aliases locais para as strings de comando de transferência de arquivo
// definidas junto ao resto do catálogo de comandos do wire em
// internal/transport, para que a construção de mensagens deste package
// não leia transport.Command... em cada ponto de uso.
const (
	cmdFileRequest = transport.CommandFileRequest
	cmdFileCopied  = transport.CommandFileCopied
	cmdFileStart   = transport.CommandFileStart
	cmdFileChunk   = transport.CommandFileChunk
	cmdFileEnd     = transport.CommandFileEnd
)
