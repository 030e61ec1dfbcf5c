// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package filexfer implementa o registro de posse de arquivo de alcance
// de rede e o protocolo de transferência request/start/chunk/end: uma
// cópia em qualquer host é anunciada ao resto do cluster, um paste
// resolve o dono atual e transmite os bytes pelo server como broker,
// fazendo bridge entre dois clients quando nenhuma das pontas é o
// próprio server.
package filexfer

import (
	"errors"
	"time"

	"github.com/nishisan-dev/screenlink/internal/clients"
	"github.com/nishisan-dev/screenlink/internal/wire"
)

// errNoFileCopied é retornado por um paste quando nenhum arquivo foi
// registrado ainda em nenhum dos lados.
var errNoFileCopied = errors.New("filexfer: no file has been copied yet")

// DefaultChunkSize é a quantidade de dados crus de arquivo colocada num
// file_chunk antes da compressão, independente do cap de framing do wire
// codec (internal/wire fragmenta qualquer mensagem grande demais por
// conta própria).
const DefaultChunkSize = 256 * 1024

// OwnerKind classifica quem detém o arquivo copiado mais recentemente.
type OwnerKind string

const (
	OwnerNone        OwnerKind = ""
	OwnerServer      OwnerKind = "local_server" // este host é o server e copiou o arquivo
	OwnerClient      OwnerKind = "client"       // um client conectado copiou; Screen identifica qual (contabilidade só do server)
	OwnerLocalClient OwnerKind = "local_client" // este host é um client e copiou o arquivo
	OwnerExternal    OwnerKind = "external"     // outro host copiou (visão do client; o server resolve quem)
)

// Record é o registro de posse de arquivo: exatamente um está ativo no
// cluster por vez, substituído por inteiro pelo próximo broadcast de
// file_copied.
type Record struct {
	Kind OwnerKind
	// Screen identifica o client dono quando Kind == OwnerClient. Zero
	// value nos demais casos.
	Screen clients.Screen
	Name   string
	Size   int64
	// Path só é lido pelo host dono ao servir o arquivo. O server o grava
	// a partir do file_copied recebido do client dono; o lado client não o
	// preenche a partir de um broadcast remoto.
	Path string
}

// Bridge é o estado de bridge exclusivo do server: setado enquanto um
// client pede um arquivo de outro client conectado. Bridge ativo implica
// ambas as telas conectadas; é limpo no file_end ou na desconexão do
// dono.
type Bridge struct {
	Owner     clients.Screen
	Requester clients.Screen
}

func fileCopiedMessage(name string, size int64, path string) *wire.Message {
	return &wire.Message{
		Type:      wire.TypeCommand,
		Timestamp: time.Now().Unix(),
		Payload:   wire.Payload{"command": cmdFileCopied, "name": name, "size": size, "path": path},
	}
}

func fileRequestMessage() *wire.Message {
	return &wire.Message{
		Type:      wire.TypeCommand,
		Timestamp: time.Now().Unix(),
		Payload:   wire.Payload{"command": cmdFileRequest},
	}
}
