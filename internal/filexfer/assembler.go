// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package filexfer

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Receiver remonta uma transferência de arquivo de entrada: descomprime
// e decodifica base64 cada file_chunk, bufferiza chunks fora de ordem
// num mapa chaveado por índice e escreve o prefixo contíguo em disco
// conforme ele se forma.
type Receiver struct {
	mu           sync.Mutex
	tmpPath      string
	finalPath    string
	f            *os.File
	expectedSize int64
	nextIndex    int64
	pending      map[int64][]byte
	codec        Codec
	closed       bool
}

// NewReceiver abre um arquivo parcial sob destDir para uma transferência
// chamada name, com total esperado de size bytes. name é validado contra
// path traversal antes do uso; um destino em colisão recebe sufixo de
// timestamp em vez de sobrescrever conteúdo existente.
func NewReceiver(destDir, name string, size int64, codec Codec) (*Receiver, error) {
	if err := validatePathComponent(name, "file_name"); err != nil {
		return nil, fmt.Errorf("filexfer: %w", err)
	}
	finalPath := CollisionSafePath(filepath.Join(destDir, name))
	if err := validatePathInBaseDir(destDir, finalPath); err != nil {
		return nil, fmt.Errorf("filexfer: %w", err)
	}

	tmpPath := finalPath + ".part"
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("filexfer: creating partial file: %w", err)
	}

	return &Receiver{
		tmpPath:      tmpPath,
		finalPath:    finalPath,
		f:            f,
		expectedSize: size,
		pending:      make(map[int64][]byte),
		codec:        codec,
	}, nil
}

// WriteChunk descomprime e absorve um chunk recém-chegado, descarregando
// ele (e qualquer sucessor bufferizado que fique contíguo) para o disco.
// Chunks em índice já escrito são aceitos em silêncio como duplicatas.
func (r *Receiver) WriteChunk(index int64, encoded string) error {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("filexfer: decoding chunk %d: %w", index, err)
	}
	data, err := r.codec.Decompress(raw)
	if err != nil {
		return fmt.Errorf("filexfer: decompressing chunk %d: %w", index, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if index < r.nextIndex {
		return nil
	}
	r.pending[index] = data
	return r.flushLocked()
}

func (r *Receiver) flushLocked() error {
	for {
		data, ok := r.pending[r.nextIndex]
		if !ok {
			return nil
		}
		if _, err := r.f.Write(data); err != nil {
			return fmt.Errorf("filexfer: writing chunk %d: %w", r.nextIndex, err)
		}
		delete(r.pending, r.nextIndex)
		r.nextIndex++
	}
}

// diskSize reporta quantos bytes já foram escritos no arquivo parcial.
func (r *Receiver) diskSize() (int64, error) {
	fi, err := os.Stat(r.tmpPath)
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

// WaitComplete é chamado depois do file_end ser observado: consulta o
// tamanho em disco até count vezes, period entre cada, e finaliza a
// transferência assim que o tamanho esperado é atingido. Se o orçamento
// se esgota antes, o arquivo parcial é removido e um erro retornado (a
// regra de stall de 20 intervalos de ~1s).
func (r *Receiver) WaitComplete(ctx context.Context, count int, period time.Duration) (string, error) {
	var lastSize int64
	for i := 0; i < count; i++ {
		size, err := r.diskSize()
		if err == nil {
			lastSize = size
			if size >= r.expectedSize {
				return r.finalize()
			}
		}

		select {
		case <-ctx.Done():
			r.abort()
			return "", ctx.Err()
		case <-time.After(period):
		}
	}

	r.abort()
	return "", fmt.Errorf("filexfer: transfer stalled at %d of %d bytes", lastSize, r.expectedSize)
}

func (r *Receiver) finalize() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return r.finalPath, nil
	}
	r.closed = true
	if err := r.f.Close(); err != nil {
		return "", fmt.Errorf("filexfer: closing partial file: %w", err)
	}
	if err := os.Rename(r.tmpPath, r.finalPath); err != nil {
		return "", fmt.Errorf("filexfer: finalizing transfer: %w", err)
	}
	return r.finalPath, nil
}

func (r *Receiver) abort() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	r.f.Close()
	os.Remove(r.tmpPath)
}
