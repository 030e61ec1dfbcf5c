// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package filexfer

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/nishisan-dev/screenlink/internal/wire"
)

// Streamer lê um arquivo local possuído por este host e emite a
// sequência file_start/file_chunk*/file_end para um único destino,
// honrando o codec de compressão configurado e o cap de banda.
type Streamer struct {
	codec                Codec
	codecName            string
	chunkSize            int
	bandwidthBytesPerSec int64
}

// NewStreamer monta um Streamer. chunkSize é a contagem de bytes crus
// (pré-compressão) colocada em cada file_chunk; bandwidthBytesPerSec <= 0
// desliga o pacing.
func NewStreamer(codec Codec, codecName string, chunkSize int, bandwidthBytesPerSec int64) *Streamer {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Streamer{codec: codec, codecName: codecName, chunkSize: chunkSize, bandwidthBytesPerSec: bandwidthBytesPerSec}
}

// Stream envia o conteúdo de path para send, ritmando os bytes
// codificados do wire por um token bucket quando há cap de banda
// configurado.
func (s *Streamer) Stream(ctx context.Context, path string, send func(*wire.Message) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("filexfer: opening %s: %w", path, err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return fmt.Errorf("filexfer: stat %s: %w", path, err)
	}

	name := filepath.Base(path)
	start := &wire.Message{
		Type:      wire.TypeFile,
		Timestamp: time.Now().Unix(),
		Payload:   wire.Payload{"command": cmdFileStart, "name": name, "size": fi.Size(), "compression": s.codecName},
	}
	if err := send(start); err != nil {
		return fmt.Errorf("filexfer: sending file_start: %w", err)
	}

	pace := NewThrottledWriter(ctx, io.Discard, s.bandwidthBytesPerSec)

	buf := make([]byte, s.chunkSize)
	var index int64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, rerr := f.Read(buf)
		if n > 0 {
			compressed, cerr := s.codec.Compress(buf[:n])
			if cerr != nil {
				return fmt.Errorf("filexfer: compressing chunk %d: %w", index, cerr)
			}
			encoded := base64.StdEncoding.EncodeToString(compressed)

			if _, err := pace.Write([]byte(encoded)); err != nil {
				return fmt.Errorf("filexfer: pacing chunk %d: %w", index, err)
			}

			chunk := &wire.Message{
				Type:      wire.TypeFile,
				Timestamp: time.Now().Unix(),
				Payload:   wire.Payload{"command": cmdFileChunk, "chunk_index": index, "data": encoded},
			}
			if err := send(chunk); err != nil {
				return fmt.Errorf("filexfer: sending chunk %d: %w", index, err)
			}
			index++
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return fmt.Errorf("filexfer: reading %s: %w", path, rerr)
		}
	}

	end := &wire.Message{
		Type:      wire.TypeFile,
		Timestamp: time.Now().Unix(),
		Payload:   wire.Payload{"command": cmdFileEnd, "total_chunks": index},
	}
	if err := send(end); err != nil {
		return fmt.Errorf("filexfer: sending file_end: %w", err)
	}
	return nil
}
