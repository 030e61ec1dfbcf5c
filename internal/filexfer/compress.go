// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package filexfer

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
)

// Codec comprime e descomprime os bytes crus de um file_chunk antes de
// serem codificados em base64 para o wire.
type Codec interface {
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
}

// NewCodec resolve um valor FileXferConfig.Compression para um Codec.
// "" e "gzip" selecionam o codec paralelo gzip-compatível; "zstd"
// seleciona o codec de razão maior usado em links mais lentos.
func NewCodec(name string) (Codec, error) {
	switch name {
	case "", "gzip":
		return gzipCodec{}, nil
	case "zstd":
		return zstdCodec{}, nil
	default:
		return nil, fmt.Errorf("filexfer: unknown compression %q", name)
	}
}

type gzipCodec struct{}

func (gzipCodec) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := pgzip.NewWriterLevel(&buf, pgzip.DefaultCompression)
	if err != nil {
		return nil, fmt.Errorf("filexfer: creating gzip writer: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, fmt.Errorf("filexfer: gzip compressing chunk: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("filexfer: flushing gzip chunk: %w", err)
	}
	return buf.Bytes(), nil
}

func (gzipCodec) Decompress(data []byte) ([]byte, error) {
	r, err := pgzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("filexfer: opening gzip chunk: %w", err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("filexfer: gzip decompressing chunk: %w", err)
	}
	return out, nil
}

type zstdCodec struct{}

func (zstdCodec) Compress(data []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("filexfer: creating zstd encoder: %w", err)
	}
	defer enc.Close()
	return enc.EncodeAll(data, make([]byte, 0, len(data))), nil
}

func (zstdCodec) Decompress(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("filexfer: creating zstd decoder: %w", err)
	}
	defer dec.Close()
	out, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("filexfer: zstd decompressing chunk: %w", err)
	}
	return out, nil
}
