// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Magic identifica o início de um frame no wire: dois bytes fixos após o
// prefixo de comprimento.
var Magic = [2]byte{'P', 'Y'}

// MaxFrameBody é o maior corpo de frame aceito por ReadFrame. Protege o
// reader de um comprimento malicioso/corrompido antes de alocar o buffer.
const MaxFrameBody = 64 * 1024 * 1024

// Erros de framing. Qualquer um deles falha o frame corrente; a
// resincronização é por fechamento da conexão — não há recuperação em fluxo.
var (
	ErrFrameTooShort    = errors.New("wire: frame too short")
	ErrBadMagic         = errors.New("wire: bad magic bytes")
	ErrIncompleteBody   = errors.New("wire: incomplete frame body")
	ErrFrameBodyTooLong = errors.New("wire: frame body exceeds maximum size")
)

// WriteFrame escreve um frame completo: [length u32 BE]['P']['Y'][body].
func WriteFrame(w io.Writer, body []byte) error {
	var header [6]byte
	binary.BigEndian.PutUint32(header[0:4], uint32(len(body)))
	header[4] = Magic[0]
	header[5] = Magic[1]
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("writing frame header: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("writing frame body: %w", err)
	}
	return nil
}

// ReadFrame lê um frame completo e retorna o corpo decodificado. Validação
// de ordem: comprimento, magic, depois o corpo inteiro via io.ReadFull.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [6]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrFrameTooShort, err)
	}

	length := binary.BigEndian.Uint32(header[0:4])
	if header[4] != Magic[0] || header[5] != Magic[1] {
		return nil, ErrBadMagic
	}
	if length > MaxFrameBody {
		return nil, ErrFrameBodyTooLong
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIncompleteBody, err)
	}
	return body, nil
}

// WriteMessage codifica e escreve m como um único frame, sem fragmentação.
// Chamadores que precisam respeitar o cap por link devem usar o Chunker.
func WriteMessage(w io.Writer, m *Message) error {
	body, err := EncodeBody(m)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}
	return WriteFrame(w, body)
}

// ReadMessage lê um frame e decodifica o corpo como Message.
func ReadMessage(r io.Reader) (*Message, error) {
	body, err := ReadFrame(r)
	if err != nil {
		return nil, err
	}
	m, err := DecodeBody(body)
	if err != nil {
		return nil, fmt.Errorf("decode failure: %w", err)
	}
	return m, nil
}
