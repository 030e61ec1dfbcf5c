// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package wire implementa o protocolo binário do screenlink para troca de
// mensagens entre server e clients sobre TCP+TLS: framing, codificação do
// corpo em typed-map e fragmentação de mensagens grandes em chunks.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// MessageType identifica a classe de mensagem trafegada no wire.
type MessageType byte

const (
	TypeExchange  MessageType = 0x00
	TypeCommand   MessageType = 0x01
	TypeMouse     MessageType = 0x02
	TypeKeyboard  MessageType = 0x03
	TypeClipboard MessageType = 0x04
	TypeFile      MessageType = 0x05
)

func (t MessageType) String() string {
	switch t {
	case TypeExchange:
		return "EXCHANGE"
	case TypeCommand:
		return "COMMAND"
	case TypeMouse:
		return "MOUSE"
	case TypeKeyboard:
		return "KEYBOARD"
	case TypeClipboard:
		return "CLIPBOARD"
	case TypeFile:
		return "FILE"
	default:
		return fmt.Sprintf("unknown(0x%02x)", byte(t))
	}
}

// Payload é o mapa tipado transportado por uma Message. Valores aceitos:
// string, int64, float64, bool, []byte, []any (lista) e Payload (mapa aninhado).
// Inteiros e floats Go nativos (int, int32, float32) são normalizados para
// int64/float64 na codificação.
type Payload map[string]any

// Message é a unidade lógica do wire, conforme o catálogo de mensagens:
// EXCHANGE, COMMAND, MOUSE, KEYBOARD, CLIPBOARD, FILE.
type Message struct {
	Type      MessageType
	Timestamp int64 // segundos desde epoch
	SeqID     uint64
	Source    string
	Target    string
	Payload   Payload

	// Campos de chunk. IsChunk=false implica que os três seguintes estão
	// ausentes (zero value); reassembly depende dessa invariante.
	IsChunk     bool
	MessageID   string
	ChunkIndex  uint32
	TotalChunks uint32
}

// Erros de codificação/decodificação do corpo da mensagem.
var (
	ErrUnsupportedValue = errors.New("wire: unsupported payload value type")
	ErrTruncatedBody    = errors.New("wire: truncated message body")
	ErrInvalidTag       = errors.New("wire: invalid payload value tag")
)

const (
	tagString byte = 0x00
	tagInt64  byte = 0x01
	tagFloat  byte = 0x02
	tagBool   byte = 0x03
	tagList   byte = 0x04
	tagMap    byte = 0x05
	tagBytes  byte = 0x06
)

// EncodeBody serializa a mensagem no formato typed-map, sem o prefixo de
// framing (comprimento + magic). O resultado é o que o chunker fragmenta
// quando excede o cap por link.
func EncodeBody(m *Message) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(byte(m.Type))
	writeUint64(&buf, uint64(m.Timestamp))
	writeUint64(&buf, m.SeqID)
	writeString(&buf, m.Source)
	writeString(&buf, m.Target)

	if m.IsChunk {
		buf.WriteByte(1)
		writeString(&buf, m.MessageID)
		writeUint32(&buf, m.ChunkIndex)
		writeUint32(&buf, m.TotalChunks)
	} else {
		buf.WriteByte(0)
	}

	if err := encodeMap(&buf, m.Payload); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeBody reconstrói uma Message a partir do corpo produzido por EncodeBody.
func DecodeBody(body []byte) (*Message, error) {
	r := bytes.NewReader(body)

	typeByte, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("reading message type: %w", ErrTruncatedBody)
	}

	ts, err := readUint64(r)
	if err != nil {
		return nil, fmt.Errorf("reading timestamp: %w", err)
	}
	seq, err := readUint64(r)
	if err != nil {
		return nil, fmt.Errorf("reading sequence id: %w", err)
	}
	source, err := readString(r)
	if err != nil {
		return nil, fmt.Errorf("reading source: %w", err)
	}
	target, err := readString(r)
	if err != nil {
		return nil, fmt.Errorf("reading target: %w", err)
	}

	isChunkByte, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("reading chunk flag: %w", ErrTruncatedBody)
	}

	m := &Message{
		Type:      MessageType(typeByte),
		Timestamp: int64(ts),
		SeqID:     seq,
		Source:    source,
		Target:    target,
	}

	if isChunkByte != 0 {
		m.IsChunk = true
		msgID, err := readString(r)
		if err != nil {
			return nil, fmt.Errorf("reading message id: %w", err)
		}
		idx, err := readUint32(r)
		if err != nil {
			return nil, fmt.Errorf("reading chunk index: %w", err)
		}
		total, err := readUint32(r)
		if err != nil {
			return nil, fmt.Errorf("reading total chunks: %w", err)
		}
		m.MessageID = msgID
		m.ChunkIndex = idx
		m.TotalChunks = total
	}

	payload, err := decodeMap(r)
	if err != nil {
		return nil, fmt.Errorf("reading payload: %w", err)
	}
	m.Payload = payload

	return m, nil
}

func encodeMap(buf *bytes.Buffer, p Payload) error {
	if len(p) > 0xffff {
		return fmt.Errorf("%w: payload has too many keys", ErrUnsupportedValue)
	}
	writeUint16(buf, uint16(len(p)))
	for k, v := range p {
		writeString(buf, k)
		if err := encodeValue(buf, v); err != nil {
			return fmt.Errorf("encoding key %q: %w", k, err)
		}
	}
	return nil
}

func decodeMap(r *bytes.Reader) (Payload, error) {
	count, err := readUint16(r)
	if err != nil {
		return nil, err
	}
	p := make(Payload, count)
	for i := 0; i < int(count); i++ {
		key, err := readString(r)
		if err != nil {
			return nil, err
		}
		val, err := decodeValue(r)
		if err != nil {
			return nil, fmt.Errorf("decoding key %q: %w", key, err)
		}
		p[key] = val
	}
	return p, nil
}

func encodeValue(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case string:
		buf.WriteByte(tagString)
		writeBytes(buf, []byte(val))
	case []byte:
		buf.WriteByte(tagBytes)
		writeBytes(buf, val)
	case bool:
		buf.WriteByte(tagBool)
		if val {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	case int:
		buf.WriteByte(tagInt64)
		writeUint64(buf, uint64(int64(val)))
	case int32:
		buf.WriteByte(tagInt64)
		writeUint64(buf, uint64(int64(val)))
	case int64:
		buf.WriteByte(tagInt64)
		writeUint64(buf, uint64(val))
	case uint32:
		buf.WriteByte(tagInt64)
		writeUint64(buf, uint64(val))
	case uint64:
		buf.WriteByte(tagInt64)
		writeUint64(buf, val)
	case float32:
		buf.WriteByte(tagFloat)
		writeUint64(buf, math.Float64bits(float64(val)))
	case float64:
		buf.WriteByte(tagFloat)
		writeUint64(buf, math.Float64bits(val))
	case []any:
		buf.WriteByte(tagList)
		if len(val) > 0xffffffff {
			return fmt.Errorf("%w: list too long", ErrUnsupportedValue)
		}
		writeUint32(buf, uint32(len(val)))
		for _, elem := range val {
			if err := encodeValue(buf, elem); err != nil {
				return err
			}
		}
	case Payload:
		buf.WriteByte(tagMap)
		return encodeMap(buf, val)
	case map[string]any:
		buf.WriteByte(tagMap)
		return encodeMap(buf, Payload(val))
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
	}
	return nil
}

func decodeValue(r *bytes.Reader) (any, error) {
	tag, err := r.ReadByte()
	if err != nil {
		return nil, ErrTruncatedBody
	}
	switch tag {
	case tagString:
		b, err := readBytes(r)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	case tagBytes:
		return readBytes(r)
	case tagBool:
		b, err := r.ReadByte()
		if err != nil {
			return nil, ErrTruncatedBody
		}
		return b != 0, nil
	case tagInt64:
		v, err := readUint64(r)
		if err != nil {
			return nil, err
		}
		return int64(v), nil
	case tagFloat:
		v, err := readUint64(r)
		if err != nil {
			return nil, err
		}
		return math.Float64frombits(v), nil
	case tagList:
		n, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		list := make([]any, 0, n)
		for i := uint32(0); i < n; i++ {
			elem, err := decodeValue(r)
			if err != nil {
				return nil, err
			}
			list = append(list, elem)
		}
		return list, nil
	case tagMap:
		return decodeMap(r)
	default:
		return nil, fmt.Errorf("%w: 0x%02x", ErrInvalidTag, tag)
	}
}

func writeUint16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func writeBytes(buf *bytes.Buffer, b []byte) {
	writeUint32(buf, uint32(len(b)))
	buf.Write(b)
}

func writeString(buf *bytes.Buffer, s string) {
	writeBytes(buf, []byte(s))
}

func readUint16(r *bytes.Reader) (uint16, error) {
	var b [2]byte
	if _, err := readFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b[:]), nil
}

func readUint32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := readFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func readUint64(r *bytes.Reader) (uint64, error) {
	var b [8]byte
	if _, err := readFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

func readBytes(r *bytes.Reader) ([]byte, error) {
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := readFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

func readString(r *bytes.Reader) (string, error) {
	b, err := readBytes(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func readFull(r *bytes.Reader, b []byte) (int, error) {
	n, err := r.Read(b)
	if err == nil && n < len(b) {
		// bytes.Reader.Read nunca retorna short read exceto em EOF, mas
		// mantemos o laço para não depender desse detalhe de implementação.
		for n < len(b) {
			m, err2 := r.Read(b[n:])
			n += m
			if err2 != nil {
				return n, ErrTruncatedBody
			}
		}
	}
	if err != nil {
		return n, ErrTruncatedBody
	}
	return n, nil
}
