// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package pki

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base32"
	"errors"
	"sync"
	"time"
)

// ErrOTPMismatch é retornado por OTPStore.Validate quando o código
// fornecido não bate com o pendente, ou nenhum está pendente.
var ErrOTPMismatch = errors.New("pki: otp does not match or has expired")

// OTPStore guarda no máximo uma senha de uso único pendente, gerada pelo
// lado server de uma troca share_certificate/receive_certificate.
// Emitir um código novo invalida o que estava pendente.
type OTPStore struct {
	mu      sync.Mutex
	code    string
	expires time.Time
}

// NewOTPStore monta um store vazio; Generate precisa ser chamado antes
// de qualquer Validate poder ter sucesso.
func NewOTPStore() *OTPStore {
	return &OTPStore{}
}

// Generate cria um código aleatório novo, válido por ttl, substituindo o
// que estava pendente.
func (s *OTPStore) Generate(ttl time.Duration) (string, error) {
	var buf [5]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	code := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf[:])

	s.mu.Lock()
	s.code = code
	s.expires = time.Now().Add(ttl)
	s.mu.Unlock()

	return code, nil
}

// Validate consome o código pendente se bater com candidate e não
// estiver expirado. Um código só pode ser validado uma vez — batendo ou
// não, ele é limpo, de modo que uma tentativa vazada não pode ser
// repetida.
func (s *OTPStore) Validate(candidate string) error {
	s.mu.Lock()
	code, expires := s.code, s.expires
	s.code, s.expires = "", time.Time{}
	s.mu.Unlock()

	if code == "" || time.Now().After(expires) {
		return ErrOTPMismatch
	}
	if subtle.ConstantTimeCompare([]byte(code), []byte(candidate)) != 1 {
		return ErrOTPMismatch
	}
	return nil
}

// Pending reporta se há um código em aberto no momento, para as queries
// estilo check_otp_needed/check_server_choice_needed do daemon.
func (s *OTPStore) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.code != "" && time.Now().Before(s.expires)
}
