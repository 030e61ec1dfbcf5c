// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package pki

import (
	"os"
	"path/filepath"
)

// Bundle contém os três arquivos PEM de que um peer mTLS precisa: a CA
// compartilhada mais seu próprio par certificado/chave. Os comandos
// share_certificate/receive_certificate movem um Bundle do server para o
// client, protegidos por uma checagem de OTPStore na ponta receptora.
type Bundle struct {
	CA   []byte
	Cert []byte
	Key  []byte
}

// ReadBundle carrega um Bundle dos três caminhos de arquivo usados por
// NewServerTLSConfig/NewClientTLSConfig.
func ReadBundle(caPath, certPath, keyPath string) (Bundle, error) {
	var b Bundle
	var err error
	if b.CA, err = os.ReadFile(caPath); err != nil {
		return Bundle{}, err
	}
	if b.Cert, err = os.ReadFile(certPath); err != nil {
		return Bundle{}, err
	}
	if b.Key, err = os.ReadFile(keyPath); err != nil {
		return Bundle{}, err
	}
	return b, nil
}

// WriteBundle persiste um Bundle recebido via receive_certificate nos
// caminhos dados, criando os diretórios pais conforme preciso.
func WriteBundle(b Bundle, caPath, certPath, keyPath string) error {
	for _, p := range []string{caPath, certPath, keyPath} {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return err
		}
	}
	if err := os.WriteFile(caPath, b.CA, 0o644); err != nil {
		return err
	}
	if err := os.WriteFile(certPath, b.Cert, 0o644); err != nil {
		return err
	}
	return os.WriteFile(keyPath, b.Key, 0o600)
}
