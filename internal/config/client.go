// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ClientConfig representa a configuração completa do screenlinkd em papel client.
type ClientConfig struct {
	Client    ClientInfo     `yaml:"client"`
	Server    ServerAddr     `yaml:"server"`
	TLS       TLSClient      `yaml:"tls"`
	Transport TransportInfo  `yaml:"transport"`
	FileXfer  FileXferConfig `yaml:"file_transfer"`
	Discovery ClientDisco    `yaml:"discovery"`
	Daemon    DaemonInfo     `yaml:"daemon"`
	Logging   LoggingInfo    `yaml:"logging"`
}

// ClientInfo identifica a posição de tela local deste client.
type ClientInfo struct {
	Name   string `yaml:"name"`
	Screen string `yaml:"screen"` // left, right, up, down
}

// ServerAddr contém o endereço do servidor configurado diretamente, sem
// descoberta. Vazio quando o client deve descobrir via mDNS.
type ServerAddr struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// TLSClient contém os caminhos dos certificados mTLS do client.
type TLSClient struct {
	Enabled    bool   `yaml:"enabled"`
	CACert     string `yaml:"ca_cert"`
	ClientCert string `yaml:"client_cert"`
	ClientKey  string `yaml:"client_key"`
}

// ClientDisco controla como o client resolve um server quando server.address
// não está configurado.
type ClientDisco struct {
	WaitTimeout time.Duration `yaml:"wait_timeout"`
	AppName     string        `yaml:"app_name"`
}

// LoadClientConfig lê e valida o arquivo YAML de configuração do client.
func LoadClientConfig(path string) (*ClientConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading client config: %w", err)
	}

	var cfg ClientConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing client config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating client config: %w", err)
	}

	return &cfg, nil
}

func (c *ClientConfig) validate() error {
	if c.Client.Name == "" {
		return fmt.Errorf("client.name is required")
	}
	if !validScreens[c.Client.Screen] {
		return fmt.Errorf("client.screen must be one of left/right/up/down, got %q", c.Client.Screen)
	}

	if c.TLS.Enabled {
		if c.TLS.CACert == "" {
			return fmt.Errorf("tls.ca_cert is required when tls.enabled")
		}
		if c.TLS.ClientCert == "" {
			return fmt.Errorf("tls.client_cert is required when tls.enabled")
		}
		if c.TLS.ClientKey == "" {
			return fmt.Errorf("tls.client_key is required when tls.enabled")
		}
	}

	if c.Transport.ChunkCap == "" {
		c.Transport.ChunkCap = "16kb"
	}
	chunkCap, err := ParseByteSize(c.Transport.ChunkCap)
	if err != nil {
		return fmt.Errorf("transport.chunk_cap: %w", err)
	}
	c.Transport.ChunkCapRaw = chunkCap
	if c.Transport.HealthInterval <= 0 {
		c.Transport.HealthInterval = 3 * time.Second
	}
	if c.Transport.ReconnectInterval <= 0 {
		c.Transport.ReconnectInterval = 5 * time.Second
	}

	if err := validateFileXfer(&c.FileXfer, c.Client.Name); err != nil {
		return err
	}

	if c.Discovery.AppName == "" {
		c.Discovery.AppName = "screenlink"
	}
	if c.Discovery.WaitTimeout <= 0 {
		c.Discovery.WaitTimeout = 5 * time.Second
	}

	if c.Daemon.SocketPath == "" {
		c.Daemon.SocketPath = defaultSocketPath(c.Discovery.AppName)
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	return nil
}
