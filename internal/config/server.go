// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig representa a configuração completa do screenlinkd em papel server.
type ServerConfig struct {
	Server    ServerInfo     `yaml:"server"`
	TLS       TLSServer      `yaml:"tls"`
	Clients   []ClientEntry  `yaml:"clients"`
	Bus       BusConfig      `yaml:"bus"`
	Transport TransportInfo  `yaml:"transport"`
	FileXfer  FileXferConfig `yaml:"file_transfer"`
	Discovery DiscoveryInfo  `yaml:"discovery"`
	OTP       OTPConfig      `yaml:"otp"`
	Daemon    DaemonInfo     `yaml:"daemon"`
	Logging   LoggingInfo    `yaml:"logging"`
}

// ServerInfo identifica o processo server e o bind de rede.
type ServerInfo struct {
	Name        string `yaml:"name"`
	BindAddress string `yaml:"bind_address"`
	Port        int    `yaml:"port"`
}

// TLSServer contém os caminhos dos certificados mTLS do server.
type TLSServer struct {
	Enabled bool   `yaml:"enabled"`
	CACert  string `yaml:"ca_cert"`
	Cert    string `yaml:"cert"`
	Key     string `yaml:"key"`
}

// ClientEntry é um registro de client configurado estaticamente, a partir
// do qual o registry em internal/clients constrói seus registros em runtime.
type ClientEntry struct {
	Name     string            `yaml:"name"`
	Screen   string            `yaml:"screen"` // left, right, up, down
	Address  string            `yaml:"address"`
	KeyRemap map[string]string `yaml:"key_remap"`
}

// BusConfig ajusta os parâmetros de batching e fila de prioridade do
// message bus.
type BusConfig struct {
	MouseBatchCount    int           `yaml:"mouse_batch_count"`
	MouseBatchInterval time.Duration `yaml:"mouse_batch_interval"`
	KeyBatchCount      int           `yaml:"keyboard_batch_count"`
	KeyBatchInterval   time.Duration `yaml:"keyboard_batch_interval"`
	QueueDepth         int           `yaml:"queue_depth"`
}

// TransportInfo controla o cap de chunking do wire codec e os timeouts de
// health-check por conexão.
type TransportInfo struct {
	ChunkCap          string        `yaml:"chunk_cap"` // ex: "16kb"
	ChunkCapRaw       int64         `yaml:"-"`
	HealthInterval    time.Duration `yaml:"health_interval"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
}

// FileXferConfig controla a taxa de transferência e a tolerância a stall do
// coordenador de arquivos. Compartilhada entre ServerConfig e ClientConfig:
// ambos os papéis podem ser o destino de uma transferência.
type FileXferConfig struct {
	Compression     string        `yaml:"compression"` // gzip (default) ou zstd
	BandwidthLimit  string        `yaml:"bandwidth_limit"`
	BandwidthRaw    int64         `yaml:"-"`
	StallPollCount  int           `yaml:"stall_poll_count"`
	StallPollPeriod time.Duration `yaml:"stall_poll_period"`
	DownloadDir     string        `yaml:"download_dir"`
	// TransferLogDir, se definido, ganha um arquivo de log dedicado em
	// nível debug por transferência de entrada sob
	// {dir}/{screen}/{file_name}.log, removido de novo na conclusão com
	// sucesso. Vazio desabilita.
	TransferLogDir string `yaml:"transfer_log_dir"`
}

// DiscoveryInfo controla a publicação mDNS do server.
type DiscoveryInfo struct {
	Enabled bool   `yaml:"enabled"`
	AppName string `yaml:"app_name"`
}

// OTPConfig controla a janela de validade da senha de uso único usada na
// troca de certificado.
type OTPConfig struct {
	Enabled bool          `yaml:"enabled"`
	TTL     time.Duration `yaml:"ttl"`
}

// DaemonInfo contém o caminho do socket de IPC local.
type DaemonInfo struct {
	SocketPath string `yaml:"socket_path"`
}

// LoggingInfo contém configurações de logging.
type LoggingInfo struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	FilePath string `yaml:"file_path"`
}

var validScreens = map[string]bool{"left": true, "right": true, "up": true, "down": true}

// LoadServerConfig lê e valida o arquivo YAML de configuração do server.
func LoadServerConfig(path string) (*ServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading server config: %w", err)
	}

	var cfg ServerConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing server config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating server config: %w", err)
	}
	return &cfg, nil
}

func (c *ServerConfig) validate() error {
	if c.Server.Name == "" {
		return fmt.Errorf("server.name is required")
	}
	if c.Server.BindAddress == "" {
		c.Server.BindAddress = "0.0.0.0"
	}
	if c.Server.Port <= 0 {
		c.Server.Port = 24800
	}

	if c.TLS.Enabled {
		if c.TLS.CACert == "" {
			return fmt.Errorf("tls.ca_cert is required when tls.enabled")
		}
		if c.TLS.Cert == "" {
			return fmt.Errorf("tls.cert is required when tls.enabled")
		}
		if c.TLS.Key == "" {
			return fmt.Errorf("tls.key is required when tls.enabled")
		}
	}

	screens := make(map[string]bool, len(c.Clients))
	for i, cl := range c.Clients {
		if cl.Name == "" {
			return fmt.Errorf("clients[%d].name is required", i)
		}
		if !validScreens[cl.Screen] {
			return fmt.Errorf("clients[%d].screen must be one of left/right/up/down, got %q", i, cl.Screen)
		}
		if screens[cl.Screen] {
			return fmt.Errorf("clients[%d].screen %q is configured more than once", i, cl.Screen)
		}
		screens[cl.Screen] = true
		if cl.Address == "" {
			return fmt.Errorf("clients[%d].address is required", i)
		}
	}

	if c.Bus.MouseBatchCount <= 0 {
		c.Bus.MouseBatchCount = 10
	}
	if c.Bus.MouseBatchInterval <= 0 {
		c.Bus.MouseBatchInterval = 20 * time.Millisecond
	}
	if c.Bus.KeyBatchCount <= 0 {
		c.Bus.KeyBatchCount = 7
	}
	if c.Bus.KeyBatchInterval <= 0 {
		c.Bus.KeyBatchInterval = 10 * time.Millisecond
	}
	if c.Bus.QueueDepth <= 0 {
		c.Bus.QueueDepth = 256
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

	if err := validateFileXfer(&c.FileXfer, c.Server.Name); err != nil {
		return err
	}

	if c.Discovery.AppName == "" {
		c.Discovery.AppName = "screenlink"
	}

	if c.OTP.TTL <= 0 {
		c.OTP.TTL = 5 * time.Minute
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

// validateFileXfer normaliza uma FileXferConfig compartilhada pelos dois
// papéis. roleName namespeia o diretório de download default para que um
// server e um client rodando no mesmo host nunca colidam.
func validateFileXfer(c *FileXferConfig, roleName string) error {
	if c.Compression == "" {
		c.Compression = "gzip"
	}
	if c.Compression != "gzip" && c.Compression != "zstd" {
		return fmt.Errorf("file_transfer.compression must be gzip or zstd, got %q", c.Compression)
	}
	if c.BandwidthLimit != "" {
		raw, err := ParseByteSize(c.BandwidthLimit)
		if err != nil {
			return fmt.Errorf("file_transfer.bandwidth_limit: %w", err)
		}
		c.BandwidthRaw = raw
	}
	if c.StallPollCount <= 0 {
		c.StallPollCount = 20
	}
	if c.StallPollPeriod <= 0 {
		c.StallPollPeriod = time.Second
	}
	if c.DownloadDir == "" {
		c.DownloadDir = filepath.Join(os.TempDir(), "screenlink", roleName, "received")
	}
	if err := os.MkdirAll(c.DownloadDir, 0o755); err != nil {
		return fmt.Errorf("file_transfer.download_dir: %w", err)
	}
	return nil
}
