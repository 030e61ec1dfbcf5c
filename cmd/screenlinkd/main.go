// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// screenlinkd é o binário único do daemon: possui no máximo um papel de
// server ou client por vez e expõe ciclo de vida/reconfiguração sobre um
// socket de IPC local. Os papéis server/client em si são iniciados e
// parados por esse socket (start_server/start_client), não por flags de
// linha de comando.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"

	"github.com/nishisan-dev/screenlink/internal/config"
	"github.com/nishisan-dev/screenlink/internal/daemon"
	"github.com/nishisan-dev/screenlink/internal/logging"
)

const (
	exitOK        = 0
	exitFailure   = 1
	exitInterrupt = 130
)

func main() {
	os.Exit(run())
}

func run() int {
	socketPath := flag.String("socket", "", "path to the daemon IPC socket (default: platform-specific)")
	configDir := flag.String("config-dir", "/etc/screenlink", "directory holding server.yaml and client.yaml")
	debug := flag.Bool("debug", false, "enable debug-level logging")
	logTerminal := flag.Bool("log-terminal", true, "log to stdout as text instead of JSON (logs always go to stdout; no log file is written)")
	flag.Parse()

	level := "info"
	if *debug {
		level = "debug"
	}
	format := "json"
	if *logTerminal {
		format = "text"
	}
	logger, closer := logging.NewLogger(level, format, "")
	defer closer.Close()

	serverCfgPath := filepath.Join(*configDir, "server.yaml")
	clientCfgPath := filepath.Join(*configDir, "client.yaml")
	if _, err := os.Stat(serverCfgPath); err != nil {
		serverCfgPath = ""
	}
	if _, err := os.Stat(clientCfgPath); err != nil {
		clientCfgPath = ""
	}

	d := daemon.New(logger, serverCfgPath, clientCfgPath)

	resolvedSocket := *socketPath
	if resolvedSocket == "" {
		resolvedSocket = defaultSocketPathForRun(serverCfgPath, clientCfgPath)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var interrupted atomic.Bool
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)
		interrupted.Store(true)
		cancel()
	}()

	if err := d.Run(ctx, resolvedSocket); err != nil {
		logger.Error("daemon exited with error", "error", err)
		return exitFailure
	}
	if interrupted.Load() {
		return exitInterrupt
	}
	return exitOK
}

// defaultSocketPathForRun carrega a configuração que estiver disponível
// só o bastante para ler seu default de daemon.socket_path; se nenhum
// arquivo de configuração existe ainda, o daemon cai no default puro do
// nome da aplicação.
func defaultSocketPathForRun(serverCfgPath, clientCfgPath string) string {
	if serverCfgPath != "" {
		if cfg, err := config.LoadServerConfig(serverCfgPath); err == nil {
			return cfg.Daemon.SocketPath
		}
	}
	if clientCfgPath != "" {
		if cfg, err := config.LoadClientConfig(clientCfgPath); err == nil {
			return cfg.Daemon.SocketPath
		}
	}
	return fmt.Sprintf("/tmp/%s_daemon.sock", "screenlink")
}
