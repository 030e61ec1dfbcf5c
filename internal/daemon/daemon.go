// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nishisan-dev/screenlink/internal/capability"
	"github.com/nishisan-dev/screenlink/internal/config"
	"github.com/nishisan-dev/screenlink/internal/discovery"
	"github.com/nishisan-dev/screenlink/internal/pki"
)

// Daemon possui no máximo um papel rodando por vez (server xor client),
// a configuração de ambos (para que um papel possa ser reconfigurado e
// reiniciado sem reler do disco) e o store de OTP por trás de
// share_certificate/receive_certificate. Um Daemon serve um único socket
// UNIX pela vida do processo. traits carrega os bindings de
// captura/injeção que este build linkou; o binário puro do daemon roda
// sem nenhum, deixando todo stream de input inerte até um front end de
// plataforma fornecê-los.
type Daemon struct {
	logger  *slog.Logger
	host    *hostMonitor
	otp     *pki.OTPStore
	traits  capability.Traits
	streams *streamGate

	mu            sync.Mutex
	serverCfg     *config.ServerConfig
	clientCfg     *config.ClientConfig
	serverCfgPath string
	clientCfgPath string
	serverRole    *ServerRole
	clientRole    *ClientRole

	shutdown context.CancelFunc
}

// New monta um Daemon. serverCfgPath/clientCfgPath podem estar vazios se
// o arquivo de configuração daquele papel ainda não existe —
// reload_config e get_*_config simplesmente não reportam nada até um ser
// carregado.
func New(logger *slog.Logger, serverCfgPath, clientCfgPath string) *Daemon {
	d := &Daemon{
		logger:        logger,
		host:          newHostMonitor(logger),
		otp:           pki.NewOTPStore(),
		streams:       newStreamGate(),
		serverCfgPath: serverCfgPath,
		clientCfgPath: clientCfgPath,
	}
	if serverCfgPath != "" {
		if cfg, err := config.LoadServerConfig(serverCfgPath); err == nil {
			d.serverCfg = cfg
		} else {
			logger.Warn("loading server config", "path", serverCfgPath, "error", err)
		}
	}
	if clientCfgPath != "" {
		if cfg, err := config.LoadClientConfig(clientCfgPath); err == nil {
			d.clientCfg = cfg
		} else {
			logger.Warn("loading client config", "path", clientCfgPath, "error", err)
		}
	}
	return d
}

// SetTraits instala os bindings de captura/injeção que os próximos
// starts de papel vão amarrar. Chamar antes do primeiro
// start_server/start_client; um papel já rodando mantém os traits com
// que foi construído.
func (d *Daemon) SetTraits(t capability.Traits) {
	d.mu.Lock()
	d.traits = t
	d.mu.Unlock()
}

// Run inicia o monitor de host e serve o socket de IPC até ctx ser
// cancelado ou um comando de shutdown chegar.
func (d *Daemon) Run(ctx context.Context, socketPath string) error {
	ctx, cancel := context.WithCancel(ctx)
	d.shutdown = cancel
	defer cancel()

	d.host.start()
	defer d.host.close()

	err := Serve(ctx, socketPath, d.logger, d.Dispatch)

	d.mu.Lock()
	if d.serverRole != nil {
		d.serverRole.Stop()
		d.serverRole = nil
	}
	if d.clientRole != nil {
		d.clientRole.Stop()
		d.clientRole = nil
	}
	d.mu.Unlock()

	return err
}

// Dispatch executa um Request decodificado e retorna seu Response. É o
// único ponto de entrada que Serve chama para cada conexão.
func (d *Daemon) Dispatch(req Request) Response {
	d.logger.Debug("dispatching command", "command", req.Command)

	switch req.Command {
	case CommandPing:
		return ok(map[string]any{"message": "pong"})
	case CommandShutdown:
		go d.delayedShutdown()
		return ok(map[string]any{"message": "daemon shutting down..."})

	case CommandStartServer:
		return d.handleStartServer()
	case CommandStopServer:
		return d.handleStopServer()
	case CommandStartClient:
		return d.handleStartClient()
	case CommandStopClient:
		return d.handleStopClient()

	case CommandStatus:
		return d.handleStatus()
	case CommandServerStatus:
		return d.handleServerStatus()
	case CommandClientStatus:
		return d.handleClientStatus()

	case CommandGetServerConfig:
		return d.handleGetServerConfig()
	case CommandSetServerConfig:
		return d.handleSetServerConfig(req.Params)
	case CommandGetClientConfig:
		return d.handleGetClientConfig()
	case CommandSetClientConfig:
		return d.handleSetClientConfig(req.Params)
	case CommandSaveConfig:
		return d.handleSaveConfig(req.Params)
	case CommandReloadConfig:
		return d.handleReloadConfig(req.Params)

	case CommandEnableStream:
		return d.handleSetStream(req.Params, true)
	case CommandDisableStream:
		return d.handleSetStream(req.Params, false)
	case CommandGetStreams:
		return d.handleGetStreams()

	case CommandAddClient:
		return d.handleAddClient(req.Params)
	case CommandRemoveClient:
		return d.handleRemoveClient(req.Params)
	case CommandEditClient:
		return d.handleEditClient(req.Params)
	case CommandListClients:
		return d.handleListClients()

	case CommandEnableSSL:
		return d.handleSetSSL(req.Params, true)
	case CommandDisableSSL:
		return d.handleSetSSL(req.Params, false)
	case CommandShareCertificate:
		return d.handleShareCertificate()
	case CommandReceiveCertificate:
		return d.handleReceiveCertificate(req.Params)
	case CommandSetOTP, CommandCheckOTPNeeded:
		return d.handleOTPQuery()
	case CommandDiscoverServices, CommandGetFoundServers:
		return d.handleDiscoverServices(req.Params)
	case CommandChooseServer, CommandCheckServerChoice:
		return fail("server selection is resolved by transport.Client discovery; no manual choose_server step is needed")

	default:
		return fail("unknown command: %s", req.Command)
	}
}

func (d *Daemon) delayedShutdown() {
	time.Sleep(500 * time.Millisecond)
	if d.shutdown != nil {
		d.shutdown()
	}
}

// ==================== Controle de serviços ====================

func (d *Daemon) handleStartServer() Response {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.serverRole != nil {
		return fail("server already running")
	}
	if d.clientRole != nil {
		return fail("Cannot start server while client is running")
	}
	if d.serverCfg == nil {
		return fail("no server configuration loaded")
	}

	role := NewServerRole(d.serverCfg, d.logger, d.traits)
	d.applyStreams(role.streams)
	if err := role.Start(context.Background()); err != nil {
		return fail("starting server: %v", err)
	}
	d.serverRole = role

	return ok(map[string]any{
		"message": "server started successfully",
		"host":    d.serverCfg.Server.BindAddress,
		"port":    d.serverCfg.Server.Port,
	})
}

func (d *Daemon) handleStopServer() Response {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.serverRole == nil {
		return fail("server not running")
	}
	d.serverRole.Stop()
	d.serverRole = nil
	return ok(map[string]any{"message": "server stopped successfully"})
}

func (d *Daemon) handleStartClient() Response {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.clientRole != nil {
		return fail("client already running")
	}
	if d.serverRole != nil {
		return fail("Cannot start client while server is running")
	}
	if d.clientCfg == nil {
		return fail("no client configuration loaded")
	}

	role := NewClientRole(d.clientCfg, d.logger, d.traits)
	d.applyStreams(role.streams)
	if err := role.Start(context.Background()); err != nil {
		return fail("starting client: %v", err)
	}
	d.clientRole = role

	return ok(map[string]any{
		"message":     "client started successfully",
		"server_host": d.clientCfg.Server.Address,
		"server_port": d.clientCfg.Server.Port,
	})
}

func (d *Daemon) handleStopClient() Response {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.clientRole == nil {
		return fail("client not running")
	}
	d.clientRole.Stop()
	d.clientRole = nil
	return ok(map[string]any{"message": "client stopped successfully"})
}

// ==================== Status ====================

func (d *Daemon) handleStatus() Response {
	d.mu.Lock()
	defer d.mu.Unlock()

	data := map[string]any{
		"daemon_running": true,
		"server_running": d.serverRole != nil,
		"client_running": d.clientRole != nil,
		"host_stats":     d.host.current(),
	}
	if d.serverRole != nil {
		data["server_info"] = d.serverRole.Status()
	}
	if d.clientRole != nil {
		data["client_info"] = d.clientRole.Status()
	}
	return ok(data)
}

func (d *Daemon) handleServerStatus() Response {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.serverRole == nil {
		return ok(map[string]any{"running": false})
	}
	return ok(d.serverRole.Status())
}

func (d *Daemon) handleClientStatus() Response {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.clientRole == nil {
		return ok(map[string]any{"running": false})
	}
	return ok(d.clientRole.Status())
}

// ==================== Streams ====================

// applyStreams copia os estados de stream desejados do daemon para o
// gate de um papel recém-construído, para que enable/disable sobreviva a
// um restart do papel.
func (d *Daemon) applyStreams(gate *streamGate) {
	for stream, enabled := range d.streams.snapshot() {
		gate.set(stream, enabled)
	}
}

func (d *Daemon) handleSetStream(params map[string]any, enabled bool) Response {
	stream := stringParam(params, "stream")

	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.streams.set(stream, enabled); err != nil {
		return fail("%v", err)
	}
	if d.serverRole != nil {
		d.serverRole.streams.set(stream, enabled)
	}
	if d.clientRole != nil {
		d.clientRole.streams.set(stream, enabled)
	}
	return ok(map[string]any{"message": fmt.Sprintf("stream %s %s", stream, onOff(enabled))})
}

func (d *Daemon) handleGetStreams() Response {
	d.mu.Lock()
	defer d.mu.Unlock()
	return ok(map[string]any{"streams": d.streams.snapshot()})
}

// ==================== Configuração ====================

func (d *Daemon) handleGetServerConfig() Response {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.serverCfg == nil {
		return fail("no server configuration loaded")
	}
	return ok(d.serverCfg)
}

func (d *Daemon) handleSetServerConfig(params map[string]any) Response {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.serverRole != nil {
		return fail("cannot modify configuration while server is running")
	}
	if d.serverCfg == nil {
		return fail("no server configuration loaded")
	}
	if v, ok := params["bind_address"].(string); ok {
		d.serverCfg.Server.BindAddress = v
	}
	if v, ok := params["port"].(float64); ok {
		d.serverCfg.Server.Port = int(v)
	}
	return ok(map[string]any{"message": "server configuration updated"})
}

func (d *Daemon) handleGetClientConfig() Response {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.clientCfg == nil {
		return fail("no client configuration loaded")
	}
	return ok(d.clientCfg)
}

func (d *Daemon) handleSetClientConfig(params map[string]any) Response {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.clientRole != nil {
		return fail("cannot modify configuration while client is running")
	}
	if d.clientCfg == nil {
		return fail("no client configuration loaded")
	}
	if v, ok := params["server_address"].(string); ok {
		d.clientCfg.Server.Address = v
	}
	if v, ok := params["server_port"].(float64); ok {
		d.clientCfg.Server.Port = int(v)
	}
	return ok(map[string]any{"message": "client configuration updated"})
}

func (d *Daemon) handleSaveConfig(params map[string]any) Response {
	d.mu.Lock()
	defer d.mu.Unlock()

	which, _ := params["type"].(string)
	if which == "" {
		which = "both"
	}

	if (which == "server" || which == "both") && d.serverCfg != nil && d.serverCfgPath != "" {
		data, err := yaml.Marshal(d.serverCfg)
		if err == nil {
			err = os.WriteFile(d.serverCfgPath, data, 0o644)
		}
		if err != nil {
			return fail("saving server config: %v", err)
		}
	}
	if (which == "client" || which == "both") && d.clientCfg != nil && d.clientCfgPath != "" {
		data, err := yaml.Marshal(d.clientCfg)
		if err == nil {
			err = os.WriteFile(d.clientCfgPath, data, 0o644)
		}
		if err != nil {
			return fail("saving client config: %v", err)
		}
	}
	return ok(map[string]any{"message": fmt.Sprintf("configuration saved (%s)", which)})
}

func (d *Daemon) handleReloadConfig(params map[string]any) Response {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.serverRole != nil || d.clientRole != nil {
		return fail("cannot reload configuration while services are running")
	}

	which, _ := params["type"].(string)
	if which == "" {
		which = "both"
	}

	if (which == "server" || which == "both") && d.serverCfgPath != "" {
		cfg, err := config.LoadServerConfig(d.serverCfgPath)
		if err != nil {
			return fail("reloading server config: %v", err)
		}
		d.serverCfg = cfg
	}
	if (which == "client" || which == "both") && d.clientCfgPath != "" {
		cfg, err := config.LoadClientConfig(d.clientCfgPath)
		if err != nil {
			return fail("reloading client config: %v", err)
		}
		d.clientCfg = cfg
	}
	return ok(map[string]any{"message": fmt.Sprintf("configuration reloaded (%s)", which)})
}

// ==================== Gerência de clients (apenas server) ====================

func (d *Daemon) handleAddClient(params map[string]any) Response {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.serverCfg == nil {
		return fail("no server configuration loaded")
	}

	entry := config.ClientEntry{
		Name:    stringParam(params, "name"),
		Screen:  stringParam(params, "screen"),
		Address: stringParam(params, "address"),
	}
	if entry.Name == "" || entry.Screen == "" || entry.Address == "" {
		return fail("add_client requires name, screen, and address")
	}

	if d.serverRole != nil {
		if err := d.serverRole.registry.Add(entry); err != nil {
			return fail("%v", err)
		}
	}
	d.serverCfg.Clients = append(d.serverCfg.Clients, entry)
	return ok(map[string]any{"message": fmt.Sprintf("client added at position %s", entry.Screen)})
}

func (d *Daemon) handleRemoveClient(params map[string]any) Response {
	d.mu.Lock()
	defer d.mu.Unlock()
	name := stringParam(params, "name")
	if name == "" {
		return fail("remove_client requires name")
	}

	if d.serverRole != nil {
		if err := d.serverRole.registry.Remove(name); err != nil {
			return fail("%v", err)
		}
	}
	if d.serverCfg != nil {
		for i, c := range d.serverCfg.Clients {
			if c.Name == name {
				d.serverCfg.Clients = append(d.serverCfg.Clients[:i], d.serverCfg.Clients[i+1:]...)
				break
			}
		}
	}
	return ok(map[string]any{"message": "client removed"})
}

func (d *Daemon) handleEditClient(params map[string]any) Response {
	d.mu.Lock()
	defer d.mu.Unlock()

	name := stringParam(params, "name")
	if name == "" {
		return fail("edit_client requires name")
	}
	if d.serverCfg == nil {
		return fail("no server configuration loaded")
	}

	var entry *config.ClientEntry
	for i := range d.serverCfg.Clients {
		if d.serverCfg.Clients[i].Name == name {
			entry = &d.serverCfg.Clients[i]
			break
		}
	}
	if entry == nil {
		return fail("no client named %q", name)
	}

	if d.serverRole != nil {
		if rec := d.serverRole.registry.ByName(name); rec != nil && rec.Connected() {
			return fail("cannot edit client %q while it is connected", name)
		}
	}

	if v := stringParam(params, "screen"); v != "" {
		entry.Screen = v
	}
	if v := stringParam(params, "address"); v != "" {
		entry.Address = v
	}

	if d.serverRole != nil {
		d.serverRole.registry.Remove(name)
		if err := d.serverRole.registry.Add(*entry); err != nil {
			return fail("%v", err)
		}
	}
	return ok(map[string]any{"message": "client updated"})
}

func (d *Daemon) handleListClients() Response {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.serverRole == nil {
		return fail("server is not running")
	}
	var out []map[string]any
	for _, rec := range d.serverRole.registry.All() {
		out = append(out, map[string]any{
			"name":      rec.Name,
			"screen":    string(rec.Screen),
			"address":   rec.Address,
			"connected": rec.Connected(),
		})
	}
	return ok(map[string]any{"count": len(out), "clients": out})
}

// ==================== SSL / OTP ====================

func (d *Daemon) handleSetSSL(params map[string]any, enabled bool) Response {
	d.mu.Lock()
	defer d.mu.Unlock()

	service, _ := params["service"].(string)
	switch service {
	case "client":
		if d.clientCfg == nil {
			return fail("client not initialized")
		}
		d.clientCfg.TLS.Enabled = enabled
	default:
		if d.serverCfg == nil {
			return fail("server not initialized")
		}
		d.serverCfg.TLS.Enabled = enabled
	}
	return ok(map[string]any{"message": fmt.Sprintf("ssl %s (restart required)", onOff(enabled))})
}

func (d *Daemon) handleShareCertificate() Response {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.serverCfg == nil {
		return fail("no server configuration loaded")
	}
	code, err := d.otp.Generate(d.serverCfg.OTP.TTL)
	if err != nil {
		return fail("generating otp: %v", err)
	}
	return ok(map[string]any{
		"message":      "certificate sharing started",
		"otp":          code,
		"instructions": "provide this OTP to clients to receive the certificate",
	})
}

func (d *Daemon) handleReceiveCertificate(params map[string]any) Response {
	d.mu.Lock()
	defer d.mu.Unlock()

	otpCode := stringParam(params, "otp")
	if otpCode == "" {
		return fail("must provide 'otp' parameter")
	}
	if err := d.otp.Validate(otpCode); err != nil {
		return fail("invalid or expired otp")
	}

	if d.serverCfg == nil || d.clientCfg == nil {
		return fail("both server and client configuration must be loaded to transfer a certificate locally")
	}
	bundle, err := pki.ReadBundle(d.serverCfg.TLS.CACert, d.serverCfg.TLS.Cert, d.serverCfg.TLS.Key)
	if err != nil {
		return fail("reading server certificate bundle: %v", err)
	}
	if err := pki.WriteBundle(bundle, d.clientCfg.TLS.CACert, d.clientCfg.TLS.ClientCert, d.clientCfg.TLS.ClientKey); err != nil {
		return fail("writing client certificate bundle: %v", err)
	}
	return ok(map[string]any{"message": "certificate received successfully", "certificate_path": d.clientCfg.TLS.ClientCert})
}

func (d *Daemon) handleOTPQuery() Response {
	return ok(map[string]any{"otp_needed": d.otp.Pending()})
}

// ==================== Descoberta ====================

func (d *Daemon) handleDiscoverServices(params map[string]any) Response {
	appName, _ := params["app_name"].(string)
	if appName == "" {
		appName = "screenlink"
	}
	timeout := 5 * time.Second
	if v, ok := params["timeout_seconds"].(float64); ok && v > 0 {
		timeout = time.Duration(v * float64(time.Second))
	}

	instances, err := discovery.Browse(context.Background(), appName, timeout)
	if err != nil && len(instances) == 0 {
		return fail("discovering services: %v", err)
	}

	out := make([]map[string]any, 0, len(instances))
	for _, inst := range instances {
		out = append(out, map[string]any{
			"uid": inst.UID, "address": inst.Address, "port": inst.Port, "hostname": inst.Hostname,
		})
	}
	return ok(map[string]any{"services": out, "count": len(out)})
}

func stringParam(params map[string]any, key string) string {
	v, _ := params[key].(string)
	return v
}

func onOff(b bool) string {
	if b {
		return "enabled"
	}
	return "disabled"
}
