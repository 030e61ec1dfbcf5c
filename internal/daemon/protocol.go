// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package daemon implementa a superfície de controle de IPC local: um
// único processo de longa duração que possui no máximo um papel de
// server ou client por vez, controlado por comandos JSON one-shot sobre
// um socket UNIX POSIX.
package daemon

import "fmt"

// Command identifica um request de IPC.
type Command string

const (
	CommandStartServer Command = "start_server"
	CommandStopServer  Command = "stop_server"
	CommandStartClient Command = "start_client"
	CommandStopClient  Command = "stop_client"

	CommandStatus       Command = "status"
	CommandServerStatus Command = "server_status"
	CommandClientStatus Command = "client_status"

	CommandGetServerConfig Command = "get_server_config"
	CommandSetServerConfig Command = "set_server_config"
	CommandGetClientConfig Command = "get_client_config"
	CommandSetClientConfig Command = "set_client_config"
	CommandSaveConfig      Command = "save_config"
	CommandReloadConfig    Command = "reload_config"

	CommandEnableStream  Command = "enable_stream"
	CommandDisableStream Command = "disable_stream"
	CommandGetStreams    Command = "get_streams"

	CommandAddClient    Command = "add_client"
	CommandRemoveClient Command = "remove_client"
	CommandEditClient   Command = "edit_client"
	CommandListClients  Command = "list_clients"

	CommandEnableSSL          Command = "enable_ssl"
	CommandDisableSSL         Command = "disable_ssl"
	CommandShareCertificate   Command = "share_certificate"
	CommandReceiveCertificate Command = "receive_certificate"
	CommandSetOTP             Command = "set_otp"
	CommandCheckOTPNeeded     Command = "check_otp_needed"
	CommandDiscoverServices   Command = "discover_services"
	CommandGetFoundServers    Command = "get_found_servers"
	CommandChooseServer       Command = "choose_server"
	CommandCheckServerChoice  Command = "check_server_choice_needed"

	CommandShutdown Command = "shutdown"
	CommandPing     Command = "ping"
)

// Request é um comando de IPC decodificado.
type Request struct {
	Command Command        `json:"command"`
	Params  map[string]any `json:"params"`
}

// Response é o formato {success, data, error} que todo handler retorna.
// Chamadores testam Success; Error é uma string simples, sem tag
// estrutural de tipo de erro.
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func ok(data any) Response { return Response{Success: true, Data: data} }

func fail(format string, a ...any) Response {
	return Response{Success: false, Error: fmt.Sprintf(format, a...)}
}
