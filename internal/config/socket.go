// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package config

import (
	"fmt"
	"runtime"
)

// defaultSocketPath calcula o endpoint de IPC do daemon para app: um
// socket UNIX POSIX sob /tmp, ou um named pipe no Windows.
func defaultSocketPath(app string) string {
	if runtime.GOOS == "windows" {
		return fmt.Sprintf(`\\.\pipe\%s_daemon`, app)
	}
	return fmt.Sprintf("/tmp/%s_daemon.sock", app)
}
