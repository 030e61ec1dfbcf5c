// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package daemon

import (
	"log/slog"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// HostStats contém as métricas de host embutidas na resposta de status
// (campo host_stats); server_status e client_status não as incluem.
type HostStats struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	LoadAverage1  float64 `json:"load_average_1m"`
}

const statsInterval = 15 * time.Second

// hostMonitor amostra HostStats num timer para que uma consulta de
// status nunca bloqueie numa syscall ao vivo; CPUPercent em particular
// precisa de uma janela de amostragem própria, que um handler de
// request/response não deve pagar.
type hostMonitor struct {
	logger *slog.Logger

	mu    sync.RWMutex
	stats HostStats

	stop chan struct{}
	wg   sync.WaitGroup
}

func newHostMonitor(logger *slog.Logger) *hostMonitor {
	return &hostMonitor{logger: logger.With("component", "host_monitor"), stop: make(chan struct{})}
}

func (m *hostMonitor) start() {
	m.wg.Add(1)
	go m.run()
}

func (m *hostMonitor) close() {
	close(m.stop)
	m.wg.Wait()
}

func (m *hostMonitor) current() HostStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}

func (m *hostMonitor) run() {
	defer m.wg.Done()

	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	m.collect()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.collect()
		}
	}
}

func (m *hostMonitor) collect() {
	var stats HostStats

	if percentages, err := cpu.Percent(0, false); err == nil && len(percentages) > 0 {
		stats.CPUPercent = percentages[0]
	} else {
		m.logger.Debug("collecting cpu stats", "error", err)
	}

	if v, err := mem.VirtualMemory(); err == nil {
		stats.MemoryPercent = v.UsedPercent
	} else {
		m.logger.Debug("collecting memory stats", "error", err)
	}

	if l, err := load.Avg(); err == nil {
		stats.LoadAverage1 = l.Load1
	} else {
		m.logger.Debug("collecting load stats", "error", err)
	}

	m.mu.Lock()
	m.stats = stats
	m.mu.Unlock()
}
