package async

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v3/mem"

	"github.com/teranos/cadence/errors"
)

// SystemMetrics is a point-in-time view of host memory and job backlog
type SystemMetrics struct {
	WorkersTotal  int     `json:"workers_total"`
	MemoryUsedGB  float64 `json:"memory_used_gb"`
	MemoryTotalGB float64 `json:"memory_total_gb"`
	MemoryPercent float64 `json:"memory_percent"`
	JobsPending   int     `json:"jobs_pending"`
	JobsRunning   int     `json:"jobs_running"`
}

const bytesPerGB = 1024 * 1024 * 1024

// memoryStats is swapped in tests
var memoryStats = func() (total, available uint64, err error) {
	v, err := mem.VirtualMemory()
	if err != nil {
		return 0, 0, errors.Wrap(err, "failed to get memory stats")
	}
	return v.Total, v.Available, nil
}

// CollectSystemMetrics reads host memory and counts pending and running jobs.
// Memory fields stay zero when the host cannot report them.
func (s *Store) CollectSystemMetrics(ctx context.Context, workers int) (SystemMetrics, error) {
	m := SystemMetrics{WorkersTotal: workers}

	if total, available, err := memoryStats(); err == nil && total > 0 {
		m.MemoryTotalGB = float64(total) / bytesPerGB
		m.MemoryUsedGB = float64(total-available) / bytesPerGB
		m.MemoryPercent = m.MemoryUsedGB / m.MemoryTotalGB * 100
	}

	err := s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'running' THEN 1 ELSE 0 END), 0)
		FROM jobs`).Scan(&m.JobsPending, &m.JobsRunning)
	if err != nil {
		return m, errors.Wrap(err, "failed to count job backlog")
	}
	return m, nil
}

// MemoryPressureWarning returns a warning when more workers are configured
// than free memory comfortably allows, or "" when memory is fine or unknown.
func MemoryPressureWarning(workers int, perWorkerGB float64) string {
	total, available, err := memoryStats()
	if err != nil || total == 0 || perWorkerGB <= 0 {
		return ""
	}

	availableGB := float64(available) / bytesPerGB
	recommended := recommendedWorkers(availableGB, perWorkerGB)
	if workers > recommended {
		return fmt.Sprintf("worker count (%d) exceeds recommended (%d) for %.1fGB available memory",
			workers, recommended, availableGB)
	}
	return ""
}

func recommendedWorkers(availableGB, perWorkerGB float64) int {
	const reservedGB = 1.0

	n := int((availableGB - reservedGB) / perWorkerGB)
	if n < 1 {
		return 1
	}
	if n > 64 {
		return 64
	}
	return n
}
