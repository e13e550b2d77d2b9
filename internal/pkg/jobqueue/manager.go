package jobqueue

import (
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/LensVaultHQ/LensVault/internal/pkg/env"
)

// MaintenanceFunc is a periodic housekeeping task run by the manager,
// e.g. expiring stale downgrade confirmation tokens.
type MaintenanceFunc func() error

// Manager manages the global job queue and background tasks
type Manager struct {
	queue             *Queue
	maintenanceTicker *time.Ticker
	stopCh            chan struct{}
	wg                sync.WaitGroup
	mu                sync.Mutex
	running           bool

	maintenance map[string]MaintenanceFunc
}

var (
	globalManager *Manager
	managerOnce   sync.Once
)

// GetManager returns the global job queue manager (singleton)
func GetManager() *Manager {
	managerOnce.Do(func() {
		workerCount := 5
		if v, err := strconv.Atoi(env.GetEnv("JOBQUEUE_WORKERS", "")); err == nil && v > 0 {
			workerCount = v
		}

		globalManager = &Manager{
			queue:       NewQueue(workerCount),
			stopCh:      make(chan struct{}),
			maintenance: make(map[string]MaintenanceFunc),
		}
	})
	return globalManager
}

// GetQueue returns the managed job queue
func (m *Manager) GetQueue() *Queue {
	return m.queue
}

// RegisterMaintenance adds a named housekeeping task. Must be called
// before Start; re-registering a name replaces the previous task.
func (m *Manager) RegisterMaintenance(name string, fn MaintenanceFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maintenance[name] = fn
}

// Start starts the job queue and background tasks
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate stop channel for each start cycle so manager can be restarted safely.
	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[JobQueue Manager] Starting job queue and background tasks")

	// Start the job queue
	m.queue.Start()

	// Maintenance interval, configurable in minutes
	interval := 15 * time.Minute
	if v, err := strconv.Atoi(env.GetEnv("JOBQUEUE_MAINTENANCE_INTERVAL", "")); err == nil && v > 0 {
		interval = time.Duration(v) * time.Minute
	}
	m.maintenanceTicker = time.NewTicker(interval)
	m.wg.Add(1)
	go m.maintenanceWorker(m.stopCh, m.maintenanceTicker)

	log.Info("[JobQueue Manager] Started successfully")
}

// Stop stops the job queue and background tasks
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}

	log.Info("[JobQueue Manager] Stopping job queue and background tasks...")

	if m.maintenanceTicker != nil {
		m.maintenanceTicker.Stop()
	}

	// Signal workers to stop, then release the lock before waiting so an
	// in-flight maintenance pass can finish and observe the closed channel.
	close(m.stopCh)
	m.running = false
	m.mu.Unlock()

	// Wait for background workers to finish
	m.wg.Wait()

	// Stop the job queue
	m.queue.Stop()

	log.Info("[JobQueue Manager] Stopped successfully")
}

// maintenanceWorker runs the registered housekeeping tasks on a timer.
// The stop channel and ticker are captured at start so Stop/Start cycles
// cannot race the worker's reads.
func (m *Manager) maintenanceWorker(stopCh chan struct{}, ticker *time.Ticker) {
	defer m.wg.Done()
	log.Info("[JobQueue Manager] Started maintenance worker")

	for {
		select {
		case <-stopCh:
			log.Info("[JobQueue Manager] Maintenance worker stopping")
			return
		case <-ticker.C:
			m.runMaintenanceOnce()
		}
	}
}

func (m *Manager) runMaintenanceOnce() {
	m.mu.Lock()
	tasks := make(map[string]MaintenanceFunc, len(m.maintenance))
	for name, fn := range m.maintenance {
		tasks[name] = fn
	}
	m.mu.Unlock()

	for name, fn := range tasks {
		if err := fn(); err != nil {
			log.Errorf("[JobQueue Manager] Maintenance task %s failed: %v", name, err)
		}
	}
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}
