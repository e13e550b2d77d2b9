package jobqueue

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRunMaintenanceOnceRunsRegisteredTasks(t *testing.T) {
	m := &Manager{maintenance: make(map[string]MaintenanceFunc)}

	runs := 0
	m.RegisterMaintenance("task", func() error {
		runs++
		return nil
	})
	m.runMaintenanceOnce()
	m.runMaintenanceOnce()

	assert.Equal(t, 2, runs)
}

func TestStopReturnsWithMaintenanceInFlight(t *testing.T) {
	m := &Manager{
		queue:       &Queue{stopCh: make(chan struct{})},
		stopCh:      make(chan struct{}),
		maintenance: make(map[string]MaintenanceFunc),
	}

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	m.RegisterMaintenance("slow", func() error {
		once.Do(func() { close(entered) })
		<-release
		return nil
	})

	m.running = true
	m.maintenanceTicker = time.NewTicker(time.Millisecond)
	m.wg.Add(1)
	go m.maintenanceWorker(m.stopCh, m.maintenanceTicker)

	<-entered

	stopped := make(chan struct{})
	go func() {
		m.Stop()
		close(stopped)
	}()

	// Stop waits for the in-flight task rather than deadlocking on it.
	select {
	case <-stopped:
		t.Fatal("Stop returned while the maintenance task was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after the maintenance task finished")
	}
	assert.False(t, m.IsRunning())
}
