package jobqueue

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/lexmonitor/LexMonitor/internal/pkg/env"
	"github.com/lexmonitor/LexMonitor/internal/pkg/mail"
)

// Manager manages the global job queue and background tasks
type Manager struct {
	queue            *Queue
	deadLetterTicker *time.Ticker
	stopCh           chan struct{}
	wg               sync.WaitGroup
	mu               sync.Mutex
	running          bool
}

var (
	globalManager *Manager
	managerOnce   sync.Once
)

// GetManager returns the global job queue manager (singleton)
func GetManager() *Manager {
	managerOnce.Do(func() {
		workerCount := 5
		if v, err := strconv.Atoi(env.GetEnv("JOBQUEUE_WORKER_COUNT", "5")); err == nil && v > 0 {
			workerCount = v
		}

		globalManager = &Manager{
			queue:  NewQueue(workerCount),
			stopCh: make(chan struct{}),
		}
	})
	return globalManager
}

// GetQueue returns the managed job queue
func (m *Manager) GetQueue() *Queue {
	return m.queue
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

	// Watch the dead-letter list and alert an operator
	deadLetterInterval := 5 * time.Minute
	if v, err := strconv.Atoi(env.GetEnv("JOBQUEUE_DEAD_LETTER_CHECK_MINUTES", "5")); err == nil && v > 0 {
		deadLetterInterval = time.Duration(v) * time.Minute
	}
	m.deadLetterTicker = time.NewTicker(deadLetterInterval)
	m.wg.Add(1)
	go m.deadLetterWorker()

	log.Info("[JobQueue Manager] Started successfully")
}

// Stop stops the job queue and background tasks
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[JobQueue Manager] Stopping job queue and background tasks...")

	if m.deadLetterTicker != nil {
		m.deadLetterTicker.Stop()
	}

	// Signal workers to stop
	close(m.stopCh)
	m.stopCh = nil
	m.running = false

	// Wait for background workers to finish
	m.wg.Wait()

	// Stop the job queue
	m.queue.Stop()

	log.Info("[JobQueue Manager] Stopped successfully")
}

// deadLetterWorker periodically checks the dead-letter list and mails the
// operator. Jobs stay on the list for manual inspection and requeue.
func (m *Manager) deadLetterWorker() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopCh:
			log.Info("[JobQueue Manager] Dead-letter worker stopping")
			return
		case <-m.deadLetterTicker.C:
			if err := m.checkDeadLetterOnce(); err != nil {
				log.Errorf("[JobQueue Manager] Dead-letter check error: %v", err)
			}
		}
	}
}

func (m *Manager) checkDeadLetterOnce() error {
	ctx := context.Background()
	size, err := m.queue.GetDeadLetterSize(ctx)
	if err != nil {
		return err
	}
	if size == 0 {
		return nil
	}

	log.Warnf("[JobQueue Manager] %d job(s) on the dead-letter list", size)

	adminEmail := env.GetEnv("ADMIN_ALERT_EMAIL", "")
	if adminEmail == "" {
		return nil
	}
	subject := fmt.Sprintf("LexMonitor: %d payment job(s) dead-lettered", size)
	body := fmt.Sprintf(
		"<p>%d background payment job(s) exhausted their retries and are parked on the dead-letter list.</p>"+
			"<p>Inspect the <code>%s</code> Redis list and the webhook_records table, then requeue or resolve manually.</p>",
		size, JobDeadLetterKey)
	if err := mail.SendMail(adminEmail, subject, body); err != nil {
		log.Errorf("[JobQueue Manager] Failed to send dead-letter alert: %v", err)
	}
	return nil
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}
