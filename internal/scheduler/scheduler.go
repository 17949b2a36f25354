// internal/scheduler/scheduler.go
package scheduler

import (
	"context"
	"log"
	"sync"
	"time"

	"panel-sync-service/internal/orchestrator"
	"panel-sync-service/internal/settings"
	"panel-sync-service/internal/synclog"
)

// minInterval is the floor for sync_interval so a misconfigured value can
// never produce a tight loop.
const minInterval = time.Second

// settleDelay keeps the first tick out of the startup window.
const defaultSettleDelay = 10 * time.Second

type runner interface {
	Run(ctx context.Context, targets []string) (orchestrator.RunResult, error)
}

type runState interface {
	IsRunning(ctx context.Context) bool
}

// Scheduler is the process-wide auto-sync timer. It is owned by the
// composition root, started once, and stopped on shutdown. Each tick reads
// auto_sync_enabled and sync_interval fresh, so interval changes take
// effect on the next re-arm and the toggle needs no restart.
type Scheduler struct {
	settings *settings.Store
	status   runState
	orch     runner

	settleDelay time.Duration

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	started  bool
	mu       sync.Mutex
}

func New(s *settings.Store, status *synclog.Store, orch *orchestrator.Orchestrator) *Scheduler {
	return &Scheduler{
		settings:    s,
		status:      status,
		orch:        orch,
		settleDelay: defaultSettleDelay,
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Start launches the timer loop. Calling Start twice is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	go s.loop()
	log.Printf("⏰ [SCHEDULER] started (settling for %v)", s.settleDelay)
}

// Stop terminates the timer loop and waits for it to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		return
	}
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
	log.Println("🛑 [SCHEDULER] stopped")
}

func (s *Scheduler) loop() {
	defer close(s.done)

	timer := time.NewTimer(s.settleDelay + s.interval())
	defer timer.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-timer.C:
			s.tick()
			// Re-arm with the freshly read interval: changes take
			// effect from the next tick, not instantaneously.
			timer.Reset(s.interval())
		}
	}
}

func (s *Scheduler) tick() {
	if !s.settings.GetBool(settings.KeyAutoSyncEnabled, false) {
		return
	}
	if s.status.IsRunning(context.Background()) {
		// No queuing, no backlog: an active run swallows the tick.
		log.Println("⏭️ [SCHEDULER] tick skipped, a sync run is active")
		return
	}

	log.Println("🔄 [SCHEDULER] triggering scheduled full sync")
	go func() {
		if _, err := s.orch.Run(context.Background(), nil); err != nil {
			if err == synclog.ErrAlreadyRunning {
				// Lost the race to a manual trigger; nothing to do.
				return
			}
			log.Printf("❌ [SCHEDULER] scheduled sync failed: %v", err)
		}
	}()
}

func (s *Scheduler) interval() time.Duration {
	seconds := s.settings.GetInt(settings.KeySyncInterval, 3600)
	interval := time.Duration(seconds) * time.Second
	if interval < minInterval {
		interval = minInterval
	}
	return interval
}
