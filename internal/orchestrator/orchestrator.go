// internal/orchestrator/orchestrator.go
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"panel-sync-service/internal/notify"
	"panel-sync-service/internal/panel"
	"panel-sync-service/internal/reconcile"
	"panel-sync-service/internal/settings"
	"panel-sync-service/internal/synclog"
	"panel-sync-service/pkg/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TargetOrder is the fixed dependency order for a run: allocations
// reference nodes, servers reference nodes/eggs/allocations, databases and
// users are comparatively independent.
var TargetOrder = []panel.EntityType{
	panel.EntityLocations,
	panel.EntityNodes,
	panel.EntityAllocations,
	panel.EntityNests,
	panel.EntityEggs,
	panel.EntityServers,
	panel.EntityDatabases,
	panel.EntityUsers,
}

const defaultPageSize = 50
const defaultAllocationBatch = 100

var ErrUnknownTarget = errors.New("unknown sync target")

// TargetResult is the per-target outcome returned synchronously to the
// triggering caller.
type TargetResult struct {
	Status  models.SyncLogStatus `json:"status"`
	Created int                  `json:"created"`
	Updated int                  `json:"updated"`
	Synced  int                  `json:"synced"`
	Failed  int                  `json:"failed"`
	Total   int                  `json:"total"`
	Error   string               `json:"error,omitempty"`
}

// RunResult aggregates one run.
type RunResult struct {
	Status  models.SyncLogStatus    `json:"status"`
	Targets map[string]TargetResult `json:"targets"`
}

type completionNotifier interface {
	SyncCompleted(ctx context.Context, event notify.CompletionEvent)
}

// Orchestrator drives one end-to-end mirror run: single-flight guard,
// fixed target ordering, page-at-a-time ingestion through the panel
// adapters, and cooperative cancellation between pages and targets.
type Orchestrator struct {
	db       *gorm.DB
	settings *settings.Store
	logs     *synclog.Store
	panels   []panel.Client
	notifier completionNotifier

	mu        sync.Mutex
	cancelRun context.CancelFunc
}

func New(db *gorm.DB, s *settings.Store, logs *synclog.Store, panels []panel.Client, notifier completionNotifier) *Orchestrator {
	return &Orchestrator{
		db:       db,
		settings: s,
		logs:     logs,
		panels:   panels,
		notifier: notifier,
	}
}

// Cancel requests cooperative cancellation of the active run. Returns
// false when no run is active. The run stops between pages, never
// mid-page.
func (o *Orchestrator) Cancel() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancelRun == nil {
		return false
	}
	o.cancelRun()
	return true
}

// ResolveTargets expands and validates a requested target list. An empty
// list, "all" or "full" means every target, in dependency order; an
// explicit list is reordered into dependency order.
func ResolveTargets(requested []string) ([]panel.EntityType, error) {
	if len(requested) == 0 {
		return TargetOrder, nil
	}
	wanted := map[panel.EntityType]bool{}
	for _, name := range requested {
		if name == "all" || name == "full" {
			return TargetOrder, nil
		}
		known := false
		for _, entity := range TargetOrder {
			if string(entity) == name {
				wanted[entity] = true
				known = true
				break
			}
		}
		if !known {
			return nil, fmt.Errorf("%w: %q", ErrUnknownTarget, name)
		}
	}
	var targets []panel.EntityType
	for _, entity := range TargetOrder {
		if wanted[entity] {
			targets = append(targets, entity)
		}
	}
	return targets, nil
}

// Run executes one sync run over the given targets (nil/"full" = all).
// It returns synclog.ErrAlreadyRunning when another run holds the lock,
// and the per-target results otherwise. Per-target failures do not fail
// the run; the run is FAILED only when every target failed on panel
// configuration or credentials.
func (o *Orchestrator) Run(ctx context.Context, requested []string) (RunResult, error) {
	targets, err := ResolveTargets(requested)
	if err != nil {
		return RunResult{}, err
	}

	if err := o.logs.TryBeginRun(ctx); err != nil {
		return RunResult{}, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.cancelRun = cancel
	o.mu.Unlock()
	defer func() {
		cancel()
		o.mu.Lock()
		o.cancelRun = nil
		o.mu.Unlock()
	}()

	log.Printf("🔄 [SYNC] run started (%d targets)", len(targets))

	var aggregateID uuid.UUID
	if len(targets) > 1 {
		aggregateID, err = o.logs.StartEntry(ctx, "full", 0)
		if err != nil {
			_ = o.logs.ReleaseRun(ctx)
			return RunResult{}, err
		}
	}

	result := RunResult{Targets: map[string]TargetResult{}}
	completed := 0
	failed := 0
	credentialOnly := true
	cancelled := false

	for _, entity := range targets {
		if runCtx.Err() != nil {
			cancelled = true
			break
		}
		state := o.syncTarget(runCtx, entity)
		result.Targets[string(entity)] = state.TargetResult

		switch state.Status {
		case models.SyncStatusCompleted:
			completed++
		case models.SyncStatusFailed:
			failed++
			if !state.credentialFailure {
				credentialOnly = false
			}
		case models.SyncStatusCancelled:
			cancelled = true
		}
		if cancelled {
			break
		}
	}

	endedAt := time.Now().UTC()
	switch {
	case cancelled:
		result.Status = models.SyncStatusCancelled
	case completed == 0 && failed > 0 && credentialOnly:
		result.Status = models.SyncStatusFailed
	default:
		result.Status = models.SyncStatusCompleted
	}

	// Finalization uses the parent context: a cancelled run must still be
	// able to write its bookkeeping.
	if len(targets) > 1 {
		o.finalizeAggregate(ctx, aggregateID, result)
	}
	if result.Status == models.SyncStatusCompleted {
		if err := o.logs.FinishRun(ctx, endedAt); err != nil {
			log.Printf("❌ [SYNC] failed to stamp run completion: %v", err)
		}
	} else {
		if err := o.logs.ReleaseRun(ctx); err != nil {
			log.Printf("❌ [SYNC] failed to release run lock: %v", err)
		}
	}

	log.Printf("✅ [SYNC] run finished: %s (%d completed, %d failed)", result.Status, completed, failed)

	if result.Status == models.SyncStatusCompleted && o.notifier != nil {
		event := notify.CompletionEvent{
			Event:       "sync.completed",
			Status:      string(result.Status),
			Targets:     map[string]any{},
			CompletedAt: endedAt,
		}
		for name, target := range result.Targets {
			event.Targets[name] = target
		}
		go func() {
			notifyCtx, cancelNotify := context.WithTimeout(context.Background(), time.Minute)
			defer cancelNotify()
			o.notifier.SyncCompleted(notifyCtx, event)
		}()
	}

	return result, nil
}

func (o *Orchestrator) finalizeAggregate(ctx context.Context, id uuid.UUID, result RunResult) {
	total, synced, failed := 0, 0, 0
	for _, target := range result.Targets {
		total += target.Total
		synced += target.Synced
		failed += target.Failed
	}
	if err := o.logs.UpdateProgress(ctx, id, total, synced, failed, ""); err != nil {
		log.Printf("❌ [SYNC] failed to update aggregate log: %v", err)
	}
	switch result.Status {
	case models.SyncStatusCancelled:
		_ = o.logs.MarkCancelled(ctx, id)
	case models.SyncStatusFailed:
		_ = o.logs.Fail(ctx, id, "all targets failed")
	default:
		_ = o.logs.Complete(ctx, id)
	}
}

// targetState carries counters through one target's sync.
type targetState struct {
	TargetResult
	credentialFailure bool
	entryID           uuid.UUID
}

func (o *Orchestrator) syncTarget(ctx context.Context, entity panel.EntityType) targetState {
	state := targetState{}
	state.Status = models.SyncStatusRunning

	entryID, err := o.logs.StartEntry(ctx, string(entity), 0)
	if err != nil {
		state.Status = models.SyncStatusFailed
		state.Error = err.Error()
		return state
	}
	state.entryID = entryID

	attempted := 0
	var firstErr error
	allCredential := true

	for _, client := range o.panels {
		if !client.Configured() {
			continue
		}
		err := o.syncFromPanel(ctx, client, entity, &state)
		if err == nil {
			attempted++
			allCredential = false
			continue
		}
		if errors.Is(err, panel.ErrUnsupported) {
			// This panel product has no such resource; not a failure.
			continue
		}
		if ctx.Err() != nil {
			_ = o.logs.MarkCancelled(context.WithoutCancel(ctx), entryID)
			state.Status = models.SyncStatusCancelled
			state.Error = "cancelled"
			return state
		}
		attempted++
		log.Printf("❌ [SYNC] %s from %s failed: %v", entity, client.Panel(), err)
		if firstErr == nil {
			firstErr = err
		}
		if !errors.Is(err, panel.ErrUnauthorized) && !errors.Is(err, panel.ErrNotConfigured) {
			allCredential = false
		}
	}

	switch {
	case attempted == 0:
		// ConfigurationMissing: no configured panel provides this target.
		_ = o.logs.UpdateProgress(ctx, entryID, 0, 0, 0, "no configured panel provides this target")
		_ = o.logs.Complete(ctx, entryID)
		state.Status = models.SyncStatusCompleted
	case firstErr != nil:
		_ = o.logs.UpdateProgress(ctx, entryID, state.Total, state.Synced, state.Failed, "")
		_ = o.logs.Fail(ctx, entryID, firstErr.Error())
		state.Status = models.SyncStatusFailed
		state.Error = firstErr.Error()
		state.credentialFailure = allCredential
	default:
		_ = o.logs.UpdateProgress(ctx, entryID, state.Total, state.Synced, state.Failed, "")
		_ = o.logs.Complete(ctx, entryID)
		state.Status = models.SyncStatusCompleted
	}
	return state
}

func (o *Orchestrator) syncFromPanel(ctx context.Context, client panel.Client, entity panel.EntityType, state *targetState) error {
	switch entity {
	case panel.EntityAllocations:
		batch := o.settings.GetInt(settings.KeyAllocationBatchSize, defaultAllocationBatch)
		if batch < 1 {
			batch = defaultAllocationBatch
		}
		parents, err := o.nodeIDs(ctx, client.Panel())
		if err != nil {
			return err
		}
		return o.syncNested(ctx, client, entity, parents, batch, state)
	case panel.EntityEggs:
		if client.Panel() != models.PanelPterodactyl {
			return fmt.Errorf("%w: %s", panel.ErrUnsupported, entity)
		}
		parents, err := o.nestIDs(ctx, client.Panel())
		if err != nil {
			return err
		}
		return o.syncNested(ctx, client, entity, parents, defaultPageSize, state)
	case panel.EntityDatabases:
		if client.Panel() != models.PanelPterodactyl {
			return fmt.Errorf("%w: %s", panel.ErrUnsupported, entity)
		}
		parents, err := o.serverIDs(ctx, client.Panel())
		if err != nil {
			return err
		}
		return o.syncNested(ctx, client, entity, parents, defaultPageSize, state)
	default:
		return o.syncFlat(ctx, client, entity, state)
	}
}

// syncFlat pages through a top-level resource, reconciling each page
// before fetching the next. Cancellation is honored between pages only.
func (o *Orchestrator) syncFlat(ctx context.Context, client panel.Client, entity panel.EntityType, state *targetState) error {
	page := 1
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		items, pagination, err := client.List(ctx, entity, page, defaultPageSize)
		if err != nil {
			return err
		}
		if page == 1 {
			state.Total += pagination.Total
		}
		if err := o.reconcilePage(ctx, client.Panel(), entity, items, state); err != nil {
			return err
		}
		o.progress(ctx, state, fmt.Sprintf("%s: page %d/%d from %s", entity, page, pagination.TotalPages, client.Panel()))
		if page >= pagination.TotalPages || len(items) == 0 {
			return nil
		}
		page++
	}
}

// syncNested pages through a nested resource under each parent id.
func (o *Orchestrator) syncNested(ctx context.Context, client panel.Client, entity panel.EntityType, parents []string, perPage int, state *targetState) error {
	for _, parentID := range parents {
		page := 1
		for {
			if err := ctx.Err(); err != nil {
				return err
			}
			items, pagination, err := client.ListByParent(ctx, entity, parentID, page, perPage)
			if err != nil {
				return err
			}
			if page == 1 {
				state.Total += pagination.Total
			}
			if err := o.reconcilePage(ctx, client.Panel(), entity, items, state); err != nil {
				return err
			}
			o.progress(ctx, state, fmt.Sprintf("%s: parent %s page %d/%d from %s", entity, parentID, page, pagination.TotalPages, client.Panel()))
			if page >= pagination.TotalPages || len(items) == 0 {
				break
			}
			page++
		}
	}
	return nil
}

// reconcilePage commits one page in a single transaction: either every
// item of the page is applied or none is. Per-item reconciliation errors
// (missing natural key, malformed required data) increment the failed
// count without aborting the page.
func (o *Orchestrator) reconcilePage(ctx context.Context, p models.PanelType, entity panel.EntityType, items []panel.Item, state *targetState) error {
	created, updated, unchanged, itemFailed := 0, 0, 0, 0

	err := o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec := reconcile.New(tx)
		for _, item := range items {
			outcome, err := rec.Reconcile(ctx, p, entity, item)
			if err != nil {
				if errors.Is(err, reconcile.ErrMissingNaturalKey) {
					itemFailed++
					continue
				}
				return err
			}
			switch outcome {
			case reconcile.OutcomeCreated:
				created++
			case reconcile.OutcomeUpdated:
				updated++
			default:
				unchanged++
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	state.Created += created
	state.Updated += updated
	state.Synced += created + updated + unchanged
	state.Failed += itemFailed
	return nil
}

func (o *Orchestrator) progress(ctx context.Context, state *targetState, message string) {
	if state.entryID == uuid.Nil {
		return
	}
	if err := o.logs.UpdateProgress(ctx, state.entryID, state.Total, state.Synced, state.Failed, message); err != nil {
		log.Printf("❌ [SYNC] failed to record progress: %v", err)
	}
}

// Parent id lookups read the local mirror: by the fixed target order the
// parents were synced earlier in the same run.

func (o *Orchestrator) nodeIDs(ctx context.Context, p models.PanelType) ([]string, error) {
	var ids []string
	err := o.db.WithContext(ctx).Model(&models.Node{}).
		Where("panel = ?", p).Order("id").Pluck("remote_id", &ids).Error
	return ids, err
}

func (o *Orchestrator) nestIDs(ctx context.Context, p models.PanelType) ([]string, error) {
	var ids []string
	err := o.db.WithContext(ctx).Model(&models.Nest{}).
		Where("panel = ?", p).Order("id").Pluck("remote_id", &ids).Error
	return ids, err
}

func (o *Orchestrator) serverIDs(ctx context.Context, p models.PanelType) ([]string, error) {
	var ids []string
	err := o.db.WithContext(ctx).Model(&models.Server{}).
		Where("panel = ?", p).Order("id").Pluck("remote_id", &ids).Error
	return ids, err
}
