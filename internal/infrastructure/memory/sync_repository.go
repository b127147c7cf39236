package memory

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jhoicas/inventario-sync/internal/domain"
	"github.com/jhoicas/inventario-sync/internal/domain/entity"
	"github.com/jhoicas/inventario-sync/internal/domain/repository"
)

var (
	_ repository.SyncQueueRepository = (*SyncQueueRepo)(nil)
	_ repository.SyncRuleRepository  = (*SyncRuleRepo)(nil)
	_ repository.ConflictRepository  = (*ConflictRepo)(nil)
)

// SyncQueueRepository cola de sincronización en memoria.
func (s *Store) SyncQueueRepository() *SyncQueueRepo { return &SyncQueueRepo{store: s} }

// SyncRuleRepository reglas en memoria.
func (s *Store) SyncRuleRepository() *SyncRuleRepo { return &SyncRuleRepo{store: s} }

// ConflictRepository conflictos en memoria.
func (s *Store) ConflictRepository() *ConflictRepo { return &ConflictRepo{store: s} }

func copyItem(i *entity.SyncQueueItem) *entity.SyncQueueItem {
	c := *i
	c.Payload = append(json.RawMessage(nil), i.Payload...)
	c.AppliedTargets = append([]string(nil), i.AppliedTargets...)
	if i.NextAttemptAt != nil {
		t := *i.NextAttemptAt
		c.NextAttemptAt = &t
	}
	if i.CompletedAt != nil {
		t := *i.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// SyncQueueRepo cola en memoria.
type SyncQueueRepo struct {
	store *Store
}

func (r *SyncQueueRepo) Create(_ context.Context, item *entity.SyncQueueItem) error {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.queue[item.ID]; ok {
		return domain.ErrDuplicate
	}
	r.store.queue[item.ID] = copyItem(item)
	return nil
}

func (r *SyncQueueRepo) GetByID(_ context.Context, id string) (*entity.SyncQueueItem, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	item, ok := r.store.queue[id]
	if !ok {
		return nil, nil
	}
	return copyItem(item), nil
}

func isReady(item *entity.SyncQueueItem, now time.Time) bool {
	switch item.Status {
	case entity.SyncPending:
		return true
	case entity.SyncFailed:
		return item.NextAttemptAt != nil && !item.NextAttemptAt.After(now)
	}
	return false
}

func sortQueue(items []*entity.SyncQueueItem) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].Priority != items[j].Priority {
			return items[i].Priority > items[j].Priority
		}
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		}
		return items[i].ID < items[j].ID
	})
}

// ClaimReady no reclama ítems de una entidad que ya tiene otro ítem PROCESSING.
func (r *SyncQueueRepo) ClaimReady(_ context.Context, now time.Time, limit int) ([]*entity.SyncQueueItem, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	busy := make(map[string]bool)
	for _, item := range r.store.queue {
		if item.Status == entity.SyncProcessing && item.EntityKey != "" {
			busy[item.EntityKey] = true
		}
	}
	var ready []*entity.SyncQueueItem
	for _, item := range r.store.queue {
		if isReady(item, now) && !busy[item.EntityKey] {
			ready = append(ready, item)
		}
	}
	sortQueue(ready)
	if limit > 0 && len(ready) > limit {
		ready = ready[:limit]
	}
	out := make([]*entity.SyncQueueItem, 0, len(ready))
	for _, item := range ready {
		item.Status = entity.SyncProcessing
		item.UpdatedAt = now
		out = append(out, copyItem(item))
	}
	return out, nil
}

func (r *SyncQueueRepo) Update(_ context.Context, item *entity.SyncQueueItem) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.queue[item.ID]; !ok {
		return domain.ErrNotFound
	}
	r.store.queue[item.ID] = copyItem(item)
	return nil
}

func (r *SyncQueueRepo) CountOutstanding(_ context.Context) (int, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	n := 0
	for _, item := range r.store.queue {
		switch item.Status {
		case entity.SyncPending, entity.SyncProcessing, entity.SyncFailed:
			n++
		}
	}
	return n, nil
}

func (r *SyncQueueRepo) ListByStatus(_ context.Context, status entity.SyncStatus, limit int) ([]*entity.SyncQueueItem, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var out []*entity.SyncQueueItem
	for _, item := range r.store.queue {
		if item.Status == status {
			out = append(out, copyItem(item))
		}
	}
	sortQueue(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *SyncQueueRepo) ResetStale(_ context.Context, before time.Time) (int, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	n := 0
	for _, item := range r.store.queue {
		if item.Status == entity.SyncProcessing && item.UpdatedAt.Before(before) {
			item.Status = entity.SyncPending
			n++
		}
	}
	return n, nil
}

// SyncRuleRepo reglas en memoria.
type SyncRuleRepo struct {
	store *Store
}

func (r *SyncRuleRepo) List(_ context.Context) ([]*entity.SyncRule, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	out := make([]*entity.SyncRule, 0, len(r.store.rules))
	for _, rule := range r.store.rules {
		c := *rule
		c.TargetModules = append([]string(nil), rule.TargetModules...)
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *SyncRuleRepo) Upsert(_ context.Context, rule *entity.SyncRule) error {
	if rule.ID == "" {
		return domain.NewValidationError("id", "es obligatorio")
	}
	c := *rule
	c.TargetModules = append([]string(nil), rule.TargetModules...)
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.rules[rule.ID] = &c
	return nil
}

// ConflictRepo conflictos en memoria.
type ConflictRepo struct {
	store *Store
}

func copyConflict(c *entity.Conflict) *entity.Conflict {
	out := *c
	out.SourceChange = append(json.RawMessage(nil), c.SourceChange...)
	out.TargetChange = append(json.RawMessage(nil), c.TargetChange...)
	if c.ResolvedAt != nil {
		t := *c.ResolvedAt
		out.ResolvedAt = &t
	}
	return &out
}

func (r *ConflictRepo) Create(_ context.Context, c *entity.Conflict) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.conflicts[c.ID]; ok {
		return domain.ErrDuplicate
	}
	r.store.conflicts[c.ID] = copyConflict(c)
	return nil
}

func (r *ConflictRepo) GetByID(_ context.Context, id string) (*entity.Conflict, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	c, ok := r.store.conflicts[id]
	if !ok {
		return nil, nil
	}
	return copyConflict(c), nil
}

func (r *ConflictRepo) ListByEntity(_ context.Context, entityType, entityID string) ([]*entity.Conflict, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	out := make([]*entity.Conflict, 0)
	for _, c := range r.store.conflicts {
		if c.EntityID != entityID {
			continue
		}
		if entityType != "" && c.EntityType != entityType {
			continue
		}
		out = append(out, copyConflict(c))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DetectedAt.Before(out[j].DetectedAt) })
	return out, nil
}

func (r *ConflictRepo) Update(_ context.Context, c *entity.Conflict) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.conflicts[c.ID]; !ok {
		return domain.ErrNotFound
	}
	r.store.conflicts[c.ID] = copyConflict(c)
	return nil
}
