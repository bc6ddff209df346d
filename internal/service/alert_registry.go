package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"unicode/utf8"

	"github.com/alanyoungcy/tradekeeper/internal/clock"
	"github.com/alanyoungcy/tradekeeper/internal/condition"
	"github.com/alanyoungcy/tradekeeper/internal/domain"
)

type alertRecord struct {
	mu    sync.Mutex
	alert domain.PriceAlert
}

// AlertRegistry is the authoritative store of price alerts. It shares the
// ledger's gate semantics: only an active alert can be triggered, once.
type AlertRegistry struct {
	clock    clock.Clock
	store    domain.AlertStore
	verifier PriceVerifier
	maxDevBp int64
	notifier Notifier
	pub      publisher
	logger   *slog.Logger

	mu     sync.RWMutex
	alerts map[uint64]*alertRecord
	nextID uint64
}

// NewAlertRegistry creates an in-memory registry.
func NewAlertRegistry(clk clock.Clock, logger *slog.Logger) *AlertRegistry {
	if clk == nil {
		clk = clock.Real{}
	}
	logger = logger.With(slog.String("component", "alert_registry"))
	return &AlertRegistry{
		clock:  clk,
		pub:    publisher{logger: logger},
		logger: logger,
		alerts: make(map[uint64]*alertRecord),
	}
}

// WithStore makes every change write through to store.
func (r *AlertRegistry) WithStore(store domain.AlertStore) *AlertRegistry {
	r.store = store
	return r
}

// WithBus publishes committed changes on bus.
func (r *AlertRegistry) WithBus(bus domain.SignalBus) *AlertRegistry {
	r.pub.bus = bus
	return r
}

// WithPriceVerifier checks observed trigger prices against v.
func (r *AlertRegistry) WithPriceVerifier(v PriceVerifier, maxDeviationBps int64) *AlertRegistry {
	r.verifier = v
	r.maxDevBp = maxDeviationBps
	return r
}

// WithNotifier delivers triggered alerts through n.
func (r *AlertRegistry) WithNotifier(n Notifier) *AlertRegistry {
	r.notifier = n
	return r
}

// Create registers an active alert.
func (r *AlertRegistry) Create(ctx context.Context, req domain.CreateAlertRequest) (domain.PriceAlert, error) {
	if req.Owner == (domain.Address{}) {
		return domain.PriceAlert{}, fmt.Errorf("service: create alert: %w", domain.ErrUnauthorized)
	}
	if !condition.ValidForAlert(req.Condition) {
		return domain.PriceAlert{}, fmt.Errorf("service: create alert: condition %q: %w", req.Condition, domain.ErrInvalidCondition)
	}
	if req.TargetPrice <= 0 {
		return domain.PriceAlert{}, fmt.Errorf("service: create alert: target price %s: %w", req.TargetPrice, domain.ErrInvalidPrice)
	}
	token := domain.NormalizeToken(req.Token)
	if token == "" {
		return domain.PriceAlert{}, fmt.Errorf("service: create alert: empty token: %w", domain.ErrInvalidCondition)
	}
	if utf8.RuneCountInString(req.Message) > domain.MaxAlertMessageLen {
		return domain.PriceAlert{}, fmt.Errorf("service: create alert: message longer than %d characters: %w",
			domain.MaxAlertMessageLen, domain.ErrInvalidCondition)
	}

	now := r.clock.Now()
	a := domain.PriceAlert{
		Owner:       req.Owner,
		Token:       token,
		Condition:   req.Condition,
		TargetPrice: req.TargetPrice,
		Message:     req.Message,
		IsActive:    true,
		CreatedAt:   now,
	}

	if r.store != nil {
		id, err := r.store.NextID(ctx)
		if err != nil {
			return domain.PriceAlert{}, fmt.Errorf("service: create alert: %w", err)
		}
		a.ID = id
		if err := r.store.Create(ctx, a); err != nil {
			return domain.PriceAlert{}, fmt.Errorf("service: create alert: %w", err)
		}
	}

	r.mu.Lock()
	if r.store == nil {
		a.ID = r.nextID + 1
	}
	if a.ID > r.nextID {
		r.nextID = a.ID
	}
	r.alerts[a.ID] = &alertRecord{alert: a}
	r.mu.Unlock()

	r.logger.InfoContext(ctx, "alert created",
		slog.Uint64("alert_id", a.ID),
		slog.String("token", a.Token),
		slog.String("condition", string(a.Condition)),
		slog.String("target", a.TargetPrice.String()),
	)
	owner := a.Owner
	r.pub.publish(ctx, domain.LedgerEvent{
		Type:    domain.EventAlertCreated,
		AlertID: a.ID,
		Owner:   &owner,
		Token:   a.Token,
		Price:   a.TargetPrice,
		At:      now,
	})
	return a, nil
}

// Cancel deactivates an alert owned by caller. Cancelling an inactive alert
// succeeds without change.
func (r *AlertRegistry) Cancel(ctx context.Context, caller domain.Address, id uint64) (domain.PriceAlert, error) {
	rec := r.lookup(id)
	if rec == nil {
		return domain.PriceAlert{}, fmt.Errorf("service: cancel alert %d: %w", id, domain.ErrNotFound)
	}

	rec.mu.Lock()
	a := rec.alert
	if a.Owner != caller {
		rec.mu.Unlock()
		return domain.PriceAlert{}, fmt.Errorf("service: cancel alert %d: %w", id, domain.ErrUnauthorized)
	}
	if !a.IsActive {
		rec.mu.Unlock()
		return a, nil
	}
	a.IsActive = false
	if r.store != nil {
		if err := r.store.Deactivate(ctx, a); err != nil {
			outcome := r.reconcile(ctx, rec, err)
			stored := rec.alert
			rec.mu.Unlock()
			switch outcome {
			case reconcileAdopted:
				return stored, nil
			case reconcileGone:
				r.forget(id)
				return domain.PriceAlert{}, fmt.Errorf("service: cancel alert %d: %w", id, domain.ErrNotFound)
			}
			return domain.PriceAlert{}, fmt.Errorf("service: cancel alert %d: %w", id, err)
		}
	}
	rec.alert = a
	rec.mu.Unlock()

	r.logger.InfoContext(ctx, "alert cancelled", slog.Uint64("alert_id", id))
	r.pub.publish(ctx, domain.LedgerEvent{
		Type:    domain.EventAlertCancelled,
		AlertID: id,
		Owner:   &caller,
		Token:   a.Token,
		At:      r.clock.Now(),
	})
	return a, nil
}

// Trigger fires owner's active alert id at observed. An alert that is
// absent, inactive, or owned by someone else is reported as ErrNotFound.
func (r *AlertRegistry) Trigger(ctx context.Context, executor, owner domain.Address, id uint64, observed domain.Price) (domain.PriceAlert, error) {
	if executor == (domain.Address{}) {
		return domain.PriceAlert{}, fmt.Errorf("service: trigger alert %d: %w", id, domain.ErrUnauthorized)
	}
	rec := r.lookup(id)
	if rec == nil {
		return domain.PriceAlert{}, fmt.Errorf("service: trigger alert %d: %w", id, domain.ErrNotFound)
	}

	rec.mu.Lock()
	a := rec.alert
	if !a.IsActive || a.Owner != owner {
		rec.mu.Unlock()
		return domain.PriceAlert{}, fmt.Errorf("service: trigger alert %d for %s: %w", id, owner.Hex(), domain.ErrNotFound)
	}
	if observed <= 0 {
		rec.mu.Unlock()
		return domain.PriceAlert{}, fmt.Errorf("service: trigger alert %d at %s: %w", id, observed, domain.ErrInvalidPrice)
	}
	if !condition.Met(a.Condition, a.TargetPrice, observed) {
		rec.mu.Unlock()
		return domain.PriceAlert{}, fmt.Errorf("service: trigger alert %d: %s %s not met at %s: %w",
			id, a.Condition, a.TargetPrice, observed, domain.ErrInvalidCondition)
	}
	if r.verifier != nil {
		ref, err := r.verifier.RequireFreshPrice(ctx, a.Token)
		if err != nil {
			rec.mu.Unlock()
			return domain.PriceAlert{}, fmt.Errorf("service: trigger alert %d: %w", id, err)
		}
		if !withinBps(observed, ref, r.maxDevBp) {
			rec.mu.Unlock()
			return domain.PriceAlert{}, fmt.Errorf("service: trigger alert %d: observed %s deviates from %s: %w",
				id, observed, ref, domain.ErrInvalidPrice)
		}
	}

	now := r.clock.Now()
	a.IsActive = false
	a.TriggeredAt = &now
	a.TriggeredPrice = observed
	if r.store != nil {
		if err := r.store.Deactivate(ctx, a); err != nil {
			gone := r.reconcile(ctx, rec, err) == reconcileGone
			rec.mu.Unlock()
			if gone {
				r.forget(id)
			}
			return domain.PriceAlert{}, fmt.Errorf("service: trigger alert %d: %w", id, err)
		}
	}
	rec.alert = a
	rec.mu.Unlock()

	r.logger.InfoContext(ctx, "alert triggered",
		slog.Uint64("alert_id", id),
		slog.String("token", a.Token),
		slog.String("price", observed.String()),
	)
	r.pub.publish(ctx, domain.LedgerEvent{
		Type:    domain.EventAlertTriggered,
		AlertID: id,
		Owner:   &owner,
		Token:   a.Token,
		Price:   observed,
		Message: a.Message,
		At:      now,
	})
	r.notify(ctx, a)
	return a, nil
}

// Delete removes an alert owned by caller, active or not.
func (r *AlertRegistry) Delete(ctx context.Context, caller domain.Address, id uint64) error {
	r.mu.Lock()
	rec, ok := r.alerts[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("service: delete alert %d: %w", id, domain.ErrNotFound)
	}
	rec.mu.Lock()
	a := rec.alert
	rec.mu.Unlock()
	if a.Owner != caller {
		r.mu.Unlock()
		return fmt.Errorf("service: delete alert %d: %w", id, domain.ErrUnauthorized)
	}
	if r.store != nil {
		if err := r.store.Delete(ctx, id); err != nil {
			r.mu.Unlock()
			return fmt.Errorf("service: delete alert %d: %w", id, err)
		}
	}
	delete(r.alerts, id)
	r.mu.Unlock()

	r.logger.InfoContext(ctx, "alert deleted", slog.Uint64("alert_id", id))
	r.pub.publish(ctx, domain.LedgerEvent{
		Type:    domain.EventAlertDeleted,
		AlertID: id,
		Owner:   &caller,
		Token:   a.Token,
		At:      r.clock.Now(),
	})
	return nil
}

// Get returns a copy of alert id.
func (r *AlertRegistry) Get(id uint64) (domain.PriceAlert, error) {
	rec := r.lookup(id)
	if rec == nil {
		return domain.PriceAlert{}, fmt.Errorf("service: get alert %d: %w", id, domain.ErrNotFound)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.alert, nil
}

// List returns alerts matching f in ascending id order.
func (r *AlertRegistry) List(f domain.AlertFilter) []domain.PriceAlert {
	r.mu.RLock()
	recs := make([]*alertRecord, 0, len(r.alerts))
	for _, rec := range r.alerts {
		recs = append(recs, rec)
	}
	r.mu.RUnlock()

	out := make([]domain.PriceAlert, 0, len(recs))
	for _, rec := range recs {
		rec.mu.Lock()
		a := rec.alert
		rec.mu.Unlock()
		if f.Owner != nil && a.Owner != *f.Owner {
			continue
		}
		if f.ActiveOnly && !a.IsActive {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return paginate(out, f.Offset, f.Limit)
}

// ActiveAlerts returns every active alert.
func (r *AlertRegistry) ActiveAlerts() []domain.PriceAlert {
	return r.List(domain.AlertFilter{ActiveOnly: true})
}

// Restore reloads all alerts from the attached store.
func (r *AlertRegistry) Restore(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	alerts, err := r.store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("service: restore alerts: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = make(map[uint64]*alertRecord, len(alerts))
	r.nextID = 0
	for _, a := range alerts {
		r.alerts[a.ID] = &alertRecord{alert: a}
		if a.ID > r.nextID {
			r.nextID = a.ID
		}
	}
	r.logger.InfoContext(ctx, "alerts restored", slog.Int("count", len(alerts)))
	return nil
}

// Sync folds in changes other processes wrote to the attached store: new
// active alerts are added, local active alerts the store has deactivated
// take the stored state and deleted ones are dropped. It returns how many
// records changed.
func (r *AlertRegistry) Sync(ctx context.Context) (int, error) {
	if r.store == nil {
		return 0, nil
	}
	stored, err := r.store.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("service: sync alerts: %w", err)
	}
	activeIDs := make(map[uint64]struct{}, len(stored))
	changed := 0

	r.mu.Lock()
	for _, a := range stored {
		activeIDs[a.ID] = struct{}{}
		if _, ok := r.alerts[a.ID]; ok {
			continue
		}
		r.alerts[a.ID] = &alertRecord{alert: a}
		if a.ID > r.nextID {
			r.nextID = a.ID
		}
		changed++
	}
	recs := make([]*alertRecord, 0, len(r.alerts))
	for _, rec := range r.alerts {
		recs = append(recs, rec)
	}
	r.mu.Unlock()

	var gone []uint64
	for _, rec := range recs {
		rec.mu.Lock()
		id := rec.alert.ID
		if !rec.alert.IsActive {
			rec.mu.Unlock()
			continue
		}
		if _, ok := activeIDs[id]; ok {
			rec.mu.Unlock()
			continue
		}
		switch r.reconcile(ctx, rec, domain.ErrNotFound) {
		case reconcileAdopted:
			changed++
		case reconcileGone:
			gone = append(gone, id)
			changed++
		case reconcileFailed:
			rec.mu.Unlock()
			return changed, fmt.Errorf("service: sync alert %d: reload failed", id)
		}
		rec.mu.Unlock()
	}
	for _, id := range gone {
		r.forget(id)
	}
	if changed > 0 {
		r.logger.DebugContext(ctx, "alerts synced", slog.Int("changed", changed))
	}
	return changed, nil
}

type reconcileOutcome int

const (
	reconcileNone reconcileOutcome = iota
	reconcileAdopted
	reconcileGone
	reconcileFailed
)

// reconcile handles a failed write on an active record held under rec.mu.
// When the store no longer holds the alert as active, the stored state
// replaces the local one, or the caller is told to forget the alert when
// the row was deleted.
func (r *AlertRegistry) reconcile(ctx context.Context, rec *alertRecord, cause error) reconcileOutcome {
	if r.store == nil || !errors.Is(cause, domain.ErrNotFound) || !rec.alert.IsActive {
		return reconcileNone
	}
	a, err := r.store.GetByID(ctx, rec.alert.ID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		rec.alert.IsActive = false
		return reconcileGone
	case err != nil:
		r.logger.WarnContext(ctx, "reload alert after conflict failed",
			slog.Uint64("alert_id", rec.alert.ID),
			slog.String("error", err.Error()),
		)
		return reconcileFailed
	case a.IsActive:
		return reconcileNone
	}
	rec.alert = a
	return reconcileAdopted
}

func (r *AlertRegistry) forget(id uint64) {
	r.mu.Lock()
	delete(r.alerts, id)
	r.mu.Unlock()
}

func (r *AlertRegistry) lookup(id uint64) *alertRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.alerts[id]
}

func (r *AlertRegistry) notify(ctx context.Context, a domain.PriceAlert) {
	if r.notifier == nil {
		return
	}
	title := fmt.Sprintf("%s %s %s", a.Token, a.Condition, a.TargetPrice)
	msg := fmt.Sprintf("Alert #%d triggered at %s", a.ID, a.TriggeredPrice)
	if a.Message != "" {
		msg += "\n" + a.Message
	}
	go func(ctx context.Context) {
		if err := r.notifier.Notify(ctx, string(domain.EventAlertTriggered), title, msg); err != nil {
			r.logger.WarnContext(ctx, "alert notification failed",
				slog.Uint64("alert_id", a.ID),
				slog.String("error", err.Error()),
			)
		}
	}(context.WithoutCancel(ctx))
}
