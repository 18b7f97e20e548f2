// Package river drains a queue into the orchestrated store.
package river

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/devrev/paracore/internal/mapper"
	"github.com/devrev/paracore/internal/metrics"
	"github.com/devrev/paracore/internal/model"
	"github.com/devrev/paracore/internal/queue"
	"github.com/devrev/paracore/internal/store"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// IdleThreshold is the number of consecutive empty pages after which the loop sleeps
const IdleThreshold = 3

// DefaultWhitelist lists the object types accepted from a queue
var DefaultWhitelist = []string{
	model.TypeSysprop,
	model.TypeTag,
	model.TypeAddress,
	model.TypeVote,
	model.TypeTranslation,
}

// Config holds river settings
type Config struct {
	Name      string
	PageSize  int
	IdleSleep time.Duration
	// PagesPerSecond limits page pulls; 0 disables the limit
	PagesPerSecond float64
	Whitelist      []string
}

// WebhookDispatcher delivers webhook payload messages
type WebhookDispatcher interface {
	Dispatch(ctx context.Context, msg model.Message) error
}

// River pulls pages of messages from a queue and applies them as batched store writes
type River struct {
	name       string
	queue      queue.Queue
	store      store.Store
	dispatcher WebhookDispatcher
	pageSize   int
	idleSleep  time.Duration
	whitelist  map[string]struct{}
	limiter    *rate.Limiter
	metrics    *metrics.Metrics
	logger     *zap.Logger

	// sleep waits for d or until ctx is done
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a river. dispatcher may be nil, in which case webhook messages are dropped.
func New(cfg Config, q queue.Queue, st store.Store, dispatcher WebhookDispatcher, m *metrics.Metrics, logger *zap.Logger) *River {
	if cfg.Name == "" {
		cfg.Name = "default"
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	if cfg.IdleSleep <= 0 {
		cfg.IdleSleep = 5 * time.Second
	}
	if len(cfg.Whitelist) == 0 {
		cfg.Whitelist = DefaultWhitelist
	}
	if m == nil {
		m = metrics.NewNopMetrics()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	whitelist := make(map[string]struct{}, len(cfg.Whitelist))
	for _, t := range cfg.Whitelist {
		whitelist[t] = struct{}{}
	}

	r := &River{
		name:       cfg.Name,
		queue:      q,
		store:      st,
		dispatcher: dispatcher,
		pageSize:   cfg.PageSize,
		idleSleep:  cfg.IdleSleep,
		whitelist:  whitelist,
		metrics:    m,
		logger:     logger.With(zap.String("river", cfg.Name)),
		sleep:      sleepContext,
	}
	if cfg.PagesPerSecond > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(cfg.PagesPerSecond), 1)
	}
	return r
}

// Name returns the river name
func (r *River) Name() string {
	return r.name
}

// Run processes pages until ctx is cancelled. Page failures are logged and the loop
// continues; it returns nil on cancellation.
func (r *River) Run(ctx context.Context) error {
	r.logger.Info("River started",
		zap.Int("page_size", r.pageSize),
		zap.Duration("idle_sleep", r.idleSleep))
	defer r.logger.Info("River stopped")

	idle := 0
	for {
		if ctx.Err() != nil {
			return nil
		}
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return nil
			}
		}

		pulled, err := r.safePage(ctx)
		if err != nil {
			r.metrics.RiverPageErrors.WithLabelValues(r.name).Inc()
			r.logger.Error("Failed to process page", zap.Int("pulled", pulled), zap.Error(err))
		}

		if pulled > 0 {
			idle = 0
			continue
		}

		idle++
		if idle >= IdleThreshold {
			r.metrics.RiverIdleSleeps.WithLabelValues(r.name).Inc()
			if err := r.sleep(ctx, r.idleSleep); err != nil {
				return nil
			}
		}
	}
}

// batches accumulates one page of writes per tenant
type batches struct {
	tenants []string
	create  map[string][]*model.Object
	update  map[string][]*model.Object
	delete  map[string][]*model.Object
}

func newBatches() *batches {
	return &batches{
		create: make(map[string][]*model.Object),
		update: make(map[string][]*model.Object),
		delete: make(map[string][]*model.Object),
	}
}

func (b *batches) add(target map[string][]*model.Object, tenantID string, obj *model.Object) {
	if !slices.Contains(b.tenants, tenantID) {
		b.tenants = append(b.tenants, tenantID)
	}
	target[tenantID] = append(target[tenantID], obj)
}

func (b *batches) empty() bool {
	return len(b.tenants) == 0
}

// processPage pulls up to pageSize messages, stopping at the first empty pull, and writes
// the resulting batches. It returns the number of messages pulled.
// safePage turns a panic while processing a page into that page's error
func (r *River) safePage(ctx context.Context) (pulled int, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("page panicked: %v", rec)
		}
	}()
	return r.processPage(ctx)
}

func (r *River) processPage(ctx context.Context) (int, error) {
	b := newBatches()
	pulled := 0
	webhooks := 0

	var result error
	for pulled < r.pageSize {
		raw, err := r.queue.Pull(ctx)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("pull: %w", err))
			break
		}
		if raw == "" {
			break
		}
		pulled++

		if r.route(ctx, raw, b) {
			webhooks++
		}
	}

	if pulled > 0 {
		r.metrics.RiverPagesTotal.WithLabelValues(r.name).Inc()
	}
	if b.empty() && webhooks == 0 {
		return pulled, result
	}

	if err := r.flush(ctx, b); err != nil {
		result = multierror.Append(result, err)
	}
	return pulled, result
}

// route classifies one raw message into a batch. It reports whether the message was a
// webhook handed to the dispatcher.
func (r *River) route(ctx context.Context, raw string, b *batches) bool {
	msg, err := model.ParseMessage(raw)
	if err != nil {
		r.count("invalid")
		r.logger.Warn("Dropping undecodable message", zap.Error(err))
		return false
	}

	tenantID, objType := msg.TenantID(), msg.Type()
	if tenantID == "" || objType == "" {
		r.count("invalid")
		r.logger.Debug("Dropping message without tenant id or type")
		return false
	}

	if msg.IsWebhook() {
		return r.dispatch(ctx, msg)
	}

	if _, ok := r.whitelist[objType]; !ok {
		r.count("ignored")
		return false
	}

	id := msg.ID()
	switch {
	case msg.IsDelete() && id != "":
		obj := model.NewObject(tenantID, objType)
		obj.ID = id
		b.add(b.delete, tenantID, obj)
		r.count("delete")

	case id == "" || msg.IsCreate():
		if obj := r.materialize(msg); obj != nil {
			b.add(b.create, tenantID, obj)
			r.count("create")
		}

	default:
		existing, err := r.store.Read(ctx, tenantID, id)
		if err != nil {
			r.count("invalid")
			r.logger.Warn("Failed to read object for update",
				zap.String("tenant_id", tenantID),
				zap.String("id", id),
				zap.Error(err))
			return false
		}
		if existing == nil {
			// nothing to update, keep the data as a new object
			if obj := r.materialize(msg); obj != nil {
				b.add(b.create, tenantID, obj)
				r.count("create")
			}
			return false
		}
		if err := mapper.Merge(existing, msg.Fields()); err != nil {
			r.count("invalid")
			r.logger.Warn("Failed to merge update",
				zap.String("tenant_id", tenantID),
				zap.String("id", id),
				zap.Error(err))
			return false
		}
		b.add(b.update, tenantID, existing)
		r.count("update")
	}
	return false
}

func (r *River) materialize(msg model.Message) *model.Object {
	obj, err := mapper.FromMap(msg.Fields())
	if err != nil {
		r.count("invalid")
		r.logger.Warn("Failed to map message to object",
			zap.String("tenant_id", msg.TenantID()),
			zap.Error(err))
		return nil
	}
	obj.TenantID = msg.TenantID()
	obj.Type = msg.Type()
	return obj
}

func (r *River) dispatch(ctx context.Context, msg model.Message) bool {
	if r.dispatcher == nil {
		r.count("ignored")
		return false
	}
	if err := r.dispatcher.Dispatch(ctx, msg); err != nil {
		r.count("invalid")
		r.logger.Warn("Failed to dispatch webhook",
			zap.String("tenant_id", msg.TenantID()),
			zap.Error(err))
		return false
	}
	r.count("webhook")
	return true
}

// flush writes every non-empty batch, tenant by tenant
func (r *River) flush(ctx context.Context, b *batches) error {
	var result error
	for _, tenantID := range b.tenants {
		if objs := b.create[tenantID]; len(objs) > 0 {
			if err := r.store.CreateAll(ctx, tenantID, objs); err != nil {
				result = multierror.Append(result, fmt.Errorf("create batch for %s: %w", tenantID, err))
			}
		}
		if objs := b.update[tenantID]; len(objs) > 0 {
			if err := r.store.UpdateAll(ctx, tenantID, objs); err != nil {
				result = multierror.Append(result, fmt.Errorf("update batch for %s: %w", tenantID, err))
			}
		}
		if objs := b.delete[tenantID]; len(objs) > 0 {
			if err := r.store.DeleteAll(ctx, tenantID, objs); err != nil {
				result = multierror.Append(result, fmt.Errorf("delete batch for %s: %w", tenantID, err))
			}
		}
	}

	r.logger.Debug("Page flushed", zap.Int("tenants", len(b.tenants)))
	return result
}

func (r *River) count(kind string) {
	r.metrics.RiverMessagesTotal.WithLabelValues(r.name, kind).Inc()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
