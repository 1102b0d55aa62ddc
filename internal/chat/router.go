package chat

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/trentd187/company-chat/internal/logging"
	"github.com/trentd187/company-chat/internal/metrics"
)

// Router fans a message out to every current member of a group.
//
// Delivery is best effort per member: each send gets its own timeout, a
// failed or timed out send evicts that member and the remaining members are
// still served. Nothing is retried and no error reaches the broadcaster.
type Router struct {
	registry    *Registry
	sendTimeout time.Duration
	workers     int
	metrics     *metrics.Metrics
	logger      *zap.Logger
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithSendTimeout bounds every single delivery.
func WithSendTimeout(d time.Duration) RouterOption {
	return func(r *Router) { r.sendTimeout = d }
}

// WithFanoutWorkers limits how many deliveries of one broadcast run at once.
func WithFanoutWorkers(n int) RouterOption {
	return func(r *Router) { r.workers = n }
}

// WithRouterMetrics records broadcasts, deliveries and evictions.
func WithRouterMetrics(m *metrics.Metrics) RouterOption {
	return func(r *Router) { r.metrics = m }
}

// WithRouterLogger sets the logger used for delivery failures.
func WithRouterLogger(l *zap.Logger) RouterOption {
	return func(r *Router) { r.logger = l }
}

// NewRouter returns a router reading membership from registry.
func NewRouter(registry *Registry, opts ...RouterOption) *Router {
	r := &Router{
		registry:    registry,
		sendTimeout: 5 * time.Second,
		workers:     16,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.OrNop(r.logger)
	if r.workers < 1 {
		r.workers = 1
	}
	return r
}

// Broadcast delivers msg as a chat_message event to every member of key and
// returns how many members received it. An empty group is a silent no-op.
func (r *Router) Broadcast(ctx context.Context, key GroupKey, msg Message) int {
	members := r.registry.Members(key)
	r.metrics.Broadcast(msg.kind())
	if len(members) == 0 {
		return 0
	}

	payload, err := encodeChatMessage(msg)
	if err != nil {
		r.logger.Error("encode chat message", zap.String("group", key.String()), zap.Error(err))
		return 0
	}

	var delivered atomic.Int64
	var g errgroup.Group
	g.SetLimit(r.workers)
	for _, m := range members {
		m := m
		g.Go(func() error {
			if r.deliver(ctx, key, m, payload) {
				delivered.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	return int(delivered.Load())
}

func (r *Router) deliver(ctx context.Context, key GroupKey, c *Conn, payload []byte) bool {
	err := r.send(ctx, c, payload)
	if err == nil {
		return true
	}

	if r.registry.Remove(key, c) {
		r.metrics.Eviction(metrics.EvictionDeliveryFailure)
		r.logger.Info("evicted member after failed delivery",
			zap.String("group", key.String()),
			zap.String("conn", c.id),
			zap.String("user", c.name),
			zap.Error(err))
		c.evicted()
	}
	return false
}

// send performs one bounded delivery without touching the registry.
func (r *Router) send(ctx context.Context, c *Conn, payload []byte) error {
	sendCtx, cancel := context.WithTimeout(ctx, r.sendTimeout)
	defer cancel()

	err := c.send(sendCtx, payload)
	r.metrics.Delivery(err == nil)
	return err
}
