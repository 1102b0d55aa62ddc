package chat

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/trentd187/company-chat/internal/logging"
	"github.com/trentd187/company-chat/internal/metrics"
)

var (
	// ErrAnonymous refuses a connection that carried no authenticated principal.
	ErrAnonymous = errors.New("chat: anonymous principal")
	// ErrNoGroup is returned by resolvers when the principal has no group.
	ErrNoGroup = errors.New("chat: principal has no group")
	// ErrSessionClosed is returned when a closed session is admitted again.
	ErrSessionClosed = errors.New("chat: session closed")
)

// PrincipalResolver is the directory the engine consults at admission.
type PrincipalResolver interface {
	// ResolvePrincipal returns the group of p, or an error wrapping ErrNoGroup
	// when p has none.
	ResolvePrincipal(ctx context.Context, p Principal) (GroupKey, error)
	// ListPeerNames returns the names of every user belonging to key.
	ListPeerNames(ctx context.Context, key GroupKey) ([]string, error)
}

// RosterFunc produces the names sent in the user_list event on admission.
type RosterFunc func(ctx context.Context, key GroupKey) ([]string, error)

// State is the position of a session in its lifecycle.
type State int

const (
	StatePending State = iota
	StateAdmitted
	StateClosed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateAdmitted:
		return "admitted"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Lifecycle admits sessions into their group, forwards their messages to the
// Router, and evicts them when they close.
type Lifecycle struct {
	registry *Registry
	router   *Router
	resolver PrincipalResolver
	roster   RosterFunc
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// LifecycleOption configures a Lifecycle.
type LifecycleOption func(*Lifecycle)

// WithDirectoryRoster sends every user of the group known to the resolver,
// online or not, instead of the live members.
func WithDirectoryRoster() LifecycleOption {
	return func(l *Lifecycle) { l.roster = l.resolver.ListPeerNames }
}

// WithLifecycleMetrics records admissions and disconnect evictions.
func WithLifecycleMetrics(m *metrics.Metrics) LifecycleOption {
	return func(l *Lifecycle) { l.metrics = m }
}

// WithLifecycleLogger sets the session logger.
func WithLifecycleLogger(logger *zap.Logger) LifecycleOption {
	return func(l *Lifecycle) { l.logger = logger }
}

// NewLifecycle wires the registry, router and resolver together. By default
// the admission roster lists the live members of the group.
func NewLifecycle(registry *Registry, router *Router, resolver PrincipalResolver, opts ...LifecycleOption) *Lifecycle {
	l := &Lifecycle{
		registry: registry,
		router:   router,
		resolver: resolver,
	}
	l.roster = func(_ context.Context, key GroupKey) ([]string, error) {
		return l.registry.Usernames(key), nil
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = logging.OrNop(l.logger)
	return l
}

// Session is the engine's side of one transport session. The transport calls
// Admit once after the session opens, HandleText for every inbound frame and
// Close when the session ends.
type Session struct {
	lc        *Lifecycle
	id        string
	principal Principal
	sender    Sender

	mu    sync.Mutex
	state State
	conn  *Conn
}

// NewSession returns a Pending session. id must be unique for the process
// lifetime; sender is the transport's send capability.
func (l *Lifecycle) NewSession(id string, p Principal, sender Sender) *Session {
	return &Session{lc: l, id: id, principal: p, sender: sender, state: StatePending}
}

// Admit moves a Pending session into its group and sends it the roster.
// Anonymous principals and principals without a group are refused: the
// session goes straight to Closed without touching the registry and the
// caller is expected to close the transport. The same happens when the
// roster cannot be delivered.
func (s *Session) Admit(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateAdmitted:
		return nil
	case StateClosed:
		return ErrSessionClosed
	}

	l := s.lc
	if s.principal.Anonymous {
		s.state = StateClosed
		l.metrics.Admission(metrics.AdmissionAnonymous)
		return ErrAnonymous
	}

	key, err := l.resolver.ResolvePrincipal(ctx, s.principal)
	if err != nil {
		s.state = StateClosed
		l.metrics.Admission(metrics.AdmissionUnresolved)
		if !errors.Is(err, ErrNoGroup) {
			l.logger.Warn("resolve principal", zap.String("user", s.principal.Name), zap.Error(err))
		}
		return fmt.Errorf("admit %s: %w", s.principal.Name, err)
	}

	// The roster is queued before the connection becomes visible to
	// broadcasts, so user_list is always the first frame the peer gets.
	conn := NewConn(s.id, s.principal.Name, key, s.sender)
	conn.onEvict = s.evicted
	if err := l.sendRoster(ctx, conn); err != nil {
		s.state = StateClosed
		l.metrics.Admission(metrics.AdmissionRosterFailed)
		return fmt.Errorf("admit %s: send roster: %w", s.principal.Name, err)
	}

	s.conn = conn
	l.registry.Add(key, conn)
	s.state = StateAdmitted
	l.metrics.Admission(metrics.AdmissionAdmitted)
	l.logger.Info("session admitted",
		zap.String("group", key.String()),
		zap.String("conn", s.id),
		zap.String("user", s.principal.Name))
	return nil
}

// sendRoster delivers the user_list event to c, which is not yet in the
// registry. The live roster therefore gets the newcomer added by hand.
func (l *Lifecycle) sendRoster(ctx context.Context, c *Conn) error {
	names, err := l.roster(ctx, c.group)
	if err != nil {
		l.logger.Warn("load roster", zap.String("group", c.group.String()), zap.Error(err))
		names = nil
	}
	names = lo.Uniq(append(slices.Clone(names), c.name))
	slices.Sort(names)

	payload, err := encodeUserList(names)
	if err != nil {
		return err
	}
	return l.router.send(ctx, c, payload)
}

// evicted is called by the router after a failed delivery removed the
// session's connection from its group. The session closes and the
// transport is told to go away.
func (s *Session) evicted() {
	s.mu.Lock()
	if s.state != StateAdmitted {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	s.mu.Unlock()

	l := s.lc
	l.metrics.SessionClosed()
	l.logger.Info("session closed after failed delivery",
		zap.String("group", s.conn.group.String()),
		zap.String("conn", s.id),
		zap.String("user", s.conn.name))
	if listener, ok := s.sender.(EvictionListener); ok {
		listener.Evicted()
	}
}

// HandleText forwards one inbound frame to the session's group, tagged with
// the sender's name. Frames received outside the Admitted state and frames
// that are not a JSON object are dropped. It returns the number of members
// the message reached.
func (s *Session) HandleText(ctx context.Context, payload []byte) int {
	s.mu.Lock()
	state, conn := s.state, s.conn
	s.mu.Unlock()
	if state != StateAdmitted {
		return 0
	}

	in, err := decodeInbound(payload)
	if err != nil {
		s.lc.logger.Debug("drop undecodable frame", zap.String("conn", s.id), zap.Error(err))
		return 0
	}
	return s.lc.router.Broadcast(ctx, conn.group, UserMessage{Sender: conn.name, Text: in.Message})
}

// Close evicts the session from its group. It is idempotent and safe to call
// on a session that was never admitted.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.state
	s.state = StateClosed
	if prev != StateAdmitted {
		return
	}

	l := s.lc
	if l.registry.Remove(s.conn.group, s.conn) {
		l.metrics.Eviction(metrics.EvictionDisconnect)
	}
	l.metrics.SessionClosed()
	l.logger.Info("session closed",
		zap.String("group", s.conn.group.String()),
		zap.String("conn", s.id),
		zap.String("user", s.conn.name))
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Group returns the group of an admitted session.
func (s *Session) Group() (GroupKey, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return "", false
	}
	return s.conn.group, true
}

// Conn returns the registry handle of an admitted session, or nil.
func (s *Session) Conn() *Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}
