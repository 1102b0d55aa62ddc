package chat

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trentd187/company-chat/internal/metrics"
)

func TestBroadcastReachesWholeGroup(t *testing.T) {
	r := NewRegistry()
	router := NewRouter(r)
	a, b, other := &recorder{}, &recorder{}, &recorder{}
	r.Add("g1", NewConn("a", "A", "g1", a))
	r.Add("g1", NewConn("b", "B", "g1", b))
	r.Add("g2", NewConn("o", "O", "g2", other))

	n := router.Broadcast(context.Background(), "g1", UserMessage{Sender: "A", Text: "hi"})

	assert.Equal(t, 2, n)
	want := []ChatMessageEvent{{Type: EventChatMessage, User: "A", Message: "hi"}}
	assert.Equal(t, want, a.chatMessages(t))
	assert.Equal(t, want, b.chatMessages(t))
	assert.Empty(t, other.chatMessages(t))
}

func TestBroadcastEvictsFailedMembers(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	r := NewRegistry()
	router := NewRouter(r, WithRouterMetrics(m))

	alive := &recorder{}
	dead := &recorder{err: errPeerGone}
	aliveConn := NewConn("alive", "A", "g1", alive)
	deadConn := NewConn("dead", "D", "g1", dead)
	evicted := 0
	deadConn.onEvict = func() { evicted++ }
	r.Add("g1", aliveConn)
	r.Add("g1", deadConn)

	n := router.Broadcast(context.Background(), "g1", UserMessage{Sender: "A", Text: "ping"})

	assert.Equal(t, 1, n)
	assert.Len(t, alive.chatMessages(t), 1)
	assert.False(t, r.Contains("g1", deadConn))
	assert.True(t, r.Contains("g1", aliveConn))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Evictions.WithLabelValues(metrics.EvictionDeliveryFailure)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Deliveries.WithLabelValues("failed")))

	// The dead member is gone for good: the next broadcast does not touch it.
	router.Broadcast(context.Background(), "g1", UserMessage{Sender: "A", Text: "again"})
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Deliveries.WithLabelValues("failed")))
	assert.Len(t, alive.chatMessages(t), 2)
	assert.Equal(t, 1, evicted)
}

func TestBroadcastEvictsSlowMembers(t *testing.T) {
	r := NewRegistry()
	router := NewRouter(r, WithSendTimeout(20*time.Millisecond), WithFanoutWorkers(4))

	fast := &recorder{}
	slow := NewConn("slow", "S", "g1", &recorder{block: true})
	r.Add("g1", NewConn("fast", "F", "g1", fast))
	r.Add("g1", slow)

	start := time.Now()
	n := router.Broadcast(context.Background(), "g1", SystemMessage{Text: "tick"})

	assert.Equal(t, 1, n)
	assert.Less(t, time.Since(start), time.Second)
	assert.False(t, r.Contains("g1", slow))
	require.Len(t, fast.chatMessages(t), 1)
	assert.Equal(t, SystemSender, fast.chatMessages(t)[0].User)
}

func TestNoDeliveryAfterRemove(t *testing.T) {
	r := NewRegistry()
	router := NewRouter(r)
	a := &recorder{}
	conn := NewConn("a", "A", "g1", a)
	r.Add("g1", conn)
	r.Remove("g1", conn)

	assert.Equal(t, 0, router.Broadcast(context.Background(), "g1", UserMessage{Sender: "B", Text: "hello"}))
	assert.Empty(t, a.chatMessages(t))
}

func TestBroadcastEmptyGroup(t *testing.T) {
	router := NewRouter(NewRegistry(), WithFanoutWorkers(0))
	assert.Equal(t, 0, router.Broadcast(context.Background(), "empty", SystemMessage{Text: "x"}))
}
