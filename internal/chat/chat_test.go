package chat

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// recorder is a Sender that keeps every payload it was handed.
type recorder struct {
	mu       sync.Mutex
	payloads [][]byte
	err      error
	block    bool
	evicted  int
}

func (r *recorder) Evicted() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evicted++
}

func (r *recorder) fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

func (r *recorder) evictions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.evicted
}

// types returns the event type of every payload in arrival order.
func (r *recorder) types(t *testing.T) []string {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.payloads))
	for _, p := range r.payloads {
		var ev struct {
			Type string `json:"type"`
		}
		require.NoError(t, json.Unmarshal(p, &ev))
		out = append(out, ev.Type)
	}
	return out
}

func (r *recorder) Send(ctx context.Context, payload []byte) error {
	if r.block {
		<-ctx.Done()
		return ctx.Err()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.payloads = append(r.payloads, append([]byte(nil), payload...))
	return nil
}

func (r *recorder) chatMessages(t *testing.T) []ChatMessageEvent {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []ChatMessageEvent
	for _, p := range r.payloads {
		var ev ChatMessageEvent
		require.NoError(t, json.Unmarshal(p, &ev))
		if ev.Type == EventChatMessage {
			out = append(out, ev)
		}
	}
	return out
}

func (r *recorder) userLists(t *testing.T) []UserListEvent {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []UserListEvent
	for _, p := range r.payloads {
		var ev UserListEvent
		require.NoError(t, json.Unmarshal(p, &ev))
		if ev.Type == EventUserList {
			out = append(out, ev)
		}
	}
	return out
}

var errPeerGone = errors.New("peer gone")

// fakeResolver maps user ids to groups. onList runs inside ListPeerNames.
type fakeResolver struct {
	groups map[string]GroupKey
	peers  map[GroupKey][]string
	err    error
	onList func()
}

func (f *fakeResolver) ResolvePrincipal(_ context.Context, p Principal) (GroupKey, error) {
	if f.err != nil {
		return "", f.err
	}
	key, ok := f.groups[p.UserID]
	if !ok {
		return "", ErrNoGroup
	}
	return key, nil
}

func (f *fakeResolver) ListPeerNames(_ context.Context, key GroupKey) ([]string, error) {
	if f.onList != nil {
		f.onList()
	}
	return f.peers[key], nil
}
