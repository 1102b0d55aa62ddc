package chat

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNotifyUsesSystemLabel(t *testing.T) {
	lc, registry, _ := newTestLifecycle()
	_, recA := admit(t, lc, "a", "A")
	notifier := NewNotifier(lc.router)

	n := notifier.Notify(context.Background(), "g1", "Company Acme updated.")

	assert.Equal(t, 1, n)
	assert.Equal(t, []ChatMessageEvent{{Type: EventChatMessage, User: "System", Message: "Company Acme updated."}}, recA.chatMessages(t))
	assert.Equal(t, []string{"A"}, registry.Usernames("g1"))
}

func TestNotifyEmptyGroupIsNoop(t *testing.T) {
	registry := NewRegistry()
	notifier := NewNotifier(NewRouter(registry))

	assert.NotPanics(t, func() {
		assert.Equal(t, 0, notifier.Notify(context.Background(), "g1", "x"))
	})
	assert.Equal(t, 0, registry.Groups())
}
