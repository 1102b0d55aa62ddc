package chat

import "context"

// Notifier injects System messages into a group from outside any session,
// e.g. after an HTTP handler changed data the group cares about.
type Notifier struct {
	router *Router
}

func NewNotifier(router *Router) *Notifier {
	return &Notifier{router: router}
}

// Notify broadcasts text to key with the "System" sender label and returns
// the number of members reached. A group without members is a no-op.
func (n *Notifier) Notify(ctx context.Context, key GroupKey, text string) int {
	return n.router.Broadcast(ctx, key, SystemMessage{Text: text})
}
