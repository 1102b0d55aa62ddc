// Package chat is the group-scoped connection registry and fan-out engine.
//
// A live websocket session is admitted into the group of its user's company,
// registered in the Registry, and every text it sends is broadcast by the Router
// to all members of that group (the sender included). The Notifier lets code
// outside any session push "System" messages into a group.
//
// The package never touches the database or the network directly: principals
// are resolved through a PrincipalResolver and payloads leave through each
// connection's Sender.
package chat

import (
	"context"
	"errors"
)

// GroupKey identifies the set of connections that may message each other.
// It is opaque to this package and only used as a map key.
type GroupKey string

func (k GroupKey) String() string { return string(k) }

// Sender is the send capability of one connection: it delivers an encoded
// event to the remote peer, or fails when the peer is gone or too slow to
// accept it before ctx expires.
type Sender interface {
	Send(ctx context.Context, payload []byte) error
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(ctx context.Context, payload []byte) error

func (f SenderFunc) Send(ctx context.Context, payload []byte) error { return f(ctx, payload) }

// EvictionListener is implemented by senders that own a transport. Evicted is
// called once when the engine drops the connection after a failed delivery;
// the transport is expected to close.
type EvictionListener interface {
	Evicted()
}

// Principal is the already-authenticated identity behind a connection.
type Principal struct {
	UserID    string
	Name      string
	Anonymous bool
}

// AnonymousPrincipal is used for upgrades that carried no valid credentials.
var AnonymousPrincipal = Principal{Anonymous: true}

// Conn is one live session as seen by the registry. Its group is fixed at
// admission time.
type Conn struct {
	id     string
	name   string
	group  GroupKey
	sender Sender

	// onEvict runs after the router removed the connection from its group.
	onEvict func()
}

// NewConn builds a connection handle. id must be unique for the process lifetime.
func NewConn(id, name string, group GroupKey, sender Sender) *Conn {
	return &Conn{id: id, name: name, group: group, sender: sender}
}

func (c *Conn) ID() string      { return c.id }
func (c *Conn) Name() string    { return c.name }
func (c *Conn) Group() GroupKey { return c.group }

func (c *Conn) evicted() {
	if c.onEvict != nil {
		c.onEvict()
	}
}

func (c *Conn) send(ctx context.Context, payload []byte) error {
	if c.sender == nil {
		return errors.New("chat: connection has no sender")
	}
	return c.sender.Send(ctx, payload)
}
