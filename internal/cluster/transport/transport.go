// Package transport implements spec.md §4.10's abstract transport contract
// (start/stop/send/sendAndReceive/onMessage) with an in-memory
// implementation for deterministic tests and a length-framed TCP
// implementation for production, grounded on spec.md §9's design note and
// on federation/main.go's dual HTTP+gRPC server pattern for the production
// peer protocol choice.
package transport

import (
	"context"
	"errors"
)

// ErrUnavailable is returned when a send cannot be attempted at all (e.g.
// the peer is unknown to an in-memory transport, or partitioned away).
var ErrUnavailable = errors.New("transport: peer unavailable")

// ErrTimeout is returned by SendAndReceive when no response arrives within
// the given timeout, per spec.md §5's timeout requirement.
var ErrTimeout = errors.New("transport: timed out waiting for response")

// Envelope is a framed unit message: sender address plus an opaque payload.
// The payload's encoding is the concern of the layer above (gossip uses
// msgpack; dispatch uses its own encoding) — the transport only moves bytes.
type Envelope struct {
	From    string
	Payload []byte
}

// Handler processes an inbound message and optionally returns a response
// payload for SendAndReceive callers. A nil response means "no reply",
// appropriate for fire-and-forget sends.
type Handler func(ctx context.Context, env Envelope) (response []byte, err error)

// Transport is the narrow contract of spec.md §4.10. All operations are
// non-blocking from the transport's own bookkeeping perspective; Send and
// SendAndReceive block the caller only for the duration of the network
// operation itself, and the transport must not retry at its own layer —
// retries are the caller's concern.
type Transport interface {
	Start(ctx context.Context) error
	Stop() error

	// Send delivers payload to addr best-effort; it does not wait for or
	// expect a response.
	Send(ctx context.Context, addr string, payload []byte) error

	// SendAndReceive delivers payload to addr and waits up to the context
	// deadline for a response. Returns ErrTimeout on expiry.
	SendAndReceive(ctx context.Context, addr string, payload []byte) ([]byte, error)

	// OnMessage registers the handler invoked for inbound messages. Must be
	// called before Start.
	OnMessage(h Handler)

	// LocalAddress returns the address this transport listens on.
	LocalAddress() string
}
