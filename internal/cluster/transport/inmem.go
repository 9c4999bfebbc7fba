package transport

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Network is a shared, process-wide registry of InMemTransport endpoints
// with tunable delay, drop probability, and partition sets, grounded on
// spec.md §9's explicit design note for deterministic cluster tests.
type Network struct {
	mu         sync.RWMutex
	endpoints  map[string]*InMemTransport
	delay      time.Duration
	dropProb   float64
	partitions map[string]string // addr -> partition label; same label = connected
}

func NewNetwork() *Network {
	return &Network{endpoints: make(map[string]*InMemTransport), partitions: make(map[string]string)}
}

// SetDelay configures a fixed artificial delay applied to every delivery.
func (n *Network) SetDelay(d time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.delay = d
}

// SetDropProbability configures the fraction of deliveries silently dropped.
func (n *Network) SetDropProbability(p float64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.dropProb = p
}

// Partition assigns addr to a named partition; only endpoints in the same
// partition can reach each other. An address with no assignment can reach
// everyone (the default, fully-connected state).
func (n *Network) Partition(addr, label string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.partitions[addr] = label
}

// HealPartition clears all partition assignments, restoring full
// connectivity.
func (n *Network) HealPartition() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.partitions = make(map[string]string)
}

func (n *Network) connected(a, b string) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	pa, oka := n.partitions[a]
	pb, okb := n.partitions[b]
	if !oka || !okb {
		return true
	}
	return pa == pb
}

func (n *Network) register(addr string, t *InMemTransport) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.endpoints[addr] = t
}

func (n *Network) unregister(addr string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.endpoints, addr)
}

func (n *Network) lookup(addr string) (*InMemTransport, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	t, ok := n.endpoints[addr]
	return t, ok
}

func (n *Network) shouldDrop() bool {
	n.mu.RLock()
	p := n.dropProb
	n.mu.RUnlock()
	return p > 0 && rand.Float64() < p
}

func (n *Network) artificialDelay() time.Duration {
	n.mu.RLock()
	d := n.delay
	n.mu.RUnlock()
	return d
}

// InMemTransport implements Transport by routing through a shared Network,
// for deterministic cluster tests.
type InMemTransport struct {
	net     *Network
	address string
	handler Handler
}

func NewInMemTransport(net *Network, address string) *InMemTransport {
	return &InMemTransport{net: net, address: address}
}

func (t *InMemTransport) Start(ctx context.Context) error {
	t.net.register(t.address, t)
	return nil
}

func (t *InMemTransport) Stop() error {
	t.net.unregister(t.address)
	return nil
}

func (t *InMemTransport) OnMessage(h Handler) { t.handler = h }

func (t *InMemTransport) LocalAddress() string { return t.address }

func (t *InMemTransport) Send(ctx context.Context, addr string, payload []byte) error {
	_, err := t.deliver(ctx, addr, payload, false)
	return err
}

func (t *InMemTransport) SendAndReceive(ctx context.Context, addr string, payload []byte) ([]byte, error) {
	return t.deliver(ctx, addr, payload, true)
}

func (t *InMemTransport) deliver(ctx context.Context, addr string, payload []byte, wantResponse bool) ([]byte, error) {
	if !t.net.connected(t.address, addr) {
		return nil, ErrUnavailable
	}
	peer, ok := t.net.lookup(addr)
	if !ok {
		return nil, ErrUnavailable
	}
	if t.net.shouldDrop() {
		return nil, ErrTimeout
	}
	if d := t.net.artificialDelay(); d > 0 {
		timer := time.NewTimer(d)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ErrTimeout
		}
	}
	if peer.handler == nil {
		return nil, ErrUnavailable
	}
	resp, err := peer.handler(ctx, Envelope{From: t.address, Payload: payload})
	if err != nil {
		return nil, err
	}
	if !wantResponse {
		return nil, nil
	}
	return resp, nil
}
