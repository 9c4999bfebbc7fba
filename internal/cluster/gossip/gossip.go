package gossip

import (
	"context"
	"log/slog"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/swarmguard/workflowmesh/internal/cluster/membership"
	"github.com/swarmguard/workflowmesh/internal/cluster/ring"
	"github.com/swarmguard/workflowmesh/internal/cluster/transport"
	"github.com/swarmguard/workflowmesh/internal/telemetry"
)

// Config carries the gossip-tunable subset of spec.md §6's configuration
// table.
type Config struct {
	GossipInterval  time.Duration
	SuspectTimeout  time.Duration
	DeadTimeout     time.Duration
	MaxUpdates      int
	PingReqFanout   int
}

// DefaultConfig matches spec.md §6's defaults.
func DefaultConfig() Config {
	return Config{
		GossipInterval: time.Second,
		SuspectTimeout: 5 * time.Second,
		DeadTimeout:    30 * time.Second,
		MaxUpdates:     10,
		PingReqFanout:  3,
	}
}

// Gossiper drives spec.md §4.9's periodic ping task and suspect sweep, and
// maintains the ring in step with membership changes.
type Gossiper struct {
	selfID      string
	table       *membership.Table
	ring        *ring.Ring
	tr          transport.Transport
	buffer      *DisseminationBuffer
	cfg         Config
	logger      *slog.Logger
	instruments *telemetry.Instruments
	seq         uint64

	stopPing   chan struct{}
	donePing   chan struct{}
	stopSweep  chan struct{}
	doneSweep  chan struct{}
}

// New builds a Gossiper. instruments may be nil; every recording call on it
// is nil-receiver safe.
func New(selfID string, table *membership.Table, r *ring.Ring, tr transport.Transport, cfg Config, logger *slog.Logger, instruments *telemetry.Instruments) *Gossiper {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gossiper{
		selfID:      selfID,
		table:       table,
		ring:        r,
		tr:          tr,
		buffer:      NewDisseminationBuffer(len(table.All())),
		cfg:         cfg,
		logger:      logger,
		instruments: instruments,

		stopPing:  make(chan struct{}),
		donePing:  make(chan struct{}),
		stopSweep: make(chan struct{}),
		doneSweep: make(chan struct{}),
	}
	tr.OnMessage(g.handleMessage)
	r.AddNode(selfID)
	return g
}

// Start launches the periodic ping task and the suspect sweep task.
func (g *Gossiper) Start(ctx context.Context) {
	go g.pingLoop(ctx)
	go g.sweepLoop(ctx)
}

func (g *Gossiper) Stop() {
	close(g.stopPing)
	close(g.stopSweep)
	<-g.donePing
	<-g.doneSweep
}

func (g *Gossiper) pingLoop(ctx context.Context) {
	defer close(g.donePing)
	ticker := time.NewTicker(g.cfg.GossipInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-g.stopPing:
			return
		case <-ticker.C:
			g.round(ctx)
		}
	}
}

func (g *Gossiper) sweepLoop(ctx context.Context) {
	defer close(g.doneSweep)
	ticker := time.NewTicker(g.cfg.GossipInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-g.stopSweep:
			return
		case <-ticker.C:
			g.sweepSuspects()
		}
	}
}

// round implements one pass of spec.md §4.9's periodic task: pick a random
// alive peer, ping it, and fall back to indirect ping-req probing on
// timeout.
func (g *Gossiper) round(ctx context.Context) {
	start := time.Now()
	defer func() { g.instruments.RecordGossipRound(ctx, time.Since(start)) }()

	peers := g.table.AliveExcept(g.selfID)
	if len(peers) == 0 {
		return
	}
	target := peers[rand.Intn(len(peers))]

	ok := g.pingDirect(ctx, target)
	if ok {
		return
	}

	proxies := selectRandomPeers(excluding(peers, target.NodeID), g.cfg.PingReqFanout)
	if len(proxies) == 0 {
		g.markSuspectAndDisseminate(target.NodeID)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.SuspectTimeout)
	defer cancel()

	acked := make(chan bool, len(proxies))
	for _, proxy := range proxies {
		proxy := proxy
		go func() {
			acked <- g.pingReqVia(ctx, proxy, target)
		}()
	}
	for i := 0; i < len(proxies); i++ {
		select {
		case success := <-acked:
			if success {
				g.table.Touch(target.NodeID)
				return
			}
		case <-ctx.Done():
			g.markSuspectAndDisseminate(target.NodeID)
			return
		}
	}
	g.markSuspectAndDisseminate(target.NodeID)
}

func (g *Gossiper) markSuspectAndDisseminate(nodeID string) {
	n, ok := g.table.MarkSuspect(nodeID)
	if !ok {
		return
	}
	g.buffer.Add(nodeInfoToUpdate(n))
}

func (g *Gossiper) nextSeq() uint64 { return atomic.AddUint64(&g.seq, 1) }

func (g *Gossiper) pingDirect(ctx context.Context, target membership.NodeInfo) bool {
	msg := transport.Message{
		Kind:      transport.MsgPing,
		SenderID:  g.selfID,
		Seq:       g.nextSeq(),
		Piggyback: g.buffer.GetUpdates(g.cfg.MaxUpdates),
	}
	payload, err := transport.EncodeMessage(msg)
	if err != nil {
		g.logger.Error("gossip: encode ping failed", "error", err)
		return false
	}
	pingCtx, cancel := context.WithTimeout(ctx, g.cfg.GossipInterval*2)
	defer cancel()
	resp, err := g.tr.SendAndReceive(pingCtx, target.Address, payload)
	if err != nil {
		return false
	}
	ack, err := transport.DecodeMessage(resp)
	if err != nil || ack.Kind != transport.MsgAck {
		return false
	}
	g.applyPiggyback(ack.Piggyback)
	g.table.Touch(target.NodeID)
	return true
}

func (g *Gossiper) pingReqVia(ctx context.Context, proxy, target membership.NodeInfo) bool {
	msg := transport.Message{Kind: transport.MsgPingReq, SenderID: g.selfID, Seq: g.nextSeq(), Target: target.Address}
	payload, err := transport.EncodeMessage(msg)
	if err != nil {
		return false
	}
	resp, err := g.tr.SendAndReceive(ctx, proxy.Address, payload)
	if err != nil {
		return false
	}
	reply, err := transport.DecodeMessage(resp)
	if err != nil {
		return false
	}
	return reply.Kind == transport.MsgAck
}

func (g *Gossiper) sweepSuspects() {
	for _, n := range g.table.SuspectsOlderThan(g.cfg.DeadTimeout) {
		dead, ok := g.table.MarkDead(n.NodeID)
		if !ok {
			continue
		}
		g.ring.RemoveNode(n.NodeID)
		g.buffer.Add(nodeInfoToUpdate(dead))
	}
}

func (g *Gossiper) applyPiggyback(updates []transport.NodeUpdate) {
	for _, u := range updates {
		info := updateToNodeInfo(u)
		if g.table.ApplyUpdate(info) {
			g.buffer.Add(u)
			switch info.State {
			case membership.Alive:
				g.ring.AddNode(info.NodeID)
			case membership.Dead, membership.Left:
				g.ring.RemoveNode(info.NodeID)
			}
			if info.NodeID == g.selfID && info.State == membership.Suspect {
				if refuted, ok := g.table.Refute(); ok {
					g.buffer.Add(nodeInfoToUpdate(refuted))
				}
			}
		}
	}
}

// handleMessage is the transport.Handler wired in New, dispatching on
// message kind per spec.md §6's cluster transport contract.
func (g *Gossiper) handleMessage(ctx context.Context, env transport.Envelope) ([]byte, error) {
	msg, err := transport.DecodeMessage(env.Payload)
	if err != nil {
		return nil, err
	}
	switch msg.Kind {
	case transport.MsgPing:
		g.applyPiggyback(msg.Piggyback)
		ack := transport.Message{Kind: transport.MsgAck, SenderID: g.selfID, Seq: msg.Seq, Piggyback: g.buffer.GetUpdates(g.cfg.MaxUpdates)}
		return transport.EncodeMessage(ack)

	case transport.MsgPingReq:
		reqCtx, cancel := context.WithTimeout(ctx, g.cfg.GossipInterval*2)
		defer cancel()
		pingMsg := transport.Message{Kind: transport.MsgPing, SenderID: g.selfID, Seq: g.nextSeq()}
		payload, _ := transport.EncodeMessage(pingMsg)
		resp, err := g.tr.SendAndReceive(reqCtx, msg.Target, payload)
		kind := transport.MsgNack
		if err == nil {
			if ack, derr := transport.DecodeMessage(resp); derr == nil && ack.Kind == transport.MsgAck {
				kind = transport.MsgAck
			}
		}
		return transport.EncodeMessage(transport.Message{Kind: kind, SenderID: g.selfID, Seq: msg.Seq})

	case transport.MsgJoin:
		for _, u := range msg.Piggyback {
			info := updateToNodeInfo(u)
			if g.table.ApplyUpdate(info) && info.State == membership.Alive {
				g.ring.AddNode(info.NodeID)
			}
		}
		members := make([]transport.NodeUpdate, 0)
		for _, n := range g.table.All() {
			members = append(members, nodeInfoToUpdate(n))
		}
		return transport.EncodeMessage(transport.Message{Kind: transport.MsgJoinAck, SenderID: g.selfID, Accepted: true, Members: members})

	case transport.MsgLeave:
		info := membership.NodeInfo{NodeID: msg.SenderID, State: membership.Left}
		if existing, ok := g.table.Get(msg.SenderID); ok {
			info.Incarnation = existing.Incarnation + 1
			info.Address = existing.Address
		}
		if g.table.ApplyUpdate(info) {
			g.ring.RemoveNode(info.NodeID)
			g.buffer.Add(nodeInfoToUpdate(info))
		}
		return nil, nil

	case transport.MsgSyncRequest:
		members := make([]transport.NodeUpdate, 0)
		for _, n := range g.table.All() {
			members = append(members, nodeInfoToUpdate(n))
		}
		return transport.EncodeMessage(transport.Message{Kind: transport.MsgSyncResp, SenderID: g.selfID, Members: members})

	default:
		return nil, nil
	}
}

// Join implements spec.md §4.9's join: send Join(selfInfo) to each seed in
// turn; the first seed to respond with JoinAck(accepted=true, members)
// supplies the bootstrap member list.
func (g *Gossiper) Join(ctx context.Context, seeds []string) error {
	if len(seeds) == 0 {
		return nil
	}
	self := g.table.Self()
	msg := transport.Message{
		Kind:      transport.MsgJoin,
		SenderID:  g.selfID,
		Piggyback: []transport.NodeUpdate{nodeInfoToUpdate(self)},
	}
	payload, err := transport.EncodeMessage(msg)
	if err != nil {
		return err
	}
	for _, seed := range seeds {
		joinCtx, cancel := context.WithTimeout(ctx, g.cfg.GossipInterval*2)
		resp, err := g.tr.SendAndReceive(joinCtx, seed, payload)
		cancel()
		if err != nil {
			continue
		}
		ack, err := transport.DecodeMessage(resp)
		if err != nil || ack.Kind != transport.MsgJoinAck || !ack.Accepted {
			continue
		}
		for _, u := range ack.Members {
			info := updateToNodeInfo(u)
			if g.table.ApplyUpdate(info) && info.State == membership.Alive {
				g.ring.AddNode(info.NodeID)
			}
		}
		return nil
	}
	return nil
}

// Leave implements spec.md §4.9's leave: send Leave(selfId) to every Alive
// peer on graceful shutdown.
func (g *Gossiper) Leave(ctx context.Context) {
	msg := transport.Message{Kind: transport.MsgLeave, SenderID: g.selfID}
	payload, err := transport.EncodeMessage(msg)
	if err != nil {
		return
	}
	for _, peer := range g.table.AliveExcept(g.selfID) {
		_ = g.tr.Send(ctx, peer.Address, payload)
	}
}

// selectRandomPeers implements a Fisher-Yates partial shuffle to pick up to
// n distinct peers, grounded on federation/sync_protocol.go's
// selectRandomPeers.
func selectRandomPeers(peers []membership.NodeInfo, n int) []membership.NodeInfo {
	if n > len(peers) {
		n = len(peers)
	}
	shuffled := make([]membership.NodeInfo, len(peers))
	copy(shuffled, peers)
	for i := len(shuffled) - 1; i > 0; i-- {
		j := rand.Intn(i + 1)
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	}
	return shuffled[:n]
}

func excluding(peers []membership.NodeInfo, id string) []membership.NodeInfo {
	out := make([]membership.NodeInfo, 0, len(peers))
	for _, p := range peers {
		if p.NodeID != id {
			out = append(out, p)
		}
	}
	return out
}
