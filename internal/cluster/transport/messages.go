package transport

import (
	"fmt"

	"github.com/hashicorp/go-msgpack/v2/codec"
)

// MessageKind enumerates the gossip wire message variants of spec.md §6
// ("Cluster transport").
type MessageKind string

const (
	MsgPing        MessageKind = "Ping"
	MsgAck         MessageKind = "Ack"
	MsgPingReq     MessageKind = "PingReq"
	MsgNack        MessageKind = "Nack"
	MsgJoin        MessageKind = "Join"
	MsgJoinAck     MessageKind = "JoinAck"
	MsgLeave       MessageKind = "Leave"
	MsgSyncRequest MessageKind = "SyncRequest"
	MsgSyncResp    MessageKind = "SyncResponse"
)

// NodeUpdate is the piggybacked {nodeId,state,incarnation,address} tuple of
// spec.md §3's Gossip update.
type NodeUpdate struct {
	NodeID      string `codec:"node_id"`
	State       int    `codec:"state"`
	Incarnation uint64 `codec:"incarnation"`
	Address     string `codec:"address"`
}

// Message is the envelope carried over the wire for every gossip variant,
// encoded with github.com/hashicorp/go-msgpack/v2 (see DESIGN.md for the
// grounding of this dependency choice).
type Message struct {
	Kind      MessageKind  `codec:"kind"`
	SenderID  string       `codec:"sender_id"`
	Seq       uint64       `codec:"seq"`
	Target    string       `codec:"target,omitempty"`
	Accepted  bool         `codec:"accepted,omitempty"`
	Piggyback []NodeUpdate `codec:"piggyback,omitempty"`
	Members   []NodeUpdate `codec:"members,omitempty"`
}

var mh codec.MsgpackHandle

// EncodeMessage serializes m for transmission over a Transport.
func EncodeMessage(m Message) ([]byte, error) {
	var buf []byte
	enc := codec.NewEncoderBytes(&buf, &mh)
	if err := enc.Encode(m); err != nil {
		return nil, fmt.Errorf("transport: encode message: %w", err)
	}
	return buf, nil
}

// DecodeMessage deserializes bytes produced by EncodeMessage.
func DecodeMessage(b []byte) (Message, error) {
	var m Message
	dec := codec.NewDecoderBytes(b, &mh)
	if err := dec.Decode(&m); err != nil {
		return Message{}, fmt.Errorf("transport: decode message: %w", err)
	}
	return m, nil
}
