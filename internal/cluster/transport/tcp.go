package transport

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"
)

const maxFrameSize = 16 << 20 // 16 MiB, generous ceiling for piggybacked gossip payloads

// frame layout: 4-byte big-endian length prefix, then:
//   8 bytes request id (big-endian uint64), correlating a response with its request
//   1 byte  kind: 0 = request, 1 = response, 2 = fire-and-forget
//   payload...

type frameKind byte

const (
	frameRequest frameKind = iota
	frameResponse
	frameOneway
)

// TCPTransport implements Transport over a length-framed TCP stream with a
// pooled connection per peer, grounded on spec.md §4.10's explicit
// "length-framed messages and a connection pool per peer" requirement, and
// on the teacher's dual HTTP+gRPC server pattern for running alongside the
// node's other listeners.
type TCPTransport struct {
	address  string
	listener net.Listener
	handler  Handler
	logger   *slog.Logger

	mu    sync.Mutex
	pool  map[string]net.Conn
	nextID uint64

	pending   sync.Map // requestID -> chan []byte
	stopOnce  sync.Once
	closeCh   chan struct{}
}

func NewTCPTransport(address string, logger *slog.Logger) *TCPTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &TCPTransport{
		address: address,
		logger:  logger,
		pool:    make(map[string]net.Conn),
		closeCh: make(chan struct{}),
	}
}

func (t *TCPTransport) OnMessage(h Handler) { t.handler = h }

func (t *TCPTransport) LocalAddress() string { return t.address }

func (t *TCPTransport) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", t.address)
	if err != nil {
		return fmt.Errorf("transport: listen %s: %w", t.address, err)
	}
	t.listener = ln
	go t.acceptLoop(ctx)
	return nil
}

func (t *TCPTransport) Stop() error {
	t.stopOnce.Do(func() { close(t.closeCh) })
	if t.listener != nil {
		_ = t.listener.Close()
	}
	t.mu.Lock()
	for _, c := range t.pool {
		_ = c.Close()
	}
	t.pool = make(map[string]net.Conn)
	t.mu.Unlock()
	return nil
}

func (t *TCPTransport) acceptLoop(ctx context.Context) {
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			select {
			case <-t.closeCh:
				return
			default:
			}
			t.logger.Warn("transport: accept failed", "error", err)
			return
		}
		go t.serveConn(ctx, conn)
	}
}

func (t *TCPTransport) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	for {
		reqID, kind, payload, err := readFrame(conn)
		if err != nil {
			return
		}
		switch kind {
		case frameResponse:
			if ch, ok := t.pending.LoadAndDelete(reqID); ok {
				ch.(chan []byte) <- payload
			}
		case frameRequest, frameOneway:
			if t.handler == nil {
				continue
			}
			resp, err := t.handler(ctx, Envelope{From: conn.RemoteAddr().String(), Payload: payload})
			if err != nil || kind == frameOneway {
				continue
			}
			if werr := writeFrame(conn, reqID, frameResponse, resp); werr != nil {
				t.logger.Warn("transport: write response failed", "error", werr)
				return
			}
		}
	}
}

func (t *TCPTransport) dial(addr string) (net.Conn, error) {
	t.mu.Lock()
	if c, ok := t.pool[addr]; ok {
		t.mu.Unlock()
		return c, nil
	}
	t.mu.Unlock()

	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}
	t.mu.Lock()
	t.pool[addr] = conn
	t.mu.Unlock()
	go t.readResponses(conn)
	return conn, nil
}

func (t *TCPTransport) readResponses(conn net.Conn) {
	for {
		reqID, kind, payload, err := readFrame(conn)
		if err != nil {
			return
		}
		if kind == frameResponse {
			if ch, ok := t.pending.LoadAndDelete(reqID); ok {
				ch.(chan []byte) <- payload
			}
		}
	}
}

func (t *TCPTransport) Send(ctx context.Context, addr string, payload []byte) error {
	conn, err := t.dial(addr)
	if err != nil {
		return err
	}
	return writeFrame(conn, t.newRequestID(), frameOneway, payload)
}

func (t *TCPTransport) SendAndReceive(ctx context.Context, addr string, payload []byte) ([]byte, error) {
	conn, err := t.dial(addr)
	if err != nil {
		return nil, err
	}
	reqID := t.newRequestID()
	ch := make(chan []byte, 1)
	t.pending.Store(reqID, ch)
	defer t.pending.Delete(reqID)

	if err := writeFrame(conn, reqID, frameRequest, payload); err != nil {
		return nil, fmt.Errorf("transport: send: %w", err)
	}
	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		return nil, ErrTimeout
	}
}

func (t *TCPTransport) newRequestID() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	return t.nextID
}

func writeFrame(w io.Writer, reqID uint64, kind frameKind, payload []byte) error {
	header := make([]byte, 13)
	binary.BigEndian.PutUint32(header[0:4], uint32(9+len(payload)))
	binary.BigEndian.PutUint64(header[4:12], reqID)
	header[12] = byte(kind)
	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

func readFrame(r io.Reader) (reqID uint64, kind frameKind, payload []byte, err error) {
	var lenBuf [4]byte
	if _, err = io.ReadFull(r, lenBuf[:]); err != nil {
		return
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length < 9 || length > maxFrameSize {
		err = fmt.Errorf("transport: invalid frame length %d", length)
		return
	}
	body := make([]byte, length)
	if _, err = io.ReadFull(r, body); err != nil {
		return
	}
	reqID = binary.BigEndian.Uint64(body[0:8])
	kind = frameKind(body[8])
	payload = body[9:]
	return
}
