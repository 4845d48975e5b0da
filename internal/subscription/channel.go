package subscription

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gorilla/websocket"
)

const (
	websocketReadLimitBytes = 16 << 20
	websocketWriteTimeout   = 5 * time.Second
	handshakeTimeout        = 10 * time.Second
	unsubscribeAckTimeout   = 10 * time.Second
)

// Config selects the pubsub endpoint and the push encoding parameters.
type Config struct {
	Endpoint   string
	Commitment rpc.CommitmentType
}

// Update is one pushed account snapshot. Data is nil when the account was closed.
type Update struct {
	Slot uint64
	Data []byte
}

type Handler func(Update)

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type rpcMessage struct {
	ID     *uint64          `json:"id"`
	Result json.RawMessage  `json:"result"`
	Error  *rpcError        `json:"error"`
	Method string           `json:"method"`
	Params *notificationEnv `json:"params"`
}

type notificationEnv struct {
	Subscription uint64          `json:"subscription"`
	Result       json.RawMessage `json:"result"`
}

type accountNotification struct {
	Context struct {
		Slot uint64 `json:"slot"`
	} `json:"context"`
	Value *rpc.Account `json:"value"`
}

// Channel is one accountSubscribe stream on its own connection, read by its own goroutine.
type Channel struct {
	address        solana.PublicKey
	conn           *websocket.Conn
	subscriptionID uint64
	logger         *slog.Logger

	writeMu sync.Mutex
	nextID  atomic.Uint64
	acks    chan rpcMessage
	closing atomic.Bool
	done    chan struct{}
	err     error
}

// Open dials the endpoint, registers the account subscription and starts the read loop.
func Open(ctx context.Context, cfg Config, address solana.PublicKey, handler Handler, logger *slog.Logger) (*Channel, error) {
	conn, _, err := dialWebsocket(ctx, cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.Endpoint, err)
	}

	c := &Channel{
		address: address,
		conn:    conn,
		logger:  logger,
		acks:    make(chan rpcMessage, 1),
		done:    make(chan struct{}),
	}

	subscriptionID, err := c.subscribe(ctx, cfg)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	c.subscriptionID = subscriptionID

	go c.readLoop(handler)
	return c, nil
}

func (c *Channel) subscribe(ctx context.Context, cfg Config) (uint64, error) {
	stopClose := closeConnOnContextDone(ctx, c.conn)
	defer stopClose()

	options := map[string]any{"encoding": solana.EncodingBase64}
	if cfg.Commitment != "" {
		options["commitment"] = cfg.Commitment
	}
	requestID := c.nextID.Add(1)
	if err := c.write(rpcRequest{
		JSONRPC: "2.0",
		ID:      requestID,
		Method:  "accountSubscribe",
		Params:  []any{c.address.String(), options},
	}); err != nil {
		return 0, fmt.Errorf("send accountSubscribe: %w", err)
	}

	if err := c.conn.SetReadDeadline(time.Now().Add(handshakeTimeout)); err != nil {
		return 0, err
	}
	defer c.conn.SetReadDeadline(time.Time{})

	for {
		var msg rpcMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			return 0, fmt.Errorf("read accountSubscribe response: %w", err)
		}
		if msg.ID == nil || *msg.ID != requestID {
			continue
		}
		if msg.Error != nil {
			return 0, fmt.Errorf("accountSubscribe %s: %w", c.address, msg.Error)
		}
		var subscriptionID uint64
		if err := json.Unmarshal(msg.Result, &subscriptionID); err != nil {
			return 0, fmt.Errorf("decode subscription id: %w", err)
		}
		return subscriptionID, nil
	}
}

func (c *Channel) readLoop(handler Handler) {
	defer close(c.done)

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			if !c.closing.Load() {
				c.err = err
			}
			return
		}

		var msg rpcMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			c.logger.Warn("discarding malformed pubsub message", "address", c.address, "err", err)
			continue
		}

		switch {
		case msg.Method == "accountNotification" && msg.Params != nil:
			if msg.Params.Subscription != c.subscriptionID {
				continue
			}
			var note accountNotification
			if err := json.Unmarshal(msg.Params.Result, &note); err != nil {
				c.logger.Warn("discarding malformed account notification", "address", c.address, "err", err)
				continue
			}
			var data []byte
			if note.Value != nil {
				data = note.Value.Data.GetBinary()
			}
			handler(Update{Slot: note.Context.Slot, Data: data})
		case msg.ID != nil:
			select {
			case c.acks <- msg:
			default:
			}
		}
	}
}

// Close sends accountUnsubscribe, waits for the acknowledgement and closes the connection.
// A channel whose connection already dropped closes without error.
func (c *Channel) Close(ctx context.Context) error {
	select {
	case <-c.done:
		_ = c.conn.Close()
		return nil
	default:
	}

	requestID := c.nextID.Add(1)
	if err := c.write(rpcRequest{
		JSONRPC: "2.0",
		ID:      requestID,
		Method:  "accountUnsubscribe",
		Params:  []any{c.subscriptionID},
	}); err != nil {
		return fmt.Errorf("send accountUnsubscribe: %w", err)
	}

	timer := time.NewTimer(unsubscribeAckTimeout)
	defer timer.Stop()

	for acked := false; !acked; {
		select {
		case msg := <-c.acks:
			if msg.ID == nil || *msg.ID != requestID {
				continue
			}
			if msg.Error != nil {
				return fmt.Errorf("accountUnsubscribe %s: %w", c.address, msg.Error)
			}
			var ok bool
			if err := json.Unmarshal(msg.Result, &ok); err != nil {
				return fmt.Errorf("decode accountUnsubscribe result: %w", err)
			}
			if !ok {
				return fmt.Errorf("accountUnsubscribe %s rejected", c.address)
			}
			acked = true
		case <-c.done:
			// the server drops subscriptions with the connection
			acked = true
		case <-timer.C:
			return fmt.Errorf("accountUnsubscribe %s: no acknowledgement after %s", c.address, unsubscribeAckTimeout)
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	c.closing.Store(true)
	_ = c.conn.Close()
	<-c.done
	return nil
}

// Done is closed once the read loop exits.
func (c *Channel) Done() <-chan struct{} { return c.done }

// Err reports why the read loop exited. It is nil while running and after a deliberate Close.
func (c *Channel) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

func (c *Channel) write(value any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return writeWebsocketJSON(c.conn, value)
}

func dialWebsocket(ctx context.Context, endpoint string) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{
		Proxy:             http.ProxyFromEnvironment,
		HandshakeTimeout:  handshakeTimeout,
		EnableCompression: true,
	}

	conn, resp, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, resp, err
	}
	conn.SetReadLimit(websocketReadLimitBytes)
	return conn, resp, nil
}

func writeWebsocketJSON(conn *websocket.Conn, value any) error {
	if err := conn.SetWriteDeadline(time.Now().Add(websocketWriteTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(value)
}

func closeConnOnContextDone(ctx context.Context, conn *websocket.Conn) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()
	return func() {
		close(done)
	}
}
