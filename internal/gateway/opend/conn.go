package opend

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// frame is the envelope every gateway message travels in. Responses echo
// the request seq; push frames carry seq 0.
type frame struct {
	Seq   uint64             `msgpack:"seq"`
	Proto uint32             `msgpack:"proto"`
	Err   string             `msgpack:"err,omitempty"`
	Body  msgpack.RawMessage `msgpack:"body,omitempty"`
}

// Protocol numbers of the gateway surface this bridge uses.
const (
	protoKeepAlive    uint32 = 1004
	protoSubscribe    uint32 = 3001
	protoUnsubscribe  uint32 = 3002
	protoContractList uint32 = 3205
	protoHistoryBars  uint32 = 3103
	protoPlaceOrder   uint32 = 2202
	protoCancelOrder  uint32 = 2205
	protoAccounts     uint32 = 2001
	protoPositions    uint32 = 2102

	protoPushTick  uint32 = 3311
	protoPushOrder uint32 = 2218
	protoPushTrade uint32 = 2318
)

var errConnClosed = errors.New("opend: connection closed")

// conn multiplexes request/response pairs and push frames over one
// websocket connection to the gateway process.
type conn struct {
	url       string
	keepAlive time.Duration
	log       *zap.Logger

	mu      sync.Mutex
	ws      *websocket.Conn
	pending map[uint64]chan frame
	closed  bool

	seq    atomic.Uint64
	onPush atomic.Pointer[func(frame)]

	cancelLoops context.CancelFunc
	loopsDone   sync.WaitGroup
}

func dial(ctx context.Context, url string, keepAlive time.Duration, log *zap.Logger) (*conn, error) {
	ws, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("opend dial %s: %w", url, err)
	}
	// Bars and contract lists can exceed the library default read limit.
	ws.SetReadLimit(8 << 20)
	c := &conn{
		url:       url,
		keepAlive: keepAlive,
		log:       log,
		ws:        ws,
		pending:   make(map[uint64]chan frame),
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	c.cancelLoops = cancel
	c.loopsDone.Add(2)
	go c.readLoop(loopCtx)
	go c.pingLoop(loopCtx)
	return c, nil
}

// request sends one msgpack-framed call and blocks for the matching
// response or ctx expiry. resp may be nil for calls with no payload.
func (c *conn) request(ctx context.Context, proto uint32, req, resp interface{}) error {
	body, err := msgpack.Marshal(req)
	if err != nil {
		return err
	}
	seq := c.seq.Add(1)
	ch := make(chan frame, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errConnClosed
	}
	c.pending[seq] = ch
	ws := c.ws
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, seq)
		c.mu.Unlock()
	}()

	out, err := msgpack.Marshal(frame{Seq: seq, Proto: proto, Body: body})
	if err != nil {
		return err
	}
	if err := ws.Write(ctx, websocket.MessageBinary, out); err != nil {
		return fmt.Errorf("opend write proto %d: %w", proto, err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case f, ok := <-ch:
		if !ok {
			return errConnClosed
		}
		if f.Err != "" {
			return fmt.Errorf("opend proto %d: %s", proto, f.Err)
		}
		if resp == nil {
			return nil
		}
		return msgpack.Unmarshal(f.Body, resp)
	}
}

func (c *conn) setPush(fn func(frame)) {
	c.onPush.Store(&fn)
}

func (c *conn) readLoop(ctx context.Context) {
	defer c.loopsDone.Done()
	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			if ctx.Err() == nil && c.log != nil {
				status := websocket.CloseStatus(err)
				if status == websocket.StatusNormalClosure {
					c.log.Info("opend read loop ended", zap.Error(err))
				} else {
					c.log.Warn("opend read loop ended", zap.Error(err))
				}
			}
			c.failPending()
			return
		}
		var f frame
		if err := msgpack.Unmarshal(data, &f); err != nil {
			if c.log != nil {
				c.log.Warn("opend frame decode failed", zap.Error(err))
			}
			continue
		}
		if f.Seq == 0 {
			if fn := c.onPush.Load(); fn != nil {
				(*fn)(f)
			}
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[f.Seq]
		c.mu.Unlock()
		if ok {
			select {
			case ch <- f:
			default:
			}
		}
	}
}

func (c *conn) pingLoop(ctx context.Context) {
	defer c.loopsDone.Done()
	if c.keepAlive <= 0 {
		return
	}
	ticker := time.NewTicker(c.keepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := c.request(pingCtx, protoKeepAlive, keepAliveReq{Time: time.Now().Unix()}, nil)
			cancel()
			if err != nil && ctx.Err() == nil && c.log != nil {
				c.log.Warn("opend keepalive failed", zap.Error(err))
			}
		}
	}
}

// failPending unblocks every waiter after the transport dies so callers see
// a closed-connection error instead of hanging until their deadline.
func (c *conn) failPending() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for seq, ch := range c.pending {
		close(ch)
		delete(c.pending, seq)
	}
}

func (c *conn) probe(ctx context.Context) error {
	return c.request(ctx, protoKeepAlive, keepAliveReq{Time: time.Now().Unix()}, nil)
}

func (c *conn) close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	ws := c.ws
	c.mu.Unlock()

	c.cancelLoops()
	err := ws.Close(websocket.StatusNormalClosure, "bye")
	c.loopsDone.Wait()
	c.failPending()
	if err != nil && websocket.CloseStatus(err) == websocket.StatusNormalClosure {
		return nil
	}
	return err
}

type keepAliveReq struct {
	Time int64 `msgpack:"time"`
}
