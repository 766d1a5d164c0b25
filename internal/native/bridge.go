package native

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/postwing/postwing/internal/faults"
)

// DefaultRequestTimeout bounds a request/response round trip over the
// bridge.
const DefaultRequestTimeout = 10 * time.Second

// Handler receives inbound messages that are not responses to a pending
// request issued by this side of the bridge.
type Handler func(msg *Message)

// Bridge speaks the length-prefixed native-messaging protocol over a duplex
// stream. Either side of the channel can use it: outbound requests are
// correlated to inbound responses by requestId, and everything else is
// delivered to the installed handler.
type Bridge struct {
	r io.Reader
	w io.Writer

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan *Message

	handler Handler
	timeout time.Duration
	log     *zap.SugaredLogger
}

func NewBridge(r io.Reader, w io.Writer, log *zap.SugaredLogger) *Bridge {
	return &Bridge{
		r:       r,
		w:       w,
		pending: make(map[string]chan *Message),
		timeout: DefaultRequestTimeout,
		log:     log,
	}
}

// SetHandler installs the sink for inbound requests and pushes. Must be
// called before Serve.
func (b *Bridge) SetHandler(h Handler) {
	b.handler = h
}

// SetRequestTimeout overrides the round-trip bound, used in tests.
func (b *Bridge) SetRequestTimeout(d time.Duration) {
	b.timeout = d
}

// Notify writes a message without expecting a response.
func (b *Bridge) Notify(msg *Message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "marshal message")
	}
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	return WriteFrame(b.w, raw)
}

// Request sends a message and waits for the response carrying the same
// requestId. Assigns a fresh requestId when the message has none. The wait
// is bounded; a response arriving after the bound is dropped by the read
// loop.
func (b *Bridge) Request(ctx context.Context, msg *Message) (*Message, error) {
	if msg.RequestID == "" {
		msg.RequestID = uuid.New().String()
	}

	ch := make(chan *Message, 1)
	b.mu.Lock()
	b.pending[msg.RequestID] = ch
	b.mu.Unlock()

	if err := b.Notify(msg); err != nil {
		b.removePending(msg.RequestID)
		return nil, err
	}

	timer := time.NewTimer(b.timeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		return resp, nil
	case <-timer.C:
		b.removePending(msg.RequestID)
		return nil, errors.Wrapf(faults.ErrTimeout, "no response to %s request %s within %s", msg.Type, msg.RequestID, b.timeout)
	case <-ctx.Done():
		b.removePending(msg.RequestID)
		return nil, ctx.Err()
	}
}

// Serve reads frames until the stream closes. A clean close on a frame
// boundary returns nil. Messages that fail validation are answered with an
// error push and dropped; they never terminate the loop.
func (b *Bridge) Serve() error {
	for {
		body, err := ReadFrame(b.r)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return errors.Wrap(err, "read frame")
		}

		var msg Message
		if err := json.Unmarshal(body, &msg); err != nil {
			b.log.Warnw("dropping unparseable frame", "error", err)
			continue
		}
		if err := msg.Validate(time.Now()); err != nil {
			b.log.Warnw("dropping invalid message", "type", msg.Type, "request_id", msg.RequestID, "error", err)
			b.sendError(msg.RequestID, err)
			continue
		}

		if msg.RequestID != "" && b.resolvePending(&msg) {
			continue
		}
		if msg.RequestID != "" && isResponseType(msg.Type) {
			// a response whose waiter already timed out, or one correlated
			// to a request we never sent
			b.log.Debugw("dropping unmatched response", "type", msg.Type, "request_id", msg.RequestID)
			continue
		}
		if b.handler != nil {
			b.handler(&msg)
		}
	}
}

func isResponseType(t string) bool {
	switch t {
	case TypeJobStatus, TypeAccountsList, TypeAccountAdded, TypeAccountRemoved,
		TypeStatusReport, TypeHeartbeatAck, TypeError:
		return true
	}
	return false
}

func (b *Bridge) resolvePending(msg *Message) bool {
	b.mu.Lock()
	ch, ok := b.pending[msg.RequestID]
	if ok {
		delete(b.pending, msg.RequestID)
	}
	b.mu.Unlock()
	if ok {
		ch <- msg
	}
	return ok
}

func (b *Bridge) removePending(requestID string) {
	b.mu.Lock()
	delete(b.pending, requestID)
	b.mu.Unlock()
}

func (b *Bridge) sendError(requestID string, cause error) {
	msg, err := NewMessage(TypeError, requestID, ErrorPayload{
		Code:    faults.Code(cause),
		Message: cause.Error(),
	})
	if err != nil {
		return
	}
	if err := b.Notify(msg); err != nil {
		b.log.Warnw("error push not delivered", "error", err)
	}
}
