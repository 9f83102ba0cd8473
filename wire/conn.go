package wire

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"strconv"
	"sync"

	"github.com/sahilkv/acpbridge/errors"
)

// RequestHandler serves one inbound request method. It returns a result
// value to marshal, or a protocol error to reply with instead.
type RequestHandler func(params json.RawMessage) (any, *ErrorObject)

// NotificationHandler consumes one inbound notification method.
type NotificationHandler func(params json.RawMessage)

// Reply is the completion value of an outbound request. Exactly one of
// Result or Err reflects the peer's answer; callers discriminate by shape.
type Reply struct {
	Result json.RawMessage
	Err    *ErrorObject
}

// RPCError is a peer-reported request failure surfaced by Conn.Call.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Conn correlates JSON-RPC traffic over one duplex byte stream. Outbound
// request ids start at 1, increase monotonically and are never reused.
type Conn struct {
	r *LineReader
	w *Writer

	mu      sync.Mutex
	nextID  int64
	pending map[int64]chan Reply

	requests      map[string]RequestHandler
	notifications map[string]NotificationHandler

	logf func(format string, args ...any)
}

// NewConn creates a Conn reading framed messages from r and writing to w.
func NewConn(r io.Reader, w io.Writer) *Conn {
	return &Conn{
		r:             NewLineReader(r),
		w:             NewWriter(w),
		pending:       make(map[int64]chan Reply),
		requests:      make(map[string]RequestHandler),
		notifications: make(map[string]NotificationHandler),
		logf:          log.Printf,
	}
}

// SetLogf redirects the connection's diagnostic output.
func (c *Conn) SetLogf(logf func(format string, args ...any)) {
	if logf != nil {
		c.logf = logf
	}
}

// HandleRequest registers the handler for an inbound request method.
// Handlers must be registered before Run starts.
func (c *Conn) HandleRequest(method string, h RequestHandler) {
	c.requests[method] = h
}

// HandleNotification registers the handler for an inbound notification
// method.
func (c *Conn) HandleNotification(method string, h NotificationHandler) {
	c.notifications[method] = h
}

// Send writes a request and returns a channel that yields exactly one
// Reply when the matching response arrives, or when the connection ends.
func (c *Conn) Send(method string, params any) (<-chan Reply, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.nextID++
	id := c.nextID
	ch := make(chan Reply, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	req := Request{ID: json.RawMessage(strconv.FormatInt(id, 10)), Method: method, Params: raw}
	if err := c.w.WriteJSON(req); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, errors.Wrapf(err, "failed to send request %s", method)
	}
	return ch, nil
}

// Call sends a request and blocks until the reply arrives. A peer error
// is returned as *RPCError. If result is non-nil the reply's result field
// is unmarshaled into it.
func (c *Conn) Call(ctx context.Context, method string, params, result any) error {
	ch, err := c.Send(method, params)
	if err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case reply := <-ch:
		if reply.Err != nil {
			return &RPCError{Code: reply.Err.Code, Message: reply.Err.Message}
		}
		if result != nil && len(reply.Result) > 0 {
			if err := json.Unmarshal(reply.Result, result); err != nil {
				return errors.Wrapf(err, "failed to decode %s result", method)
			}
		}
		return nil
	}
}

// Notify writes a fire-and-forget notification.
func (c *Conn) Notify(method string, params any) error {
	raw, err := marshalParams(params)
	if err != nil {
		return err
	}
	return c.w.WriteJSON(Notification{Method: method, Params: raw})
}

// Respond answers an inbound request by id.
func (c *Conn) Respond(id json.RawMessage, result any) error {
	raw, err := marshalParams(result)
	if err != nil {
		return err
	}
	return c.w.WriteJSON(Response{ID: id, Result: raw})
}

// RespondError answers an inbound request with a protocol error.
func (c *Conn) RespondError(id json.RawMessage, code int, message string) error {
	return c.w.WriteJSON(Response{ID: id, Err: &ErrorObject{Code: code, Message: message}})
}

// Run drives the read loop until the stream ends. A clean EOF returns nil;
// any outstanding outbound requests are failed with CodeConnectionClosed
// either way. Malformed lines are logged and skipped.
func (c *Conn) Run() error {
	defer c.abandonPending()
	for {
		line, err := c.r.ReadLine()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return errors.Wrapf(err, "read error")
		}

		msg, err := Decode(line)
		if err != nil {
			c.logf("wire: dropping malformed message: %v", err)
			continue
		}
		c.dispatch(msg)
	}
}

func (c *Conn) dispatch(msg Message) {
	switch m := msg.(type) {
	case Response:
		c.resolve(m)
	case Request:
		h, ok := c.requests[m.Method]
		if !ok {
			c.logf("wire: unhandled request method %q", m.Method)
			if err := c.RespondError(m.ID, CodeMethodNotFound, "Method not found"); err != nil {
				c.logf("wire: failed to reply to %q: %v", m.Method, err)
			}
			return
		}
		// Served off the read loop: handlers may block (terminal waits)
		// without stalling response correlation.
		go func() {
			result, errObj := h(m.Params)
			if errObj != nil {
				if err := c.RespondError(m.ID, errObj.Code, errObj.Message); err != nil {
					c.logf("wire: failed to reply to %q: %v", m.Method, err)
				}
				return
			}
			if err := c.Respond(m.ID, result); err != nil {
				c.logf("wire: failed to reply to %q: %v", m.Method, err)
			}
		}()
	case Notification:
		h, ok := c.notifications[m.Method]
		if !ok {
			c.logf("wire: dropping unhandled notification %q", m.Method)
			return
		}
		h(m.Params)
	}
}

// resolve completes at most one pending entry per response id. Late or
// duplicate ids are logged and ignored.
func (c *Conn) resolve(resp Response) {
	var id int64
	if err := json.Unmarshal(resp.ID, &id); err != nil {
		c.logf("wire: response with non-numeric id %s", string(resp.ID))
		return
	}

	c.mu.Lock()
	ch, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if !ok {
		c.logf("wire: response for unknown id %d", id)
		return
	}
	ch <- Reply{Result: resp.Result, Err: resp.Err}
}

// abandonPending fails every outstanding request once the connection is
// gone so no caller blocks past teardown.
func (c *Conn) abandonPending() {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[int64]chan Reply)
	c.mu.Unlock()

	for _, ch := range pending {
		ch <- Reply{Err: &ErrorObject{Code: CodeConnectionClosed, Message: "connection closed"}}
	}
}

func marshalParams(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to marshal params")
	}
	return data, nil
}
