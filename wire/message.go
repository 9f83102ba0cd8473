package wire

import (
	"bytes"
	"encoding/json"

	"github.com/sahilkv/acpbridge/errors"
)

// ErrorObject is a JSON-RPC 2.0 error object.
type ErrorObject struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// JSON-RPC error codes used by this implementation.
const (
	CodeParseError       = -32700
	CodeMethodNotFound   = -32601
	CodeInvalidParams    = -32602
	CodeInternalError    = -32603
	CodeConnectionClosed = -32000
)

// Message is one of Request, Response or Notification. Classification
// follows the id/method rule: an id without a method is a Response, an id
// with a method is a Request, a method without an id is a Notification.
type Message interface {
	message()
}

// Request is a call that expects a matching Response.
type Request struct {
	ID     json.RawMessage
	Method string
	Params json.RawMessage
}

// Response carries either a result or an error for a prior Request.
type Response struct {
	ID     json.RawMessage
	Result json.RawMessage
	Err    *ErrorObject
}

// Notification is a fire-and-forget call with no id.
type Notification struct {
	Method string
	Params json.RawMessage
}

func (Request) message()      {}
func (Response) message()     {}
func (Notification) message() {}

// envelope is the raw decoded wire shape before classification.
type envelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ErrorObject    `json:"error,omitempty"`
}

func hasID(id json.RawMessage) bool {
	return len(id) > 0 && !bytes.Equal(id, []byte("null"))
}

// Decode parses one framed line into a typed Message.
func Decode(line []byte) (Message, error) {
	var e envelope
	if err := json.Unmarshal(line, &e); err != nil {
		return nil, errors.Wrapf(err, "malformed message")
	}

	switch {
	case hasID(e.ID) && e.Method != "":
		return Request{ID: e.ID, Method: e.Method, Params: e.Params}, nil
	case hasID(e.ID):
		return Response{ID: e.ID, Result: e.Result, Err: e.Error}, nil
	case e.Method != "":
		return Notification{Method: e.Method, Params: e.Params}, nil
	default:
		return nil, errors.New("message has neither id nor method")
	}
}

// MarshalJSON emits the JSON-RPC 2.0 envelope for a Request.
func (r Request) MarshalJSON() ([]byte, error) {
	return json.Marshal(envelope{JSONRPC: "2.0", ID: r.ID, Method: r.Method, Params: r.Params})
}

// MarshalJSON emits the JSON-RPC 2.0 envelope for a Response. A Response
// with no error and no result serializes its result as null so the id is
// still answered.
func (r Response) MarshalJSON() ([]byte, error) {
	e := envelope{JSONRPC: "2.0", ID: r.ID, Result: r.Result, Error: r.Err}
	if e.Error == nil && len(e.Result) == 0 {
		e.Result = json.RawMessage("null")
	}
	return json.Marshal(e)
}

// MarshalJSON emits the JSON-RPC 2.0 envelope for a Notification.
func (n Notification) MarshalJSON() ([]byte, error) {
	return json.Marshal(envelope{JSONRPC: "2.0", Method: n.Method, Params: n.Params})
}
