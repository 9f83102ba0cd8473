// Package wire implements the transport layer of the Agent Communication
// Protocol: newline-delimited JSON framing over an arbitrary byte stream,
// typed JSON-RPC message classification, and request/response correlation.
//
// A Conn owns one duplex stream. Outbound requests are assigned monotonically
// increasing numeric ids and matched to inbound responses; inbound requests
// and notifications are dispatched by method name to registered handlers.
package wire
