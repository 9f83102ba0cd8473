// Package acp implements the client side of the Agent Communication
// Protocol: it spawns an agent adapter subprocess, speaks newline-delimited
// JSON-RPC with it over stdio, drives the initialize/authenticate/session
// lifecycle, and serves the file, terminal and permission requests the
// adapter sends back.
package acp
