package mcp

import "fmt"

// SpawnError reports that a server process could not be started or its
// transport could not be created.
type SpawnError struct {
	Server string
	Err    error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("mcp server %q failed to spawn: %v", e.Server, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// HandshakeError reports that the initialize exchange with a spawned server
// failed or timed out.
type HandshakeError struct {
	Server string
	Err    error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("mcp server %q handshake failed: %v", e.Server, e.Err)
}

func (e *HandshakeError) Unwrap() error { return e.Err }

// RPCError reports a request the server rejected or failed at the protocol
// level. Tool carries the wire name of the call that failed, empty for
// tools/list.
type RPCError struct {
	Server string
	Tool   string
	Err    error
}

func (e *RPCError) Error() string {
	if e.Tool == "" {
		return fmt.Sprintf("mcp server %q rpc failed: %v", e.Server, e.Err)
	}
	return fmt.Sprintf("mcp server %q rpc failed for tool %q: %v", e.Server, e.Tool, e.Err)
}

func (e *RPCError) Unwrap() error { return e.Err }

// ServerDeadError is returned for calls against servers that are not in the
// ready state. In-flight waiters receive it when the transport drops; later
// callers receive it immediately until recovery brings the server back.
type ServerDeadError struct {
	Server string
	Status Status
	Err    error
}

func (e *ServerDeadError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("mcp server %q is %s", e.Server, e.Status)
	}
	return fmt.Sprintf("mcp server %q is %s: %v", e.Server, e.Status, e.Err)
}

func (e *ServerDeadError) Unwrap() error { return e.Err }
