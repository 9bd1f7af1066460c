// Maestro controller binary. `maestro start` runs the orchestrator in the
// foreground: it spawns the configured MCP servers, starts the worker pool,
// and turns queued user requests into verified tool invocations until it
// receives SIGTERM. stop, status, and restart manage a running instance
// through its pidfile.
package main

func main() {
	Execute()
}
