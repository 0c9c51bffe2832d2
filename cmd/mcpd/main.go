// Command mcpd runs the Model Context Protocol engine: a stateful
// JSON-RPC 2.0 server exposing tools, resources, and prompts to AI
// clients over a shared HTTP/WebSocket port.
package main

func main() {
	Execute(version)
}

// version is overridden at build time via -ldflags.
var version = "dev"
