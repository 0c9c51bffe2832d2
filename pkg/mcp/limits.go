package mcp

// notificationQueueDepth bounds the per-session outbound notification
// queue (§5 backpressure: never block the handler; a message that
// does not fit is dropped).
const notificationQueueDepth = 64

// maxMessageBytes is the default cap on an incoming JSON-RPC envelope.
// Oversize payloads fail with -32600 and the body is never parsed
// (§4.4).
const maxMessageBytes = 2 * 1024 * 1024
