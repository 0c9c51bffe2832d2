package mcp

// permittedMethods enumerates, per §4.3, which methods a session in a
// given state may invoke. Active permits the full catalogue and is
// handled in checkPhase itself.
var permittedMethods = map[InitStatus]map[string]bool{
	Uninitialized: {
		"initialize": true,
		"ping":       true,
	},
	AwaitingInitializedNotification: {
		"initialize":                  true,
		"ping":                        true,
		"notifications/initialized":   true,
	},
	Terminated: {},
}

// checkPhase enforces "no non-ping requests before initialization
// completes" and its siblings. Active sessions are always permitted
// (unknown methods are rejected by the router's dispatch table);
// Terminated sessions permit
// nothing.
func checkPhase(status InitStatus, method string) bool {
	if status == Active {
		return true
	}
	allowed, ok := permittedMethods[status]
	if !ok {
		return false
	}
	return allowed[method]
}

// applyInitialize performs the Uninitialized/Active → AwaitingInitializedNotification
// transition. Re-initialization from Active clears prior identity and
// capabilities but preserves the session key, per §4.3.
func applyInitialize(sess *Session, version ProtocolVersion, info ClientInfo, caps ClientCapabilities) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.status = AwaitingInitializedNotification
	sess.protocolVersion = version
	sess.clientInfo = info
	sess.capabilities = caps
}

// applyInitializedNotification performs the
// AwaitingInitializedNotification → Active transition.
func applyInitializedNotification(sess *Session) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.status == AwaitingInitializedNotification {
		sess.status = Active
	}
}

// applyTerminate performs Any → Terminated. The Socket Adapter calls it
// when a connection closes; DELETE and store eviction remove the
// session from the store without calling it.
func applyTerminate(sess *Session) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.status = Terminated
}

// negotiateVersion implements §4.3's negotiation rule: echo the
// client's requested version if supported, otherwise reply with the
// server's latest. The server never silently negotiates a version
// outside SupportedProtocolVersions.
func negotiateVersion(requested string) ProtocolVersion {
	if isSupportedVersion(requested) {
		return ProtocolVersion(requested)
	}
	return LatestProtocolVersion
}
