package mcp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckPhase_UninitializedPermitsOnlyInitializeAndPing(t *testing.T) {
	assert.True(t, checkPhase(Uninitialized, "initialize"))
	assert.True(t, checkPhase(Uninitialized, "ping"))
	assert.False(t, checkPhase(Uninitialized, "tools/list"))
}

func TestCheckPhase_ActivePermitsEverything(t *testing.T) {
	assert.True(t, checkPhase(Active, "tools/call"))
	assert.True(t, checkPhase(Active, "anything"))
}

func TestCheckPhase_TerminatedPermitsNothing(t *testing.T) {
	assert.False(t, checkPhase(Terminated, "ping"))
	assert.False(t, checkPhase(Terminated, "initialize"))
}

func TestApplyInitialize_ClearsPriorIdentityOnReInitialize(t *testing.T) {
	store := NewSessionStore(10, time.Hour, time.Hour)
	defer store.Close()
	sess, err := store.GetOrCreate("", time.Now())
	require.NoError(t, err)

	applyInitialize(sess, ProtocolVersion20241105, ClientInfo{Name: "first"}, ClientCapabilities{})
	applyInitializedNotification(sess)
	require.Equal(t, Active, sess.Status())

	applyInitialize(sess, ProtocolVersion20250618, ClientInfo{Name: "second"}, ClientCapabilities{})
	assert.Equal(t, AwaitingInitializedNotification, sess.Status())
	assert.Equal(t, "second", sess.ClientInfo().Name)
	assert.Equal(t, ProtocolVersion20250618, sess.ProtocolVersion())
}

func TestApplyInitializedNotification_NoopWhenNotAwaiting(t *testing.T) {
	store := NewSessionStore(10, time.Hour, time.Hour)
	defer store.Close()
	sess, err := store.GetOrCreate("", time.Now())
	require.NoError(t, err)

	applyInitializedNotification(sess)
	assert.Equal(t, Uninitialized, sess.Status())
}

func TestNegotiateVersion(t *testing.T) {
	assert.Equal(t, ProtocolVersion20241105, negotiateVersion("2024-11-05"))
	assert.Equal(t, LatestProtocolVersion, negotiateVersion("not-a-real-version"))
	assert.Equal(t, LatestProtocolVersion, negotiateVersion(""))
}
