package transfer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextBackoffDoublesFromInitial(t *testing.T) {
	assert.Equal(t, 30*time.Second, nextBackoff(1))
	assert.Equal(t, 60*time.Second, nextBackoff(2))
	assert.Equal(t, 120*time.Second, nextBackoff(3))
}

func TestNextBackoffCapsAtMax(t *testing.T) {
	assert.Equal(t, time.Hour, nextBackoff(20))
}

func TestIdleTracksInFlightCount(t *testing.T) {
	node := "test-node-idle"
	assert.True(t, Idle(node))

	beginPull(node)
	assert.False(t, Idle(node))
	assert.Equal(t, 1, InFlightCount(node))

	beginPull(node)
	assert.Equal(t, 2, InFlightCount(node))

	endPull(node)
	assert.False(t, Idle(node))

	endPull(node)
	assert.True(t, Idle(node))
}

func TestResolveToolPrefersLocalCopyWhenSameHost(t *testing.T) {
	assert.Equal(t, "cp", resolveTool("10.0.0.1", true))
}

func TestResolveToolFallsBackToRsyncWithoutBbcp(t *testing.T) {
	t.Setenv("PATH", t.TempDir())
	assert.Equal(t, "rsync", resolveTool("10.0.0.1", false))
}
