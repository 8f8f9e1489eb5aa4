package daemon

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsSetQueueDepthAndObserveTick(t *testing.T) {
	m := NewMetrics()

	m.SetQueueDepth(3, 1, 2)
	m.ObserveTick(150 * time.Millisecond)

	families, err := m.registry.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
