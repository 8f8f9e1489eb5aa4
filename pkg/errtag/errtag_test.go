package errtag

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTagRoundTrips(t *testing.T) {
	base := errors.New("dsn missing")
	err := Config(base)

	assert.True(t, IsConfig(err))
	assert.False(t, IsSchema(err))
	assert.ErrorIs(t, err, base)
}

func TestTagSurvivesFmtWrap(t *testing.T) {
	err := fmt.Errorf("loading extensions: %w", Detector(errors.New("unknown detector")))

	assert.True(t, IsDetector(err))
	assert.False(t, IsTransient(err))
}

func TestNilErrorStaysNil(t *testing.T) {
	assert.Nil(t, Schema(nil))
}

func TestDistinctCategoriesDontCrossMatch(t *testing.T) {
	err := Transient(errors.New("lock wait timeout"))

	assert.True(t, IsTransient(err))
	assert.False(t, IsFS(err))
	assert.False(t, IsTransfer(err))
	assert.False(t, IsInvariant(err))
}
