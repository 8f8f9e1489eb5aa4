package index

import (
	"errors"
	"testing"

	"github.com/VividCortex/mysqlerr"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
)

func TestIsRetryableOnDeadlock(t *testing.T) {
	err := &mysql.MySQLError{Number: mysqlerr.ER_LOCK_DEADLOCK, Message: "deadlock"}
	assert.True(t, isRetryable(err))
}

func TestIsRetryableOnLockWaitTimeout(t *testing.T) {
	err := &mysql.MySQLError{Number: mysqlerr.ER_LOCK_WAIT_TIMEOUT, Message: "lock wait timeout"}
	assert.True(t, isRetryable(err))
}

func TestIsRetryableFalseForOtherErrors(t *testing.T) {
	assert.False(t, isRetryable(&mysql.MySQLError{Number: mysqlerr.ER_DUP_ENTRY}))
	assert.False(t, isRetryable(errors.New("boom")))
	assert.False(t, isRetryable(nil))
}

func TestIsDuplicateKey(t *testing.T) {
	assert.True(t, isDuplicateKey(&mysql.MySQLError{Number: mysqlerr.ER_DUP_ENTRY}))
	assert.False(t, isDuplicateKey(&mysql.MySQLError{Number: mysqlerr.ER_LOCK_DEADLOCK}))
	assert.False(t, isDuplicateKey(errors.New("boom")))
}

func TestWithRetryStopsOnNonRetryableError(t *testing.T) {
	calls := 0
	err := withRetry(4, func() error {
		calls++
		return errors.New("permanent")
	})

	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestWithRetryExhaustsAttemptsOnDeadlock(t *testing.T) {
	calls := 0
	err := withRetry(3, func() error {
		calls++
		return &mysql.MySQLError{Number: mysqlerr.ER_LOCK_DEADLOCK}
	})

	assert.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithRetrySucceedsAfterTransientFailure(t *testing.T) {
	calls := 0
	err := withRetry(4, func() error {
		calls++
		if calls < 2 {
			return &mysql.MySQLError{Number: mysqlerr.ER_LOCK_DEADLOCK}
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 2, calls)
}
