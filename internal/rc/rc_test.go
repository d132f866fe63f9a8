package rc

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCode_String(t *testing.T) {
	assert.Equal(t, "FAIL", FAIL.String())
	assert.Equal(t, "BUSY", BUSY.String())
	assert.Equal(t, "UNKNOWN", Code(0).String())
}

func TestError_Error(t *testing.T) {
	err := Error{Code: TIMEOUT}
	assert.Equal(t, "gx: TIMEOUT", err.Error())
	var target error = err
	assert.True(t, errors.As(target, &Error{}))
}

func TestCancelError(t *testing.T) {
	assert.True(t, IsCancel(CancelError{}))
	assert.False(t, IsCancel(Error{Code: FAIL}))
	assert.False(t, IsCancel(errors.New("boom")))
}

func TestSystemThreshold(t *testing.T) {
	assert.Less(t, int(FAIL), int(SystemThreshold()))
	assert.GreaterOrEqual(t, int(TIMEOUT), int(SystemThreshold()))
	assert.GreaterOrEqual(t, int(BUSY), int(SystemThreshold()))
}
