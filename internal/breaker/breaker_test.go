package breaker

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestManagerTripsAfterConsecutiveFailures(t *testing.T) {
	m := NewManager()
	boom := errors.New("boom")

	for i := 0; i < 3; i++ {
		_, err := m.Execute("flaky", func() (any, error) { return nil, boom })
		assert.Error(t, err)
	}

	_, err := m.Execute("flaky", func() (any, error) { return "ok", nil })
	assert.Error(t, err) // breaker is open, request short-circuited
}

func TestManagerPassesThroughOnSuccess(t *testing.T) {
	m := NewManager()
	v, err := m.Execute("healthy", func() (any, error) { return "ok", nil })
	assert.NoError(t, err)
	assert.Equal(t, "ok", v)
}
