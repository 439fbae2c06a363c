package circuitbreaker

import (
	"errors"
	"testing"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestBreaker_TripsAfterRepeatedFailures(t *testing.T) {
	var transitions []gobreaker.State
	cb := New("provider", zap.NewNop(), func(_ string, _, to gobreaker.State) {
		transitions = append(transitions, to)
	})

	boom := errors.New("boom")
	for i := 0; i < 3; i++ {
		_, err := cb.Execute(func() (interface{}, error) { return nil, boom })
		assert.ErrorIs(t, err, boom)
	}

	assert.Equal(t, gobreaker.StateOpen, cb.State())
	assert.Equal(t, []gobreaker.State{gobreaker.StateOpen}, transitions)

	_, err := cb.Execute(func() (interface{}, error) { return "ok", nil })
	assert.True(t, IsOpen(err))
}

func TestBreaker_StaysClosedOnMixedResults(t *testing.T) {
	cb := New("provider", nil)
	boom := errors.New("boom")

	_, _ = cb.Execute(func() (interface{}, error) { return nil, boom })
	_, _ = cb.Execute(func() (interface{}, error) { return "ok", nil })
	_, _ = cb.Execute(func() (interface{}, error) { return "ok", nil })

	assert.Equal(t, gobreaker.StateClosed, cb.State())
	assert.False(t, IsOpen(boom))
}
