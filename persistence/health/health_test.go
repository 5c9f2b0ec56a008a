package health

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFreshStateIsHealthy(t *testing.T) {
	s := NewState()
	require.True(t, s.IsHealthy())
	_, halted := s.IsTopicHalted("orders")
	require.False(t, halted)
}

func TestHaltFlipsHealthAndMarksTopic(t *testing.T) {
	s := NewState()
	cause := errors.New("auth failure")

	s.Halt("orders", cause)

	require.False(t, s.IsHealthy())
	err, halted := s.IsTopicHalted("orders")
	require.True(t, halted)
	require.Equal(t, cause, err)

	_, otherHalted := s.IsTopicHalted("payments")
	require.False(t, otherHalted)
}

func TestCheckFlagsReportsHaltedTopics(t *testing.T) {
	s := NewState()
	s.Halt("orders", errors.New("disk full"))

	flags := s.CheckFlags()
	require.False(t, flags.Healthy)
	require.Equal(t, "disk full", flags.HaltedTopics["orders"])
}
