package taskstore

import (
	"testing"

	"github.com/stretchr/testify/require"

	"wopa/internal/wire"
)

func TestCreateRejectsDuplicate(t *testing.T) {
	s := New(0)
	_, err := s.Create("message_analysis-1", wire.ServiceMessageAnalysis, nil, wire.StatusPending)
	require.NoError(t, err)
	_, err = s.Create("message_analysis-1", wire.ServiceMessageAnalysis, nil, wire.StatusPending)
	require.ErrorIs(t, err, ErrExists)
}

func TestTransitionLifecycle(t *testing.T) {
	s := New(0)
	id := "link_analysis-1"
	_, err := s.Create(id, wire.ServiceLinkAnalysis, nil, wire.StatusPending)
	require.NoError(t, err)

	require.NoError(t, s.Transition(id, wire.StatusPending, wire.StatusInProgress))
	require.NoError(t, s.SetResult(id, wire.Verdict{RiskLevel: wire.RiskLow, Confidence: 0.9, Reasons: map[string][]wire.Check{}}))

	task, err := s.Get(id)
	require.NoError(t, err)
	require.Equal(t, wire.StatusCompleted, task.Status)
	require.True(t, task.Status.Terminal())

	// No further transitions out of a terminal state.
	require.ErrorIs(t, s.Transition(id, wire.StatusCompleted, wire.StatusInProgress), ErrInvalidTransition)
	require.ErrorIs(t, s.SetError(id, "late"), ErrInvalidTransition)
}

func TestSetErrorRequiresNonTerminal(t *testing.T) {
	s := New(0)
	id := "file_static_analysis-1"
	_, err := s.Create(id, wire.ServiceFileStaticAnalysis, nil, wire.StatusPending)
	require.NoError(t, err)
	require.NoError(t, s.Transition(id, wire.StatusPending, wire.StatusInProgress))
	require.NoError(t, s.SetError(id, "boom"))

	task, err := s.Get(id)
	require.NoError(t, err)
	require.Equal(t, wire.StatusError, task.Status)
	require.Equal(t, "boom", task.Error)
}

func TestGetUnknownTask(t *testing.T) {
	s := New(0)
	_, err := s.Get("missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSoftCapEvictsOldestTerminalOnly(t *testing.T) {
	s := New(2)
	_, err := s.Create("a", wire.ServiceMessageAnalysis, nil, wire.StatusPending)
	require.NoError(t, err)
	require.NoError(t, s.Transition("a", wire.StatusPending, wire.StatusInProgress))
	require.NoError(t, s.SetError("a", "done"))

	_, err = s.Create("b", wire.ServiceMessageAnalysis, nil, wire.StatusPending)
	require.NoError(t, err)

	// Creating a third entry exceeds the soft cap of 2; "a" is terminal
	// and oldest, so it is evicted, "b" (still pending) survives.
	_, err = s.Create("c", wire.ServiceMessageAnalysis, nil, wire.StatusPending)
	require.NoError(t, err)

	_, err = s.Get("a")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = s.Get("b")
	require.NoError(t, err)
}

func TestListOrderedByCreation(t *testing.T) {
	s := New(0)
	_, err := s.Create("a", wire.ServiceMessageAnalysis, nil, wire.StatusPending)
	require.NoError(t, err)
	_, err = s.Create("b", wire.ServiceMessageAnalysis, nil, wire.StatusPending)
	require.NoError(t, err)

	list := s.List()
	require.Len(t, list, 2)
	require.Equal(t, "a", list[0].TaskID)
	require.Equal(t, "b", list[1].TaskID)
}
