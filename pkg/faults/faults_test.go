package faults

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	require.Equal(t, Transient, Classify(Transientf("throttled")))
	require.Equal(t, Permanent, Classify(Permanentf("bad ami")))
	require.Equal(t, Unknown, Classify(errors.New("plain")))
	require.Equal(t, Unknown, Classify(nil))
}

func TestClassSurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("provision: %w", Permanentf("quota exceeded"))
	require.True(t, IsPermanent(err))
	require.Equal(t, Permanent, Classify(fmt.Errorf("outer: %w", err)))
}

func TestMark(t *testing.T) {
	require.Nil(t, Mark(nil, Permanent))

	base := errors.New("dial tcp: reset")
	marked := Mark(base, Transient)
	require.Equal(t, Transient, Classify(marked))
	require.ErrorIs(t, marked, base)
}

func TestErrorStringCarriesClass(t *testing.T) {
	require.Contains(t, Permanentf("bad ami").Error(), "permanent")
	require.Contains(t, Transientf("throttled").Error(), "transient")
}
