package probe

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

type failingDialer struct{ err error }

func (d failingDialer) Dial(ctx context.Context, addr string) (*ssh.Client, error) {
	return nil, d.err
}

func TestEmptyAddrIsNotYet(t *testing.T) {
	p := NewSSHProber(failingDialer{err: fmt.Errorf("unused")})
	require.Equal(t, NotYet, p.Probe(context.Background(), ""))
}

func TestDialFailureIsNotYet(t *testing.T) {
	p := NewSSHProber(failingDialer{err: fmt.Errorf("connection refused")})
	require.Equal(t, NotYet, p.Probe(context.Background(), "10.0.0.7"))
}

func TestDeadCallerContextIsError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := NewSSHProber(failingDialer{err: context.Canceled})
	require.Equal(t, Error, p.Probe(ctx, "10.0.0.7"))
}

func TestResultStrings(t *testing.T) {
	require.Equal(t, "ready", Ready.String())
	require.Equal(t, "not-yet", NotYet.String())
	require.Equal(t, "error", Error.String())
}
