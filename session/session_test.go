package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitwit/chai/clients"
	"github.com/vitwit/chai/internal/chaintest"
	"github.com/vitwit/chai/types"
)

func TestConnectWithoutAgent(t *testing.T) {
	s := New(nil)

	err := s.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrAgentUnavailable))
	assert.Equal(t, types.StatusUnavailable, s.Status())
	assert.Nil(t, s.Account())

	signer, _ := s.Signer()
	assert.Nil(t, signer)
}

func TestConnectAuthorizes(t *testing.T) {
	agent := chaintest.NewAgent(1)
	s := New(agent)

	require.NoError(t, s.Connect(context.Background()))
	assert.Equal(t, types.StatusConnected, s.Status())
	require.NotNil(t, s.Account())
	assert.Equal(t, agent.Address(0), *s.Account())

	signer, gen := s.Signer()
	require.NotNil(t, signer)
	assert.Equal(t, agent.Address(0), signer.From)
	assert.Equal(t, uint64(0), gen)
	assert.Equal(t, 1, agent.Listeners())
}

func TestConnectDenied(t *testing.T) {
	agent := chaintest.NewAgent(1)
	agent.Deny(clients.ErrUserRejected)
	s := New(agent)

	err := s.Connect(context.Background())
	assert.True(t, types.IsCode(err, types.ErrAuthorizationDenied))
	assert.ErrorIs(t, err, clients.ErrUserRejected)
	assert.Equal(t, types.StatusDisconnected, s.Status())
	assert.Nil(t, s.Account())

	// retry after the user changes their mind
	agent.Deny(nil)
	require.NoError(t, s.Connect(context.Background()))
	assert.Equal(t, types.StatusConnected, s.Status())
	assert.Equal(t, 2, agent.Requests())
}

func TestConnectAgentDisappears(t *testing.T) {
	agent := chaintest.NewAgent(1)
	agent.Deny(clients.ErrAgentNotFound)
	s := New(agent)

	err := s.Connect(context.Background())
	assert.True(t, types.IsCode(err, types.ErrAgentUnavailable))
	assert.Equal(t, types.StatusUnavailable, s.Status())
}

func TestConnectWhileConnectingIsSuppressed(t *testing.T) {
	agent := chaintest.NewAgent(1)
	gate := agent.GateRequests()
	s := New(agent)

	done := make(chan error, 1)
	go func() { done <- s.Connect(context.Background()) }()

	require.Eventually(t, func() bool {
		return s.Status() == types.StatusConnecting
	}, time.Second, time.Millisecond)

	err := s.Connect(context.Background())
	assert.True(t, types.IsCode(err, types.ErrConnectInFlight))

	close(gate)
	require.NoError(t, <-done)
	assert.Equal(t, 1, agent.Requests())
	assert.Equal(t, types.StatusConnected, s.Status())
}

func TestConnectWhenConnectedDoesNotPrompt(t *testing.T) {
	agent := chaintest.NewAgent(1)
	s := New(agent)

	require.NoError(t, s.Connect(context.Background()))
	require.NoError(t, s.Connect(context.Background()))
	assert.Equal(t, 1, agent.Requests())
}

func TestAccountChangeReloads(t *testing.T) {
	agent := chaintest.NewAgent(2)

	var reloads []uint64
	s := New(agent, OnReload(func(gen uint64) {
		reloads = append(reloads, gen)
	}))
	require.NoError(t, s.Connect(context.Background()))

	agent.SwitchAccount(1)

	assert.Equal(t, []uint64{1}, reloads)
	assert.Equal(t, uint64(1), s.Generation())
	assert.Equal(t, types.StatusDisconnected, s.Status())
	assert.Nil(t, s.Account())
	signer, _ := s.Signer()
	assert.Nil(t, signer)

	// reconnecting picks up the new account without registering twice
	require.NoError(t, s.Connect(context.Background()))
	assert.Equal(t, agent.Address(1), *s.Account())
	assert.Equal(t, 1, agent.Listeners())
}

func TestReloadDuringConnectDiscardsResult(t *testing.T) {
	agent := chaintest.NewAgent(1)
	gate := agent.GateRequests()
	s := New(agent)

	done := make(chan error, 1)
	go func() { done <- s.Connect(context.Background()) }()

	require.Eventually(t, func() bool {
		return s.Status() == types.StatusConnecting
	}, time.Second, time.Millisecond)

	s.Reload()
	close(gate)

	err := <-done
	assert.True(t, types.IsCode(err, types.ErrStaleResult))
	assert.Equal(t, types.StatusDisconnected, s.Status())
	assert.Nil(t, s.Account())
}

func TestScopeCancelledOnReload(t *testing.T) {
	s := New(chaintest.NewAgent(1))

	ctx, done, gen := s.Scope(context.Background())
	defer done()
	assert.True(t, s.IsCurrent(gen))
	assert.NoError(t, ctx.Err())

	s.Reload()

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("scope not cancelled by reload")
	}
	assert.False(t, s.IsCurrent(gen))

	next, nextDone, nextGen := s.Scope(context.Background())
	defer nextDone()
	assert.NoError(t, next.Err())
	assert.Equal(t, gen+1, nextGen)
}

func TestScopeFollowsParent(t *testing.T) {
	s := New(chaintest.NewAgent(1))

	parent, cancel := context.WithCancel(context.Background())
	ctx, done, _ := s.Scope(parent)
	defer done()

	cancel()
	assert.True(t, errors.Is(ctx.Err(), context.Canceled))
	assert.True(t, s.IsCurrent(0))
}
