package memos

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitwit/chai/contract"
	"github.com/vitwit/chai/internal/chaintest"
	"github.com/vitwit/chai/session"
	"github.com/vitwit/chai/types"
)

type fixture struct {
	backend *chaintest.Backend
	agent   *chaintest.Agent
	session *session.Session
	binder  *contract.Binder
	store   *Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		backend: chaintest.NewBackend(),
		agent:   chaintest.NewAgent(2),
	}
	f.session = session.New(f.agent)

	var err error
	f.binder, err = contract.NewBinder(f.backend, chaintest.ContractAddress)
	require.NoError(t, err)

	f.store = NewStore(f.binder, f.session)
	return f
}

func (f *fixture) connect(t *testing.T) {
	t.Helper()
	require.NoError(t, f.session.Connect(context.Background()))
	signer, _ := f.session.Signer()
	_, err := f.binder.Bind(signer)
	require.NoError(t, err)
}

func TestRefreshRequiresBinding(t *testing.T) {
	f := newFixture(t)

	err := f.store.Refresh(context.Background())
	assert.True(t, types.IsCode(err, types.ErrContractUnbound))
	assert.Equal(t, 0, f.backend.ListCalls())
	assert.False(t, f.store.Loaded())
}

func TestRefreshReplacesWholesale(t *testing.T) {
	f := newFixture(t)
	f.connect(t)

	f.backend.Seed(f.agent.Address(1), "Alice", "Thanks!")
	require.NoError(t, f.store.Refresh(context.Background()))
	require.Len(t, f.store.Memos(), 1)
	assert.True(t, f.store.Loaded())

	f.backend.Seed(f.agent.Address(1), "Bob", "Nice")
	require.NoError(t, f.store.Refresh(context.Background()))

	memos := f.store.Memos()
	require.Len(t, memos, 2)
	assert.Equal(t, "Alice", memos[0].Name)
	assert.Equal(t, "Bob", memos[1].Name)
}

func TestRefreshEmptyLedger(t *testing.T) {
	f := newFixture(t)
	f.connect(t)

	require.NoError(t, f.store.Refresh(context.Background()))
	assert.Empty(t, f.store.Memos())
	assert.True(t, f.store.Loaded())
}

func TestRefreshErrorKeepsCache(t *testing.T) {
	f := newFixture(t)
	f.connect(t)

	f.backend.Seed(f.agent.Address(1), "Alice", "Thanks!")
	require.NoError(t, f.store.Refresh(context.Background()))
	before := f.store.Memos()

	f.backend.Seed(f.agent.Address(1), "Bob", "Nice")
	f.backend.FailList(errors.New("rpc unavailable"))

	err := f.store.Refresh(context.Background())
	assert.True(t, types.IsCode(err, types.ErrFetch))
	assert.ErrorContains(t, err, "rpc unavailable")
	assert.Equal(t, before, f.store.Memos())
}

func TestMemosReturnsCopy(t *testing.T) {
	f := newFixture(t)
	f.connect(t)

	f.backend.Seed(f.agent.Address(1), "Alice", "Thanks!")
	require.NoError(t, f.store.Refresh(context.Background()))

	got := f.store.Memos()
	got[0].Name = "mutated"
	assert.Equal(t, "Alice", f.store.Memos()[0].Name)
}

func TestRefreshDiscardedAfterReload(t *testing.T) {
	f := newFixture(t)
	f.connect(t)
	f.backend.Seed(f.agent.Address(1), "Alice", "Thanks!")

	gate := f.backend.GateList()
	done := make(chan error, 1)
	go func() { done <- f.store.Refresh(context.Background()) }()

	require.Eventually(t, func() bool {
		return f.backend.ListCalls() == 1
	}, time.Second, time.Millisecond)

	f.session.Reload()
	f.store.Reset()
	close(gate)

	err := <-done
	assert.True(t, types.IsCode(err, types.ErrStaleResult))
	assert.Empty(t, f.store.Memos())
	assert.False(t, f.store.Loaded())
}

func TestResetSupersedesInFlightRefresh(t *testing.T) {
	f := newFixture(t)
	f.connect(t)
	f.backend.Seed(f.agent.Address(1), "Alice", "Thanks!")

	gate := f.backend.GateList()
	done := make(chan error, 1)
	go func() { done <- f.store.Refresh(context.Background()) }()

	require.Eventually(t, func() bool {
		return f.backend.ListCalls() == 1
	}, time.Second, time.Millisecond)

	f.store.Reset()
	close(gate)

	err := <-done
	assert.True(t, types.IsCode(err, types.ErrStaleResult))
	assert.Empty(t, f.store.Memos())
}

// lateContract ignores cancellation and answers only when released.
type lateContract struct {
	release chan struct{}
	list    types.MemoList
}

func (c *lateContract) ListMemos(context.Context) (types.MemoList, error) {
	<-c.release
	return c.list, nil
}

func (c *lateContract) SubmitMemo(context.Context, string, string, *big.Int) (contract.PendingTx, error) {
	return nil, errors.New("not supported")
}

func (c *lateContract) Address() common.Address { return chaintest.ContractAddress }
func (c *lateContract) From() common.Address    { return common.Address{} }

type staticBinding struct{ c contract.Contract }

func (b staticBinding) Current() contract.Contract { return b.c }

func TestLateResultFromPreviousGenerationIgnored(t *testing.T) {
	s := session.New(chaintest.NewAgent(1))
	late := &lateContract{
		release: make(chan struct{}),
		list:    types.MemoList{{Name: "old", Message: "from before reload"}},
	}
	store := NewStore(staticBinding{late}, s)

	done := make(chan error, 1)
	go func() { done <- store.Refresh(context.Background()) }()

	// let the refresh capture generation 0 before reloading
	require.Eventually(t, func() bool {
		store.mu.RLock()
		defer store.mu.RUnlock()
		return store.issued == 1
	}, time.Second, time.Millisecond)

	s.Reload()
	close(late.release)

	err := <-done
	assert.True(t, types.IsCode(err, types.ErrStaleResult))
	assert.Empty(t, store.Memos())
}
