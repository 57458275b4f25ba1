package submission

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitwit/chai/contract"
	"github.com/vitwit/chai/internal/chaintest"
	"github.com/vitwit/chai/logger"
	"github.com/vitwit/chai/memos"
	"github.com/vitwit/chai/session"
	"github.com/vitwit/chai/types"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var oneChai = big.NewInt(1e15)

type recorder struct {
	mu          sync.Mutex
	transitions []Transition
}

func (r *recorder) observe(tr Transition) {
	r.mu.Lock()
	r.transitions = append(r.transitions, tr)
	r.mu.Unlock()
}

func (r *recorder) states() []types.TxState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.TxState, 0, len(r.transitions))
	for _, tr := range r.transitions {
		out = append(out, tr.To)
	}
	return out
}

type fixture struct {
	backend *chaintest.Backend
	agent   *chaintest.Agent
	session *session.Session
	binder  *contract.Binder
	store   *memos.Store
	coord   *Coordinator
	rec     *recorder
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	f := &fixture{
		backend: chaintest.NewBackend(),
		agent:   chaintest.NewAgent(2),
		rec:     &recorder{},
	}
	f.session = session.New(f.agent)

	var err error
	f.binder, err = contract.NewBinder(f.backend, chaintest.ContractAddress,
		contract.WithPollInterval(5*time.Millisecond))
	require.NoError(t, err)

	f.store = memos.NewStore(f.binder, f.session)

	opts = append([]Option{WithObserver(f.rec.observe)}, opts...)
	f.coord, err = NewCoordinator(f.binder, f.session, f.store, oneChai, opts...)
	require.NoError(t, err)
	return f
}

func (f *fixture) connect(t *testing.T) {
	t.Helper()
	require.NoError(t, f.session.Connect(context.Background()))
	signer, _ := f.session.Signer()
	_, err := f.binder.Bind(signer)
	require.NoError(t, err)
	require.NoError(t, f.store.Refresh(context.Background()))
}

func TestNewCoordinatorValidatesArguments(t *testing.T) {
	f := newFixture(t)

	_, err := NewCoordinator(nil, f.session, f.store, oneChai)
	assert.Error(t, err)

	_, err = NewCoordinator(f.binder, f.session, f.store, big.NewInt(0))
	assert.Error(t, err)

	_, err = NewCoordinator(f.binder, f.session, f.store, nil)
	assert.Error(t, err)
}

func TestSubmitSucceeds(t *testing.T) {
	f := newFixture(t)
	f.connect(t)

	require.NoError(t, f.coord.Submit(context.Background(), "Carol", "Hello"))

	assert.Equal(t, []types.TxState{
		types.TxValidating,
		types.TxSubmitting,
		types.TxConfirming,
		types.TxSucceeded,
		types.TxIdle,
	}, f.rec.states())

	assert.True(t, f.coord.Form().IsZero())
	assert.NoError(t, f.coord.Err())
	assert.Equal(t, types.TxIdle, f.coord.State())

	list := f.store.Memos()
	require.Len(t, list, 1)
	assert.Equal(t, "Carol", list[0].Name)
	assert.Equal(t, f.agent.Address(0), list[0].From)

	sent := f.backend.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, oneChai, sent[0].Value())
}

func TestSubmitTrimsInput(t *testing.T) {
	f := newFixture(t)
	f.connect(t)

	require.NoError(t, f.coord.Submit(context.Background(), "  Carol ", "\tHello\n"))

	list := f.store.Memos()
	require.Len(t, list, 1)
	assert.Equal(t, "Carol", list[0].Name)
	assert.Equal(t, "Hello", list[0].Message)
}

func TestSubmitValidationError(t *testing.T) {
	f := newFixture(t)
	f.connect(t)

	err := f.coord.Submit(context.Background(), "Bob", "   ")
	assert.True(t, types.IsCode(err, types.ErrValidation))

	assert.Equal(t, []types.TxState{types.TxValidating, types.TxIdle}, f.rec.states())
	assert.Equal(t, 0, f.backend.SendCalls())
	assert.Equal(t, types.Form{Name: "Bob", Message: "   "}, f.coord.Form())
	assert.Equal(t, err, f.coord.Err())
}

func TestSubmitRejectedByAgent(t *testing.T) {
	f := newFixture(t)
	f.agent.RejectSigning(true)
	f.connect(t)

	err := f.coord.Submit(context.Background(), "Dan", "Hi")
	assert.True(t, types.IsCode(err, types.ErrSubmissionRejected))

	assert.Equal(t, []types.TxState{
		types.TxValidating,
		types.TxSubmitting,
		types.TxFailed,
		types.TxIdle,
	}, f.rec.states())
	assert.Equal(t, types.Form{Name: "Dan", Message: "Hi"}, f.coord.Form())
	assert.Empty(t, f.store.Memos())
	assert.Equal(t, 0, f.backend.SendCalls())

	// the user may retry once the agent approves
	f.agent.RejectSigning(false)
	f.session.Reload()
	f.connect(t)
	require.NoError(t, f.coord.Submit(context.Background(), "Dan", "Hi"))
	assert.Len(t, f.store.Memos(), 1)
}

func TestSubmitSendFailure(t *testing.T) {
	f := newFixture(t)
	f.connect(t)
	f.backend.FailSend(errors.New("insufficient funds for gas * price + value"))

	err := f.coord.Submit(context.Background(), "Dan", "Hi")
	assert.True(t, types.IsCode(err, types.ErrSubmissionRejected))
	assert.ErrorContains(t, err, "insufficient funds")
	assert.Equal(t, types.TxIdle, f.coord.State())
}

func TestSubmitReverted(t *testing.T) {
	f := newFixture(t)
	f.connect(t)
	listCalls := f.backend.ListCalls()
	f.backend.RevertNext()

	err := f.coord.Submit(context.Background(), "Eve", "Hey")
	assert.True(t, types.IsCode(err, types.ErrConfirmationFailed))
	assert.ErrorIs(t, err, contract.ErrReverted)

	assert.Equal(t, []types.TxState{
		types.TxValidating,
		types.TxSubmitting,
		types.TxConfirming,
		types.TxFailed,
		types.TxIdle,
	}, f.rec.states())
	assert.Equal(t, types.Form{Name: "Eve", Message: "Hey"}, f.coord.Form())
	assert.Equal(t, listCalls, f.backend.ListCalls())
}

func TestSubmitConfirmationTimeout(t *testing.T) {
	f := newFixture(t, WithConfirmationTimeout(20*time.Millisecond))
	f.connect(t)
	f.backend.HoldMining(true)

	err := f.coord.Submit(context.Background(), "Eve", "Hey")
	assert.True(t, types.IsCode(err, types.ErrConfirmationFailed))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, types.TxIdle, f.coord.State())
}

func TestSubmitWhileInFlightRejected(t *testing.T) {
	f := newFixture(t)
	f.connect(t)
	f.backend.HoldMining(true)

	done := make(chan error, 1)
	go func() { done <- f.coord.Submit(context.Background(), "Frank", "First") }()

	require.Eventually(t, func() bool {
		return f.coord.State() == types.TxConfirming
	}, time.Second, time.Millisecond)
	assert.True(t, f.coord.Busy())

	err := f.coord.Submit(context.Background(), "Frank", "Second")
	assert.True(t, types.IsCode(err, types.ErrSubmissionInFlight))
	assert.Equal(t, 1, f.backend.SendCalls())

	f.backend.Mine()
	require.NoError(t, <-done)
	assert.False(t, f.coord.Busy())

	list := f.store.Memos()
	require.Len(t, list, 1)
	assert.Equal(t, "First", list[0].Message)
}

func TestSubmitUnbound(t *testing.T) {
	f := newFixture(t)

	err := f.coord.Submit(context.Background(), "Gina", "Hi")
	assert.True(t, types.IsCode(err, types.ErrContractUnbound))
	assert.Empty(t, f.rec.states())
	assert.True(t, f.coord.Form().IsZero())
}

func TestSubmitRefreshFailureAfterSuccess(t *testing.T) {
	f := newFixture(t)
	f.connect(t)
	f.backend.FailList(errors.New("rpc timeout"))

	require.NoError(t, f.coord.Submit(context.Background(), "Hank", "Hi"))

	assert.True(t, types.IsCode(f.coord.Err(), types.ErrFetch))
	assert.True(t, f.coord.Form().IsZero())
	assert.Equal(t, types.TxIdle, f.coord.State())
	assert.Empty(t, f.store.Memos())
	assert.Equal(t, 1, f.backend.MemoCount())
}

func TestSubmitDiscardedAfterReload(t *testing.T) {
	f := newFixture(t)
	f.connect(t)
	f.backend.HoldMining(true)

	done := make(chan error, 1)
	go func() { done <- f.coord.Submit(context.Background(), "Ivy", "Hi") }()

	require.Eventually(t, func() bool {
		return f.coord.State() == types.TxConfirming
	}, time.Second, time.Millisecond)

	f.session.Reload()
	f.binder.Unbind()
	f.store.Reset()
	f.coord.Reset()
	before := len(f.rec.states())

	f.backend.Mine()

	err := <-done
	assert.True(t, types.IsCode(err, types.ErrStaleResult))
	assert.Equal(t, before, len(f.rec.states()))
	assert.Equal(t, types.TxIdle, f.coord.State())
	assert.True(t, f.coord.Form().IsZero())
	assert.Empty(t, f.store.Memos())
}

// reloadingBinding reloads the session and drops the bound handle while
// handing out the old one.
type reloadingBinding struct {
	f *fixture
}

func (b reloadingBinding) Current() contract.Contract {
	old := b.f.binder.Current()
	b.f.session.Reload()
	b.f.binder.Unbind()
	return old
}

func TestSubmitReloadWhileTakingHandle(t *testing.T) {
	f := newFixture(t)
	f.connect(t)

	coord, err := NewCoordinator(reloadingBinding{f: f}, f.session, f.store, oneChai, WithObserver(f.rec.observe))
	require.NoError(t, err)

	err = coord.Submit(context.Background(), "Jack", "Hi")
	assert.True(t, types.IsCode(err, types.ErrStaleResult))
	assert.Equal(t, 0, f.backend.SendCalls())
	assert.Empty(t, f.rec.states())
	assert.Equal(t, types.TxIdle, coord.State())
}

func TestSubmitRejectsHandleOfPreviousAccount(t *testing.T) {
	f := newFixture(t)
	f.connect(t)

	// the handle is still bound while the session already moved on
	f.session.Reload()

	err := f.coord.Submit(context.Background(), "Kate", "Hi")
	assert.True(t, types.IsCode(err, types.ErrStaleResult))
	assert.Equal(t, 0, f.backend.SendCalls())
	assert.Empty(t, f.rec.states())
	assert.True(t, f.coord.Form().IsZero())
}

func TestSubmitLogsReceipt(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	f := newFixture(t, WithLogger(logger.NewFromZap(zap.New(core))))
	f.connect(t)

	require.NoError(t, f.coord.Submit(context.Background(), "Liam", "Hi"))

	confirmed := logs.FilterMessage("Transaction confirmed").All()
	require.Len(t, confirmed, 1)
	fields := confirmed[0].ContextMap()
	assert.Equal(t, "1", fields["block"])
	assert.NotZero(t, fields["gas_used"])
}
