// Package submission drives a memo submission from validation through
// confirmation and the refresh that follows it.
package submission

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/vitwit/chai/contract"
	"github.com/vitwit/chai/logger"
	"github.com/vitwit/chai/metrics"
	"github.com/vitwit/chai/types"
	"github.com/vitwit/chai/utils"
)

// Binding yields the contract handle for the current signer, or nil.
type Binding interface {
	Current() contract.Contract
}

// Generations tags operations with the session generation they started under.
type Generations interface {
	Scope(ctx context.Context) (context.Context, context.CancelFunc, uint64)
	IsCurrent(gen uint64) bool
	// Account is the authorized account, or nil while disconnected.
	Account() *common.Address
}

// Refresher reloads the memo ledger after a confirmed submission.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Transition is one state change of a submission attempt.
type Transition struct {
	Attempt string
	From    types.TxState
	To      types.TxState
	Err     error
}

// Observer is called for every transition, in order, with the coordinator
// locked. It must not call back into the coordinator.
type Observer func(Transition)

// Coordinator runs at most one submission at a time.
type Coordinator struct {
	binding   Binding
	gens      Generations
	refresher Refresher
	value     *big.Int
	timeout   time.Duration
	observer  Observer
	logger    logger.Logger
	metrics   metrics.Recorder

	mu      sync.Mutex
	state   types.TxState
	attempt string
	form    types.Form
	lastErr error
}

type Option func(*Coordinator)

// WithConfirmationTimeout bounds the wait for a receipt. Zero waits until
// the chain answers or the session reloads.
func WithConfirmationTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		c.timeout = d
	}
}

func WithObserver(fn Observer) Option {
	return func(c *Coordinator) {
		c.observer = fn
	}
}

func WithLogger(l logger.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger.Component(l, "submission")
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(c *Coordinator) {
		c.metrics = metrics.OrNoop(r)
	}
}

// NewCoordinator returns an idle coordinator paying value wei per memo.
func NewCoordinator(binding Binding, gens Generations, refresher Refresher, value *big.Int, opts ...Option) (*Coordinator, error) {
	if binding == nil || gens == nil || refresher == nil {
		return nil, fmt.Errorf("binding, generations and refresher are required")
	}
	if value == nil || value.Sign() <= 0 {
		return nil, fmt.Errorf("value must be positive")
	}

	c := &Coordinator{
		binding:   binding,
		gens:      gens,
		refresher: refresher,
		value:     new(big.Int).Set(value),
		logger:    logger.NoopLogger{},
		metrics:   metrics.NoopRecorder{},
		state:     types.TxIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Submit sends buyChai(name, message) with the configured value and waits
// for it to be mined. Every failure ends back in Idle with the form kept.
// A failed refresh after a confirmed transaction is not a submission
// failure: Submit returns nil and Err reports the fetch error.
func (c *Coordinator) Submit(ctx context.Context, name, message string) error {
	start := time.Now()

	c.mu.Lock()
	if c.state.InFlight() {
		c.mu.Unlock()
		return types.NewError(types.ErrSubmissionInFlight, "a submission is already in progress", nil)
	}

	opCtx, done, gen := c.gens.Scope(ctx)
	defer done()

	bound := c.binding.Current()
	if bound == nil {
		c.mu.Unlock()
		return types.NewError(types.ErrContractUnbound, "contract not bound", nil)
	}
	// the handle must belong to the account authorized in gen
	if account := c.gens.Account(); account == nil || *account != bound.From() || !c.gens.IsCurrent(gen) {
		c.mu.Unlock()
		return c.stale(c.logger.With(map[string]any{"generation": gen}))
	}

	attempt := uuid.NewString()
	log := c.logger.With(map[string]any{
		"attempt":    attempt,
		"generation": gen,
		"account":    bound.From().Hex(),
	})

	c.state = types.TxIdle
	c.attempt = attempt
	c.lastErr = nil
	c.form = types.Form{Name: name, Message: message}
	c.move(attempt, types.TxValidating, nil)

	input, err := utils.ValidateMemoInput(name, message)
	if err != nil {
		c.lastErr = err
		c.move(attempt, types.TxIdle, err)
		c.mu.Unlock()
		metrics.Track(c.metrics, metrics.EventSubmit, start, metrics.OutcomeRejected)
		log.Debug("Submission rejected by validation", nil)
		return err
	}

	c.move(attempt, types.TxSubmitting, nil)
	c.mu.Unlock()

	log.Info("Submitting memo", map[string]any{"value": c.value.String()})

	pending, err := bound.SubmitMemo(opCtx, input.Name, input.Message, c.value)
	if err != nil {
		err = types.NewError(types.ErrSubmissionRejected, "transaction was not sent", err)
		if stale := c.fail(gen, attempt, err); stale != nil {
			return stale
		}
		metrics.Track(c.metrics, metrics.EventSubmit, start, metrics.OutcomeRejected)
		log.Warn("Submission rejected", map[string]any{"error": err.Error()})
		return err
	}

	log = log.With(map[string]any{"tx_hash": pending.Hash().Hex()})

	if !c.advance(gen, attempt, types.TxConfirming) {
		return c.stale(log)
	}

	if err := c.confirm(opCtx, pending); err != nil {
		err = types.NewError(types.ErrConfirmationFailed, "transaction failed", err)
		if stale := c.fail(gen, attempt, err); stale != nil {
			return stale
		}
		metrics.Track(c.metrics, metrics.EventSubmit, start, metrics.OutcomeError)
		log.Warn("Transaction confirmation failed", map[string]any{"error": err.Error()})
		return err
	}

	c.mu.Lock()
	if !c.gens.IsCurrent(gen) {
		c.mu.Unlock()
		return c.stale(log)
	}
	c.form = types.Form{}
	c.move(attempt, types.TxSucceeded, nil)
	c.mu.Unlock()

	metrics.Track(c.metrics, metrics.EventSubmit, start, metrics.OutcomeOK)
	fields := map[string]any{}
	if receipt := pending.Receipt(); receipt != nil {
		fields["block"] = receipt.BlockNumber.String()
		fields["gas_used"] = receipt.GasUsed
	}
	log.Info("Transaction confirmed", fields)

	refreshErr := c.refresher.Refresh(opCtx)

	c.mu.Lock()
	defer c.mu.Unlock()
	// a newer attempt may have started while refreshing
	if !c.gens.IsCurrent(gen) || c.attempt != attempt {
		return nil
	}
	if refreshErr != nil && !types.IsCode(refreshErr, types.ErrStaleResult) {
		c.lastErr = refreshErr
		log.Warn("Refresh after confirmation failed", map[string]any{"error": refreshErr.Error()})
	}
	c.move(attempt, types.TxIdle, nil)
	return nil
}

func (c *Coordinator) confirm(ctx context.Context, pending contract.PendingTx) error {
	start := time.Now()
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	err := pending.AwaitConfirmation(ctx)

	outcome := metrics.OutcomeOK
	if err != nil {
		outcome = metrics.OutcomeError
	}
	metrics.Track(c.metrics, metrics.EventConfirmation, start, outcome)

	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("no receipt within %s: %w", c.timeout, err)
	}
	return err
}

// advance moves to state if gen is still current.
func (c *Coordinator) advance(gen uint64, attempt string, state types.TxState) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.gens.IsCurrent(gen) {
		return false
	}
	c.move(attempt, state, nil)
	return true
}

// fail records err and passes through Failed back to Idle. It returns a
// STALE_RESULT error instead when gen is no longer current.
func (c *Coordinator) fail(gen uint64, attempt string, err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.gens.IsCurrent(gen) {
		return types.NewError(types.ErrStaleResult, "session reloaded during submission", err)
	}
	c.lastErr = err
	c.move(attempt, types.TxFailed, err)
	c.move(attempt, types.TxIdle, nil)
	return nil
}

func (c *Coordinator) stale(log logger.Logger) error {
	log.Warn("Discarding submission result from previous generation", nil)
	c.metrics.IncCounter(metrics.EventSubmit, map[string]string{"outcome": metrics.OutcomeStale})
	return types.NewError(types.ErrStaleResult, "session reloaded during submission", nil)
}

// move sets the state and notifies the observer. Callers hold c.mu.
func (c *Coordinator) move(attempt string, to types.TxState, err error) {
	from := c.state
	c.state = to
	if c.observer != nil {
		c.observer(Transition{Attempt: attempt, From: from, To: to, Err: err})
	}
}

// State returns the current phase.
func (c *Coordinator) State() types.TxState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Busy reports whether a submission is in flight.
func (c *Coordinator) Busy() bool {
	return c.State().InFlight()
}

// Form returns what the last attempt was submitted with. It is cleared on
// success and kept on failure.
func (c *Coordinator) Form() types.Form {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.form
}

// Err returns the failure surfaced by the last attempt, or nil.
func (c *Coordinator) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Value returns the amount paid per memo, in wei.
func (c *Coordinator) Value() *big.Int {
	return new(big.Int).Set(c.value)
}

// Reset returns to Idle with an empty form. Results of attempts started
// before the current generation are already ignored; Reset only clears
// what they left behind.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = types.TxIdle
	c.attempt = ""
	c.form = types.Form{}
	c.lastErr = nil
}
