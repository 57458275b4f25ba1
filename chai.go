// Package chai is a client for the Buy Me a Chai memo contract. It connects
// to a signing agent, binds the contract to the authorized account, keeps
// the memo ledger cached and drives memo submissions through confirmation.
package chai

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/vitwit/chai/clients"
	"github.com/vitwit/chai/contract"
	"github.com/vitwit/chai/logger"
	"github.com/vitwit/chai/memos"
	"github.com/vitwit/chai/metrics"
	"github.com/vitwit/chai/session"
	"github.com/vitwit/chai/submission"
	"github.com/vitwit/chai/types"
	"github.com/vitwit/chai/utils"
)

// App holds all client state: one wallet session, the contract binding
// built on its signer, the memo cache and the submission coordinator.
type App struct {
	config  *types.Config
	value   *big.Int
	session *session.Session
	binder  *contract.Binder
	store   *memos.Store
	coord   *submission.Coordinator

	logger        logger.Logger
	metrics       metrics.Recorder
	timeout       time.Duration
	pollInterval  time.Duration
	observer      submission.Observer
	autoReconnect bool
	hasAgent      bool

	mu     sync.Mutex
	notice error
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires a client on top of backend. Pass a nil agent when the
// environment has none; Connect then reports AGENT_UNAVAILABLE.
func New(cfg *types.Config, backend contract.Backend, agent clients.Agent, opts ...Option) (*App, error) {
	if cfg == nil {
		cfg = types.DefaultConfig()
	}

	value, err := utils.ParseEther(cfg.Value)
	if err != nil {
		return nil, types.NewError(types.ErrConfig, "invalid value", err)
	}

	address, err := utils.ParseAddress(cfg.ContractAddress)
	if err != nil {
		return nil, types.NewError(types.ErrConfig, "invalid contract address", err)
	}

	a := &App{
		config:        cfg,
		value:         value,
		logger:        logger.NoopLogger{},
		metrics:       metrics.NoopRecorder{},
		timeout:       cfg.ConfirmationTimeout,
		pollInterval:  cfg.PollInterval,
		autoReconnect: true,
		hasAgent:      agent != nil,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.ctx, a.cancel = context.WithCancel(context.Background())

	a.session = session.New(agent,
		session.WithLogger(a.logger),
		session.WithMetrics(a.metrics),
		session.OnReload(a.reload),
	)

	a.binder, err = contract.NewBinder(backend, address,
		contract.WithPollInterval(a.pollInterval),
		contract.WithLogger(a.logger),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create contract binding: %w", err)
	}

	a.store = memos.NewStore(a.binder, a.session,
		memos.WithLogger(a.logger),
		memos.WithMetrics(a.metrics),
	)

	coordOpts := []submission.Option{
		submission.WithConfirmationTimeout(a.timeout),
		submission.WithLogger(a.logger),
		submission.WithMetrics(a.metrics),
	}
	if a.observer != nil {
		coordOpts = append(coordOpts, submission.WithObserver(a.observer))
	}
	a.coord, err = submission.NewCoordinator(a.binder, a.session, a.store, value, coordOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create submission coordinator: %w", err)
	}

	return a, nil
}

// Connect authorizes an account, binds the contract to its signer and
// loads the memo list. A failed load leaves the session connected and is
// returned as FETCH_ERROR.
func (a *App) Connect(ctx context.Context) error {
	if err := a.session.Connect(ctx); err != nil {
		if !types.IsCode(err, types.ErrConnectInFlight) && !types.IsCode(err, types.ErrStaleResult) {
			a.setNotice(err)
		}
		return err
	}

	if err := a.bind(); err != nil {
		return err
	}

	a.setNotice(nil)
	return a.Refresh(ctx)
}

// bind builds the contract handle for the session's signer. A reload
// clears the signer, so a nil signer means the session moved on since
// connecting.
func (a *App) bind() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	signer, _ := a.session.Signer()
	if signer == nil {
		return types.NewError(types.ErrStaleResult, "session reloaded before binding", nil)
	}
	if current := a.binder.Current(); current != nil && current.From() == signer.From {
		return nil
	}

	_, err := a.binder.Bind(signer)
	return err
}

// Refresh reloads the memo list. A successful load clears an earlier
// fetch failure notice.
func (a *App) Refresh(ctx context.Context) error {
	err := a.store.Refresh(ctx)
	switch {
	case err == nil:
		a.mu.Lock()
		if types.IsCode(a.notice, types.ErrFetch) {
			a.notice = nil
		}
		a.mu.Unlock()
	case !types.IsCode(err, types.ErrStaleResult):
		a.setNotice(err)
	}
	return err
}

// Submit sends a memo paying the configured value and waits for it to be
// mined. On success the form is cleared and the memo list refreshed.
func (a *App) Submit(ctx context.Context, name, message string) error {
	err := a.coord.Submit(ctx, name, message)
	switch {
	case err == nil:
		a.setNotice(a.coord.Err())
	case types.IsCode(err, types.ErrStaleResult), types.IsCode(err, types.ErrSubmissionInFlight):
	default:
		a.setNotice(err)
	}
	return err
}

// Snapshot returns the current read model for display.
func (a *App) Snapshot() types.Snapshot {
	a.mu.Lock()
	notice := a.notice
	a.mu.Unlock()

	account := a.session.Account()
	state := a.coord.State()
	bound := a.binder.Current() != nil

	snap := types.Snapshot{
		Generation:   a.session.Generation(),
		Status:       a.session.Status(),
		AccountLabel: types.AccountLabel(account),
		Bound:        bound,
		Memos:        a.store.Memos().Reversed(),
		TxState:      state,
		Busy:         state.InFlight(),
		CanSubmit:    bound && !state.InFlight(),
		Form:         a.coord.Form(),
		Notice:       Notice(notice),
		PriceETH:     utils.FormatEther(a.value),
	}
	if account != nil {
		snap.Account = account.Hex()
	}
	return snap
}

// PriceLabel is the caption of the send action.
func (a *App) PriceLabel() string {
	return fmt.Sprintf("Send 1 Chai (%s ETH)", utils.FormatEther(a.value))
}

// Value returns the amount paid per memo, in wei.
func (a *App) Value() *big.Int {
	return new(big.Int).Set(a.value)
}

// Session exposes the wallet session.
func (a *App) Session() *session.Session {
	return a.session
}

// Close stops background reconnects and cancels in-flight operations.
func (a *App) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	a.mu.Unlock()

	a.cancel()
	a.session.Close()
	a.wg.Wait()
}

// reload runs after an account change. Everything derived from the old
// account is dropped, then the pipeline restarts from Connect.
func (a *App) reload(gen uint64) {
	a.mu.Lock()
	a.binder.Unbind()
	a.store.Reset()
	a.coord.Reset()
	a.notice = nil
	reconnect := a.autoReconnect && a.hasAgent && !a.closed
	if reconnect {
		a.wg.Add(1)
	}
	a.mu.Unlock()

	a.logger.Info("Client state reset after account change", map[string]any{
		"generation": gen,
	})

	if !reconnect {
		return
	}

	go func() {
		defer a.wg.Done()
		if err := a.Connect(a.ctx); err != nil && !types.IsCode(err, types.ErrStaleResult) {
			a.logger.Warn("Reconnect after account change failed", map[string]any{
				"generation": gen,
				"error":      err.Error(),
			})
		}
	}()
}

func (a *App) setNotice(err error) {
	a.mu.Lock()
	a.notice = err
	a.mu.Unlock()
}

// Version information
const Version = "1.0.0"

// GetVersion returns version information
func GetVersion() map[string]interface{} {
	return map[string]interface{}{
		"library_version": Version,
		"contract":        types.DefaultContractAddress,
		"methods":         []string{contract.MethodGetMemos, contract.MethodBuyChai},
	}
}
