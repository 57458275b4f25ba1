// Package session tracks the connection to the signing agent: the status,
// the authorized account, the signer handed to the contract binding and the
// generation that every in-flight operation is tagged with.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/vitwit/chai/clients"
	"github.com/vitwit/chai/logger"
	"github.com/vitwit/chai/metrics"
	"github.com/vitwit/chai/types"
)

// ReloadFunc runs after an account change has reset the session. gen is the
// generation the reset produced.
type ReloadFunc func(gen uint64)

// Session owns the connection to one signing agent. Only Connect and the
// account change listener mutate it.
type Session struct {
	agent   clients.Agent
	logger  logger.Logger
	metrics metrics.Recorder

	mu         sync.Mutex
	status     types.SessionStatus
	account    *common.Address
	signer     *bind.TransactOpts
	generation uint64
	scope      context.Context
	cancel     context.CancelFunc
	listening  bool
	hooks      []ReloadFunc
}

type Option func(*Session)

func WithLogger(l logger.Logger) Option {
	return func(s *Session) {
		s.logger = logger.Component(l, "session")
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(s *Session) {
		s.metrics = metrics.OrNoop(r)
	}
}

// OnReload registers fn to run after every account change reset.
func OnReload(fn ReloadFunc) Option {
	return func(s *Session) {
		s.hooks = append(s.hooks, fn)
	}
}

// New returns a disconnected session. A nil agent is allowed; Connect then
// reports the agent as unavailable.
func New(agent clients.Agent, opts ...Option) *Session {
	s := &Session{
		agent:   agent,
		logger:  logger.NoopLogger{},
		metrics: metrics.NoopRecorder{},
		status:  types.StatusDisconnected,
	}
	s.scope, s.cancel = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect asks the agent to authorize an account and obtains its signer.
// Exactly one prompt is shown per call; calls made while a prompt is
// outstanding fail with CONNECT_IN_FLIGHT. Connecting an already connected
// session is a no-op.
func (s *Session) Connect(ctx context.Context) error {
	start := time.Now()

	s.mu.Lock()
	if s.agent == nil {
		s.status = types.StatusUnavailable
		s.mu.Unlock()
		metrics.Track(s.metrics, metrics.EventConnect, start, metrics.OutcomeError)
		s.logger.Error("No signing agent available", nil)
		return types.NewError(types.ErrAgentUnavailable, "no signing agent available", clients.ErrAgentNotFound)
	}
	switch s.status {
	case types.StatusConnecting:
		s.mu.Unlock()
		return types.NewError(types.ErrConnectInFlight, "connection request already pending", nil)
	case types.StatusConnected:
		s.mu.Unlock()
		return nil
	}
	s.status = types.StatusConnecting
	s.mu.Unlock()

	opCtx, done, gen := s.Scope(ctx)
	defer done()

	log := s.logger.With(map[string]any{"generation": gen})
	log.Info("Requesting account authorization", nil)

	accounts, err := s.agent.RequestAccounts(opCtx)
	var signer *bind.TransactOpts
	if err == nil && len(accounts) > 0 {
		signer, err = s.agent.Signer(opCtx)
	}

	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		metrics.Track(s.metrics, metrics.EventConnect, start, metrics.OutcomeStale)
		log.Warn("Discarding connect result from previous generation", nil)
		return types.NewError(types.ErrStaleResult, "session reloaded while connecting", nil)
	}

	switch {
	case errors.Is(err, clients.ErrAgentNotFound):
		s.status = types.StatusUnavailable
		s.mu.Unlock()
		metrics.Track(s.metrics, metrics.EventConnect, start, metrics.OutcomeError)
		log.Error("Signing agent disappeared", map[string]any{"error": err.Error()})
		return types.NewError(types.ErrAgentUnavailable, "no signing agent available", err)
	case err != nil:
		s.status = types.StatusDisconnected
		s.mu.Unlock()
		metrics.Track(s.metrics, metrics.EventConnect, start, metrics.OutcomeRejected)
		log.Warn("Account authorization denied", map[string]any{"error": err.Error()})
		return types.NewError(types.ErrAuthorizationDenied, "account access denied", err)
	case len(accounts) == 0:
		s.status = types.StatusDisconnected
		s.mu.Unlock()
		metrics.Track(s.metrics, metrics.EventConnect, start, metrics.OutcomeRejected)
		log.Warn("Agent authorized no accounts", nil)
		return types.NewError(types.ErrAuthorizationDenied, "account access denied", clients.ErrNoAccounts)
	}

	account := accounts[0]
	s.account = &account
	s.signer = signer
	s.status = types.StatusConnected
	register := !s.listening
	s.listening = true
	s.mu.Unlock()

	if register {
		s.agent.OnAccountsChanged(s.accountsChanged)
	}

	metrics.Track(s.metrics, metrics.EventConnect, start, metrics.OutcomeOK)
	log.Info("Wallet connected", map[string]any{"account": account.Hex()})
	return nil
}

func (s *Session) accountsChanged(accounts []common.Address) {
	fields := map[string]any{"accounts": len(accounts)}
	if len(accounts) > 0 {
		fields["account"] = accounts[0].Hex()
	}
	s.logger.Info("Accounts changed", fields)
	s.Reload()
}

// Reload discards all session state: the generation advances, operations
// scoped to the previous generation are cancelled, the session returns to
// Disconnected and the reload hooks run with the new generation.
func (s *Session) Reload() uint64 {
	s.mu.Lock()
	s.generation++
	gen := s.generation
	s.cancel()
	s.scope, s.cancel = context.WithCancel(context.Background())
	if s.status != types.StatusUnavailable {
		s.status = types.StatusDisconnected
	}
	s.account = nil
	s.signer = nil
	hooks := append([]ReloadFunc{}, s.hooks...)
	s.mu.Unlock()

	s.metrics.IncCounter(metrics.EventReload, nil)
	s.logger.Info("Session reloaded", map[string]any{"generation": gen})

	for _, fn := range hooks {
		fn(gen)
	}
	return gen
}

// Scope derives a context from parent that is also cancelled when the
// generation changes. The returned generation tags results produced under it.
func (s *Session) Scope(parent context.Context) (context.Context, context.CancelFunc, uint64) {
	s.mu.Lock()
	scope := s.scope
	gen := s.generation
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(parent)
	stop := context.AfterFunc(scope, cancel)
	return ctx, func() {
		stop()
		cancel()
	}, gen
}

// IsCurrent reports whether gen is still the live generation.
func (s *Session) IsCurrent(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation == gen
}

func (s *Session) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

func (s *Session) Status() types.SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Account returns the authorized account, or nil.
func (s *Session) Account() *common.Address {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.account == nil {
		return nil
	}
	acc := *s.account
	return &acc
}

// Signer returns the signer of the authorized account together with the
// generation it belongs to. The signer is nil unless connected.
func (s *Session) Signer() (*bind.TransactOpts, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.signer, s.generation
}

// Close cancels everything scoped to the session.
func (s *Session) Close() {
	s.mu.Lock()
	s.cancel()
	s.mu.Unlock()
}
