package clients

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"sync"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
	"github.com/vitwit/chai/logger"
)

var _ Agent = (*KeystoreAgent)(nil)

// PassphraseFunc asks the user to unlock account. Returning an error
// counts as the user declining.
type PassphraseFunc func(account accounts.Account) (string, error)

// ConfirmFunc asks the user to approve a transaction before it is signed.
type ConfirmFunc func(tx *ethtypes.Transaction) bool

// KeystoreAgent is a signing agent backed by a go-ethereum keystore directory.
// Authorizing an account means unlocking it with the user's passphrase.
type KeystoreAgent struct {
	ks         *keystore.KeyStore
	chainID    *big.Int
	passphrase PassphraseFunc
	confirm    ConfirmFunc
	logger     logger.Logger

	mu         sync.Mutex
	preferred  common.Address
	authorized *accounts.Account
	listeners  []func([]common.Address)
	sub        event.Subscription
	quit       chan struct{}
}

type KeystoreOption func(*KeystoreAgent)

// WithPreferredAccount makes addr the account requested first, when present.
func WithPreferredAccount(addr common.Address) KeystoreOption {
	return func(a *KeystoreAgent) {
		a.preferred = addr
	}
}

// WithConfirm installs a per-transaction approval prompt.
func WithConfirm(fn ConfirmFunc) KeystoreOption {
	return func(a *KeystoreAgent) {
		a.confirm = fn
	}
}

func WithAgentLogger(l logger.Logger) KeystoreOption {
	return func(a *KeystoreAgent) {
		a.logger = logger.Component(l, "agent")
	}
}

// NewKeystoreAgent opens the keystore at dir. A missing directory means
// there is no agent in this environment.
func NewKeystoreAgent(dir string, chainID *big.Int, passphrase PassphraseFunc, opts ...KeystoreOption) (*KeystoreAgent, error) {
	if dir == "" {
		return nil, ErrAgentNotFound
	}

	fi, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAgentNotFound, err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrAgentNotFound, dir)
	}

	ks := keystore.NewKeyStore(dir, keystore.StandardScryptN, keystore.StandardScryptP)
	return NewKeystoreAgentFrom(ks, chainID, passphrase, opts...)
}

// NewKeystoreAgentFrom wraps an already opened keystore.
func NewKeystoreAgentFrom(ks *keystore.KeyStore, chainID *big.Int, passphrase PassphraseFunc, opts ...KeystoreOption) (*KeystoreAgent, error) {
	if ks == nil {
		return nil, ErrAgentNotFound
	}
	if chainID == nil {
		return nil, fmt.Errorf("chain ID is required")
	}
	if passphrase == nil {
		return nil, fmt.Errorf("passphrase prompt is required")
	}

	a := &KeystoreAgent{
		ks:         ks,
		chainID:    new(big.Int).Set(chainID),
		passphrase: passphrase,
		logger:     logger.NoopLogger{},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// RequestAccounts implements Agent.
func (a *KeystoreAgent) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	accs := a.ks.Accounts()
	if len(accs) == 0 {
		return nil, ErrNoAccounts
	}

	a.mu.Lock()
	preferred := a.preferred
	a.mu.Unlock()

	acc := accs[0]
	for _, candidate := range accs {
		if candidate.Address == preferred {
			acc = candidate
			break
		}
	}

	pass, err := a.passphrase(acc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUserRejected, err)
	}

	if err := a.ks.Unlock(acc, pass); err != nil {
		a.logger.Warn("Account unlock failed", map[string]any{
			"account": acc.Address.Hex(),
			"error":   err.Error(),
		})
		return nil, fmt.Errorf("%w: %v", ErrUserRejected, err)
	}

	a.mu.Lock()
	a.authorized = &acc
	a.mu.Unlock()

	a.logger.Info("Account authorized", map[string]any{
		"account": acc.Address.Hex(),
	})

	return []common.Address{acc.Address}, nil
}

// Signer implements Agent.
func (a *KeystoreAgent) Signer(ctx context.Context) (*bind.TransactOpts, error) {
	a.mu.Lock()
	acc := a.authorized
	a.mu.Unlock()

	if acc == nil {
		return nil, ErrNotAuthorized
	}

	opts, err := bind.NewKeyStoreTransactorWithChainID(a.ks, *acc, a.chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to build transactor: %w", err)
	}
	opts.Context = ctx

	if a.confirm != nil {
		sign := opts.Signer
		confirm := a.confirm
		opts.Signer = func(from common.Address, tx *ethtypes.Transaction) (*ethtypes.Transaction, error) {
			if !confirm(tx) {
				return nil, ErrUserRejected
			}
			return sign(from, tx)
		}
	}

	return opts, nil
}

// OnAccountsChanged implements Agent. The first registration starts
// watching the keystore for the authorized account being dropped.
func (a *KeystoreAgent) OnAccountsChanged(fn func(accounts []common.Address)) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.listeners = append(a.listeners, fn)
	if a.sub != nil {
		return
	}

	events := make(chan accounts.WalletEvent, 16)
	a.sub = a.ks.Subscribe(events)
	a.quit = make(chan struct{})
	go a.watch(events, a.sub, a.quit)
}

func (a *KeystoreAgent) watch(events <-chan accounts.WalletEvent, sub event.Subscription, quit <-chan struct{}) {
	for {
		select {
		case ev := <-events:
			a.handleWalletEvent(ev)
		case <-sub.Err():
			return
		case <-quit:
			return
		}
	}
}

func (a *KeystoreAgent) handleWalletEvent(ev accounts.WalletEvent) {
	if ev.Kind != accounts.WalletDropped {
		return
	}

	a.mu.Lock()
	acc := a.authorized
	if acc == nil || ev.Wallet.URL() != acc.URL {
		a.mu.Unlock()
		return
	}
	a.authorized = nil
	listeners := append([]func([]common.Address){}, a.listeners...)
	a.mu.Unlock()

	a.logger.Warn("Authorized account dropped from keystore", map[string]any{
		"account": acc.Address.Hex(),
	})

	remaining := a.Accounts()
	for _, fn := range listeners {
		fn(remaining)
	}
}

// SwitchAccount makes addr the active account and notifies listeners.
// The previously authorized account is locked again.
func (a *KeystoreAgent) SwitchAccount(addr common.Address) error {
	if !a.ks.HasAddress(addr) {
		return fmt.Errorf("%w: %s", ErrNoAccounts, addr.Hex())
	}

	a.mu.Lock()
	prev := a.authorized
	if prev != nil && prev.Address == addr {
		a.mu.Unlock()
		return nil
	}
	a.preferred = addr
	a.authorized = nil
	listeners := append([]func([]common.Address){}, a.listeners...)
	a.mu.Unlock()

	if prev != nil {
		if err := a.ks.Lock(prev.Address); err != nil {
			a.logger.Warn("Failed to lock previous account", map[string]any{
				"account": prev.Address.Hex(),
				"error":   err.Error(),
			})
		}
	}

	a.logger.Info("Active account switched", map[string]any{
		"account": addr.Hex(),
	})

	for _, fn := range listeners {
		fn([]common.Address{addr})
	}
	return nil
}

// Accounts lists the addresses held by the keystore.
func (a *KeystoreAgent) Accounts() []common.Address {
	accs := a.ks.Accounts()
	out := make([]common.Address, 0, len(accs))
	for _, acc := range accs {
		out = append(out, acc.Address)
	}
	return out
}

// Close stops watching the keystore and locks the authorized account.
func (a *KeystoreAgent) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.sub != nil {
		close(a.quit)
		a.sub.Unsubscribe()
		a.sub = nil
	}
	if a.authorized != nil {
		_ = a.ks.Lock(a.authorized.Address)
		a.authorized = nil
	}
}
