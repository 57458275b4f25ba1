package chaintest

import (
	"context"
	"crypto/ecdsa"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/vitwit/chai/clients"
)

// Well known development keys.
var devKeys = []string{
	"ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80",
	"59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d",
	"5de4111afa1a4b94908f83103eb1f1706367c2e68ca870fc3fb9a804cdab365a",
}

// Agent is a scripted signing agent.
type Agent struct {
	keys []*ecdsa.PrivateKey

	mu         sync.Mutex
	active     int
	authorized bool
	deny       error
	rejectSign bool
	gate       chan struct{}
	listeners  []func([]common.Address)
	requests   int
}

var _ clients.Agent = (*Agent)(nil)

// NewAgent returns an agent holding n development accounts, the first active.
func NewAgent(n int) *Agent {
	if n < 1 || n > len(devKeys) {
		n = 1
	}
	a := &Agent{}
	for _, hex := range devKeys[:n] {
		key, err := crypto.HexToECDSA(hex)
		if err != nil {
			panic(err)
		}
		a.keys = append(a.keys, key)
	}
	return a
}

// Address returns the i-th account.
func (a *Agent) Address(i int) common.Address {
	return crypto.PubkeyToAddress(a.keys[i].PublicKey)
}

// Deny makes RequestAccounts fail with err. Nil restores approval.
func (a *Agent) Deny(err error) {
	a.mu.Lock()
	a.deny = err
	a.mu.Unlock()
}

// RejectSigning makes the signer refuse every transaction.
func (a *Agent) RejectSigning(reject bool) {
	a.mu.Lock()
	a.rejectSign = reject
	a.mu.Unlock()
}

// GateRequests makes the next RequestAccounts call block until the returned
// channel is closed or its context ends.
func (a *Agent) GateRequests() chan struct{} {
	gate := make(chan struct{})
	a.mu.Lock()
	a.gate = gate
	a.mu.Unlock()
	return gate
}

// Requests returns how many times accounts were requested.
func (a *Agent) Requests() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.requests
}

// Listeners returns how many change callbacks are registered.
func (a *Agent) Listeners() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.listeners)
}

func (a *Agent) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	a.mu.Lock()
	a.requests++
	gate := a.gate
	a.gate = nil
	a.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.deny != nil {
		return nil, a.deny
	}
	a.authorized = true
	return []common.Address{crypto.PubkeyToAddress(a.keys[a.active].PublicKey)}, nil
}

func (a *Agent) OnAccountsChanged(fn func([]common.Address)) {
	a.mu.Lock()
	a.listeners = append(a.listeners, fn)
	a.mu.Unlock()
}

func (a *Agent) Signer(context.Context) (*bind.TransactOpts, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.authorized {
		return nil, clients.ErrNotAuthorized
	}
	opts, err := bind.NewKeyedTransactorWithChainID(a.keys[a.active], ChainID)
	if err != nil {
		return nil, err
	}
	if a.rejectSign {
		opts.Signer = func(common.Address, *ethtypes.Transaction) (*ethtypes.Transaction, error) {
			return nil, clients.ErrUserRejected
		}
	}
	return opts, nil
}

// SwitchAccount activates the i-th account and fires the change callbacks
// synchronously.
func (a *Agent) SwitchAccount(i int) {
	a.mu.Lock()
	a.active = i
	a.authorized = false
	listeners := append([]func([]common.Address){}, a.listeners...)
	addr := crypto.PubkeyToAddress(a.keys[i].PublicKey)
	a.mu.Unlock()

	for _, fn := range listeners {
		fn([]common.Address{addr})
	}
}
