package clients

import (
	"context"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
)

// Agent is the user-controlled signing agent. It authorizes accounts,
// hands out a signer for the authorized account and reports account changes.
type Agent interface {
	// RequestAccounts prompts the user once and returns the authorized
	// accounts, the active one first.
	RequestAccounts(ctx context.Context) ([]common.Address, error)

	// OnAccountsChanged registers fn to run whenever the active account changes.
	OnAccountsChanged(fn func(accounts []common.Address))

	// Signer returns a transactor bound to the authorized account.
	Signer(ctx context.Context) (*bind.TransactOpts, error)
}
