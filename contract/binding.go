// Package contract binds the memo contract to the signer of the current
// wallet session.
package contract

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/vitwit/chai/logger"
	"github.com/vitwit/chai/types"
)

// ErrReverted is returned when a mined transaction has a failed status.
var ErrReverted = errors.New("transaction reverted")

// Backend is the chain access a binding needs. *ethclient.Client satisfies it.
type Backend interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error)
}

// Reader reads the memo ledger.
type Reader interface {
	ListMemos(ctx context.Context) (types.MemoList, error)
}

// Writer submits new memos.
type Writer interface {
	SubmitMemo(ctx context.Context, name, message string, value *big.Int) (PendingTx, error)
}

// Contract is a handle bound to the contract address and a signer.
type Contract interface {
	Reader
	Writer
	Address() common.Address
	From() common.Address
}

// PendingTx is a submitted transaction awaiting finality.
type PendingTx interface {
	Hash() common.Hash
	// AwaitConfirmation blocks until the transaction is mined or ctx ends.
	AwaitConfirmation(ctx context.Context) error
	// Receipt is nil until AwaitConfirmation has seen the transaction mined.
	Receipt() *ethtypes.Receipt
}

// chainMemo mirrors the getMemos tuple, field order included.
type chainMemo struct {
	Name      string
	Message   string
	Timestamp *big.Int
	From      common.Address
}

// Binder owns the fixed address and interface and the handle built for the
// current signer.
type Binder struct {
	backend      Backend
	address      common.Address
	abi          abi.ABI
	pollInterval time.Duration
	logger       logger.Logger

	mu    sync.RWMutex
	bound *Chai
}

type BinderOption func(*Binder)

// WithPollInterval sets how often receipts are polled while confirming.
func WithPollInterval(d time.Duration) BinderOption {
	return func(b *Binder) {
		if d > 0 {
			b.pollInterval = d
		}
	}
}

func WithLogger(l logger.Logger) BinderOption {
	return func(b *Binder) {
		b.logger = logger.Component(l, "contract")
	}
}

// NewBinder parses the contract interface. No network call is made.
func NewBinder(backend Backend, address common.Address, opts ...BinderOption) (*Binder, error) {
	if backend == nil {
		return nil, fmt.Errorf("backend is required")
	}

	parsed, err := abi.JSON(strings.NewReader(ChaiABI))
	if err != nil {
		return nil, fmt.Errorf("invalid contract ABI: %w", err)
	}

	b := &Binder{
		backend:      backend,
		address:      address,
		abi:          parsed,
		pollInterval: types.DefaultPollInterval,
		logger:       logger.NoopLogger{},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Bind builds a handle for signer and makes it current. A nil signer leaves
// the binder unbound.
func (b *Binder) Bind(signer *bind.TransactOpts) (Contract, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if signer == nil || signer.Signer == nil {
		b.bound = nil
		return nil, types.NewError(types.ErrContractUnbound, "no signer: wallet session not connected", nil)
	}

	b.bound = &Chai{
		backend:      b.backend,
		address:      b.address,
		abi:          &b.abi,
		signer:       signer,
		pollInterval: b.pollInterval,
		logger:       b.logger,
	}

	b.logger.Debug("Contract bound", map[string]any{
		"contract": b.address.Hex(),
		"from":     signer.From.Hex(),
	})

	return b.bound, nil
}

// Unbind drops the current handle.
func (b *Binder) Unbind() {
	b.mu.Lock()
	b.bound = nil
	b.mu.Unlock()
}

// Current returns the bound handle, or nil when unbound.
func (b *Binder) Current() Contract {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.bound == nil {
		return nil
	}
	return b.bound
}

func (b *Binder) Address() common.Address {
	return b.address
}

// Chai is the memo contract bound to one signer. It adds no retries or
// caching of its own.
type Chai struct {
	backend      Backend
	address      common.Address
	abi          *abi.ABI
	signer       *bind.TransactOpts
	pollInterval time.Duration
	logger       logger.Logger
}

var _ Contract = (*Chai)(nil)

func (c *Chai) Address() common.Address {
	return c.address
}

func (c *Chai) From() common.Address {
	return c.signer.From
}

// ListMemos calls getMemos and returns the ledger oldest first.
func (c *Chai) ListMemos(ctx context.Context) (types.MemoList, error) {
	data, err := c.abi.Pack(MethodGetMemos)
	if err != nil {
		return nil, fmt.Errorf("failed to pack method call: %w", err)
	}

	out, err := c.backend.CallContract(ctx, ethereum.CallMsg{
		From: c.signer.From,
		To:   &c.address,
		Data: data,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call contract: %w", err)
	}

	values, err := c.abi.Unpack(MethodGetMemos, out)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack result: %w", err)
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("unexpected output count %d", len(values))
	}

	raw := *abi.ConvertType(values[0], new([]chainMemo)).(*[]chainMemo)

	memos := make(types.MemoList, 0, len(raw))
	for i, m := range raw {
		var ts int64
		if m.Timestamp != nil {
			if !m.Timestamp.IsInt64() {
				return nil, fmt.Errorf("memo %d: timestamp %s out of range", i, m.Timestamp)
			}
			ts = m.Timestamp.Int64()
		}
		memos = append(memos, types.Memo{
			From:      m.From,
			Name:      m.Name,
			Message:   m.Message,
			Timestamp: ts,
		})
	}
	return memos, nil
}

// SubmitMemo signs and sends buyChai(name, message) carrying value wei.
func (c *Chai) SubmitMemo(ctx context.Context, name, message string, value *big.Int) (PendingTx, error) {
	data, err := c.abi.Pack(MethodBuyChai, name, message)
	if err != nil {
		return nil, fmt.Errorf("failed to pack method call: %w", err)
	}

	from := c.signer.From

	nonce, err := c.backend.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("failed to get nonce: %w", err)
	}

	gasPrice := c.signer.GasPrice
	if gasPrice == nil {
		gasPrice, err = c.backend.SuggestGasPrice(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get gas price: %w", err)
		}
	}

	gasLimit := c.signer.GasLimit
	if gasLimit == 0 {
		gasLimit, err = c.backend.EstimateGas(ctx, ethereum.CallMsg{
			From:  from,
			To:    &c.address,
			Value: value,
			Data:  data,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to estimate gas: %w", err)
		}
	}

	tx := ethtypes.NewTransaction(nonce, c.address, value, gasLimit, gasPrice, data)

	signedTx, err := c.signer.Signer(from, tx)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := c.backend.SendTransaction(ctx, signedTx); err != nil {
		return nil, fmt.Errorf("failed to send transaction: %w", err)
	}

	c.logger.Info("Transaction sent", map[string]any{
		"tx_hash": signedTx.Hash().Hex(),
		"from":    from.Hex(),
		"nonce":   nonce,
	})

	return &pendingTx{
		backend:  c.backend,
		tx:       signedTx,
		interval: c.pollInterval,
		logger:   c.logger,
	}, nil
}

type pendingTx struct {
	backend  Backend
	tx       *ethtypes.Transaction
	interval time.Duration
	logger   logger.Logger

	receipt *ethtypes.Receipt
}

func (p *pendingTx) Hash() common.Hash {
	return p.tx.Hash()
}

func (p *pendingTx) Receipt() *ethtypes.Receipt {
	return p.receipt
}

// AwaitConfirmation polls for the receipt. There is no deadline of its own;
// lookup errors are treated as transient and polling continues.
func (p *pendingTx) AwaitConfirmation(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	hash := p.tx.Hash()
	for {
		receipt, err := p.backend.TransactionReceipt(ctx, hash)
		switch {
		case err == nil:
			p.receipt = receipt
			if receipt.Status != ethtypes.ReceiptStatusSuccessful {
				return fmt.Errorf("%w: %s in block %v", ErrReverted, hash.Hex(), receipt.BlockNumber)
			}
			return nil
		case errors.Is(err, ethereum.NotFound):
		default:
			p.logger.Debug("Receipt lookup failed", map[string]any{
				"tx_hash": hash.Hex(),
				"error":   err.Error(),
			})
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
