// Package chaintest provides an in-memory memo contract and signing agent
// for exercising the client without a node or wallet.
package chaintest

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
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/vitwit/chai/contract"
)

// ContractAddress is where the fake contract lives.
var ContractAddress = common.HexToAddress("0xd4c594E6203Fa5FeB61B3Fd66701eE42d842c84B")

// ChainID of the fake chain.
var ChainID = big.NewInt(1337)

type memo struct {
	Name      string
	Message   string
	Timestamp *big.Int
	From      common.Address
}

// Backend is an in-memory chain hosting only the memo contract.
type Backend struct {
	abi abi.ABI

	mu       sync.Mutex
	now      time.Time
	memos    []memo
	nonces   map[common.Address]uint64
	pending  []*ethtypes.Transaction
	receipts map[common.Hash]*ethtypes.Receipt
	block    int64

	listErr     error
	estimateErr error
	sendErr     error
	holdMining  bool
	revertNext  bool
	listGate    chan struct{}
	listCalls   int
	sendCalls   int
	sentTxs     []*ethtypes.Transaction
}

var _ contract.Backend = (*Backend)(nil)

// NewBackend returns an empty chain.
func NewBackend() *Backend {
	parsed, err := abi.JSON(strings.NewReader(contract.ChaiABI))
	if err != nil {
		panic(err)
	}
	return &Backend{
		abi:      parsed,
		now:      time.Unix(1700000000, 0),
		nonces:   make(map[common.Address]uint64),
		receipts: make(map[common.Hash]*ethtypes.Receipt),
	}
}

// Seed appends memos directly to the ledger.
func (b *Backend) Seed(from common.Address, name, message string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.appendMemo(from, name, message)
}

// SeedAt appends a memo with an explicit block timestamp.
func (b *Backend) SeedAt(from common.Address, name, message string, ts *big.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.memos = append(b.memos, memo{
		Name:      name,
		Message:   message,
		Timestamp: new(big.Int).Set(ts),
		From:      from,
	})
}

func (b *Backend) appendMemo(from common.Address, name, message string) {
	b.now = b.now.Add(time.Minute)
	b.memos = append(b.memos, memo{
		Name:      name,
		Message:   message,
		Timestamp: big.NewInt(b.now.Unix()),
		From:      from,
	})
}

// FailList makes getMemos calls fail with err until cleared with nil.
func (b *Backend) FailList(err error) {
	b.mu.Lock()
	b.listErr = err
	b.mu.Unlock()
}

// FailEstimate makes gas estimation fail, as a node does for a reverting call.
func (b *Backend) FailEstimate(err error) {
	b.mu.Lock()
	b.estimateErr = err
	b.mu.Unlock()
}

// FailSend makes SendTransaction fail with err.
func (b *Backend) FailSend(err error) {
	b.mu.Lock()
	b.sendErr = err
	b.mu.Unlock()
}

// HoldMining keeps sent transactions pending until Mine is called.
func (b *Backend) HoldMining(hold bool) {
	b.mu.Lock()
	b.holdMining = hold
	b.mu.Unlock()
}

// RevertNext makes the next mined transaction fail.
func (b *Backend) RevertNext() {
	b.mu.Lock()
	b.revertNext = true
	b.mu.Unlock()
}

// GateList makes getMemos calls block until the returned channel is closed
// or the call's context ends.
func (b *Backend) GateList() chan struct{} {
	gate := make(chan struct{})
	b.mu.Lock()
	b.listGate = gate
	b.mu.Unlock()
	return gate
}

// ListCalls returns how many getMemos calls were made.
func (b *Backend) ListCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.listCalls
}

// SendCalls returns how many transactions were submitted.
func (b *Backend) SendCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sendCalls
}

// Sent returns the accepted transactions in submission order.
func (b *Backend) Sent() []*ethtypes.Transaction {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*ethtypes.Transaction{}, b.sentTxs...)
}

// MemoCount returns the ledger length.
func (b *Backend) MemoCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.memos)
}

// Mine includes every pending transaction.
func (b *Backend) Mine() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, tx := range b.pending {
		b.mine(tx)
	}
	b.pending = nil
}

func (b *Backend) ChainID(context.Context) (*big.Int, error) {
	return new(big.Int).Set(ChainID), nil
}

func (b *Backend) CallContract(ctx context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if call.To == nil || *call.To != ContractAddress {
		return nil, nil
	}

	method, err := b.abi.MethodById(call.Data)
	if err != nil {
		return nil, err
	}
	if method.Name != contract.MethodGetMemos {
		return nil, fmt.Errorf("eth_call of %s not supported", method.Name)
	}

	b.mu.Lock()
	b.listCalls++
	gate := b.listGate
	b.listGate = nil
	b.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listErr != nil {
		return nil, b.listErr
	}
	return method.Outputs.Pack(append([]memo{}, b.memos...))
}

func (b *Backend) PendingNonceAt(_ context.Context, account common.Address) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nonces[account], nil
}

func (b *Backend) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(1e9), nil
}

func (b *Backend) EstimateGas(_ context.Context, call ethereum.CallMsg) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.estimateErr != nil {
		return 0, b.estimateErr
	}
	if call.Value == nil || call.Value.Sign() <= 0 {
		return 0, errors.New("execution reverted: Please pay more than 0 ether")
	}
	return 120000, nil
}

func (b *Backend) SendTransaction(_ context.Context, tx *ethtypes.Transaction) error {
	sender, err := ethtypes.Sender(ethtypes.LatestSignerForChainID(ChainID), tx)
	if err != nil {
		return fmt.Errorf("invalid sender: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.sendCalls++
	if b.sendErr != nil {
		return b.sendErr
	}
	if tx.Nonce() != b.nonces[sender] {
		return fmt.Errorf("nonce too low: have %d, want %d", tx.Nonce(), b.nonces[sender])
	}
	b.nonces[sender]++
	b.sentTxs = append(b.sentTxs, tx)

	if b.holdMining {
		b.pending = append(b.pending, tx)
		return nil
	}
	b.mine(tx)
	return nil
}

func (b *Backend) TransactionReceipt(_ context.Context, hash common.Hash) (*ethtypes.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

// mine applies tx. Callers hold b.mu.
func (b *Backend) mine(tx *ethtypes.Transaction) {
	b.block++
	status := ethtypes.ReceiptStatusSuccessful

	sender, _ := ethtypes.Sender(ethtypes.LatestSignerForChainID(ChainID), tx)
	if b.revertNext || tx.To() == nil || *tx.To() != ContractAddress || tx.Value().Sign() <= 0 {
		status = ethtypes.ReceiptStatusFailed
		b.revertNext = false
	} else if name, message, err := b.decodeBuyChai(tx.Data()); err != nil {
		status = ethtypes.ReceiptStatusFailed
	} else {
		b.appendMemo(sender, name, message)
	}

	b.receipts[tx.Hash()] = &ethtypes.Receipt{
		Status:      status,
		TxHash:      tx.Hash(),
		BlockNumber: big.NewInt(b.block),
		GasUsed:     tx.Gas(),
	}
}

func (b *Backend) decodeBuyChai(data []byte) (string, string, error) {
	method, err := b.abi.MethodById(data)
	if err != nil {
		return "", "", err
	}
	if method.Name != contract.MethodBuyChai {
		return "", "", fmt.Errorf("unexpected method %s", method.Name)
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return "", "", err
	}
	return args[0].(string), args[1].(string), nil
}
