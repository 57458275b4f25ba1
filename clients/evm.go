package clients

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/ethclient"
)

// EVMClient is an RPC connection to the chain hosting the memo contract.
type EVMClient struct {
	rpcURL  string
	client  *ethclient.Client
	chainID *big.Int
}

// NewEVMClient dials rpcURL and checks the node's chain ID. An expected
// chain ID of zero accepts whatever the node reports.
func NewEVMClient(ctx context.Context, rpcURL string, expectedChainID int64) (*EVMClient, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Ethereum RPC: %w", err)
	}

	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to get chain ID: %w", err)
	}

	if expectedChainID != 0 && chainID.Int64() != expectedChainID {
		client.Close()
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrChainMismatch, expectedChainID, chainID.Int64())
	}

	return &EVMClient{
		rpcURL:  rpcURL,
		client:  client,
		chainID: chainID,
	}, nil
}

// Backend returns the underlying go-ethereum client.
func (e *EVMClient) Backend() *ethclient.Client {
	return e.client
}

// ChainID returns the chain ID reported by the node at dial time.
func (e *EVMClient) ChainID() *big.Int {
	return new(big.Int).Set(e.chainID)
}

func (e *EVMClient) RPCURL() string {
	return e.rpcURL
}

func (e *EVMClient) Close() {
	e.client.Close()
}
