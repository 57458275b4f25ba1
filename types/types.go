package types

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// SessionStatus represents the state of the connection to the signing agent
type SessionStatus int

const (
	StatusDisconnected SessionStatus = iota
	StatusConnecting
	StatusConnected
	// StatusUnavailable means no signing agent exists in the environment.
	StatusUnavailable
)

func (s SessionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusUnavailable:
		return "unavailable"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// TxState represents the phase of a single memo submission attempt
type TxState int

const (
	TxIdle TxState = iota
	TxValidating
	TxSubmitting
	TxConfirming
	TxSucceeded
	TxFailed
)

func (s TxState) String() string {
	switch s {
	case TxIdle:
		return "idle"
	case TxValidating:
		return "validating"
	case TxSubmitting:
		return "submitting"
	case TxConfirming:
		return "confirming"
	case TxSucceeded:
		return "succeeded"
	case TxFailed:
		return "failed"
	default:
		return fmt.Sprintf("txstate(%d)", int(s))
	}
}

// InFlight reports whether a submission is between validation and confirmation.
func (s TxState) InFlight() bool {
	return s == TxValidating || s == TxSubmitting || s == TxConfirming
}

// Memo is a single entry of the on-chain memo ledger.
type Memo struct {
	From      common.Address `json:"from"`
	Name      string         `json:"name"`
	Message   string         `json:"message"`
	Timestamp int64          `json:"timestamp"` // unix seconds
}

// Time returns the memo timestamp as a local time.
func (m Memo) Time() time.Time {
	return time.Unix(m.Timestamp, 0)
}

// MemoList is the ledger in contract order, oldest first.
type MemoList []Memo

// Clone returns a copy that shares no backing array with l.
func (l MemoList) Clone() MemoList {
	if l == nil {
		return nil
	}
	out := make(MemoList, len(l))
	copy(out, l)
	return out
}

// Reversed returns a newest-first copy for display. l is not modified.
func (l MemoList) Reversed() MemoList {
	out := make(MemoList, len(l))
	for i, m := range l {
		out[len(l)-1-i] = m
	}
	return out
}

// MemoInput is the trimmed form input of a submission.
type MemoInput struct {
	Name    string `json:"name" validate:"required"`
	Message string `json:"message" validate:"required"`
}

// Form holds what the user typed. It survives failed submissions.
type Form struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// IsZero reports whether both fields are empty.
func (f Form) IsZero() bool {
	return f.Name == "" && f.Message == ""
}

// Snapshot is the read model handed to the presentation layer.
type Snapshot struct {
	Generation   uint64        `json:"generation"`
	Status       SessionStatus `json:"status"`
	Account      string        `json:"account,omitempty"`
	AccountLabel string        `json:"accountLabel"`
	Bound        bool          `json:"bound"`

	// Memos are newest first.
	Memos MemoList `json:"memos"`

	TxState   TxState `json:"txState"`
	Busy      bool    `json:"busy"`
	CanSubmit bool    `json:"canSubmit"`
	Form      Form    `json:"form"`
	Notice    string  `json:"notice,omitempty"`
	PriceETH  string  `json:"priceEth"`
}

// Config contains configuration for the chai client
type Config struct {
	RPCURL              string        `yaml:"rpc_url" envconfig:"RPC_URL" validate:"required,url"`
	ChainID             int64         `yaml:"chain_id" envconfig:"CHAIN_ID" validate:"gte=0"`
	ContractAddress     string        `yaml:"contract_address" envconfig:"CONTRACT_ADDRESS" validate:"required,eth_addr"`
	Value               string        `yaml:"value" envconfig:"VALUE" validate:"required,numeric"`
	KeystoreDir         string        `yaml:"keystore_dir" envconfig:"KEYSTORE_DIR"`
	Account             string        `yaml:"account" envconfig:"ACCOUNT" validate:"omitempty,eth_addr"`
	ConfirmationTimeout time.Duration `yaml:"confirmation_timeout" envconfig:"CONFIRMATION_TIMEOUT" validate:"gte=0"`
	PollInterval        time.Duration `yaml:"poll_interval" envconfig:"POLL_INTERVAL" validate:"gte=0"`
	LogLevel            string        `yaml:"log_level" envconfig:"LOG_LEVEL" validate:"omitempty,oneof=debug info warn error"`
	EnableMetrics       bool          `yaml:"enable_metrics" envconfig:"ENABLE_METRICS"`
	MetricsAddr         string        `yaml:"metrics_addr" envconfig:"METRICS_ADDR"`
}

// Defaults used when the configuration leaves a field empty.
const (
	DefaultContractAddress = "0xd4c594E6203Fa5FeB61B3Fd66701eE42d842c84B"
	DefaultValue           = "0.001"
	DefaultPollInterval    = 2 * time.Second
	DefaultMetricsAddr     = ":9102"
)

// DefaultConfig returns a Config with every default filled in.
func DefaultConfig() *Config {
	return &Config{
		ContractAddress: DefaultContractAddress,
		Value:           DefaultValue,
		PollInterval:    DefaultPollInterval,
		LogLevel:        "info",
		MetricsAddr:     DefaultMetricsAddr,
	}
}
