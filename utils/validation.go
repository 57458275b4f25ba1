package utils

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/vitwit/chai/types"
)

// EtherDecimals is the number of decimal places between ether and wei.
const EtherDecimals = 18

// ValidationNotice is the message shown when the memo form is incomplete.
const ValidationNotice = "Please enter both a name and a message."

// ValidateMemoInput trims both fields and requires them to be non-empty.
func ValidateMemoInput(name, message string) (types.MemoInput, error) {
	in := types.MemoInput{
		Name:    strings.TrimSpace(name),
		Message: strings.TrimSpace(message),
	}

	if err := validate.Struct(&in); err != nil {
		return types.MemoInput{}, types.NewError(types.ErrValidation, ValidationNotice, err)
	}

	return in, nil
}

// ParseEther converts a decimal ether amount to wei. The amount must be
// positive and representable in whole wei.
func ParseEther(amount string) (*big.Int, error) {
	if amount == "" {
		return nil, fmt.Errorf("amount cannot be empty")
	}

	dec, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("invalid amount format: %w", err)
	}

	if !dec.IsPositive() {
		return nil, fmt.Errorf("amount must be positive")
	}

	wei := dec.Shift(EtherDecimals)
	if !wei.Equal(wei.Truncate(0)) {
		return nil, fmt.Errorf("amount %s has more than %d decimal places", amount, EtherDecimals)
	}

	return wei.BigInt(), nil
}

// FormatEther renders a wei amount as a decimal ether string.
func FormatEther(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	return decimal.NewFromBigInt(wei, -EtherDecimals).String()
}

// ParseAddress validates a hex address and returns it.
func ParseAddress(addr string) (common.Address, error) {
	if !common.IsHexAddress(addr) {
		return common.Address{}, fmt.Errorf("invalid address %q", addr)
	}
	return common.HexToAddress(addr), nil
}
