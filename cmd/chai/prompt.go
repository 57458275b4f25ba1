package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/vitwit/chai/utils"
	"golang.org/x/term"
)

// passphraseEnv lets non-interactive runs unlock the keystore.
const passphraseEnv = utils.EnvPrefix + "_PASSPHRASE"

// promptPassphrase reads the keystore passphrase without echo.
func promptPassphrase(acc accounts.Account) (string, error) {
	if pass, ok := os.LookupEnv(passphraseEnv); ok {
		return pass, nil
	}

	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", fmt.Errorf("stdin is not a terminal: set %s or run interactively", passphraseEnv)
	}
	fmt.Fprintf(os.Stderr, "Unlock %s\nPassphrase: ", acc.Address.Hex())
	defer fmt.Fprintln(os.Stderr)

	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return "", fmt.Errorf("failed to read passphrase: %w", err)
	}
	if len(raw) == 0 {
		return "", errors.New("passphrase cannot be empty")
	}

	pass := string(raw)
	clear(raw)
	return pass, nil
}

// confirmTransaction asks the user to approve tx on the terminal.
func confirmTransaction(tx *ethtypes.Transaction) bool {
	fmt.Fprintf(os.Stderr, "Send %s ETH to %s (gas %d)? [y/N]: ",
		utils.FormatEther(tx.Value()), tx.To().Hex(), tx.Gas())

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}
