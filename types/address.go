package types

import "github.com/ethereum/go-ethereum/common"

// NotConnectedLabel is shown in place of an account when there is none.
const NotConnectedLabel = "Not Connected"

// FormatAddress projects an address to its first6...last4 display form.
// Strings too short to truncate are returned unchanged.
func FormatAddress(addr string) string {
	if len(addr) <= 10 {
		return addr
	}
	return addr[:6] + "..." + addr[len(addr)-4:]
}

// AccountLabel returns the header label for an account, or NotConnectedLabel.
func AccountLabel(addr *common.Address) string {
	if addr == nil {
		return NotConnectedLabel
	}
	return FormatAddress(addr.Hex())
}
