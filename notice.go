package chai

import (
	"github.com/vitwit/chai/types"
	"github.com/vitwit/chai/utils"
)

// User facing texts
const (
	NoticeAgentUnavailable    = "Please install a wallet agent to use this app."
	NoticeAuthorizationDenied = "Wallet connection was declined. Connect again to retry."
	NoticeTransactionFailed   = "Transaction failed! Check the logs for more details."
	NoticeFetchFailed         = "Could not load memos. Showing the last known list."
	NoticeNotConnected        = "Connect your wallet to send a chai."
	NoticeBusy                = "A transaction is already in progress."
	NoticeConfig              = "The client configuration is invalid."

	// EmptyMemosText is shown in place of an empty memo list.
	EmptyMemosText = "No memos yet. Be the first to send a chai!"
)

// Notice turns an error from App into the message shown to the user. Errors
// without a known code get the transaction failure text.
func Notice(err error) string {
	if err == nil {
		return ""
	}

	switch types.Code(err) {
	case types.ErrAgentUnavailable:
		return NoticeAgentUnavailable
	case types.ErrAuthorizationDenied:
		return NoticeAuthorizationDenied
	case types.ErrValidation:
		return utils.ValidationNotice
	case types.ErrSubmissionRejected, types.ErrConfirmationFailed:
		return NoticeTransactionFailed
	case types.ErrFetch:
		return NoticeFetchFailed
	case types.ErrContractUnbound:
		return NoticeNotConnected
	case types.ErrSubmissionInFlight, types.ErrConnectInFlight:
		return NoticeBusy
	case types.ErrConfig:
		return NoticeConfig
	case types.ErrStaleResult:
		return ""
	default:
		return NoticeTransactionFailed
	}
}
