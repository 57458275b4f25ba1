package contract

// ChaiABI is the interface of the memo contract. getMemos returns the
// ledger oldest first; buyChai is payable and records msg.sender.
const ChaiABI = `[
  {
    "inputs": [
      { "internalType": "string", "name": "name", "type": "string" },
      { "internalType": "string", "name": "message", "type": "string" }
    ],
    "name": "buyChai",
    "outputs": [],
    "stateMutability": "payable",
    "type": "function"
  },
  {
    "inputs": [],
    "name": "getMemos",
    "outputs": [
      {
        "components": [
          { "internalType": "string", "name": "name", "type": "string" },
          { "internalType": "string", "name": "message", "type": "string" },
          { "internalType": "uint256", "name": "timestamp", "type": "uint256" },
          { "internalType": "address", "name": "from", "type": "address" }
        ],
        "internalType": "struct chai.Memo[]",
        "name": "",
        "type": "tuple[]"
      }
    ],
    "stateMutability": "view",
    "type": "function"
  }
]`

const (
	MethodBuyChai  = "buyChai"
	MethodGetMemos = "getMemos"
)
