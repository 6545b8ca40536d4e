package types

import (
	"context"

	"github.com/shopspring/decimal"
)

// PaymentReceipt is the outcome of one outbound payment attempt.
type PaymentReceipt struct {
	Success bool   `json:"success"`
	TxHash  string `json:"tx_hash,omitempty"`
	Error   string `json:"error,omitempty"`
}

// TxStatus is the chain-side view of a transaction hash.
type TxStatus struct {
	Exists      bool  `json:"exists"`
	Confirmed   bool  `json:"confirmed"`
	BlockNumber int64 `json:"block_number,omitempty"`
}

// ChainClient is the wallet-gateway capability the core consumes. The
// gateway owns broadcasting, confirmation-depth policy and address
// validation; the core only ledgers the results. SendPayment must be
// safely retryable: exactly-once crediting comes from the ledger's
// (tx_hash, type) uniqueness, not from this call.
type ChainClient interface {
	SendPayment(ctx context.Context, toAddress string, amount decimal.Decimal) (*PaymentReceipt, error)
	VerifyTransaction(ctx context.Context, txHash string) (*TxStatus, error)
}

// Messenger delivers chat messages to users.
type Messenger interface {
	SendMessage(ctx context.Context, telegramID int64, text string) error
}
