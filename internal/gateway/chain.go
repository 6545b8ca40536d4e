package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"github.com/Avertenandor/sigmatradebot/internal/types"
)

const walletRequestTimeout = 30 * time.Second

// WalletGateway talks to the custodial wallet service that actually
// broadcasts transfers. It implements types.ChainClient.
type WalletGateway struct {
	client *resty.Client
}

func NewWalletGateway(baseURL, apiKey string) *WalletGateway {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(walletRequestTimeout).
		SetHeader("Content-Type", "application/json")
	if apiKey != "" {
		client.SetAuthToken(apiKey)
	}
	return &WalletGateway{client: client}
}

type sendPaymentRequest struct {
	ToAddress string `json:"to_address"`
	Amount    string `json:"amount"`
}

type apiError struct {
	Error string `json:"error"`
}

// SendPayment asks the wallet service to broadcast a transfer. A
// non-2xx response and a receipt with Success=false are both delivery
// failures the retry engine handles; only transport-level problems are
// returned as errors.
func (g *WalletGateway) SendPayment(ctx context.Context, toAddress string, amount decimal.Decimal) (*types.PaymentReceipt, error) {
	receipt := &types.PaymentReceipt{}
	apiErr := &apiError{}

	resp, err := g.client.R().
		SetContext(ctx).
		SetBody(sendPaymentRequest{
			ToAddress: toAddress,
			Amount:    amount.String(),
		}).
		SetResult(receipt).
		SetError(apiErr).
		Post("/v1/payments")
	if err != nil {
		return nil, fmt.Errorf("wallet gateway send payment: %w", err)
	}
	if resp.IsError() {
		cause := apiErr.Error
		if cause == "" {
			cause = resp.Status()
		}
		return &types.PaymentReceipt{Success: false, Error: cause}, nil
	}
	return receipt, nil
}

// VerifyTransaction asks the wallet service for the chain-side status of
// a transaction hash.
func (g *WalletGateway) VerifyTransaction(ctx context.Context, txHash string) (*types.TxStatus, error) {
	status := &types.TxStatus{}

	resp, err := g.client.R().
		SetContext(ctx).
		SetResult(status).
		Get("/v1/transactions/" + txHash)
	if err != nil {
		return nil, fmt.Errorf("wallet gateway verify transaction: %w", err)
	}
	if resp.StatusCode() == 404 {
		return &types.TxStatus{Exists: false}, nil
	}
	if resp.IsError() {
		return nil, fmt.Errorf("wallet gateway verify transaction: %s", resp.Status())
	}
	return status, nil
}
