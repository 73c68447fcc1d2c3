package jupiter

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"markup-arb-bot/internal/arb"
	"markup-arb-bot/internal/chain/solana"
	"markup-arb-bot/internal/config"

	"go.uber.org/zap"
)

// Client swaps through the Jupiter Ultra API. An order request returns a
// ready-to-sign transaction; the execute request hands the signed
// transaction back to Jupiter, which lands it on chain. Slippage is managed
// by the router, so the request slippage setting is not forwarded.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	wallet  *solana.Wallet
	log     *zap.Logger
}

type orderResponse struct {
	Transaction string `json:"transaction"`
	RequestID   string `json:"requestId"`
	InAmount    string `json:"inAmount"`
	OutAmount   string `json:"outAmount"`
	ErrorMsg    string `json:"error"`
}

type executeRequest struct {
	SignedTransaction string `json:"signedTransaction"`
	RequestID         string `json:"requestId"`
}

type executeResponse struct {
	Status    string `json:"status"`
	Signature string `json:"signature"`
	TxID      string `json:"txid"`
	ErrorMsg  string `json:"error"`
	Code      int    `json:"code"`
}

func New(cfg config.JupiterConfig, wallet *solana.Wallet, log *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: timeout},
		wallet:  wallet,
		log:     log,
	}
}

func (c *Client) Provider() string {
	return "jupiter"
}

// Quote requests a swap order. The returned payload carries the serialized
// transaction Jupiter built for the wallet.
func (c *Client) Quote(ctx context.Context, req arb.SwapRequest) (arb.SwapQuote, error) {
	if c.wallet == nil {
		return arb.SwapQuote{}, errors.New("solana wallet is not configured")
	}
	if req.InAmount == nil || req.InAmount.Sign() <= 0 {
		return arb.SwapQuote{}, errors.New("swap amount must be > 0")
	}

	params := url.Values{}
	params.Set("inputMint", req.InputAsset)
	params.Set("outputMint", req.OutputAsset)
	params.Set("amount", req.InAmount.String())
	params.Set("taker", c.wallet.Address())

	var order orderResponse
	if err := c.get(ctx, "/order?"+params.Encode(), &order); err != nil {
		return arb.SwapQuote{}, err
	}
	if order.Transaction == "" {
		if order.ErrorMsg != "" {
			return arb.SwapQuote{}, fmt.Errorf("order rejected: %s", order.ErrorMsg)
		}
		return arb.SwapQuote{}, errors.New("order response has no transaction")
	}
	if order.RequestID == "" {
		return arb.SwapQuote{}, errors.New("order response has no request id")
	}

	payload, err := base64.StdEncoding.DecodeString(order.Transaction)
	if err != nil {
		return arb.SwapQuote{}, fmt.Errorf("decode order transaction: %w", err)
	}
	outAmount, ok := new(big.Int).SetString(order.OutAmount, 10)
	if !ok {
		return arb.SwapQuote{}, fmt.Errorf("bad outAmount %q", order.OutAmount)
	}
	inAmount, ok := new(big.Int).SetString(order.InAmount, 10)
	if !ok {
		inAmount = new(big.Int).Set(req.InAmount)
	}

	return arb.SwapQuote{
		Provider:  c.Provider(),
		RequestID: order.RequestID,
		InAmount:  inAmount,
		OutAmount: outAmount,
		Payload:   payload,
	}, nil
}

// Execute signs the order transaction and submits it back to Jupiter.
func (c *Client) Execute(ctx context.Context, quote arb.SwapQuote) (arb.SwapResult, error) {
	if c.wallet == nil {
		return arb.SwapResult{}, errors.New("solana wallet is not configured")
	}
	if len(quote.Payload) == 0 {
		return arb.SwapResult{}, errors.New("quote has no transaction payload")
	}

	signed, _, err := c.wallet.SignTransaction(quote.Payload)
	if err != nil {
		return arb.SwapResult{}, err
	}

	body, err := json.Marshal(executeRequest{
		SignedTransaction: base64.StdEncoding.EncodeToString(signed),
		RequestID:         quote.RequestID,
	})
	if err != nil {
		return arb.SwapResult{}, err
	}

	var result executeResponse
	if err := c.post(ctx, "/execute", body, &result); err != nil {
		return arb.SwapResult{}, err
	}
	txRef := result.Signature
	if txRef == "" {
		txRef = result.TxID
	}
	if strings.EqualFold(result.Status, "Failed") || txRef == "" {
		return arb.SwapResult{}, fmt.Errorf("execute failed: status=%s code=%d %s", result.Status, result.Code, result.ErrorMsg)
	}
	c.log.Info("jupiter swap executed", zap.String("signature", txRef))

	return arb.SwapResult{
		Provider: c.Provider(),
		TxRef:    txRef,
	}, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
