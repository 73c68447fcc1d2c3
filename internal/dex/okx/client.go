package okx

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"markup-arb-bot/internal/arb"
	evmchain "markup-arb-bot/internal/chain/evm"
	solchain "markup-arb-bot/internal/chain/solana"
	"markup-arb-bot/internal/config"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/mr-tron/base58"
	"go.uber.org/zap"
)

// OKX chain ids for the supported hedge chains.
const (
	chainIDSolana = "501"
	chainIDBSC    = "56"
)

// Client swaps through the OKX DEX aggregator. The swap endpoint returns a
// transaction the caller must sign and broadcast itself, so the client
// carries a wallet per supported chain.
type Client struct {
	baseURL    string
	apiKey     string
	secret     string
	passphrase string
	http       *http.Client
	solana     *solchain.Wallet
	evm        *evmchain.Wallet
	log        *zap.Logger
}

type envelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type swapData struct {
	RouterResult routerResult `json:"routerResult"`
	Tx           txData       `json:"tx"`
}

type routerResult struct {
	FromTokenAmount string `json:"fromTokenAmount"`
	ToTokenAmount   string `json:"toTokenAmount"`
}

type txData struct {
	Data     string `json:"data"`
	To       string `json:"to"`
	Value    string `json:"value"`
	Gas      string `json:"gas"`
	GasPrice string `json:"gasPrice"`
}

// txPayload is what a quote carries between the two swap phases.
type txPayload struct {
	Chain    string `json:"chain"`
	Data     string `json:"data"`
	To       string `json:"to,omitempty"`
	Value    string `json:"value,omitempty"`
	Gas      string `json:"gas,omitempty"`
	GasPrice string `json:"gasPrice,omitempty"`
}

func New(cfg config.OKXConfig, solWallet *solchain.Wallet, evmWallet *evmchain.Wallet, log *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		secret:     cfg.APISecret,
		passphrase: cfg.Passphrase,
		http:       &http.Client{Timeout: timeout},
		solana:     solWallet,
		evm:        evmWallet,
		log:        log,
	}
}

func (c *Client) Provider() string {
	return "okx"
}

// Quote requests swap transaction data from the aggregator. The payload
// keeps everything Execute needs to sign and broadcast on the right chain.
func (c *Client) Quote(ctx context.Context, req arb.SwapRequest) (arb.SwapQuote, error) {
	if c.apiKey == "" || c.secret == "" || c.passphrase == "" {
		return arb.SwapQuote{}, errors.New("okx api credentials are not configured")
	}
	if req.InAmount == nil || req.InAmount.Sign() <= 0 {
		return arb.SwapQuote{}, errors.New("swap amount must be > 0")
	}
	chainID, err := chainID(req.Chain)
	if err != nil {
		return arb.SwapQuote{}, err
	}
	address, err := c.walletAddress(req.Chain)
	if err != nil {
		return arb.SwapQuote{}, err
	}

	params := url.Values{}
	params.Set("chainId", chainID)
	params.Set("fromTokenAddress", req.InputAsset)
	params.Set("toTokenAddress", req.OutputAsset)
	params.Set("amount", req.InAmount.String())
	params.Set("slippage", formatSlippage(req.SlippagePercent))
	params.Set("userWalletAddress", address)

	var rows []swapData
	if err := c.get(ctx, "/api/v5/dex/aggregator/swap?"+params.Encode(), &rows); err != nil {
		return arb.SwapQuote{}, err
	}
	if len(rows) == 0 {
		return arb.SwapQuote{}, errors.New("swap response has no data")
	}
	row := rows[0]
	if row.Tx.Data == "" {
		return arb.SwapQuote{}, errors.New("swap response has no transaction")
	}
	outAmount, ok := new(big.Int).SetString(row.RouterResult.ToTokenAmount, 10)
	if !ok {
		return arb.SwapQuote{}, fmt.Errorf("bad toTokenAmount %q", row.RouterResult.ToTokenAmount)
	}

	payload, err := json.Marshal(txPayload{
		Chain:    req.Chain,
		Data:     row.Tx.Data,
		To:       row.Tx.To,
		Value:    row.Tx.Value,
		Gas:      row.Tx.Gas,
		GasPrice: row.Tx.GasPrice,
	})
	if err != nil {
		return arb.SwapQuote{}, err
	}

	return arb.SwapQuote{
		Provider:  c.Provider(),
		InAmount:  new(big.Int).Set(req.InAmount),
		OutAmount: outAmount,
		Payload:   payload,
	}, nil
}

// Execute signs the quoted transaction with the chain wallet and broadcasts
// it. On Solana the broadcast counts as success once preflight passes, on
// BSC the receipt is awaited and checked.
func (c *Client) Execute(ctx context.Context, quote arb.SwapQuote) (arb.SwapResult, error) {
	var payload txPayload
	if err := json.Unmarshal(quote.Payload, &payload); err != nil {
		return arb.SwapResult{}, fmt.Errorf("decode quote payload: %w", err)
	}
	switch payload.Chain {
	case config.ChainSolana:
		return c.executeSolana(ctx, payload)
	case config.ChainBSC:
		return c.executeEVM(ctx, payload)
	default:
		return arb.SwapResult{}, fmt.Errorf("unsupported chain %q", payload.Chain)
	}
}

func (c *Client) executeSolana(ctx context.Context, payload txPayload) (arb.SwapResult, error) {
	if c.solana == nil {
		return arb.SwapResult{}, errors.New("solana wallet is not configured")
	}
	txBytes, err := decodeTxData(payload.Data)
	if err != nil {
		return arb.SwapResult{}, err
	}
	signature, err := c.solana.SignAndSend(ctx, txBytes)
	if err != nil {
		return arb.SwapResult{}, err
	}
	// Preflight already ran on send. A confirmation miss is logged, not
	// failed, so a landed swap is never re-executed.
	if err := c.solana.Confirm(ctx, signature); err != nil {
		c.log.Warn("swap confirmation not observed",
			zap.String("signature", signature),
			zap.Error(err))
	}
	return arb.SwapResult{Provider: c.Provider(), TxRef: signature}, nil
}

func (c *Client) executeEVM(ctx context.Context, payload txPayload) (arb.SwapResult, error) {
	if c.evm == nil {
		return arb.SwapResult{}, errors.New("evm wallet is not configured")
	}
	data, err := hexutil.Decode(payload.Data)
	if err != nil {
		return arb.SwapResult{}, fmt.Errorf("decode calldata: %w", err)
	}

	value := new(big.Int)
	if payload.Value != "" {
		if _, ok := value.SetString(payload.Value, 10); !ok {
			return arb.SwapResult{}, fmt.Errorf("bad tx value %q", payload.Value)
		}
	}
	var gasPrice *big.Int
	if payload.GasPrice != "" {
		gasPrice, _ = new(big.Int).SetString(payload.GasPrice, 10)
	}
	var gasLimit uint64
	if payload.Gas != "" {
		gasLimit, _ = strconv.ParseUint(payload.Gas, 10, 64)
	}

	hash, err := c.evm.SendCall(ctx, payload.To, data, value, gasPrice, gasLimit)
	if err != nil {
		return arb.SwapResult{}, err
	}
	return arb.SwapResult{Provider: c.Provider(), TxRef: hash}, nil
}

func (c *Client) walletAddress(chain string) (string, error) {
	switch chain {
	case config.ChainSolana:
		if c.solana == nil {
			return "", errors.New("solana wallet is not configured")
		}
		return c.solana.Address(), nil
	case config.ChainBSC:
		if c.evm == nil {
			return "", errors.New("evm wallet is not configured")
		}
		return c.evm.Address(), nil
	default:
		return "", fmt.Errorf("unsupported chain %q", chain)
	}
}

func chainID(chain string) (string, error) {
	switch chain {
	case config.ChainSolana:
		return chainIDSolana, nil
	case config.ChainBSC:
		return chainIDBSC, nil
	default:
		return "", fmt.Errorf("unsupported chain %q", chain)
	}
}

// formatSlippage renders a percent value the way the aggregator wants it,
// as a decimal fraction.
func formatSlippage(percent float64) string {
	return strconv.FormatFloat(percent/100, 'f', -1, 64)
}

// decodeTxData handles both encodings the aggregator uses for Solana
// transactions, base58 with a base64 fallback.
func decodeTxData(data string) ([]byte, error) {
	if raw, err := base58.Decode(data); err == nil {
		return raw, nil
	}
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, errors.New("transaction data is neither base58 nor base64")
	}
	return raw, nil
}

func (c *Client) get(ctx context.Context, requestPath string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+requestPath, nil)
	if err != nil {
		return err
	}
	c.authorize(req, http.MethodGet, requestPath, "")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if env.Code != "0" {
		return fmt.Errorf("okx code %s: %s", env.Code, env.Msg)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode response data: %w", err)
	}
	return nil
}

// authorize attaches the OK-ACCESS headers. The signature covers the ISO
// timestamp, the method and the full request path including the query.
func (c *Client) authorize(req *http.Request, method, requestPath, body string) {
	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
	mac := hmac.New(sha256.New, []byte(c.secret))
	mac.Write([]byte(timestamp + method + requestPath + body))
	req.Header.Set("OK-ACCESS-KEY", c.apiKey)
	req.Header.Set("OK-ACCESS-SIGN", base64.StdEncoding.EncodeToString(mac.Sum(nil)))
	req.Header.Set("OK-ACCESS-TIMESTAMP", timestamp)
	req.Header.Set("OK-ACCESS-PASSPHRASE", c.passphrase)
	req.Header.Set("Content-Type", "application/json")
}
