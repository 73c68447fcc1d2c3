package evm

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"markup-arb-bot/internal/config"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
)

// Wallet signs and lands swap transactions on an EVM chain. Swap providers
// return raw calldata; the wallet wraps it in a legacy transaction, signs
// it and waits for the receipt.
type Wallet struct {
	client           *ethclient.Client
	key              *ecdsa.PrivateKey
	address          common.Address
	chainID          *big.Int
	receiptTimeout   time.Duration
	gasLimitFallback uint64
	log              *zap.Logger
}

func New(cfg config.EVMConfig, log *zap.Logger) (*Wallet, error) {
	if cfg.PrivateKey == "" {
		return nil, errors.New("evm private key is not configured")
	}
	if cfg.RPCURL == "" {
		return nil, errors.New("evm rpc url is not configured")
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(cfg.PrivateKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse evm private key: %w", err)
	}
	client, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial evm rpc: %w", err)
	}
	receiptTimeout := cfg.ReceiptTimeout
	if receiptTimeout <= 0 {
		receiptTimeout = 90 * time.Second
	}
	gasLimitFallback := cfg.GasLimitFallback
	if gasLimitFallback == 0 {
		gasLimitFallback = 300000
	}
	return &Wallet{
		client:           client,
		key:              key,
		address:          crypto.PubkeyToAddress(key.PublicKey),
		chainID:          big.NewInt(cfg.ChainID),
		receiptTimeout:   receiptTimeout,
		gasLimitFallback: gasLimitFallback,
		log:              log,
	}, nil
}

// Address returns the wallet address in checksummed hex.
func (w *Wallet) Address() string {
	return w.address.Hex()
}

func (w *Wallet) Close() {
	w.client.Close()
}

// SendCall signs and broadcasts a contract call, then waits for the receipt.
// Zero gasLimit triggers estimation with the configured fallback, nil or
// zero gasPrice uses the node suggestion.
func (w *Wallet) SendCall(ctx context.Context, to string, data []byte, value, gasPrice *big.Int, gasLimit uint64) (string, error) {
	if !common.IsHexAddress(to) {
		return "", fmt.Errorf("invalid contract address %q", to)
	}
	toAddr := common.HexToAddress(to)
	if value == nil {
		value = big.NewInt(0)
	}

	nonce, err := w.client.PendingNonceAt(ctx, w.address)
	if err != nil {
		return "", fmt.Errorf("fetch nonce: %w", err)
	}
	if gasPrice == nil || gasPrice.Sign() <= 0 {
		gasPrice, err = w.client.SuggestGasPrice(ctx)
		if err != nil {
			return "", fmt.Errorf("suggest gas price: %w", err)
		}
	}
	if gasLimit == 0 {
		gasLimit, err = w.client.EstimateGas(ctx, ethereum.CallMsg{
			From:  w.address,
			To:    &toAddr,
			Value: value,
			Data:  data,
		})
		if err != nil {
			w.log.Warn("gas estimation failed, using fallback",
				zap.Uint64("fallback", w.gasLimitFallback),
				zap.Error(err))
			gasLimit = w.gasLimitFallback
		}
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gasLimit,
		To:       &toAddr,
		Value:    value,
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.NewEIP155Signer(w.chainID), w.key)
	if err != nil {
		return "", fmt.Errorf("sign transaction: %w", err)
	}
	if err := w.client.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("send transaction: %w", err)
	}
	w.log.Info("evm transaction sent", zap.String("tx", signed.Hash().Hex()))

	waitCtx, cancel := context.WithTimeout(ctx, w.receiptTimeout)
	defer cancel()
	receipt, err := bind.WaitMined(waitCtx, w.client, signed)
	if err != nil {
		return "", fmt.Errorf("wait for receipt of %s: %w", signed.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return "", fmt.Errorf("transaction %s reverted", signed.Hash().Hex())
	}
	return signed.Hash().Hex(), nil
}
