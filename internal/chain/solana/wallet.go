package solana

import (
	"context"
	"errors"
	"fmt"
	"time"

	"markup-arb-bot/internal/config"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
)

const confirmPollInterval = 2 * time.Second

// Wallet signs and lands transactions for the Solana hedge leg. Swap
// providers hand back a serialized transaction; the wallet only ever adds
// its own signature to it.
type Wallet struct {
	rpc            *rpc.Client
	privateKey     solana.PrivateKey
	publicKey      solana.PublicKey
	confirmTimeout time.Duration
	log            *zap.Logger
}

func New(cfg config.SolanaConfig, log *zap.Logger) (*Wallet, error) {
	if cfg.PrivateKey == "" {
		return nil, errors.New("solana private key is not configured")
	}
	privateKey, err := solana.PrivateKeyFromBase58(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("parse solana private key: %w", err)
	}
	confirmTimeout := cfg.ConfirmTimeout
	if confirmTimeout <= 0 {
		confirmTimeout = 60 * time.Second
	}
	return &Wallet{
		rpc:            rpc.New(cfg.RPCURL),
		privateKey:     privateKey,
		publicKey:      privateKey.PublicKey(),
		confirmTimeout: confirmTimeout,
		log:            log,
	}, nil
}

// Address returns the wallet public key in base58.
func (w *Wallet) Address() string {
	return w.publicKey.String()
}

// SignTransaction adds the wallet signature to a serialized transaction and
// returns the signed bytes together with the transaction signature. Used
// when the swap provider broadcasts the transaction itself.
func (w *Wallet) SignTransaction(txBytes []byte) ([]byte, string, error) {
	tx, err := w.sign(txBytes)
	if err != nil {
		return nil, "", err
	}
	signed, err := tx.MarshalBinary()
	if err != nil {
		return nil, "", fmt.Errorf("serialize transaction: %w", err)
	}
	return signed, tx.Signatures[0].String(), nil
}

// SignAndSend signs a serialized transaction and broadcasts it through the
// configured RPC node.
func (w *Wallet) SignAndSend(ctx context.Context, txBytes []byte) (string, error) {
	tx, err := w.sign(txBytes)
	if err != nil {
		return "", err
	}
	maxRetries := uint(3)
	sig, err := w.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: rpc.CommitmentConfirmed,
		MaxRetries:          &maxRetries,
	})
	if err != nil {
		return "", fmt.Errorf("send transaction: %w", err)
	}
	w.log.Info("solana transaction sent", zap.String("signature", sig.String()))
	return sig.String(), nil
}

func (w *Wallet) sign(txBytes []byte) (*solana.Transaction, error) {
	tx, err := solana.TransactionFromBytes(txBytes)
	if err != nil {
		return nil, fmt.Errorf("parse transaction: %w", err)
	}
	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if w.publicKey.Equals(key) {
			return &w.privateKey
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	if len(tx.Signatures) == 0 || tx.Signatures[0].IsZero() {
		return nil, errors.New("transaction is missing the wallet signature")
	}
	return tx, nil
}

// Confirm polls signature status until the transaction is confirmed or the
// confirm timeout elapses. An on-chain execution error fails the wait.
func (w *Wallet) Confirm(ctx context.Context, signature string) error {
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return fmt.Errorf("invalid signature: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, w.confirmTimeout)
	defer cancel()

	ticker := time.NewTicker(confirmPollInterval)
	defer ticker.Stop()

	for {
		statuses, err := w.rpc.GetSignatureStatuses(ctx, false, sig)
		if err == nil && len(statuses.Value) > 0 && statuses.Value[0] != nil {
			status := statuses.Value[0]
			if status.Err != nil {
				return fmt.Errorf("transaction %s failed: %v", signature, status.Err)
			}
			if status.ConfirmationStatus == rpc.ConfirmationStatusConfirmed ||
				status.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
				return nil
			}
		}
		if err != nil {
			w.log.Warn("signature status check failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("confirmation of %s timed out: %w", signature, ctx.Err())
		case <-ticker.C:
		}
	}
}
