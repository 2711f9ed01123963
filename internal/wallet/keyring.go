// Package wallet holds the in-memory development keyring. Production
// deployments implement Registry against an external signer service and
// leave the config key list empty.
package wallet

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// TxSigner signs transactions for a single account.
type TxSigner interface {
	Address() common.Address
	Sign(ctx context.Context, tx *types.Transaction) (*types.Transaction, error)
}

// Registry resolves the signer for a source account.
type Registry interface {
	Signer(account common.Address) (TxSigner, error)
}

// Keyring is an in-memory Registry backed by config-loaded hex keys.
type Keyring struct {
	mu      sync.RWMutex
	signers map[common.Address]*Signer
}

// Signer signs with one held private key.
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
	signer  types.Signer
}

// NewKeyring loads hex-encoded private keys and derives their addresses.
// Duplicate keys are a config mistake and rejected.
func NewKeyring(chainID int64, hexKeys []string) (*Keyring, error) {
	if chainID <= 0 {
		return nil, fmt.Errorf("wallet: chain id must be positive")
	}

	k := &Keyring{
		signers: make(map[common.Address]*Signer, len(hexKeys)),
	}
	txSigner := types.LatestSignerForChainID(big.NewInt(chainID))

	for i, hexKey := range hexKeys {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("wallet: key %d: %w", i, err)
		}

		address := crypto.PubkeyToAddress(key.PublicKey)
		if _, exists := k.signers[address]; exists {
			return nil, fmt.Errorf("wallet: duplicate key for %s", address.Hex())
		}

		k.signers[address] = &Signer{
			key:     key,
			address: address,
			signer:  txSigner,
		}
	}

	return k, nil
}

// Signer returns the signer for account, or an error when the keyring does
// not hold its key.
func (k *Keyring) Signer(account common.Address) (TxSigner, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	s, ok := k.signers[account]
	if !ok {
		return nil, fmt.Errorf("wallet: no key for account %s", account.Hex())
	}
	return s, nil
}

// Accounts returns every address the keyring can sign for.
func (k *Keyring) Accounts() []common.Address {
	k.mu.RLock()
	defer k.mu.RUnlock()

	accounts := make([]common.Address, 0, len(k.signers))
	for addr := range k.signers {
		accounts = append(accounts, addr)
	}
	return accounts
}

// Address returns the account this signer signs for.
func (s *Signer) Address() common.Address {
	return s.address
}

// Sign signs the transaction with the held key.
func (s *Signer) Sign(ctx context.Context, tx *types.Transaction) (*types.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	signed, err := types.SignTx(tx, s.signer, s.key)
	if err != nil {
		return nil, fmt.Errorf("wallet: signing for %s: %w", s.address.Hex(), err)
	}
	return signed, nil
}
