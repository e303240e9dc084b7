package crypto

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer holds the trader's secp256k1 key and signs settlement transactions.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// GenerateKey creates a new random key pair.
func GenerateKey() (*Signer, error) {
	privateKey, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return newSigner(privateKey), nil
}

// FromPrivateKeyHex loads a hex key, with or without 0x prefix.
func FromPrivateKeyHex(hexKey string) (*Signer, error) {
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return newSigner(privateKey), nil
}

func newSigner(k *ecdsa.PrivateKey) *Signer {
	return &Signer{privateKey: k, address: crypto.PubkeyToAddress(k.PublicKey)}
}

func (s *Signer) Address() common.Address {
	return s.address
}

// PrivateKeyHex returns the key without 0x prefix. Never log it.
func (s *Signer) PrivateKeyHex() string {
	return fmt.Sprintf("%x", crypto.FromECDSA(s.privateKey))
}

// SignTx signs a transaction for the given chain.
func (s *Signer) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign tx: %w", err)
	}
	return signed, nil
}

// Sender recovers the address that signed tx.
func Sender(tx *types.Transaction, chainID *big.Int) (common.Address, error) {
	return types.Sender(types.LatestSignerForChainID(chainID), tx)
}
