package sealing

import (
	"crypto/ecdsa"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ProofSize is the length of a recoverable secp256k1 signature (r || s || v).
const ProofSize = crypto.SignatureLength

const (
	orderDomain  = "carbon-dex/v1/order"
	matchDomain  = "carbon-dex/v1/match"
	cancelDomain = "carbon-dex/v1/cancel"
	viewDomain   = "carbon-dex/v1/view"
)

var ErrInvalidProof = errors.New("invalid proof")

// OrderDigest is the message a trader signs to submit an order. The client
// order id makes each signed submission single-use: the exchange accepts one
// order per (trader, client order id).
func OrderDigest(symbol, clientOrderID string, encQty, encPrice, encSide []byte) common.Hash {
	return crypto.Keccak256Hash(
		[]byte(orderDomain),
		crypto.Keccak256([]byte(symbol)),
		crypto.Keccak256([]byte(clientOrderID)),
		encQty,
		encPrice,
		encSide,
	)
}

// MatchDigest is the message the operator signs to match two orders. encQty is
// a fresh envelope per seal, so each digest is settled at most once.
func MatchDigest(buyID, sellID uint64, encQty []byte) common.Hash {
	return crypto.Keccak256Hash(
		[]byte(matchDomain),
		uint64Bytes(buyID),
		uint64Bytes(sellID),
		encQty,
	)
}

// CancelDigest is the message a trader signs to cancel an order.
func CancelDigest(orderID uint64) common.Hash {
	return crypto.Keccak256Hash([]byte(cancelDomain), uint64Bytes(orderID))
}

// ViewOrderDigest is the message a trader signs to read back their own order in plaintext.
func ViewOrderDigest(orderID uint64) common.Hash {
	return crypto.Keccak256Hash([]byte(viewDomain), []byte("order"), uint64Bytes(orderID))
}

// ViewPositionDigest is the message a trader signs to read their position.
func ViewPositionDigest(trader common.Address, symbol string) common.Hash {
	return crypto.Keccak256Hash([]byte(viewDomain), []byte("position"), trader.Bytes(), crypto.Keccak256([]byte(symbol)))
}

// Sign produces a proof over digest.
func Sign(digest common.Hash, key *ecdsa.PrivateKey) ([]byte, error) {
	sig, err := crypto.Sign(digest.Bytes(), key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign digest: %w", err)
	}
	return sig, nil
}

// Recover returns the address that produced proof over digest.
// Both raw signatures and wallet personal_sign signatures (EIP-191 prefixed,
// v in {27, 28}) are accepted; the caller compares the result with the claimed signer.
func Recover(digest common.Hash, proof []byte) (common.Address, error) {
	if len(proof) != ProofSize {
		return common.Address{}, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidProof, len(proof), ProofSize)
	}
	if isZero(proof) {
		return common.Address{}, ErrPlaceholderCiphertext
	}
	sig := make([]byte, ProofSize)
	copy(sig, proof)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(digest.Bytes(), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Verify checks that proof over digest was produced by signer, either directly
// or through a wallet's personal_sign.
func Verify(digest common.Hash, proof []byte, signer common.Address) error {
	if addr, err := Recover(digest, proof); err == nil && addr == signer {
		return nil
	} else if errors.Is(err, ErrPlaceholderCiphertext) {
		return err
	}
	if addr, err := Recover(common.BytesToHash(accounts.TextHash(digest.Bytes())), proof); err == nil && addr == signer {
		return nil
	}
	return fmt.Errorf("%w: not signed by %s", ErrInvalidProof, signer.Hex())
}

func uint64Bytes(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}
