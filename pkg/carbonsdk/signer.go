package carbonsdk

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	"github.com/archon-research/carbon-dex/internal/pkg/hexutil"
	"github.com/archon-research/carbon-dex/internal/pkg/sealing"
)

// Side values, matching the on-chain orderType encoding.
const (
	Buy  int64 = 0
	Sell int64 = 1
)

// Signer seals order fields and signs proofs for one wallet.
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewSigner creates a signer from a secp256k1 private key.
func NewSigner(key *ecdsa.PrivateKey) (*Signer, error) {
	if key == nil {
		return nil, fmt.Errorf("private key is required")
	}
	return &Signer{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

// NewSignerFromHex creates a signer from a hex-encoded private key.
func NewSignerFromHex(s string) (*Signer, error) {
	b, err := hexutil.DecodeBytes(s)
	if err != nil {
		return nil, err
	}
	key, err := crypto.ToECDSA(b)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return NewSigner(key)
}

// Address returns the wallet address.
func (s *Signer) Address() common.Address {
	return s.address
}

// PrivateKey returns the wallet key, for signing on-chain transactions.
func (s *Signer) PrivateKey() *ecdsa.PrivateKey {
	return s.key
}

// OrderParams is the plaintext of an order before sealing.
type OrderParams struct {
	Symbol        string
	Side          int64
	Price         int64
	Quantity      int64
	ClientOrderID string
}

// SealOrder seals p to the exchange key and signs the order proof. The proof
// covers the client order id, so a fresh one is generated when p has none;
// resubmitting the returned request is then idempotent.
func (s *Signer) SealOrder(exchangeKey sealing.PublicKey, p OrderParams) (CreateOrderRequest, error) {
	if p.ClientOrderID == "" {
		p.ClientOrderID = uuid.NewString()
	}
	qty, err := sealing.Seal(exchangeKey, p.Symbol, sealing.FieldQuantity, p.Quantity)
	if err != nil {
		return CreateOrderRequest{}, fmt.Errorf("failed to seal quantity: %w", err)
	}
	price, err := sealing.Seal(exchangeKey, p.Symbol, sealing.FieldPrice, p.Price)
	if err != nil {
		return CreateOrderRequest{}, fmt.Errorf("failed to seal price: %w", err)
	}
	side, err := sealing.Seal(exchangeKey, p.Symbol, sealing.FieldSide, p.Side)
	if err != nil {
		return CreateOrderRequest{}, fmt.Errorf("failed to seal side: %w", err)
	}
	proof, err := sealing.Sign(sealing.OrderDigest(p.Symbol, p.ClientOrderID, qty, price, side), s.key)
	if err != nil {
		return CreateOrderRequest{}, err
	}
	return CreateOrderRequest{
		Trader:        s.address.Hex(),
		Symbol:        p.Symbol,
		ClientOrderID: p.ClientOrderID,
		EncQuantity:   hexutil.EncodeBytes(qty),
		EncPrice:      hexutil.EncodeBytes(price),
		EncOrderType:  hexutil.EncodeBytes(side),
		Proof:         hexutil.EncodeBytes(proof),
	}, nil
}

// Cancel signs a cancel for orderID.
func (s *Signer) Cancel(orderID uint64) (CancelOrderRequest, error) {
	proof, err := sealing.Sign(sealing.CancelDigest(orderID), s.key)
	if err != nil {
		return CancelOrderRequest{}, err
	}
	return CancelOrderRequest{Trader: s.address.Hex(), Proof: hexutil.EncodeBytes(proof)}, nil
}

// Match seals the match quantity and signs an explicit match. Only the
// exchange operator's signer is accepted.
func (s *Signer) Match(exchangeKey sealing.PublicKey, symbol string, buyID, sellID uint64, qty int64) (MatchOrdersRequest, error) {
	encQty, err := sealing.Seal(exchangeKey, symbol, sealing.FieldMatchQuantity, qty)
	if err != nil {
		return MatchOrdersRequest{}, fmt.Errorf("failed to seal match quantity: %w", err)
	}
	proof, err := sealing.Sign(sealing.MatchDigest(buyID, sellID, encQty), s.key)
	if err != nil {
		return MatchOrdersRequest{}, err
	}
	return MatchOrdersRequest{
		BuyOrderID:  buyID,
		SellOrderID: sellID,
		EncQuantity: hexutil.EncodeBytes(encQty),
		Proof:       hexutil.EncodeBytes(proof),
	}, nil
}

// ViewOrderProof signs a request to read back one of the signer's orders.
func (s *Signer) ViewOrderProof(orderID uint64) ([]byte, error) {
	return sealing.Sign(sealing.ViewOrderDigest(orderID), s.key)
}

// ViewPositionProof signs a request to read the signer's position in symbol.
func (s *Signer) ViewPositionProof(symbol string) ([]byte, error) {
	return sealing.Sign(sealing.ViewPositionDigest(s.address, symbol), s.key)
}
