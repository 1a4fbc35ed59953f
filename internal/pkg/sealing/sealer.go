// Package sealing implements the confidential value envelopes used for order
// quantities, prices and sides, and the signature proofs that bind them to a trader.
//
// An envelope is sealed to the exchange's X25519 public key:
//
//	ephemeral public key (32) || nonce (24) || XChaCha20-Poly1305(value) (8+16)
//
// The AEAD key is derived with HKDF-SHA256 from the X25519 shared secret. The
// associated data binds each envelope to its market symbol and field name, so a
// sealed price cannot be replayed as a quantity or moved to another market.
package sealing

import (
	"bytes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// Field names bound into the associated data.
const (
	FieldQuantity      = "quantity"
	FieldPrice         = "price"
	FieldSide          = "side"
	FieldRemaining     = "remaining"
	FieldMatchQuantity = "match-quantity"
)

const (
	KeySize      = curve25519.PointSize
	valueSize    = 8
	EnvelopeSize = KeySize + chacha20poly1305.NonceSizeX + valueSize + chacha20poly1305.Overhead

	aadPrefix = "carbon-dex/v1"
	hkdfInfo  = "carbon-dex/v1 seal"
)

var (
	ErrPlaceholderCiphertext = errors.New("placeholder ciphertext")
	ErrMalformedEnvelope     = errors.New("malformed envelope")
	ErrOpenFailed            = errors.New("envelope authentication failed")
)

// PublicKey is an X25519 public key.
type PublicKey [KeySize]byte

func (k PublicKey) String() string {
	return hex.EncodeToString(k[:])
}

// ParsePublicKey decodes a hex-encoded public key, with or without 0x prefix.
func ParsePublicKey(s string) (PublicKey, error) {
	var pk PublicKey
	b, err := decodeHex(s)
	if err != nil {
		return pk, fmt.Errorf("failed to decode public key: %w", err)
	}
	if len(b) != KeySize {
		return pk, fmt.Errorf("public key must be %d bytes, got %d", KeySize, len(b))
	}
	copy(pk[:], b)
	return pk, nil
}

// Sealer opens envelopes addressed to the exchange key and seals values back to it.
type Sealer struct {
	private [KeySize]byte
	public  PublicKey
	rand    io.Reader
}

// NewSealer creates a Sealer from a 32-byte X25519 private key.
func NewSealer(privateKey []byte) (*Sealer, error) {
	if len(privateKey) != KeySize {
		return nil, fmt.Errorf("private key must be %d bytes, got %d", KeySize, len(privateKey))
	}
	s := &Sealer{rand: rand.Reader}
	copy(s.private[:], privateKey)
	pub, err := curve25519.X25519(s.private[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive public key: %w", err)
	}
	copy(s.public[:], pub)
	return s, nil
}

// NewSealerFromHex creates a Sealer from a hex-encoded private key.
func NewSealerFromHex(s string) (*Sealer, error) {
	b, err := decodeHex(s)
	if err != nil {
		return nil, fmt.Errorf("failed to decode private key: %w", err)
	}
	return NewSealer(b)
}

// GenerateKey returns a fresh X25519 private key.
func GenerateKey() ([]byte, error) {
	k := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, k); err != nil {
		return nil, err
	}
	return k, nil
}

// PublicKey returns the key clients seal to.
func (s *Sealer) PublicKey() PublicKey {
	return s.public
}

// Seal seals v to the exchange's own key.
func (s *Sealer) Seal(symbol, field string, v int64) ([]byte, error) {
	return seal(s.rand, s.public, symbol, field, v)
}

// Open authenticates and decrypts an envelope addressed to the exchange key.
func (s *Sealer) Open(symbol, field string, envelope []byte) (int64, error) {
	if err := CheckEnvelope(envelope); err != nil {
		return 0, err
	}
	ephemeral := envelope[:KeySize]
	nonce := envelope[KeySize : KeySize+chacha20poly1305.NonceSizeX]
	ct := envelope[KeySize+chacha20poly1305.NonceSizeX:]

	shared, err := curve25519.X25519(s.private[:], ephemeral)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrOpenFailed, err)
	}
	aead, err := newAEAD(shared, ephemeral, s.public[:])
	if err != nil {
		return 0, err
	}
	pt, err := aead.Open(nil, nonce, ct, associatedData(symbol, field))
	if err != nil {
		return 0, ErrOpenFailed
	}
	return int64(binary.BigEndian.Uint64(pt)), nil
}

// Seal seals v to recipient. Traders use it to build order payloads.
func Seal(recipient PublicKey, symbol, field string, v int64) ([]byte, error) {
	return seal(rand.Reader, recipient, symbol, field, v)
}

// CheckEnvelope rejects empty, wrongly sized and zero-filled envelopes without decrypting.
func CheckEnvelope(envelope []byte) error {
	if len(envelope) == 0 {
		return fmt.Errorf("%w: empty", ErrMalformedEnvelope)
	}
	if isZero(envelope) {
		return ErrPlaceholderCiphertext
	}
	if len(envelope) != EnvelopeSize {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrMalformedEnvelope, len(envelope), EnvelopeSize)
	}
	return nil
}

func seal(r io.Reader, recipient PublicKey, symbol, field string, v int64) ([]byte, error) {
	ephPriv := make([]byte, KeySize)
	if _, err := io.ReadFull(r, ephPriv); err != nil {
		return nil, fmt.Errorf("failed to generate ephemeral key: %w", err)
	}
	ephPub, err := curve25519.X25519(ephPriv, curve25519.Basepoint)
	if err != nil {
		return nil, err
	}
	shared, err := curve25519.X25519(ephPriv, recipient[:])
	if err != nil {
		return nil, fmt.Errorf("invalid recipient key: %w", err)
	}
	aead, err := newAEAD(shared, ephPub, recipient[:])
	if err != nil {
		return nil, err
	}

	out := make([]byte, KeySize+chacha20poly1305.NonceSizeX, EnvelopeSize)
	copy(out, ephPub)
	nonce := out[KeySize:]
	if _, err := io.ReadFull(r, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	var pt [valueSize]byte
	binary.BigEndian.PutUint64(pt[:], uint64(v))
	return aead.Seal(out, nonce, pt[:], associatedData(symbol, field)), nil
}

func newAEAD(shared, ephemeral, recipient []byte) (cipher.AEAD, error) {
	salt := make([]byte, 0, 2*KeySize)
	salt = append(salt, ephemeral...)
	salt = append(salt, recipient...)
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, shared, salt, []byte(hkdfInfo)), key); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	return chacha20poly1305.NewX(key)
}

func associatedData(symbol, field string) []byte {
	return []byte(aadPrefix + "|" + symbol + "|" + field)
}

func isZero(b []byte) bool {
	return len(b) > 0 && bytes.Count(b, []byte{0}) == len(b)
}

func decodeHex(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
}
