// Package signer holds the wallet's key material. Nothing outside the
// approval surface should reach it.
package signer

import (
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/bits"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/layer-3/walletlink/codec"
	"github.com/layer-3/walletlink/core"
	"github.com/layer-3/walletlink/ports"
)

// Signature kinds accepted by the signer.
const (
	KindEd25519 = "Ed25519"
	KindECDSA   = "ECDSA"
)

// TxExpiry is how long a signed transaction stays valid on chain.
const TxExpiry = 5 * time.Minute

// KeySigner signs with one seed for both curves and submits transactions
// through the chain client.
type KeySigner struct {
	ed    ed25519.PrivateKey
	ec    *ecdsa.PrivateKey
	chain ports.ChainClient
	now   core.Clock
}

// NewKeySigner derives both keys from a 32 byte hex seed.
func NewKeySigner(seedHex string, chain ports.ChainClient) (*KeySigner, error) {
	seed, err := hex.DecodeString(strings.TrimPrefix(seedHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("signer seed is not hex: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("signer seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	ec, err := crypto.ToECDSA(seed)
	if err != nil {
		return nil, fmt.Errorf("invalid secp256k1 key: %w", err)
	}
	return &KeySigner{
		ed:    ed25519.NewKeyFromSeed(seed),
		ec:    ec,
		chain: chain,
		now:   time.Now,
	}, nil
}

// EthAddress returns the address of the secp256k1 key.
func (s *KeySigner) EthAddress() string {
	return crypto.PubkeyToAddress(s.ec.PublicKey).Hex()
}

type unsignedTx struct {
	Nexus      string
	Chain      string
	Script     []byte
	Expiration uint64
	Payload    []byte
}

type signedTx struct {
	Body      []byte
	Nonce     uint64
	Kind      string
	Signature []byte
}

// SignTransaction mines the requested proof of work, signs the transaction
// and submits it. The hash comes from the node.
func (s *KeySigner) SignTransaction(ctx context.Context, tx core.TxData) (string, error) {
	script, err := decodeHex(tx.Script)
	if err != nil {
		return "", fmt.Errorf("script: %w", err)
	}
	payload, err := decodeHex(tx.Payload)
	if err != nil {
		return "", fmt.Errorf("payload: %w", err)
	}

	body, err := rlp.EncodeToBytes(unsignedTx{
		Nexus:      tx.Nexus,
		Chain:      tx.Chain,
		Script:     script,
		Expiration: uint64(s.now().Add(TxExpiry).Unix()),
		Payload:    payload,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode transaction: %w", err)
	}

	difficulty, ok := codec.ProofOfWorkLevel(tx.ProofOfWork)
	if !ok {
		return "", fmt.Errorf("unknown proof of work %q", tx.ProofOfWork)
	}
	nonce, err := mine(ctx, body, difficulty)
	if err != nil {
		return "", err
	}

	kind := tx.Signature
	if kind == "" {
		kind = KindEd25519
	}
	sig, err := s.sign(work(body, nonce), kind)
	if err != nil {
		return "", err
	}

	raw, err := rlp.EncodeToBytes(signedTx{Body: body, Nonce: nonce, Kind: kind, Signature: sig})
	if err != nil {
		return "", fmt.Errorf("failed to encode signed transaction: %w", err)
	}

	return s.chain.SendRawTransaction(ctx, hex.EncodeToString(raw))
}

// SignData signs data and returns the hex signature.
func (s *KeySigner) SignData(_ context.Context, data []byte, kind string) (string, error) {
	sig, err := s.sign(data, kind)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sig), nil
}

func (s *KeySigner) sign(msg []byte, kind string) ([]byte, error) {
	switch kind {
	case KindEd25519:
		return ed25519.Sign(s.ed, msg), nil
	case KindECDSA:
		sig, err := crypto.Sign(crypto.Keccak256(msg), s.ec)
		if err != nil {
			return nil, fmt.Errorf("ecdsa sign: %w", err)
		}
		return sig, nil
	}
	return nil, fmt.Errorf("unsupported signature kind %q", kind)
}

// mine finds a nonce whose work hash has at least difficulty leading zero
// bits.
func mine(ctx context.Context, body []byte, difficulty int) (uint64, error) {
	if difficulty <= 0 {
		return 0, nil
	}
	for nonce := uint64(0); ; nonce++ {
		if nonce%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return 0, err
			}
		}
		if leadingZeroBits(crypto.Keccak256(work(body, nonce))) >= difficulty {
			return nonce, nil
		}
	}
}

func work(body []byte, nonce uint64) []byte {
	out := make([]byte, len(body)+8)
	copy(out, body)
	binary.BigEndian.PutUint64(out[len(body):], nonce)
	return out
}

func leadingZeroBits(h []byte) int {
	n := 0
	for _, b := range h {
		if b != 0 {
			return n + bits.LeadingZeros8(b)
		}
		n += 8
	}
	return n
}

func decodeHex(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	if !strings.HasPrefix(s, "0x") {
		s = "0x" + s
	}
	return hexutil.Decode(s)
}
