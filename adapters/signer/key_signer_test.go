package signer

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/layer-3/walletlink/core"
)

const seed = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

type fakeChain struct {
	sent string
}

func (c *fakeChain) GetAccount(context.Context, string) (*core.ChainAccount, error) { return nil, nil }
func (c *fakeChain) InvokeRawScript(context.Context, string, string) (*core.ScriptResult, error) {
	return nil, nil
}
func (c *fakeChain) SendRawTransaction(_ context.Context, txHex string) (string, error) {
	c.sent = txHex
	return "HASH", nil
}
func (c *fakeChain) Host() string { return "" }

func TestNewKeySigner_RejectsBadSeed(t *testing.T) {
	_, err := NewKeySigner("zz", &fakeChain{})
	assert.Error(t, err)

	_, err = NewKeySigner("abcd", &fakeChain{})
	assert.Error(t, err)
}

func TestSignData(t *testing.T) {
	s, err := NewKeySigner(seed, &fakeChain{})
	require.NoError(t, err)
	msg := []byte("hello")

	sigHex, err := s.SignData(context.Background(), msg, KindEd25519)
	require.NoError(t, err)
	sig, err := hex.DecodeString(sigHex)
	require.NoError(t, err)
	assert.True(t, ed25519.Verify(s.ed.Public().(ed25519.PublicKey), msg, sig))

	sigHex, err = s.SignData(context.Background(), msg, KindECDSA)
	require.NoError(t, err)
	sig, err = hex.DecodeString(sigHex)
	require.NoError(t, err)
	pub, err := crypto.SigToPub(crypto.Keccak256(msg), sig)
	require.NoError(t, err)
	assert.Equal(t, s.EthAddress(), crypto.PubkeyToAddress(*pub).Hex())

	_, err = s.SignData(context.Background(), msg, "RSA")
	assert.Error(t, err)
}

func TestSignTransaction(t *testing.T) {
	chain := &fakeChain{}
	s, err := NewKeySigner(seed, chain)
	require.NoError(t, err)
	s.now = func() time.Time { return time.Unix(1700000000, 0) }

	hash, err := s.SignTransaction(context.Background(), core.TxData{
		Nexus:       "testnet",
		Chain:       "main",
		Script:      "0d00",
		Payload:     "4543542d312e362e30",
		Signature:   KindEd25519,
		ProofOfWork: "Minimal",
	})
	require.NoError(t, err)
	assert.Equal(t, "HASH", hash)

	raw, err := hex.DecodeString(chain.sent)
	require.NoError(t, err)
	var signed signedTx
	require.NoError(t, rlp.DecodeBytes(raw, &signed))
	assert.Equal(t, KindEd25519, signed.Kind)
	assert.GreaterOrEqual(t, leadingZeroBits(crypto.Keccak256(work(signed.Body, signed.Nonce))), 5)
	assert.True(t, ed25519.Verify(s.ed.Public().(ed25519.PublicKey), work(signed.Body, signed.Nonce), signed.Signature))

	var body unsignedTx
	require.NoError(t, rlp.DecodeBytes(signed.Body, &body))
	assert.Equal(t, "testnet", body.Nexus)
	assert.Equal(t, []byte{0x0d, 0x00}, body.Script)
	assert.Equal(t, uint64(1700000000+300), body.Expiration)
}

func TestSignTransaction_BadInput(t *testing.T) {
	s, err := NewKeySigner(seed, &fakeChain{})
	require.NoError(t, err)

	_, err = s.SignTransaction(context.Background(), core.TxData{Script: "xyz"})
	assert.Error(t, err)

	_, err = s.SignTransaction(context.Background(), core.TxData{Script: "00", ProofOfWork: "Ludicrous"})
	assert.Error(t, err)
}

func TestMine_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := mine(ctx, []byte("x"), 30)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLeadingZeroBits(t *testing.T) {
	assert.Equal(t, 0, leadingZeroBits([]byte{0x80}))
	assert.Equal(t, 7, leadingZeroBits([]byte{0x01}))
	assert.Equal(t, 12, leadingZeroBits([]byte{0x00, 0x0f}))
	assert.Equal(t, 16, leadingZeroBits([]byte{0x00, 0x00}))
}
