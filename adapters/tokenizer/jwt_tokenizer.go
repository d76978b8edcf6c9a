package tokenizer

import (
	"crypto/ecdsa"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/layer-3/walletlink/core"
	"github.com/layer-3/walletlink/ports"
)

const AudienceDecision = "consent:decision"

// DefaultReceiptExpiry bounds how long a signed decision may be replayed
const DefaultReceiptExpiry = time.Minute

// JWTTokenizer implements the ReceiptTokenizer interface using ES256 JWTs
type JWTTokenizer struct {
	signKey *ecdsa.PrivateKey
	expiry  time.Duration
	now     core.Clock
}

// NewJWTTokenizer creates a new JWT tokenizer
func NewJWTTokenizer(signKey *ecdsa.PrivateKey) ports.ReceiptTokenizer {
	return &JWTTokenizer{
		signKey: signKey,
		expiry:  DefaultReceiptExpiry,
		now:     time.Now,
	}
}

// DecisionToToken converts a Decision to a signed receipt
func (j *JWTTokenizer) DecisionToToken(decision *core.Decision) (string, error) {
	now := j.now()
	claims := DecisionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   core.ApprovalKey(decision.TabID, decision.RequestID),
			ID:        uuid.New().String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(j.expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			Audience:  jwt.ClaimStrings{AudienceDecision},
		},
		TabID:      decision.TabID,
		RequestID:  decision.RequestID,
		Outcome:    string(decision.Outcome),
		Artifact:   decision.Artifact,
		TTLSeconds: int64(decision.TTL / time.Second),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)

	signedToken, err := token.SignedString(j.signKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign receipt: %w", err)
	}

	return signedToken, nil
}

// TokenToDecision verifies a receipt and returns the decision it carries
func (j *JWTTokenizer) TokenToDecision(tokenStr string) (*core.Decision, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &DecisionClaims{}, func(token *jwt.Token) (interface{}, error) {
		// Validate the signing method
		if _, ok := token.Method.(*jwt.SigningMethodECDSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return &j.signKey.PublicKey, nil
	}, jwt.WithAudience(AudienceDecision), jwt.WithTimeFunc(j.now))

	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidReceipt, err)
	}

	// Validate token
	if !token.Valid {
		return nil, core.ErrInvalidReceipt
	}

	claims, ok := token.Claims.(*DecisionClaims)
	if !ok {
		return nil, fmt.Errorf("%w: invalid claims type", core.ErrInvalidReceipt)
	}

	if claims.Subject != core.ApprovalKey(claims.TabID, claims.RequestID) {
		return nil, fmt.Errorf("%w: subject mismatch", core.ErrInvalidReceipt)
	}

	outcome := core.Outcome(claims.Outcome)
	switch outcome {
	case core.OutcomeApproved, core.OutcomeDenied, core.OutcomeClosed:
	default:
		return nil, fmt.Errorf("%w: unknown outcome %q", core.ErrInvalidReceipt, claims.Outcome)
	}

	return &core.Decision{
		TabID:     claims.TabID,
		RequestID: claims.RequestID,
		Outcome:   outcome,
		Artifact:  claims.Artifact,
		TTL:       time.Duration(claims.TTLSeconds) * time.Second,
	}, nil
}
