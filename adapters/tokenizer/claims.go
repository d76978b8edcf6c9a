package tokenizer

import "github.com/golang-jwt/jwt/v5"

// DecisionClaims combines standard claims with the consent decision.
// Subject is the approval key "<tabId>:<requestId>".
type DecisionClaims struct {
	jwt.RegisteredClaims
	TabID      int    `json:"tab"`
	RequestID  int64  `json:"rid"`
	Outcome    string `json:"outcome"`
	Artifact   string `json:"artifact,omitempty"`
	TTLSeconds int64  `json:"ttl,omitempty"`
}
