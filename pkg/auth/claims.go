package auth

import (
	"github.com/golang-jwt/jwt/v5"

	"github.com/angelmondragon/posflow/pkg/enums"
)

// OperatorTokenPayload captures the data available when minting an operator JWT.
type OperatorTokenPayload struct {
	OperatorID string
	TerminalID string
	Role       enums.OperatorRole
	JTI        string
}

// OperatorClaims represents the typed JWT presented by terminals.
type OperatorClaims struct {
	OperatorID string             `json:"operator_id"`
	TerminalID string             `json:"terminal_id,omitempty"`
	Role       enums.OperatorRole `json:"role"`
	jwt.RegisteredClaims
}
