package commits

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
)

type hashedRequest struct {
	Kind          string `json:"kind"`
	AmountCents   int64  `json:"amount_cents"`
	EntityID      string `json:"entity_id"`
	Method        string `json:"method,omitempty"`
	CustomerName  string `json:"customer_name,omitempty"`
	CustomerPhone string `json:"customer_phone,omitempty"`
	RefundOf      string `json:"refund_of,omitempty"`
}

// requestHash fingerprints the business payload of a commit. Operator and
// terminal are left out so a retry from a re-authenticated session still
// matches.
func requestHash(input CreateInput) (string, error) {
	req := hashedRequest{
		Kind:        input.Kind.String(),
		AmountCents: input.AmountCents,
		EntityID:    input.ResolvedEntityID.String(),
	}
	if input.Method != nil {
		req.Method = input.Method.String()
	}
	if input.Customer != nil {
		req.CustomerName = input.Customer.Name
		req.CustomerPhone = input.Customer.Phone
	}
	if input.RefundOf != nil {
		req.RefundOf = input.RefundOf.String()
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(payload)
	return base64.StdEncoding.EncodeToString(sum[:]), nil
}
