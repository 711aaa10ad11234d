package models

import (
	"fmt"
	"math/big"
	"strings"
	"time"
)

// Roles a session may declare at registration. The relay does not verify the
// address-to-role binding; that is the job of the upstream auth service.
const (
	RoleAdmin     = "admin"
	RoleVictim    = "victim"
	RoleMerchant  = "merchant"
	RoleResponder = "responder"
)

var validRoles = map[string]struct{}{
	RoleAdmin:     {},
	RoleVictim:    {},
	RoleMerchant:  {},
	RoleResponder: {},
}

func IsValidRole(role string) bool {
	_, ok := validRoles[role]
	return ok
}

// TrackedTokenIDs are the relief token categories queried for balance reads:
// 1=Food, 2=Medical, 3=Education, 4=Shelter, 5=Utilities.
var TrackedTokenIDs = []int64{1, 2, 3, 4, 5}

// TokenKey returns the balance map key for a token id, e.g. "token1".
func TokenKey(id int64) string {
	return fmt.Sprintf("token%d", id)
}

// NormalizeAddress brings an address to canonical form. Every comparison,
// database write and cache key goes through this; the same address in mixed
// case must never be treated as a distinct identity.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// IsValidAddress reports whether addr looks like a 20-byte hex address.
func IsValidAddress(addr string) bool {
	addr = strings.TrimSpace(addr)
	if len(addr) != 42 || !strings.HasPrefix(addr, "0x") && !strings.HasPrefix(addr, "0X") {
		return false
	}
	for _, c := range addr[2:] {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// tokenDecimals is the fixed decimal scale of relief token amounts.
const tokenDecimals = 18

var unitScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(tokenDecimals), nil)

// FormatUnits renders a base-unit amount as a decimal token-unit string,
// trimming trailing zeros ("1500000000000000000" -> "1.5").
func FormatUnits(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	sign := ""
	abs := new(big.Int).Abs(wei)
	if wei.Sign() < 0 {
		sign = "-"
	}
	quo, rem := new(big.Int).QuoRem(abs, unitScale, new(big.Int))
	if rem.Sign() == 0 {
		return sign + quo.String()
	}
	frac := strings.TrimRight(fmt.Sprintf("%0*s", tokenDecimals, rem.String()), "0")
	return sign + quo.String() + "." + frac
}

// ParseUnits parses a decimal token-unit string into base units.
func ParseUnits(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty amount")
	}
	neg := false
	if s[0] == '-' {
		neg = true
		s = s[1:]
	}
	intPart := s
	fracPart := ""
	if idx := strings.IndexByte(s, '.'); idx >= 0 {
		intPart, fracPart = s[:idx], s[idx+1:]
	}
	if len(fracPart) > tokenDecimals {
		return nil, fmt.Errorf("amount %q has more than %d decimal places", s, tokenDecimals)
	}
	digits := intPart + fracPart + strings.Repeat("0", tokenDecimals-len(fracPart))
	v, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	if neg {
		v.Neg(v)
	}
	return v, nil
}

// Balances maps token keys ("token1".."token5") to token-unit amounts.
type Balances map[string]string

// Transaction is a recorded transfer. TxHash is the idempotency key; rows are
// immutable after first insertion.
type Transaction struct {
	TxHash      string    `json:"tx_hash"`
	FromAddress string    `json:"from_address"`
	ToAddress   string    `json:"to_address"`
	TokenID     int64     `json:"token_id"`
	Amount      string    `json:"amount"`
	Timestamp   time.Time `json:"timestamp"`
}

// User is a registered platform participant.
type User struct {
	Address      string    `json:"address"`
	Name         string    `json:"name"`
	Role         string    `json:"role"`
	Region       string    `json:"region"`
	RegisteredAt time.Time `json:"registered_at"`
}

// Donation is a recorded contribution to a relief campaign.
type Donation struct {
	ID        int64     `json:"id"`
	Donor     string    `json:"donor"`
	Campaign  string    `json:"campaign"`
	Amount    string    `json:"amount"`
	Timestamp time.Time `json:"timestamp"`
}

// Disaster is an externally reported incident. Append-only.
type Disaster struct {
	ID         int64     `json:"id"`
	ExternalID *string   `json:"external_id,omitempty"`
	Location   string    `json:"location"`
	Magnitude  float64   `json:"magnitude"`
	Type       string    `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
}

// Stats are the aggregate counters served by the stats endpoint.
type Stats struct {
	TotalUsers        int64  `json:"total_users"`
	TotalTransactions int64  `json:"total_transactions"`
	TotalDonations    string `json:"total_donations"`
	TotalDisasters    int64  `json:"total_disasters"`
}

// RequestError is the JSON error envelope for the HTTP surface.
type RequestError struct {
	Message string `json:"error"`
	Code    int    `json:"code"`
}

func (r RequestError) Error() string {
	return fmt.Sprintf("Error %d: %s", r.Code, r.Message)
}
