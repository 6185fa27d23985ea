package auth

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the display fields carried in an access token payload.
type Claims struct {
	FirstName string
	LastName  string
	// ExpiresAt is the normalized exp claim, zero when absent.
	ExpiresAt int64
}

var (
	firstNameKeys = []string{"firstName", "first_name", "given_name"}
	lastNameKeys  = []string{"lastName", "last_name", "family_name"}
)

// DecodeClaims reads the payload of a JWT without verifying its signature.
// Malformed or opaque tokens yield empty Claims; it never fails.
func DecodeClaims(token string, now time.Time) Claims {
	if strings.Count(token, ".") != 2 {
		return Claims{}
	}

	mc := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, mc); err != nil {
		return Claims{}
	}

	c := Claims{
		FirstName: firstString(mc, firstNameKeys),
		LastName:  firstString(mc, lastNameKeys),
	}
	if exp, ok := numericClaim(mc["exp"]); ok && exp > 0 {
		c.ExpiresAt = NormalizeExpiry(exp, now)
	}
	return c
}

func firstString(mc jwt.MapClaims, keys []string) string {
	for _, k := range keys {
		if s, ok := mc[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func numericClaim(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case json.Number:
		f, err := n.Float64()
		return int64(f), err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return int64(f), err == nil
	default:
		return 0, false
	}
}
