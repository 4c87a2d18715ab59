package apple_iap

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

const (
	uuidHexLen      = 32
	maxUserIDHexLen = 30
	padChar         = 'a'
)

var ErrUnknownTokenScheme = errors.New("app account token is not encoded by a known user id scheme")

// appAccountTokenNamespace seeds the one-way token for user ids that are not short hex strings.
var appAccountTokenNamespace = uuid.MustParse("6f1c1b8e-4a8e-4a0e-9a51-1f9b6e0c7d21")

// AppAccountToken returns the appAccountToken a client should attach to purchases for userID.
// Short hex ids use a reversible length-prefixed layout: [2-hex len][hex id][pad 'a' to 32].
// Anything else maps to a name-based UUID, which can be compared but not decoded.
func AppAccountToken(userID string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("user id is empty")
	}
	normalized := strings.ToLower(userID)
	if !isHex(normalized) || len(normalized) > maxUserIDHexLen {
		return uuid.NewSHA1(appAccountTokenNamespace, []byte(userID)).String(), nil
	}

	var b strings.Builder
	b.Grow(uuidHexLen)
	fmt.Fprintf(&b, "%02x", len(normalized))
	b.WriteString(normalized)
	for b.Len() < uuidHexLen {
		b.WriteByte(padChar)
	}
	return formatUUID(b.String())
}

// UserIDFromAppAccountToken reverses the length-prefixed layout.
func UserIDFromAppAccountToken(token string) (string, error) {
	clean := strings.ToLower(strings.ReplaceAll(token, "-", ""))
	if len(clean) != uuidHexLen || !isHex(clean) {
		return "", fmt.Errorf("invalid uuid format")
	}
	n, err := strconv.ParseUint(clean[:2], 16, 8)
	if err != nil || n == 0 || n > maxUserIDHexLen {
		return "", ErrUnknownTokenScheme
	}
	end := 2 + int(n)
	if strings.Trim(clean[end:], string(padChar)) != "" {
		return "", ErrUnknownTokenScheme
	}
	return clean[2:end], nil
}

// TokenMatchesUser reports whether token was issued for userID by AppAccountToken.
func TokenMatchesUser(token, userID string) bool {
	want, err := AppAccountToken(userID)
	if err != nil {
		return false
	}
	return strings.EqualFold(want, token)
}

func formatUUID(hex string) (string, error) {
	if len(hex) != uuidHexLen {
		return "", fmt.Errorf("invalid uuid hex length: %d", len(hex))
	}
	return strings.Join([]string{hex[:8], hex[8:12], hex[12:16], hex[16:20], hex[20:]}, "-"), nil
}

func isHex(s string) bool {
	if s == "" {
		return false
	}
	for _, ch := range s {
		if !('0' <= ch && ch <= '9' || 'a' <= ch && ch <= 'f' || 'A' <= ch && ch <= 'F') {
			return false
		}
	}
	return true
}
