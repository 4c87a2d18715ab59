package apple_iap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppAccountToken_RoundTripNumeric(t *testing.T) {
	userID := "1234567890"

	token, err := AppAccountToken(userID)
	require.NoError(t, err)
	require.Equal(t, "0a123456-7890-aaaa-aaaa-aaaaaaaaaaaa", token)

	decoded, err := UserIDFromAppAccountToken(token)
	require.NoError(t, err)
	require.Equal(t, userID, decoded)
	require.True(t, TokenMatchesUser(token, userID))
}

func TestAppAccountToken_RoundTripHexLeadingA(t *testing.T) {
	userID := "a1bcdef234"

	token, err := AppAccountToken(userID)
	require.NoError(t, err)

	decoded, err := UserIDFromAppAccountToken(token)
	require.NoError(t, err)
	require.Equal(t, userID, decoded)
}

func TestAppAccountToken_OpaqueIDsAreStableButOneWay(t *testing.T) {
	userID := "firebase:Zx81-uid"

	first, err := AppAccountToken(userID)
	require.NoError(t, err)
	second, err := AppAccountToken(userID)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.True(t, TokenMatchesUser(first, userID))
	require.False(t, TokenMatchesUser(first, "someone-else"))

	_, err = UserIDFromAppAccountToken(first)
	require.Error(t, err)
}

func TestAppAccountToken_RejectsEmpty(t *testing.T) {
	_, err := AppAccountToken("")
	require.Error(t, err)
	require.False(t, TokenMatchesUser("anything", ""))
}

func TestUserIDFromAppAccountToken_RejectsUnknownScheme(t *testing.T) {
	_, err := UserIDFromAppAccountToken("4b825dc6-5f3b-4f8e-b9d6-4f4f2d8c1122")
	require.ErrorIs(t, err, ErrUnknownTokenScheme)

	_, err = UserIDFromAppAccountToken("aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaa1234")
	require.Error(t, err)

	_, err = UserIDFromAppAccountToken("not-a-uuid")
	require.Error(t, err)
}
