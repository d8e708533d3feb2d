package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMintAndVerifyRoundTrip(t *testing.T) {
	s := New("test-signing-key")
	tok, err := s.Mint("owner-1", "ws_1")
	require.NoError(t, err)

	claims, err := s.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "owner-1", claims.Subject)
	assert.Equal(t, "ws_1", claims.WorkspaceID)
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	a := New("key-a")
	b := New("key-b")
	tok, err := a.Mint("owner-1", "ws_1")
	require.NoError(t, err)
	_, err = b.Verify(tok)
	assert.Error(t, err)
}

func TestVerifyRejectsGarbage(t *testing.T) {
	s := New("test-signing-key")
	_, err := s.Verify("not-a-jwt")
	assert.Error(t, err)
}
