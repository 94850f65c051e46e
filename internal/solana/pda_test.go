package solana

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPubkey_Bytes(t *testing.T) {
	raw, err := WSOLMint.Bytes()
	require.NoError(t, err)
	assert.Len(t, raw, 32)

	_, err = Pubkey("not-base58-0OIl").Bytes()
	assert.Error(t, err)
}

func TestIsOnCurve_RealKey(t *testing.T) {
	// Wallet and mint addresses are real curve points.
	raw, err := WSOLMint.Bytes()
	require.NoError(t, err)
	assert.True(t, isOnCurve(raw))
}

func TestFindProgramAddress(t *testing.T) {
	addr, bump, err := FindProgramAddress([][]byte{[]byte("amm authority")}, LiquidityProgramID)
	require.NoError(t, err)
	assert.NotEmpty(t, addr)

	// A PDA is off curve.
	raw, err := addr.Bytes()
	require.NoError(t, err)
	assert.False(t, isOnCurve(raw))

	// Deterministic.
	again, bump2, err := FindProgramAddress([][]byte{[]byte("amm authority")}, LiquidityProgramID)
	require.NoError(t, err)
	assert.Equal(t, addr, again)
	assert.Equal(t, bump, bump2)

	// Different seeds give a different address.
	other, _, err := FindProgramAddress([][]byte{[]byte("something else")}, LiquidityProgramID)
	require.NoError(t, err)
	assert.NotEqual(t, addr, other)
}

func TestCreateProgramAddress_SeedTooLong(t *testing.T) {
	_, err := CreateProgramAddress([][]byte{make([]byte, 33)}, LiquidityProgramID)
	assert.Error(t, err)
}

func TestAssociatedMarketAuthority(t *testing.T) {
	// Any real pubkey works as a market id for derivation purposes.
	addr, err := AssociatedMarketAuthority(OpenBookProgramID, USDCMint)
	require.NoError(t, err)
	assert.NotEmpty(t, addr)

	again, err := AssociatedMarketAuthority(OpenBookProgramID, USDCMint)
	require.NoError(t, err)
	assert.Equal(t, addr, again)
}
