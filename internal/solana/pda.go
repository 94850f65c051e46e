package solana

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// ---------------------------------------------------------------------------
// Program-derived addresses
// ---------------------------------------------------------------------------

const pdaMarker = "ProgramDerivedAddress"

// Bytes decodes the base58 key into its raw 32 bytes.
func (p Pubkey) Bytes() ([]byte, error) {
	raw, err := base58.Decode(string(p))
	if err != nil {
		return nil, fmt.Errorf("pubkey %q: %w", p, err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("pubkey %q: %d bytes", p, len(raw))
	}
	return raw, nil
}

// isOnCurve reports whether b is a canonical ed25519 point encoding. A PDA
// must not be on the curve.
func isOnCurve(b []byte) bool {
	_, err := new(edwards25519.Point).SetBytes(b)
	return err == nil
}

// CreateProgramAddress derives the address for the given seeds, failing when
// the result lands on the ed25519 curve.
func CreateProgramAddress(seeds [][]byte, program Pubkey) (Pubkey, error) {
	programBytes, err := program.Bytes()
	if err != nil {
		return "", err
	}

	h := sha256.New()
	for _, seed := range seeds {
		if len(seed) > 32 {
			return "", fmt.Errorf("pda: seed longer than 32 bytes")
		}
		h.Write(seed)
	}
	h.Write(programBytes)
	h.Write([]byte(pdaMarker))
	sum := h.Sum(nil)

	if isOnCurve(sum) {
		return "", fmt.Errorf("pda: derived address is on curve")
	}
	return Pubkey(base58.Encode(sum)), nil
}

// FindProgramAddress searches bump seeds from 255 down for a valid PDA.
func FindProgramAddress(seeds [][]byte, program Pubkey) (Pubkey, uint8, error) {
	for bump := 255; bump >= 0; bump-- {
		addr, err := CreateProgramAddress(append(seeds, []byte{byte(bump)}), program)
		if err == nil {
			return addr, uint8(bump), nil
		}
	}
	return "", 0, fmt.Errorf("pda: no viable bump seed")
}

// AmmAuthority derives the AMM program's pool authority.
func AmmAuthority(program Pubkey) (Pubkey, error) {
	addr, _, err := FindProgramAddress([][]byte{[]byte("amm authority")}, program)
	return addr, err
}

// AssociatedMarketAuthority derives the market's vault signer the way the
// order-book program does: nonce counts up from zero as a u64 LE seed.
func AssociatedMarketAuthority(program, marketID Pubkey) (Pubkey, error) {
	marketBytes, err := marketID.Bytes()
	if err != nil {
		return "", err
	}
	for nonce := uint64(0); nonce < 100; nonce++ {
		seed := make([]byte, 8)
		binary.LittleEndian.PutUint64(seed, nonce)
		addr, err := CreateProgramAddress([][]byte{marketBytes, seed}, program)
		if err == nil {
			return addr, nil
		}
	}
	return "", fmt.Errorf("pda: no market authority for %s", marketID)
}
