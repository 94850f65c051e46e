package trader

import (
	"crypto/ed25519"
	"encoding/binary"
	"fmt"

	"github.com/mr-tron/base58"
	"github.com/shopspring/decimal"

	"github.com/vantage-trading/vantage/internal/solana"
)

// ---------------------------------------------------------------------------
// Raydium swap transaction assembly
// ---------------------------------------------------------------------------

const (
	tokenProgramID         = solana.Pubkey("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")
	computeBudgetProgramID = solana.Pubkey("ComputeBudget111111111111111111111111111111")

	// swapBaseIn discriminator in the AMM program.
	swapBaseInInstruction = 9

	// closeAccount discriminator in the SPL token program.
	closeAccountInstruction = 9

	computeUnitLimitInstruction = 2
	computeUnitPriceInstruction = 3

	// Compute units reserved for one swap.
	swapComputeUnitLimit = 200_000
)

// RaydiumSwapBuilder assembles and signs legacy swap transactions against
// an AMM V4 pool.
type RaydiumSwapBuilder struct {
	signer ed25519.PrivateKey
	wallet solana.Pubkey
}

// NewRaydiumSwapBuilder creates a builder from a base58-encoded 64-byte
// secret key.
func NewRaydiumSwapBuilder(privateKey string) (*RaydiumSwapBuilder, error) {
	raw, err := base58.Decode(privateKey)
	if err != nil {
		return nil, fmt.Errorf("raydium: decode private key: %w", err)
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("raydium: private key is %d bytes, want %d", len(raw), ed25519.PrivateKeySize)
	}
	signer := ed25519.PrivateKey(raw)
	wallet := solana.Pubkey(base58.Encode(signer.Public().(ed25519.PublicKey)))
	return &RaydiumSwapBuilder{signer: signer, wallet: wallet}, nil
}

// Wallet returns the public key derived from the signing key.
func (b *RaydiumSwapBuilder) Wallet() solana.Pubkey {
	return b.wallet
}

type accountMeta struct {
	key      solana.Pubkey
	signer   bool
	writable bool
}

type instruction struct {
	program  solana.Pubkey
	accounts []accountMeta
	data     []byte
}

// BuildSwap assembles one signed swap transaction: compute-budget price
// and limit instructions followed by swapBaseIn.
func (b *RaydiumSwapBuilder) BuildSwap(req SwapRequest) ([]byte, error) {
	if req.Wallet != "" && req.Wallet != b.wallet {
		return nil, fmt.Errorf("raydium: request wallet %s does not match signer %s", req.Wallet, b.wallet)
	}

	source, dest := req.SourceAccount, req.DestAccount
	var inDecimals, outDecimals uint8
	switch req.Side {
	case SideBuy:
		inDecimals, outDecimals = req.Keys.QuoteDecimals, req.Keys.BaseDecimals
	case SideSell:
		inDecimals, outDecimals = req.Keys.BaseDecimals, req.Keys.QuoteDecimals
	default:
		return nil, fmt.Errorf("raydium: unknown trade side %q", req.Side)
	}
	if source == "" || dest == "" {
		return nil, fmt.Errorf("raydium: source and destination token accounts required")
	}

	amountIn, err := rawAmount(req.AmountIn, inDecimals)
	if err != nil {
		return nil, fmt.Errorf("raydium: amount in: %w", err)
	}
	minAmountOut, err := rawAmount(req.MinAmountOut, outDecimals)
	if err != nil {
		return nil, fmt.Errorf("raydium: min amount out: %w", err)
	}

	data := make([]byte, 17)
	data[0] = swapBaseInInstruction
	binary.LittleEndian.PutUint64(data[1:], amountIn)
	binary.LittleEndian.PutUint64(data[9:], minAmountOut)

	swap := instruction{
		program: req.Keys.ProgramID,
		accounts: []accountMeta{
			{key: tokenProgramID},
			{key: req.Keys.ID, writable: true},
			{key: req.Keys.Authority},
			{key: req.Keys.OpenOrders, writable: true},
			{key: req.Keys.TargetOrders, writable: true},
			{key: req.Keys.BaseVault, writable: true},
			{key: req.Keys.QuoteVault, writable: true},
			{key: req.Keys.MarketProgramID},
			{key: req.Keys.MarketID, writable: true},
			{key: req.Keys.MarketBids, writable: true},
			{key: req.Keys.MarketAsks, writable: true},
			{key: req.Keys.MarketEventQueue, writable: true},
			{key: req.Keys.MarketAuthority},
			{key: source, writable: true},
			{key: dest, writable: true},
			{key: b.wallet, signer: true, writable: true},
		},
		data: data,
	}

	instructions := []instruction{
		computeUnitPrice(req.ComputeUnitPrice),
		computeUnitLimit(swapComputeUnitLimit),
		swap,
	}
	if req.Side == SideSell {
		// Reclaim the emptied token account's rent back to the wallet.
		instructions = append(instructions, closeAccount(source, b.wallet))
	}

	message, err := compileMessage(b.wallet, req.Blockhash.Blockhash, instructions)
	if err != nil {
		return nil, err
	}

	sig := ed25519.Sign(b.signer, message)

	tx := make([]byte, 0, 1+len(sig)+len(message))
	tx = append(tx, 1) // one signature
	tx = append(tx, sig...)
	tx = append(tx, message...)
	return tx, nil
}

func computeUnitPrice(microLamports uint64) instruction {
	data := make([]byte, 9)
	data[0] = computeUnitPriceInstruction
	binary.LittleEndian.PutUint64(data[1:], microLamports)
	return instruction{program: computeBudgetProgramID, data: data}
}

func computeUnitLimit(units uint32) instruction {
	data := make([]byte, 5)
	data[0] = computeUnitLimitInstruction
	binary.LittleEndian.PutUint32(data[1:], units)
	return instruction{program: computeBudgetProgramID, data: data}
}

func closeAccount(account, owner solana.Pubkey) instruction {
	return instruction{
		program: tokenProgramID,
		accounts: []accountMeta{
			{key: account, writable: true},
			{key: owner, writable: true},
			{key: owner, signer: true},
		},
		data: []byte{closeAccountInstruction},
	}
}

// rawAmount converts a UI amount to raw token units.
func rawAmount(ui decimal.Decimal, decimals uint8) (uint64, error) {
	if ui.IsNegative() {
		return 0, fmt.Errorf("negative amount %s", ui)
	}
	raw := ui.Shift(int32(decimals)).Truncate(0)
	if !raw.BigInt().IsUint64() {
		return 0, fmt.Errorf("amount %s overflows u64", ui)
	}
	return raw.BigInt().Uint64(), nil
}

// compileMessage lays out a legacy message: header, account keys ordered
// writable signers, writable non-signers, then readonly non-signers,
// blockhash, instructions.
func compileMessage(payer solana.Pubkey, blockhash string, instructions []instruction) ([]byte, error) {
	writable := map[solana.Pubkey]bool{payer: true}
	seen := map[solana.Pubkey]bool{payer: true}
	order := []solana.Pubkey{payer}

	for _, ins := range instructions {
		for _, acc := range ins.accounts {
			if !seen[acc.key] {
				seen[acc.key] = true
				order = append(order, acc.key)
			}
			if acc.writable {
				writable[acc.key] = true
			}
		}
		if !seen[ins.program] {
			seen[ins.program] = true
			order = append(order, ins.program)
		}
	}

	// Payer stays first; writable accounts precede readonly ones.
	keys := []solana.Pubkey{payer}
	for _, k := range order[1:] {
		if writable[k] {
			keys = append(keys, k)
		}
	}
	var readonly int
	for _, k := range order[1:] {
		if !writable[k] {
			keys = append(keys, k)
			readonly++
		}
	}

	index := make(map[solana.Pubkey]uint8, len(keys))
	for i, k := range keys {
		index[k] = uint8(i)
	}

	blockhashBytes, err := solana.Pubkey(blockhash).Bytes()
	if err != nil {
		return nil, fmt.Errorf("raydium: blockhash: %w", err)
	}

	var msg []byte
	msg = append(msg, 1, 0, byte(readonly)) // signers, readonly signed, readonly unsigned
	msg = appendCompactU16(msg, len(keys))
	for _, k := range keys {
		raw, err := k.Bytes()
		if err != nil {
			return nil, fmt.Errorf("raydium: account %s: %w", k, err)
		}
		msg = append(msg, raw...)
	}
	msg = append(msg, blockhashBytes...)

	msg = appendCompactU16(msg, len(instructions))
	for _, ins := range instructions {
		msg = append(msg, index[ins.program])
		msg = appendCompactU16(msg, len(ins.accounts))
		for _, acc := range ins.accounts {
			msg = append(msg, index[acc.key])
		}
		msg = appendCompactU16(msg, len(ins.data))
		msg = append(msg, ins.data...)
	}
	return msg, nil
}

// appendCompactU16 writes the short-vec length prefix.
func appendCompactU16(buf []byte, n int) []byte {
	for {
		if n < 0x80 {
			return append(buf, byte(n))
		}
		buf = append(buf, byte(n&0x7f)|0x80)
		n >>= 7
	}
}
