package permissionless

import (
	"math/big"
)

const (
	// NonceSequenceBits is the width of the sequence part of an ERC-4337 nonce.
	NonceSequenceBits = 64
	// NonceKeyBits is the width reserved for the key part of an ERC-4337 nonce.
	NonceKeyBits = 192
)

var sequenceMask = new(big.Int).SetUint64(^uint64(0))

// Nonce is the 2D nonce of an account: a key selecting an independent
// sequence and the position within that sequence.
type Nonce struct {
	Key      *big.Int
	Sequence *big.Int
}

// DecodeNonce splits a 256-bit nonce into its key (high bits) and sequence (low 64 bits).
// A nil nonce decodes to zero key and sequence.
func DecodeNonce(nonce *big.Int) Nonce {
	if nonce == nil {
		return Nonce{Key: new(big.Int), Sequence: new(big.Int)}
	}
	return Nonce{
		Key:      new(big.Int).Rsh(nonce, NonceSequenceBits),
		Sequence: new(big.Int).And(nonce, sequenceMask),
	}
}

// EncodeNonce packs key and sequence into a single nonce value: (key << 64) + sequence.
//
// The sequence is not checked against 64 bits. A sequence of 2^64 or more
// carries into the key region; keeping it in range is the caller's job.
func EncodeNonce(n Nonce) *big.Int {
	out := new(big.Int)
	if n.Key != nil {
		out.Lsh(n.Key, NonceSequenceBits)
	}
	if n.Sequence != nil {
		out.Add(out, n.Sequence)
	}
	return out
}
