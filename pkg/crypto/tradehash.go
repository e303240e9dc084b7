package crypto

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"golang.org/x/crypto/sha3"

	"github.com/uhyunpark/predikt/pkg/fxp"
)

// TradeHash is the commitment a trade is announced with before it is
// executed: keccak256 over the int256 words
// [fix(maxValue), fix(maxAmount), tradeIDs...].
func TradeHash(maxValue, maxAmount fxp.Decimal, tradeIDs []common.Hash) common.Hash {
	h := sha3.NewLegacyKeccak256()
	h.Write(Int256Word(fxp.Fix(maxValue)))
	h.Write(Int256Word(fxp.Fix(maxAmount)))
	for _, id := range tradeIDs {
		h.Write(id.Bytes())
	}
	var out common.Hash
	h.Sum(out[:0])
	return out
}

// Int256Word encodes v as a 32-byte big-endian two's complement word.
func Int256Word(v *big.Int) []byte {
	word := make([]byte, 32)
	return new(big.Int).And(v, math.MaxBig256).FillBytes(word)
}
