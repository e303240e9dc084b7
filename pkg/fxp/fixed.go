package fxp

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common/math"
	"github.com/shopspring/decimal"
)

// One is the ledger's fixed-point unit, 2^64.
var One = new(big.Int).Lsh(big.NewInt(1), 64)

var (
	tt256   = new(big.Int).Add(math.MaxBig256, big.NewInt(1))
	oneDec  = decimal.NewFromBigInt(One, 0)
	pow5_64 = new(big.Int).Exp(big.NewInt(5), big.NewInt(64), nil)
	weiExp  = int32(-18)
)

// Fix converts a decimal into ledger units: floor(x * 2^64), wrapped into a
// signed 256-bit two's complement value.
func Fix(x Decimal) *big.Int {
	return WrapInt256(x.d.Mul(oneDec).Floor().BigInt())
}

// Unfix converts ledger units back into a decimal. It is exact because
// 2^-64 = 5^64 * 10^-64.
func Unfix(v *big.Int) Decimal {
	n := new(big.Int).Mul(WrapInt256(v), pow5_64)
	return Decimal{d: decimal.NewFromBigInt(n, -64)}
}

// WrapInt256 reduces v modulo 2^256 and reinterprets it as signed. The
// argument is not modified.
func WrapInt256(v *big.Int) *big.Int {
	u := new(big.Int).And(v, math.MaxBig256)
	if u.Bit(255) == 1 {
		u.Sub(u, tt256)
	}
	return u
}

// MulFloor returns floor(a*b / One).
func MulFloor(a, b *big.Int) *big.Int {
	p := new(big.Int).Mul(a, b)
	return floorDiv(p, One)
}

// DivFloor returns floor(a*One / b).
func DivFloor(a, b *big.Int) (*big.Int, error) {
	if b.Sign() == 0 {
		return nil, fmt.Errorf("%w: division by zero", ErrInvalidNumber)
	}
	return floorDiv(new(big.Int).Mul(a, One), b), nil
}

func floorDiv(x, y *big.Int) *big.Int {
	q, m := new(big.Int).DivMod(x, y, new(big.Int))
	// DivMod is Euclidean; it only differs from floor for negative divisors.
	if y.Sign() < 0 && m.Sign() != 0 {
		q.Sub(q, big.NewInt(1))
	}
	return q
}

// WeiToEther converts a wei amount to ether.
func WeiToEther(wei *big.Int) Decimal {
	return Decimal{d: decimal.NewFromBigInt(wei, weiExp)}
}

// GasCost returns gasLimit * gasPrice (wei) in ether.
func GasCost(gasLimit uint64, gasPriceWei *big.Int) Decimal {
	wei := new(big.Int).Mul(new(big.Int).SetUint64(gasLimit), gasPriceWei)
	return WeiToEther(wei)
}
