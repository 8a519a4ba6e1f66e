// Package credits implements the fee unit and the exact rational arithmetic
// used to carry sub-credit remainders between epochs.
package credits

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"

	feeerrors "feepools/core/errors"
)

// Credits is the integer fee unit.
type Credits = uint64

// Decimal is an immutable exact rational. The zero value is 0. Every
// operation returns a fresh value and never mutates its receiver.
type Decimal struct {
	r *big.Rat
}

var maxCredits = new(big.Int).SetUint64(math.MaxUint64)

// Zero returns the decimal 0.
func Zero() Decimal { return Decimal{} }

// FromCredits lifts an integer amount.
func FromCredits(c Credits) Decimal {
	if c == 0 {
		return Decimal{}
	}
	return Decimal{r: new(big.Rat).SetInt(new(big.Int).SetUint64(c))}
}

// NewFraction returns num/den. den must be non-zero.
func NewFraction(num, den uint64) (Decimal, error) {
	if den == 0 {
		return Decimal{}, fmt.Errorf("%w: zero denominator", feeerrors.ErrArithmeticConversion)
	}
	if num == 0 {
		return Decimal{}, nil
	}
	return Decimal{r: new(big.Rat).SetFrac(new(big.Int).SetUint64(num), new(big.Int).SetUint64(den))}, nil
}

// FromRat copies r.
func FromRat(r *big.Rat) Decimal {
	if r == nil || r.Sign() == 0 {
		return Decimal{}
	}
	return Decimal{r: new(big.Rat).Set(r)}
}

func (d Decimal) rat() *big.Rat {
	if d.r == nil {
		return new(big.Rat)
	}
	return d.r
}

// Rat returns a copy of the underlying rational.
func (d Decimal) Rat() *big.Rat {
	return new(big.Rat).Set(d.rat())
}

// Add returns d + o.
func (d Decimal) Add(o Decimal) Decimal {
	if o.IsZero() {
		return d
	}
	if d.IsZero() {
		return o
	}
	return Decimal{r: new(big.Rat).Add(d.rat(), o.rat())}
}

// Sub returns d - o.
func (d Decimal) Sub(o Decimal) Decimal {
	if o.IsZero() {
		return d
	}
	return Decimal{r: new(big.Rat).Sub(d.rat(), o.rat())}
}

// Sign returns -1, 0 or +1.
func (d Decimal) Sign() int { return d.rat().Sign() }

// IsZero reports whether d == 0.
func (d Decimal) IsZero() bool { return d.r == nil || d.r.Sign() == 0 }

// Cmp compares d and o.
func (d Decimal) Cmp(o Decimal) int { return d.rat().Cmp(o.rat()) }

// Equal reports d == o.
func (d Decimal) Equal(o Decimal) bool { return d.Cmp(o) == 0 }

// Split returns floor(d) as Credits and the fractional part d - floor(d),
// which is always in [0, 1). A negative value or an integer part beyond the
// u64 range fails with ErrArithmeticConversion.
func (d Decimal) Split() (Credits, Decimal, error) {
	if d.Sign() < 0 {
		return 0, Decimal{}, fmt.Errorf("%w: negative value %s", feeerrors.ErrArithmeticConversion, d)
	}
	if d.IsZero() {
		return 0, Decimal{}, nil
	}
	q, m := new(big.Int).QuoRem(d.r.Num(), d.r.Denom(), new(big.Int))
	if q.Cmp(maxCredits) > 0 {
		return 0, Decimal{}, fmt.Errorf("%w: %s exceeds credit range", feeerrors.ErrArithmeticConversion, d)
	}
	return q.Uint64(), FromRat(new(big.Rat).SetFrac(m, d.r.Denom())), nil
}

// Floor returns floor(d) as Credits.
func (d Decimal) Floor() (Credits, error) {
	c, _, err := d.Split()
	return c, err
}

func (d Decimal) String() string {
	r := d.rat()
	if r.IsInt() {
		return r.Num().String()
	}
	return r.String()
}

// AddCredits returns a + b or ErrArithmeticConversion on u64 overflow.
func AddCredits(a, b Credits) (Credits, error) {
	if a > math.MaxUint64-b {
		return 0, fmt.Errorf("%w: %d + %d overflows", feeerrors.ErrArithmeticConversion, a, b)
	}
	return a + b, nil
}

// EncodeCredits returns the 8-byte big-endian form.
func EncodeCredits(c Credits) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], c)
	return buf[:]
}

// DecodeCredits parses the 8-byte big-endian form.
func DecodeCredits(raw []byte) (Credits, error) {
	if len(raw) != 8 {
		return 0, fmt.Errorf("credits: expected 8 bytes, got %d", len(raw))
	}
	return binary.BigEndian.Uint64(raw), nil
}

type rlpDecimal struct {
	Num *big.Int
	Den *big.Int
}

// EncodeDecimal returns the RLP list [numerator, denominator] in lowest terms.
// Negative values are rejected; pools never hold them.
func EncodeDecimal(d Decimal) ([]byte, error) {
	if d.Sign() < 0 {
		return nil, fmt.Errorf("%w: cannot encode negative %s", feeerrors.ErrArithmeticConversion, d)
	}
	r := d.rat()
	return rlp.EncodeToBytes(&rlpDecimal{Num: new(big.Int).Set(r.Num()), Den: new(big.Int).Set(r.Denom())})
}

// DecodeDecimal parses the form written by EncodeDecimal.
func DecodeDecimal(raw []byte) (Decimal, error) {
	var dec rlpDecimal
	if err := rlp.DecodeBytes(raw, &dec); err != nil {
		return Decimal{}, fmt.Errorf("credits: decode decimal: %w", err)
	}
	if dec.Num == nil || dec.Den == nil || dec.Den.Sign() == 0 {
		return Decimal{}, fmt.Errorf("credits: decode decimal: invalid fraction")
	}
	return FromRat(new(big.Rat).SetFrac(dec.Num, dec.Den)), nil
}
