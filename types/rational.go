package types

import (
	"fmt"
	"math/big"

	"github.com/pkg/errors"
)

// Rational is a multiplier expressed as an integer pair so that fee math never
// touches floating point.
type Rational struct {
	Dividend uint64
	Divisor  uint64
}

// One is the identity multiplier.
var One = Rational{Dividend: 1, Divisor: 1}

// NewRational returns a validated rational.
func NewRational(dividend, divisor uint64) (Rational, error) {
	r := Rational{Dividend: dividend, Divisor: divisor}
	return r, r.Validate()
}

func (r Rational) Validate() error {
	if r.Divisor == 0 {
		return errors.Wrapf(ErrConfigInvalid, "rational %d/0 has a zero divisor", r.Dividend)
	}
	return nil
}

// Apply returns floor(v * dividend / divisor). r must have been validated.
func (r Rational) Apply(v *big.Int) *big.Int {
	res := new(big.Int).Mul(v, new(big.Int).SetUint64(r.Dividend))
	return res.Div(res, new(big.Int).SetUint64(r.Divisor))
}

// ApplyUint64 is Apply for gas quantities.
func (r Rational) ApplyUint64(v uint64) uint64 {
	return r.Apply(new(big.Int).SetUint64(v)).Uint64()
}

// Cmp compares two rationals by cross multiplication.
func (r Rational) Cmp(o Rational) int {
	lhs := new(big.Int).Mul(new(big.Int).SetUint64(r.Dividend), new(big.Int).SetUint64(o.Divisor))
	rhs := new(big.Int).Mul(new(big.Int).SetUint64(o.Dividend), new(big.Int).SetUint64(r.Divisor))
	return lhs.Cmp(rhs)
}

func (r Rational) String() string {
	return fmt.Sprintf("%d/%d", r.Dividend, r.Divisor)
}
