package scoring

import (
	"fmt"
	"math/big"
	"strings"
)

// Policy holds every scoring constant. All net arithmetic and rounding goes
// through it so that reports, analytics and exports agree on the numbers.
type Policy struct {
	// PenaltyDivisor is the number of wrong answers that cancel one correct one.
	PenaltyDivisor int64 `json:"penalty_divisor"`
	// Decimals is the rounding precision of reported nets (half away from zero).
	Decimals int `json:"decimals"`
	// Options lists the valid option letters, e.g. "ABCDE".
	Options string `json:"options"`
}

// DefaultPolicy is the national-exam rule: three wrong answers cancel one correct.
func DefaultPolicy() Policy {
	return Policy{PenaltyDivisor: 3, Decimals: 2, Options: "ABCDE"}
}

// Validate checks the policy is usable.
func (p Policy) Validate() error {
	if p.PenaltyDivisor <= 0 {
		return &ValidationError{Kind: KindInvalidPolicy, Detail: fmt.Sprintf("penalty divisor %d must be positive", p.PenaltyDivisor)}
	}
	if p.Decimals < 0 || p.Decimals > 6 {
		return &ValidationError{Kind: KindInvalidPolicy, Detail: fmt.Sprintf("decimals %d out of range 0..6", p.Decimals)}
	}
	if p.Options == "" {
		return &ValidationError{Kind: KindInvalidPolicy, Detail: "no options configured"}
	}
	return nil
}

func (p Policy) isOption(b byte) bool {
	return strings.IndexByte(strings.ToUpper(p.Options), b) >= 0
}

// RawNet returns correct - wrong/divisor exactly. The value may be negative.
func (p Policy) RawNet(correct, wrong int) *big.Rat {
	net := new(big.Rat).SetInt64(int64(correct))
	return net.Sub(net, big.NewRat(int64(wrong), p.PenaltyDivisor))
}

// SubjectNet is RawNet floored at zero. The floor applies to the subject
// total, never to individual questions.
func (p Policy) SubjectNet(correct, wrong int) *big.Rat {
	net := p.RawNet(correct, wrong)
	if net.Sign() < 0 {
		return new(big.Rat)
	}
	return net
}

// Report rounds r to Decimals places, half away from zero.
func (p Policy) Report(r *big.Rat) float64 {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(p.Decimals)), nil)
	scaled := new(big.Rat).Mul(r, new(big.Rat).SetInt(scale))
	neg := scaled.Sign() < 0
	scaled.Abs(scaled)
	scaled.Add(scaled, big.NewRat(1, 2))
	q := new(big.Int).Quo(scaled.Num(), scaled.Denom())
	if neg {
		q.Neg(q)
	}
	f, _ := new(big.Rat).SetFrac(q, scale).Float64()
	return f
}
