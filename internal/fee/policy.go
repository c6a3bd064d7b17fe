package fee

import (
	"fmt"
	"math/big"

	"github.com/cuihairu/croupier-economy/internal/ports"
)

// Denominator is the basis-point scale: 10000 bps = 100%.
const Denominator = 10000

// DefaultBps is the platform fee of the marketplace (2.5%).
const DefaultBps uint16 = 250

var denom = big.NewInt(Denominator)

// Policy splits a gross amount into platform fee and seller proceeds.
type Policy struct {
	bps uint16
}

func New(bps uint16) (Policy, error) {
	if bps > Denominator {
		return Policy{}, fmt.Errorf("fee bps %d exceeds %d", bps, Denominator)
	}
	return Policy{bps: bps}, nil
}

// Bps returns the configured rate.
func (p Policy) Bps() uint16 { return p.bps }

// Compute returns fee = floor(gross*bps/10000) and net = gross - fee.
// gross must be non-negative; use Split for untrusted input.
func (p Policy) Compute(gross *big.Int) (fee, net *big.Int) {
	fee = new(big.Int).Mul(gross, big.NewInt(int64(p.bps)))
	fee.Quo(fee, denom)
	net = new(big.Int).Sub(gross, fee)
	return fee, net
}

// Split is Compute with input validation.
func (p Policy) Split(gross *big.Int) (fee, net *big.Int, err error) {
	if gross == nil || gross.Sign() < 0 {
		return nil, nil, ports.NewError(ports.KindValidation, "Amount must be non-negative")
	}
	fee, net = p.Compute(gross)
	return fee, net, nil
}
