package dex

import (
	"math/big"

	"swaprouter/internal/model"
)

const (
	stableDecimals   = 18
	stableIterations = 255
)

// stableSwap prices Curve-style invariant pools. Balances are scaled to
// 18 decimals before solving; amplification is the pool's A() value so
// Ann = A * n.
type stableSwap struct {
	id        string
	balances  []*big.Int
	rates     []*big.Int
	amp       *big.Int
	feePips   uint32
	invariant *big.Int
}

func newStableSwap(pool model.Pool) (*stableSwap, error) {
	n := len(pool.Tokens)
	if n < 2 || len(pool.Reserves) != n {
		return nil, unavailable(pool.ID, "stable pool reserves do not match tokens")
	}
	if !positive(pool.Reserves...) || !positive(pool.Amplification) {
		return nil, unavailable(pool.ID, "zero liquidity")
	}
	s := &stableSwap{
		id:       pool.ID,
		balances: make([]*big.Int, n),
		rates:    make([]*big.Int, n),
		amp:      pool.Amplification,
		feePips:  pool.FeePips,
	}
	for i, token := range pool.Tokens {
		if token.Decimals > stableDecimals {
			return nil, unavailable(pool.ID, "token decimals above 18")
		}
		s.rates[i] = pow10(stableDecimals - token.Decimals)
		s.balances[i] = new(big.Int).Mul(pool.Reserves[i], s.rates[i])
	}
	d, err := s.computeD(s.balances)
	if err != nil {
		return nil, err
	}
	s.invariant = d
	return s, nil
}

func (s *stableSwap) ann() *big.Int {
	return new(big.Int).Mul(s.amp, big.NewInt(int64(len(s.balances))))
}

func (s *stableSwap) computeD(xp []*big.Int) (*big.Int, error) {
	n := big.NewInt(int64(len(xp)))
	sum := new(big.Int)
	for _, x := range xp {
		sum.Add(sum, x)
	}
	if sum.Sign() == 0 {
		return new(big.Int), nil
	}

	ann := s.ann()
	annMinusOne := new(big.Int).Sub(ann, big.NewInt(1))
	nPlusOne := new(big.Int).Add(n, big.NewInt(1))
	d := new(big.Int).Set(sum)
	for i := 0; i < stableIterations; i++ {
		dp := new(big.Int).Set(d)
		for _, x := range xp {
			dp.Mul(dp, d)
			dp.Quo(dp, new(big.Int).Mul(x, n))
		}
		prev := d
		numerator := new(big.Int).Mul(ann, sum)
		numerator.Add(numerator, new(big.Int).Mul(dp, n))
		numerator.Mul(numerator, d)
		denominator := new(big.Int).Mul(annMinusOne, d)
		denominator.Add(denominator, new(big.Int).Mul(nPlusOne, dp))
		d = numerator.Quo(numerator, denominator)

		diff := new(big.Int).Sub(d, prev)
		if diff.CmpAbs(big.NewInt(1)) <= 0 {
			return d, nil
		}
	}
	return nil, unavailable(s.id, "invariant did not converge")
}

// computeY returns the smallest integer balance of token j that keeps the
// invariant when token i holds x.
func (s *stableSwap) computeY(i, j int, x *big.Int) (*big.Int, error) {
	n := big.NewInt(int64(len(s.balances)))
	d := s.invariant
	ann := s.ann()

	c := new(big.Int).Set(d)
	sum := new(big.Int)
	for k, balance := range s.balances {
		var xk *big.Int
		switch k {
		case i:
			xk = x
		case j:
			continue
		default:
			xk = balance
		}
		sum.Add(sum, xk)
		c.Mul(c, d)
		c.Quo(c, new(big.Int).Mul(xk, n))
	}
	c.Mul(c, d)
	c.Quo(c, new(big.Int).Mul(ann, n))
	b := new(big.Int).Quo(d, ann)
	b.Add(b, sum)
	// y^2 + (b-D)y = c
	bMinusD := new(big.Int).Sub(b, d)

	y := new(big.Int).Set(d)
	converged := false
	for it := 0; it < stableIterations; it++ {
		numerator := new(big.Int).Mul(y, y)
		numerator.Add(numerator, c)
		denominator := new(big.Int).Lsh(y, 1)
		denominator.Add(denominator, bMinusD)
		if denominator.Sign() <= 0 {
			return nil, unavailable(s.id, "degenerate stable pool state")
		}
		next := numerator.Quo(numerator, denominator)
		if next.Cmp(y) >= 0 {
			converged = true
			break
		}
		y = next
	}
	if !converged {
		return nil, unavailable(s.id, "balance did not converge")
	}

	residual := func(v *big.Int) int {
		g := new(big.Int).Mul(v, v)
		g.Add(g, new(big.Int).Mul(bMinusD, v))
		return g.Cmp(c)
	}
	one := big.NewInt(1)
	for residual(y) < 0 {
		y.Add(y, one)
	}
	for y.Sign() > 0 {
		lower := new(big.Int).Sub(y, one)
		if residual(lower) < 0 {
			break
		}
		y = lower
	}
	return y, nil
}

func (s *stableSwap) amountOut(in, out int, amountIn *big.Int) (*big.Int, error) {
	x := new(big.Int).Mul(amountIn, s.rates[in])
	x.Add(x, s.balances[in])
	y, err := s.computeY(in, out, x)
	if err != nil {
		return nil, err
	}

	dy := new(big.Int).Sub(s.balances[out], y)
	dy.Sub(dy, big.NewInt(1))
	if dy.Sign() <= 0 {
		return new(big.Int), nil
	}
	fee := new(big.Int).Mul(dy, big.NewInt(int64(s.feePips)))
	fee.Quo(fee, feeDenominator)
	dy.Sub(dy, fee)
	return dy.Quo(dy, s.rates[out]), nil
}
