package domain

import "math"

// FeeSchedule holds the percentages applied on top of the discounted seat
// price: convenience fee first, then tax on the fee-inclusive amount.
type FeeSchedule struct {
	ConvenienceFeePct float64
	TaxPct            float64
}

func (f FeeSchedule) Multiplier() float64 {
	return (1 + f.ConvenienceFeePct/100) * (1 + f.TaxPct/100)
}

type SeatShare struct {
	SeatID string
	Amount int64
}

type SplitResult struct {
	Shares     []SeatShare
	FinalTotal int64
}

// Share returns the summed amount for a seat subset.
func (r SplitResult) Share(seatIDs []string) int64 {
	var sum int64
	for _, id := range seatIDs {
		for _, s := range r.Shares {
			if s.SeatID == id {
				sum += s.Amount
			}
		}
	}
	return sum
}

// SplitShares computes each seat's proportional monetary share of a group
// booking: the flat discount is spread across seats in proportion to seat
// price, fees and tax are applied multiplicatively, and each seat's amount
// is rounded to a whole currency unit. The rounding residual is assigned to
// the first host seat so that the shares always sum to FinalTotal exactly.
//
// Pure and deterministic. Safe to call from any goroutine.
func SplitShares(seats []Seat, discount int64, fees FeeSchedule, hostSeatIDs []string) (SplitResult, error) {
	if len(seats) == 0 || len(hostSeatIDs) == 0 {
		return SplitResult{}, ErrInvalidInput
	}

	var base int64
	index := make(map[string]int, len(seats))
	for i, s := range seats {
		if s.Price < 0 {
			return SplitResult{}, ErrInvalidInput
		}
		if _, dup := index[s.ID]; dup {
			return SplitResult{}, ErrInvalidInput
		}
		index[s.ID] = i
		base += s.Price
	}
	if base <= 0 || discount < 0 || discount > base {
		return SplitResult{}, ErrInvalidInput
	}
	for _, id := range hostSeatIDs {
		if _, ok := index[id]; !ok {
			return SplitResult{}, ErrInvalidInput
		}
	}

	mult := fees.Multiplier()
	final := int64(math.Round(float64(base-discount) * mult))

	shares := make([]SeatShare, len(seats))
	var sum int64
	for i, s := range seats {
		// price minus its proportional slice of the discount, then fees.
		discounted := float64(s.Price) * (1 - float64(discount)/float64(base))
		amount := int64(math.Round(discounted * mult))
		shares[i] = SeatShare{SeatID: s.ID, Amount: amount}
		sum += amount
	}

	// Per-seat rounding residual goes to the host.
	if residual := final - sum; residual != 0 {
		shares[index[hostSeatIDs[0]]].Amount += residual
	}

	return SplitResult{Shares: shares, FinalTotal: final}, nil
}
