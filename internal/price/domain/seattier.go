package domain

import (
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
)

// SeatTier is one band of a seat-based price. A tier charges its flat fee,
// its per-seat amount, or both.
type SeatTier struct {
	ID                snowflake.ID `json:"id" gorm:"primaryKey;autoIncrement:false"`
	PriceID           snowflake.ID `json:"price_id" gorm:"not null;index"`
	MinSeats          int64        `json:"min_seats" gorm:"not null"`
	MaxSeats          *int64       `json:"max_seats,omitempty"` // nil = unbounded
	FlatFeeCents      *int64       `json:"flat_fee_cents,omitempty"`
	PricePerSeatCents *int64       `json:"price_per_seat_cents,omitempty"`
	CreatedAt         time.Time    `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (SeatTier) TableName() string { return "product_price_seat_tiers" }

func (t *SeatTier) contains(seats int64) bool {
	if seats < t.MinSeats {
		return false
	}
	return t.MaxSeats == nil || seats <= *t.MaxSeats
}

// ValidateSeatTiers enforces the tier table shape at configuration time:
// ascending by min_seats, first tier starting at 1, contiguous bands with no
// gap or overlap, exactly the last tier unbounded, and at least one of
// flat_fee / price_per_seat per tier.
func ValidateSeatTiers(tiers []SeatTier) error {
	if len(tiers) == 0 {
		return fmt.Errorf("%w: no tiers", ErrInvalidSeatTiers)
	}

	for i := range tiers {
		tier := &tiers[i]
		if tier.FlatFeeCents == nil && tier.PricePerSeatCents == nil {
			return fmt.Errorf("%w: tier %d has neither flat fee nor per-seat amount", ErrInvalidSeatTiers, i)
		}
		if tier.FlatFeeCents != nil && *tier.FlatFeeCents < 0 {
			return fmt.Errorf("%w: tier %d has negative flat fee", ErrInvalidSeatTiers, i)
		}
		if tier.PricePerSeatCents != nil && *tier.PricePerSeatCents < 0 {
			return fmt.Errorf("%w: tier %d has negative per-seat amount", ErrInvalidSeatTiers, i)
		}

		if i == 0 {
			if tier.MinSeats != 1 {
				return fmt.Errorf("%w: first tier must start at 1 seat", ErrInvalidSeatTiers)
			}
		} else {
			prev := &tiers[i-1]
			if prev.MaxSeats == nil {
				return fmt.Errorf("%w: only the last tier may be unbounded", ErrInvalidSeatTiers)
			}
			if tier.MinSeats != *prev.MaxSeats+1 {
				return fmt.Errorf("%w: tier %d is not contiguous with its predecessor", ErrInvalidSeatTiers, i)
			}
		}

		if tier.MaxSeats != nil && *tier.MaxSeats < tier.MinSeats {
			return fmt.Errorf("%w: tier %d has max_seats below min_seats", ErrInvalidSeatTiers, i)
		}
	}

	if tiers[len(tiers)-1].MaxSeats != nil {
		return fmt.Errorf("%w: last tier must be unbounded", ErrInvalidSeatTiers)
	}

	return nil
}

// CalculateSeatAmount resolves the amount for a seat count against a
// validated tier table: flat fee plus per-seat amount times seats. A seat
// count below every tier is unreachable after validation but checked anyway.
func CalculateSeatAmount(tiers []SeatTier, seats int64) (int64, error) {
	for i := range tiers {
		tier := &tiers[i]
		if !tier.contains(seats) {
			continue
		}
		var amount int64
		if tier.FlatFeeCents != nil {
			amount += *tier.FlatFeeCents
		}
		if tier.PricePerSeatCents != nil {
			amount += *tier.PricePerSeatCents * seats
		}
		return amount, nil
	}
	return 0, fmt.Errorf("%w: %d seats", ErrNoTierForSeats, seats)
}
