package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func i64(v int64) *int64 { return &v }

func TestValidateSeatTiers(t *testing.T) {
	valid := []SeatTier{
		{MinSeats: 1, MaxSeats: i64(10), FlatFeeCents: i64(10000)},
		{MinSeats: 11, MaxSeats: i64(50), PricePerSeatCents: i64(900)},
		{MinSeats: 51, FlatFeeCents: i64(20000), PricePerSeatCents: i64(700)},
	}
	assert.NoError(t, ValidateSeatTiers(valid))

	cases := []struct {
		name  string
		tiers []SeatTier
	}{
		{"empty", nil},
		{"first tier not at 1", []SeatTier{
			{MinSeats: 2, FlatFeeCents: i64(1000)},
		}},
		{"gap between tiers", []SeatTier{
			{MinSeats: 1, MaxSeats: i64(10), FlatFeeCents: i64(1000)},
			{MinSeats: 12, FlatFeeCents: i64(2000)},
		}},
		{"overlapping tiers", []SeatTier{
			{MinSeats: 1, MaxSeats: i64(10), FlatFeeCents: i64(1000)},
			{MinSeats: 10, FlatFeeCents: i64(2000)},
		}},
		{"last tier bounded", []SeatTier{
			{MinSeats: 1, MaxSeats: i64(10), FlatFeeCents: i64(1000)},
		}},
		{"unbounded tier in the middle", []SeatTier{
			{MinSeats: 1, FlatFeeCents: i64(1000)},
			{MinSeats: 11, FlatFeeCents: i64(2000)},
		}},
		{"no amounts", []SeatTier{
			{MinSeats: 1},
		}},
		{"negative flat fee", []SeatTier{
			{MinSeats: 1, FlatFeeCents: i64(-1)},
		}},
		{"max below min", []SeatTier{
			{MinSeats: 1, MaxSeats: i64(0), FlatFeeCents: i64(1000)},
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, ValidateSeatTiers(tc.tiers), ErrInvalidSeatTiers)
		})
	}
}

func TestCalculateSeatAmount(t *testing.T) {
	flat := []SeatTier{{MinSeats: 1, FlatFeeCents: i64(20000)}}

	got, err := CalculateSeatAmount(flat, 1)
	assert.NoError(t, err)
	assert.Equal(t, int64(20000), got)

	got, err = CalculateSeatAmount(flat, 100)
	assert.NoError(t, err)
	assert.Equal(t, int64(20000), got, "flat fee does not scale with seats")

	perSeat := []SeatTier{{MinSeats: 1, PricePerSeatCents: i64(1000)}}
	got, err = CalculateSeatAmount(perSeat, 5)
	assert.NoError(t, err)
	assert.Equal(t, int64(5000), got)

	combined := []SeatTier{{MinSeats: 1, FlatFeeCents: i64(10000), PricePerSeatCents: i64(1000)}}
	got, err = CalculateSeatAmount(combined, 5)
	assert.NoError(t, err)
	assert.Equal(t, int64(15000), got)
}

func TestCalculateSeatAmountPicksTierBySeats(t *testing.T) {
	tiers := []SeatTier{
		{MinSeats: 1, MaxSeats: i64(10), FlatFeeCents: i64(10000)},
		{MinSeats: 11, MaxSeats: i64(50), PricePerSeatCents: i64(900)},
		{MinSeats: 51, FlatFeeCents: i64(20000), PricePerSeatCents: i64(700)},
	}

	got, err := CalculateSeatAmount(tiers, 10)
	assert.NoError(t, err)
	assert.Equal(t, int64(10000), got)

	got, err = CalculateSeatAmount(tiers, 20)
	assert.NoError(t, err)
	assert.Equal(t, int64(18000), got)

	got, err = CalculateSeatAmount(tiers, 60)
	assert.NoError(t, err)
	assert.Equal(t, int64(62000), got)

	_, err = CalculateSeatAmount(tiers, 0)
	assert.ErrorIs(t, err, ErrNoTierForSeats)
}
