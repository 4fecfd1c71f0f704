package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/example/moutai-scheduler/internal/domain/reservation"
)

func TestConfigValidate(t *testing.T) {
	ok := DefaultConfig(1)
	assert.NoError(t, ok.Validate())

	tests := []struct {
		name   string
		mutate func(*ReservationConfig)
	}{
		{"no items", func(c *ReservationConfig) { c.ItemCodes = nil }},
		{"too many items", func(c *ReservationConfig) { c.ItemCodes = []string{"1", "2", "3", "4"} }},
		{"blank item", func(c *ReservationConfig) { c.ItemCodes = []string{" "} }},
		{"minute low", func(c *ReservationConfig) { c.TargetMinute = -1 }},
		{"minute high", func(c *ReservationConfig) { c.TargetMinute = 60 }},
		{"bad strategy", func(c *ReservationConfig) { c.Strategy = "closest-ish" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig(1)
			tt.mutate(&cfg)
			var ve *ValidationError
			assert.ErrorAs(t, cfg.Validate(), &ve)
		})
	}
}

func TestItemCodeRoundTrip(t *testing.T) {
	assert.Equal(t, "2478@10213", joinItemCodes([]string{" 2478", "", "10213 "}))
	assert.Equal(t, []string{"2478", "10213"}, splitItemCodes("2478@10213"))
	assert.Nil(t, splitItemCodes(""))
}

func TestAccountEligible(t *testing.T) {
	exp := time.Now().Add(24 * time.Hour)
	a := Account{Status: StatusActive, Token: "t", Province: "贵州", Lat: "26.65", TokenExpiresAt: &exp}
	assert.True(t, a.Eligible())

	for name, mutate := range map[string]func(*Account){
		"no token":    func(a *Account) { a.Token = "" },
		"no province": func(a *Account) { a.Province = "" },
		"no lat":      func(a *Account) { a.Lat = "" },
		"suspended":   func(a *Account) { a.Status = StatusSuspended },
	} {
		b := a
		mutate(&b)
		assert.False(t, b.Eligible(), name)
	}
}

func TestStrategyFromString(t *testing.T) {
	assert.Equal(t, reservation.StrategyNearest, strategyFromString("nearest"))
	assert.Equal(t, reservation.StrategyMaxInventory, strategyFromString("bogus"))
}
