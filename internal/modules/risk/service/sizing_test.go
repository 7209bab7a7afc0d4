package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"gap_trader/internal/models"
	"gap_trader/internal/modules/config"
)

func TestLevels_LongStopTarget(t *testing.T) {
	s := NewSizer(config.RiskConfig{
		StopLossPct: 0.05,
		TargetPct:   0.10,
	})

	stop, target := s.Levels(2450, models.TradeLong, 72)

	assert.InDelta(t, 2327.50, stop, 1e-9)
	assert.InDelta(t, 2695.00, target, 1e-9)
}

func TestLevels_ConfidenceTiers(t *testing.T) {
	s := NewSizer(config.RiskConfig{
		StopLossPct: 0.05,
		TargetPct:   0.10,
	})

	// высокий скор: тейк в полтора раза дальше, стоп на месте
	stop, target := s.Levels(1000, models.TradeLong, 85)
	assert.InDelta(t, 950.0, stop, 1e-9)
	assert.InDelta(t, 1150.0, target, 1e-9)

	// низкий скор: стоп поджат до 0.8 дистанции, тейк на месте
	stop, target = s.Levels(1000, models.TradeLong, 60)
	assert.InDelta(t, 960.0, stop, 1e-9)
	assert.InDelta(t, 1100.0, target, 1e-9)
}

func TestLevels_RewardRatioIgnoresConfidence(t *testing.T) {
	s := NewSizer(config.RiskConfig{
		StopLossPct: 0.05,
		TargetPct:   0.10,
		RewardRatio: 3,
	})

	stop, target := s.Levels(1000, models.TradeLong, 95)

	assert.InDelta(t, 950.0, stop, 1e-9)
	assert.InDelta(t, 1150.0, target, 1e-9)
}

func TestLevels_ShortMirrored(t *testing.T) {
	s := NewSizer(config.RiskConfig{
		StopLossPct: 0.05,
		TargetPct:   0.10,
	})

	stop, target := s.Levels(1000, models.TradeShort, 72)

	assert.InDelta(t, 1050.0, stop, 1e-9)
	assert.InDelta(t, 900.0, target, 1e-9)
}

func TestLevels_RewardRatio(t *testing.T) {
	s := NewSizer(config.RiskConfig{
		StopLossPct: 0.05,
		TargetPct:   0.10,
		RewardRatio: 3,
	})

	stop, target := s.Levels(1000, models.TradeLong, 72)

	// дистанция до стопа 50, тейк = entry + 3*50
	assert.InDelta(t, 950.0, stop, 1e-9)
	assert.InDelta(t, 1150.0, target, 1e-9)
}

func TestQuantity_Methods(t *testing.T) {
	tests := []struct {
		name  string
		cfg   config.RiskConfig
		price float64
		want  int64
	}{
		{
			name:  "fixed amount",
			cfg:   config.RiskConfig{SizingMethod: "fixed_amount", FixedAmount: 10000},
			price: 2450,
			want:  4,
		},
		{
			name:  "equity pct",
			cfg:   config.RiskConfig{SizingMethod: "equity_pct", Capital: 100000, EquityPct: 0.10},
			price: 250,
			want:  40,
		},
		{
			name: "risk based",
			cfg: config.RiskConfig{
				SizingMethod: "risk_based",
				Capital:      100000,
				RiskPerTrade: 0.02,
				StopLossPct:  0.05,
			},
			price: 2000,
			// риск 2000 / (2000*0.05) = 20 акций
			want: 20,
		},
		{
			name: "risk based capped by capital",
			cfg: config.RiskConfig{
				SizingMethod: "risk_based",
				Capital:      10000,
				RiskPerTrade: 0.02,
				StopLossPct:  0.001,
			},
			price: 100,
			// формула дала бы 2000 акций, капитала хватает на 100
			want: 100,
		},
		{
			name:  "insufficient capital",
			cfg:   config.RiskConfig{SizingMethod: "fixed_amount", FixedAmount: 1000},
			price: 5000,
			want:  0,
		},
		{
			name:  "zero price",
			cfg:   config.RiskConfig{SizingMethod: "fixed_amount", FixedAmount: 1000},
			price: 0,
			want:  0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewSizer(tt.cfg).Quantity(tt.price)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRiskAmount(t *testing.T) {
	s := NewSizer(config.RiskConfig{})
	assert.InDelta(t, 2450.0, s.RiskAmount(2450, 2327.50, 20), 1e-9)
}
