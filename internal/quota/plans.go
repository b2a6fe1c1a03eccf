package quota

import (
	"strings"

	"github.com/shopspring/decimal"
)

type PlanTier string

const (
	PlanFree       PlanTier = "FREE"
	PlanPlus       PlanTier = "PLUS"
	PlanPro        PlanTier = "PRO"
	PlanEnterprise PlanTier = "ENTERPRISE"
)

type PlanLimits struct {
	MonthlyTokenLimit   int64
	PerRequestMaxTokens int64
}

type Plans map[PlanTier]PlanLimits

func DefaultPlans() Plans {
	return Plans{
		PlanFree:       {MonthlyTokenLimit: 100_000, PerRequestMaxTokens: 4_000},
		PlanPlus:       {MonthlyTokenLimit: 1_000_000, PerRequestMaxTokens: 16_000},
		PlanPro:        {MonthlyTokenLimit: 5_000_000, PerRequestMaxTokens: 32_000},
		PlanEnterprise: {MonthlyTokenLimit: 50_000_000, PerRequestMaxTokens: 128_000},
	}
}

// Resolve returns the limits for tier. Unknown or empty tiers get FREE
// limits, never an unlimited budget.
func (p Plans) Resolve(tier PlanTier) (PlanTier, PlanLimits) {
	tier = PlanTier(strings.ToUpper(strings.TrimSpace(string(tier))))
	if limits, ok := p[tier]; ok {
		return tier, limits
	}
	if limits, ok := p[PlanFree]; ok {
		return PlanFree, limits
	}
	return PlanFree, DefaultPlans()[PlanFree]
}

const defaultPriceKey = "default"

// ModelPrice is USD per 1000 tokens.
type ModelPrice struct {
	InputPer1K  decimal.Decimal
	OutputPer1K decimal.Decimal
}

type PriceTable map[string]ModelPrice

func DefaultPrices() PriceTable {
	return PriceTable{
		"gpt-4o":            {InputPer1K: decimal.RequireFromString("0.0025"), OutputPer1K: decimal.RequireFromString("0.01")},
		"gpt-4o-mini":       {InputPer1K: decimal.RequireFromString("0.00015"), OutputPer1K: decimal.RequireFromString("0.0006")},
		"claude-3-5-sonnet": {InputPer1K: decimal.RequireFromString("0.003"), OutputPer1K: decimal.RequireFromString("0.015")},
		"claude-3-5-haiku":  {InputPer1K: decimal.RequireFromString("0.0008"), OutputPer1K: decimal.RequireFromString("0.004")},
		"gemini-1.5-flash":  {InputPer1K: decimal.RequireFromString("0.000075"), OutputPer1K: decimal.RequireFromString("0.0003")},
		defaultPriceKey:     {InputPer1K: decimal.RequireFromString("0.002"), OutputPer1K: decimal.RequireFromString("0.008")},
	}
}

// Cost prices a spend, falling back to the default row for unknown models.
func (t PriceTable) Cost(model string, tokensIn, tokensOut int64) decimal.Decimal {
	price, ok := t[strings.ToLower(strings.TrimSpace(model))]
	if !ok {
		price, ok = t[defaultPriceKey]
		if !ok {
			return decimal.Zero
		}
	}

	thousand := decimal.NewFromInt(1000)
	in := price.InputPer1K.Mul(decimal.NewFromInt(tokensIn)).Div(thousand)
	out := price.OutputPer1K.Mul(decimal.NewFromInt(tokensOut)).Div(thousand)
	return in.Add(out).Round(8)
}
