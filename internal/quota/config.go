package quota

import (
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type fileConfig struct {
	Plans map[string]struct {
		MonthlyTokenLimit   int64 `yaml:"monthly_token_limit"`
		PerRequestMaxTokens int64 `yaml:"per_request_max_tokens"`
	} `yaml:"plans"`
	Prices map[string]struct {
		InputPer1K  string `yaml:"input_per_1k"`
		OutputPer1K string `yaml:"output_per_1k"`
	} `yaml:"prices"`
}

// LoadConfigFile reads plan limits and model prices from a YAML file. Entries
// in the file replace the built-in rows with the same name; rows absent from
// the file keep their defaults.
func LoadConfigFile(path string) (Plans, PriceTable, error) {
	plans := DefaultPlans()
	prices := DefaultPrices()

	if strings.TrimSpace(path) == "" {
		return plans, prices, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read plans file: %w", err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, nil, fmt.Errorf("parse plans file: %w", err)
	}

	for name, p := range cfg.Plans {
		if p.MonthlyTokenLimit <= 0 || p.PerRequestMaxTokens <= 0 {
			return nil, nil, fmt.Errorf("plan %s: limits must be positive", name)
		}
		plans[PlanTier(strings.ToUpper(strings.TrimSpace(name)))] = PlanLimits{
			MonthlyTokenLimit:   p.MonthlyTokenLimit,
			PerRequestMaxTokens: p.PerRequestMaxTokens,
		}
	}

	for model, p := range cfg.Prices {
		in, err := decimal.NewFromString(p.InputPer1K)
		if err != nil {
			return nil, nil, fmt.Errorf("price %s input: %w", model, err)
		}
		out, err := decimal.NewFromString(p.OutputPer1K)
		if err != nil {
			return nil, nil, fmt.Errorf("price %s output: %w", model, err)
		}
		if in.IsNegative() || out.IsNegative() {
			return nil, nil, fmt.Errorf("price %s: must not be negative", model)
		}
		prices[strings.ToLower(strings.TrimSpace(model))] = ModelPrice{InputPer1K: in, OutputPer1K: out}
	}

	return plans, prices, nil
}
