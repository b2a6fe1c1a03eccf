package quota

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plans.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigFile_OverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
plans:
  free:
    monthly_token_limit: 50000
    per_request_max_tokens: 2000
  team:
    monthly_token_limit: 2000000
    per_request_max_tokens: 24000
prices:
  GPT-4o:
    input_per_1k: "0.005"
    output_per_1k: "0.015"
`)

	plans, prices, err := LoadConfigFile(path)
	require.NoError(t, err)

	assert.Equal(t, PlanLimits{MonthlyTokenLimit: 50_000, PerRequestMaxTokens: 2_000}, plans[PlanFree])
	assert.Equal(t, PlanLimits{MonthlyTokenLimit: 2_000_000, PerRequestMaxTokens: 24_000}, plans["TEAM"])
	assert.Equal(t, DefaultPlans()[PlanPro], plans[PlanPro])

	assert.Equal(t, "0.005", prices["gpt-4o"].InputPer1K.String())
	assert.Contains(t, prices, "gpt-4o-mini")
}

func TestLoadConfigFile_EmptyPathReturnsDefaults(t *testing.T) {
	plans, prices, err := LoadConfigFile("")
	require.NoError(t, err)
	assert.Equal(t, DefaultPlans(), plans)
	assert.Len(t, prices, len(DefaultPrices()))
}

func TestLoadConfigFile_Rejects(t *testing.T) {
	cases := map[string]string{
		"zero limit":     "plans:\n  free:\n    monthly_token_limit: 0\n    per_request_max_tokens: 1\n",
		"bad price":      "prices:\n  x:\n    input_per_1k: \"abc\"\n    output_per_1k: \"1\"\n",
		"negative price": "prices:\n  x:\n    input_per_1k: \"-1\"\n    output_per_1k: \"1\"\n",
		"not yaml":       "plans: [",
	}

	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := LoadConfigFile(writeConfig(t, body))
			assert.Error(t, err)
		})
	}

	_, _, err := LoadConfigFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
