package normalizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			"strips prefix, card reference, store number and location",
			"POS DEBIT 1234 STARBUCKS #55 SEATTLE WA",
			"starbucks",
		},
		{
			"strips checkcard prefix",
			"CHECKCARD WHOLE FOODS MARKET",
			"whole foods market",
		},
		{
			"strips stacked prefixes",
			"POS DEBIT CHECKCARD NETFLIX.COM",
			"netflix.com",
		},
		{
			"strips trailing state and zip",
			"AMAZON.COM WA 98109",
			"amazon.com",
		},
		{
			"strips trailing date fragment",
			"UBER TRIP 12/01",
			"uber trip",
		},
		{
			"plain merchant is just lowercased",
			"Trader Joe's",
			"trader joe's",
		},
		{
			"strips adjacent reference digit runs in one call",
			"ACME 1234 5678 STORE",
			"acme store",
		},
		{
			"collapses internal whitespace",
			"SHELL   OIL    57442",
			"shell oil",
		},
		{
			"falls back to cleaned input when stripping leaves nothing",
			"POS DEBIT 1234",
			"pos debit 1234",
		},
		{
			"empty input",
			"",
			"",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.raw))
		})
	}
}

func TestNormalizeIsIdempotent(t *testing.T) {
	inputs := []string{
		"POS DEBIT 1234 STARBUCKS #55 SEATTLE WA",
		"CHECKCARD WHOLE FOODS MARKET",
		"AMAZON.COM WA 98109",
		"ACME 1234 5678 STORE",
		"Trader Joe's",
		"POS DEBIT 1234",
	}

	for _, raw := range inputs {
		once := Normalize(raw)
		assert.Equal(t, once, Normalize(once), "input %q", raw)
	}
}
