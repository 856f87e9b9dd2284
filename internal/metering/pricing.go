package metering

import "strings"

// modelPrice is USD per million tokens.
type modelPrice struct {
	Input  float64
	Output float64
}

// defaultPrices is the fallback price table, keyed by model name prefix.
// Used when the provider response carries no cost of its own. Prices are
// list prices; negotiated rates arrive through the provider-reported cost
// path instead.
var defaultPrices = map[string]modelPrice{
	"claude-3-5-sonnet": {Input: 3.00, Output: 15.00},
	"claude-3-5-haiku":  {Input: 0.80, Output: 4.00},
	"claude-3-opus":     {Input: 15.00, Output: 75.00},
	"gpt-4o-mini":       {Input: 0.15, Output: 0.60},
	"gpt-4o":            {Input: 2.50, Output: 10.00},
	"o1-mini":           {Input: 1.10, Output: 4.40},
	"o1":                {Input: 15.00, Output: 60.00},
}

// fallbackPrice covers models absent from the table.
var fallbackPrice = modelPrice{Input: 3.00, Output: 15.00}

// priceFor returns the table price for a model, longest prefix wins.
func priceFor(model string) modelPrice {
	if p, ok := defaultPrices[model]; ok {
		return p
	}

	best := ""
	for prefix := range defaultPrices {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best != "" {
		return defaultPrices[best]
	}
	return fallbackPrice
}

const tokensPerPriceUnit = 1_000_000

type usageRow struct {
	Type      string
	Quantity  int
	UnitPrice float64
	TotalCost float64
}

// ledgerRows prices one AI call into its ledger rows. When the provider
// reported a cost, it is split across input and output tokens
// proportionally to their counts; otherwise the static table applies.
func ledgerRows(req RecordRequest) []usageRow {
	in := req.Usage.InputTokens
	out := req.Usage.OutputTokens

	var unitIn, unitOut float64
	if req.Usage.Cost > 0 && in+out > 0 {
		unit := req.Usage.Cost / float64(in+out)
		unitIn, unitOut = unit, unit
	} else {
		p := priceFor(req.Model)
		unitIn = p.Input / tokensPerPriceUnit
		unitOut = p.Output / tokensPerPriceUnit
	}

	return []usageRow{
		{Type: UsageTypeInput, Quantity: in, UnitPrice: unitIn, TotalCost: unitIn * float64(in)},
		{Type: UsageTypeOutput, Quantity: out, UnitPrice: unitOut, TotalCost: unitOut * float64(out)},
	}
}
