package usage

// Gemini pricing in USD.
// Source: https://ai.google.dev/gemini-api/docs/pricing

type ModelPrice struct {
	InputPer1M  float64
	OutputPer1M float64
	// PerImage is charged for each image an image model returns, instead of
	// output tokens.
	PerImage float64
}

var geminiPricing = map[string]ModelPrice{
	"gemini-3-pro-preview":       {InputPer1M: 2.00, OutputPer1M: 12.00},
	"gemini-2.5-flash":           {InputPer1M: 0.30, OutputPer1M: 2.50},
	"gemini-2.5-flash-image":     {InputPer1M: 0.30, PerImage: 0.039},
	"gemini-3-pro-image-preview": {InputPer1M: 2.00, PerImage: 0.134},
}

func GetPrice(model string) (ModelPrice, bool) {
	price, ok := geminiPricing[model]
	return price, ok
}
