package usage

const (
	CurrencyUSD = "USD"
)

type Calculator struct{}

func NewCalculator() *Calculator {
	return &Calculator{}
}

// Calculate estimates the cost of one call. Unknown models cost nothing so an
// estimate never blocks a call.
func (c *Calculator) Calculate(rec Record) float64 {
	price, ok := GetPrice(rec.Model)
	if !ok {
		return 0
	}

	input := float64(rec.PromptTokens) / 1_000_000 * price.InputPer1M
	if price.PerImage > 0 {
		return input + price.PerImage*float64(rec.Images)
	}
	return input + float64(rec.OutputTokens)/1_000_000*price.OutputPer1M
}
