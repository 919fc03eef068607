package alerts

// DefaultTolerance applies to instruments not listed in the tolerance table.
const DefaultTolerance = 0.01

// assetTolerances maps instrument symbols to the maximum absolute deviation
// still considered "equal" for equality-style alerts. This is a domain
// policy table, not a computed value: indices and some cryptos demand an
// exact match while volatile commodities need wide bands.
var assetTolerances = map[string]float64{
	// Forex pairs, very tight
	"EURUSD": 0.0002,
	"GBPUSD": 0.0002,

	// Commodities
	"GOLD":   0.0,
	"SILVER": 0.0,
	"USOIL":  0.2,

	// Crypto, varies by asset
	"BTCUSD":  50.0,
	"BTCUSDT": 50.0,
	"ETHUSD":  0.0,
	"ETHUSDT": 0.0,

	// Indices, exact match
	"SPX": 0.0,
	"DJI": 0.0,
	"NDQ": 0.0,

	// Stocks
	"AAPL": 0.5,
	"TSLA": 1.0,
	"NFLX": 0.1,

	// Forex indices
	"DXY":    0.1,
	"USDJPY": 0.5,

	// Volatility
	"VIX": 0.1,
}

// Tolerance returns the equality tolerance for an instrument, falling back
// to DefaultTolerance for unlisted symbols.
func Tolerance(pair string) float64 {
	if tol, ok := assetTolerances[pair]; ok {
		return tol
	}
	return DefaultTolerance
}
