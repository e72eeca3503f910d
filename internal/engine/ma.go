package engine

import "math"

// maCalc computes a moving average one price at a time. Each call to
// Update feeds the next bar's price and returns the current value, with
// ok=false while the calculator is still warming up. Feeding the same
// series row by row yields exactly the values a whole-series pass would.
type maCalc struct {
	kind   string
	window int

	prices []float64

	// ema/dema/tema chain state
	ema1, ema2, ema3 *float64

	hmaRaw    []float64
	trimaSMA1 []float64

	prevRMA   *float64
	prevKAMA  *float64
	prevVIDYA *float64
	prevMCGD  *float64
	prevSMMA  *float64
	smmaFirst bool
	zlmaEMA   *float64
}

func newMACalc(kind string, window int) *maCalc {
	return &maCalc{kind: kind, window: window, smmaFirst: true}
}

func (m *maCalc) Update(price float64) (float64, bool) {
	m.prices = append(m.prices, price)

	switch m.kind {
	case "ema":
		v := emaStep(price, m.window, m.ema1)
		m.ema1 = &v
		return v, true
	case "dema":
		e1 := emaStep(price, m.window, m.ema1)
		e2 := emaStep(e1, m.window, m.ema2)
		m.ema1, m.ema2 = &e1, &e2
		return 2*e1 - e2, true
	case "tema":
		e1 := emaStep(price, m.window, m.ema1)
		e2 := emaStep(e1, m.window, m.ema2)
		e3 := emaStep(e2, m.window, m.ema3)
		m.ema1, m.ema2, m.ema3 = &e1, &e2, &e3
		return 3*e1 - 3*e2 + e3, true
	case "wma":
		return wmaTail(m.prices, m.window)
	case "hma":
		return m.hmaStep()
	case "rma":
		v := rmaStep(price, m.window, m.prevRMA)
		m.prevRMA = &v
		return v, true
	case "smma":
		var v float64
		if m.prevSMMA == nil || m.smmaFirst {
			v = price
		} else {
			v = (*m.prevSMMA*float64(m.window-1) + price) / float64(m.window)
		}
		m.prevSMMA = &v
		m.smmaFirst = false
		return v, true
	case "zlma":
		return m.zlmaStep(price)
	case "trima":
		return m.trimaStep()
	case "linreg":
		return linregTail(m.prices, m.window)
	case "kama":
		return m.kamaStep(price)
	case "vidya":
		return m.vidyaStep(price)
	case "mcgd":
		var v float64
		switch {
		case m.prevMCGD == nil:
			v = price
		case *m.prevMCGD != 0:
			prev := *m.prevMCGD
			factor := (price/prev - 1) * math.Pow(price/prev, 4)
			v = prev + factor*(price-prev)/(float64(m.window)*factor+1)
		default:
			v = price
		}
		m.prevMCGD = &v
		return v, true
	default:
		// sma, and anything unrecognized
		return smaTail(m.prices, m.window)
	}
}

func emaStep(price float64, window int, prev *float64) float64 {
	if prev == nil {
		return price
	}
	alpha := 2.0 / float64(window+1)
	return alpha*price + (1-alpha)**prev
}

func rmaStep(price float64, window int, prev *float64) float64 {
	if prev == nil {
		return price
	}
	alpha := 1.0 / float64(window)
	return alpha*price + (1-alpha)**prev
}

func smaTail(prices []float64, window int) (float64, bool) {
	if len(prices) < window {
		return 0, false
	}
	sum := 0.0
	for _, p := range prices[len(prices)-window:] {
		sum += p
	}
	return sum / float64(window), true
}

func wmaTail(prices []float64, window int) (float64, bool) {
	if len(prices) < window {
		return 0, false
	}
	var weighted, weights float64
	for i, p := range prices[len(prices)-window:] {
		w := float64(i + 1)
		weighted += p * w
		weights += w
	}
	return weighted / weights, true
}

func linregTail(prices []float64, window int) (float64, bool) {
	if len(prices) < window {
		return 0, false
	}
	y := prices[len(prices)-window:]
	n := float64(window)
	var sumX, sumY, sumXY, sumX2 float64
	for i, v := range y {
		x := float64(i)
		sumX += x
		sumY += v
		sumXY += x * v
		sumX2 += x * x
	}
	denom := n*sumX2 - sumX*sumX
	if denom == 0 {
		return 0, false
	}
	slope := (n*sumXY - sumX*sumY) / denom
	intercept := (sumY - slope*sumX) / n
	return slope*(n-1) + intercept, true
}

func (m *maCalc) hmaStep() (float64, bool) {
	if len(m.prices) < m.window {
		return 0, false
	}
	half := m.window / 2
	if half < 1 {
		half = 1
	}
	sqrtW := int(math.Sqrt(float64(m.window)))
	if sqrtW < 1 {
		sqrtW = 1
	}
	wmaHalf, ok1 := wmaTail(m.prices, half)
	wmaFull, ok2 := wmaTail(m.prices, m.window)
	if !ok1 || !ok2 {
		return 0, false
	}
	m.hmaRaw = append(m.hmaRaw, 2*wmaHalf-wmaFull)
	if len(m.hmaRaw) < sqrtW {
		return 0, false
	}
	return wmaTail(m.hmaRaw, sqrtW)
}

func (m *maCalc) trimaStep() (float64, bool) {
	if len(m.prices) < m.window {
		return 0, false
	}
	half := (m.window + 1) / 2
	sma1, ok := smaTail(m.prices, half)
	if !ok {
		return 0, false
	}
	m.trimaSMA1 = append(m.trimaSMA1, sma1)
	if len(m.trimaSMA1) < half {
		return 0, false
	}
	return smaTail(m.trimaSMA1, half)
}

func (m *maCalc) zlmaStep(price float64) (float64, bool) {
	if len(m.prices) < m.window {
		return 0, false
	}
	lag := (m.window - 1) / 2
	if len(m.prices) < lag+1 {
		return 0, false
	}
	ema := emaStep(price, m.window, m.zlmaEMA)
	m.zlmaEMA = &ema
	return ema + (price - m.prices[len(m.prices)-lag-1]), true
}

// kamaStep and vidyaStep both re-seed from the current price if the
// previous call produced no value, so their output is the raw price on
// the first valued bar after warm-up.
func (m *maCalc) kamaStep(price float64) (float64, bool) {
	n := len(m.prices)
	if n < m.window+1 {
		if n == 1 {
			m.prevKAMA = &price
			return price, true
		}
		m.prevKAMA = nil
		return 0, false
	}
	change := math.Abs(price - m.prices[n-m.window-1])
	volatility := 0.0
	for i := n - m.window; i < n; i++ {
		volatility += math.Abs(m.prices[i] - m.prices[i-1])
	}
	er := 0.0
	if volatility != 0 {
		er = change / volatility
	}
	fastest := 2.0 / 3.0
	slowest := 2.0 / 31.0
	sc := math.Pow(er*(fastest-slowest)+slowest, 2)

	var v float64
	if m.prevKAMA == nil {
		v = price
	} else {
		v = *m.prevKAMA + sc*(price-*m.prevKAMA)
	}
	m.prevKAMA = &v
	return v, true
}

func (m *maCalc) vidyaStep(price float64) (float64, bool) {
	n := len(m.prices)
	if n < m.window+1 {
		if n == 1 {
			m.prevVIDYA = &price
			return price, true
		}
		m.prevVIDYA = nil
		return 0, false
	}
	var ups, downs float64
	for i := n - m.window; i < n; i++ {
		change := m.prices[i] - m.prices[i-1]
		if change > 0 {
			ups += change
		} else {
			downs += -change
		}
	}
	cmo := 0.0
	if ups+downs != 0 {
		cmo = (ups - downs) / (ups + downs)
	}
	alpha := math.Abs(cmo) * 2.0 / float64(m.window+1)

	var v float64
	if m.prevVIDYA == nil {
		v = price
	} else {
		v = alpha*price + (1-alpha)**m.prevVIDYA
	}
	m.prevVIDYA = &v
	return v, true
}

// rsiCalc computes Wilder's RSI incrementally. The first value appears
// once window changes have accumulated, seeded with a simple average and
// smoothed with Wilder's recurrence from then on.
type rsiCalc struct {
	window   int
	havePrev bool
	prev     float64
	gains    []float64
	losses   []float64
	avgGain  *float64
	avgLoss  *float64
}

func newRSICalc(window int) *rsiCalc {
	return &rsiCalc{window: window}
}

func (r *rsiCalc) Update(price float64) (float64, bool) {
	if !r.havePrev {
		r.havePrev = true
		r.prev = price
		return 0, false
	}
	change := price - r.prev
	r.prev = price

	gain := math.Max(change, 0)
	loss := math.Max(-change, 0)
	r.gains = append(r.gains, gain)
	r.losses = append(r.losses, loss)
	if len(r.gains) > r.window {
		r.gains = r.gains[len(r.gains)-r.window:]
		r.losses = r.losses[len(r.losses)-r.window:]
	}
	if len(r.gains) < r.window {
		return 0, false
	}

	if r.avgGain == nil {
		ag, al := 0.0, 0.0
		for i := range r.gains {
			ag += r.gains[i]
			al += r.losses[i]
		}
		ag /= float64(r.window)
		al /= float64(r.window)
		r.avgGain, r.avgLoss = &ag, &al
	} else {
		alpha := 1.0 / float64(r.window)
		ag := alpha*gain + (1-alpha)**r.avgGain
		al := alpha*loss + (1-alpha)**r.avgLoss
		r.avgGain, r.avgLoss = &ag, &al
	}

	if *r.avgLoss == 0 {
		return 100.0, true
	}
	rs := *r.avgGain / *r.avgLoss
	return 100.0 - 100.0/(1+rs), true
}

// supertrendCalc computes the SuperTrend line incrementally. The ATR is
// seeded with a simple average of the first window true ranges and
// Wilder-smoothed afterwards; band carry-forward and trend flips follow
// the usual definition.
type supertrendCalc struct {
	window     int
	multiplier float64

	havePrev  bool
	prevClose float64
	trValues  []float64
	atr       *float64
	trend     int
	value     *float64
	upper     *float64
	lower     *float64
}

func newSupertrendCalc(window int, multiplier float64) *supertrendCalc {
	return &supertrendCalc{window: window, multiplier: multiplier, trend: 1}
}

func (s *supertrendCalc) Update(high, low, close float64) (float64, bool) {
	if !s.havePrev {
		s.havePrev = true
		s.prevClose = close
		return 0, false
	}
	prevClose := s.prevClose
	s.prevClose = close

	tr := math.Max(high-low, math.Max(math.Abs(high-prevClose), math.Abs(low-prevClose)))
	s.trValues = append(s.trValues, tr)
	if len(s.trValues) > s.window {
		s.trValues = s.trValues[len(s.trValues)-s.window:]
	}
	if len(s.trValues) < s.window {
		return 0, false
	}

	if s.atr == nil {
		sum := 0.0
		for _, v := range s.trValues {
			sum += v
		}
		atr := sum / float64(s.window)
		s.atr = &atr
	} else {
		alpha := 1.0 / float64(s.window)
		atr := alpha*tr + (1-alpha)**s.atr
		s.atr = &atr
	}

	hl2 := (high + low) / 2
	upper := hl2 + s.multiplier**s.atr
	lower := hl2 - s.multiplier**s.atr

	if s.upper == nil || upper < *s.upper || prevClose > *s.upper {
		s.upper = &upper
	}
	if s.lower == nil || lower > *s.lower || prevClose < *s.lower {
		s.lower = &lower
	}

	var v float64
	switch {
	case s.value == nil:
		if close <= *s.lower {
			v = *s.upper
			s.trend = -1
		} else {
			v = *s.lower
			s.trend = 1
		}
	case s.trend == 1 && close < *s.lower:
		v = *s.upper
		s.trend = -1
	case s.trend == -1 && close > *s.upper:
		v = *s.lower
		s.trend = 1
	case s.trend == 1:
		v = *s.lower
	default:
		v = *s.upper
	}
	s.value = &v
	return v, true
}
