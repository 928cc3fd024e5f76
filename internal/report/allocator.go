package report

// Deficit-coverage allocation: retroactively explains which month's surplus
// funded which month's deficit. Pure computation over a saldo series; never
// touches storage, always yields the same graph for the same input.

// MonthRef identifies a month in the coverage graph. The zero value stands
// for the "older" bucket aggregating everything before the window.
type MonthRef struct {
	Year  int `json:"year"`
	Month int `json:"month"`
}

// IsOlder reports whether the ref is the pre-window bucket.
func (m MonthRef) IsOlder() bool {
	return m.Year == 0 && m.Month == 0
}

// MonthSaldo is one input point: the net (income - expense) of a month.
type MonthSaldo struct {
	MonthRef
	Saldo int64
}

// Transfer is one edge of the coverage graph: Value cents moved from a
// surplus month (or the older bucket) to a deficit month.
type Transfer struct {
	From  MonthRef `json:"from"`
	To    MonthRef `json:"to"`
	Value int64    `json:"value"`
}

// MonthCoverage is the allocation result for one month of the series.
type MonthCoverage struct {
	MonthRef
	Saldo         int64      `json:"saldo"`
	DepIn         []Transfer `json:"dep_in,omitempty"`
	DepOut        []Transfer `json:"dep_out,omitempty"`
	DepTotal      int64      `json:"dep_total"`
	SaldoAfterDep int64      `json:"saldo_after_dep"`
}

// Cover walks the series oldest to newest, spending down the oldest surplus
// first. Months in deficit draw from the older bucket before any in-window
// supplier; whatever need remains uncovered simply leaves SaldoAfterDep
// negative.
func Cover(series []MonthSaldo, olderSaldo int64) []MonthCoverage {
	out := make([]MonthCoverage, len(series))
	for i, ms := range series {
		out[i] = MonthCoverage{
			MonthRef:      ms.MonthRef,
			Saldo:         ms.Saldo,
			SaldoAfterDep: ms.Saldo,
		}
	}

	olderAvailable := int64(0)
	if olderSaldo > 0 {
		olderAvailable = olderSaldo
	}

	// FIFO queue of supplier months with surplus still available
	type supplier struct {
		idx       int
		available int64
	}
	var suppliers []supplier

	for i := range out {
		m := &out[i]
		switch {
		case m.Saldo > 0:
			suppliers = append(suppliers, supplier{idx: i, available: m.Saldo})
		case m.Saldo == 0:
			// neither supplies nor consumes
		default:
			need := -m.Saldo

			if olderAvailable > 0 {
				value := min64(need, olderAvailable)
				olderAvailable -= value
				need -= value
				m.DepIn = append(m.DepIn, Transfer{From: MonthRef{}, To: m.MonthRef, Value: value})
				m.DepTotal += value
			}

			for need > 0 && len(suppliers) > 0 {
				s := &suppliers[0]
				value := min64(need, s.available)
				s.available -= value
				need -= value

				from := &out[s.idx]
				t := Transfer{From: from.MonthRef, To: m.MonthRef, Value: value}
				m.DepIn = append(m.DepIn, t)
				m.DepTotal += value
				from.DepOut = append(from.DepOut, t)
				from.DepTotal -= value
				from.SaldoAfterDep = from.Saldo + from.DepTotal

				if s.available == 0 {
					suppliers = suppliers[1:]
				}
			}
			// any need left here is an uncovered deficit, not an error

			m.SaldoAfterDep = m.Saldo + m.DepTotal
		}
	}

	return out
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
