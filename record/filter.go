package record

import (
	"errors"
	"math"
	"time"
)

var ErrHopOrder = errors.New("hop numbers must be non-decreasing within a trace")

// LastNDays keeps records taken within the last days relative to now.
func LastNDays(recs []Measurement, days int, now time.Time) []Measurement {
	since := now.Add(-time.Duration(days) * 24 * time.Hour)
	out := make([]Measurement, 0, len(recs))
	for _, m := range recs {
		if !m.Time.Before(since) {
			out = append(out, m)
		}
	}
	return out
}

func ByAddress(recs []Measurement, ip string) []Measurement {
	return filter(recs, func(m Measurement) bool { return m.IP == ip })
}

func BySite(recs []Measurement, site string) []Measurement {
	return filter(recs, func(m Measurement) bool { return m.Site == site })
}

func ByHop(recs []Measurement, hop int) []Measurement {
	return filter(recs, func(m Measurement) bool { return m.HopNum == hop })
}

func filter(recs []Measurement, keep func(Measurement) bool) []Measurement {
	out := []Measurement{}
	for _, m := range recs {
		if keep(m) {
			out = append(out, m)
		}
	}
	return out
}

// Latencies extracts the named column, skipping hops that never answered.
func Latencies(recs []Measurement, column string) []float64 {
	out := make([]float64, 0, len(recs))
	for _, m := range recs {
		v := m.RTT(column)
		if math.IsNaN(v) {
			continue
		}
		out = append(out, v)
	}
	return out
}

// MostFrequentAddress returns the address seen most often at the given hop.
// Ties go to the address seen most recently, then to the lowest address.
func MostFrequentAddress(recs []Measurement, hop int) (addr string, ok bool) {
	counts := map[string]int{}
	last := map[string]time.Time{}
	for _, m := range recs {
		if m.HopNum != hop || m.IP == "" {
			continue
		}
		counts[m.IP]++
		if m.Time.After(last[m.IP]) {
			last[m.IP] = m.Time
		}
	}

	best := 0
	for ip, n := range counts {
		switch {
		case n > best:
		case n < best:
			continue
		case last[ip].After(last[addr]):
		case last[ip].Equal(last[addr]) && ip < addr:
		default:
			continue
		}
		addr, best = ip, n
	}
	return addr, best > 0
}

// Terminal returns the delivery point of one trace, the record with the
// highest hop number.
func Terminal(trace []Measurement) (m Measurement, err error) {
	if len(trace) == 0 {
		err = errors.New("empty trace")
		return
	}
	if err = CheckOrder(trace); err != nil {
		return
	}
	return trace[len(trace)-1], nil
}

// CheckOrder verifies that hop numbers never decrease along a trace
func CheckOrder(trace []Measurement) error {
	for i := 1; i < len(trace); i++ {
		if trace[i].HopNum < trace[i-1].HopNum {
			return ErrHopOrder
		}
	}
	return nil
}
