package record

import (
	"fmt"
	"math"
	"time"
)

// Columns is the persisted column order. Existing data files depend on it.
var Columns = []string{"time", "site", "ip", "hop_num", "min_rtt", "avg_rtt", "max_rtt"}

const (
	ColumnMinRTT = "min_rtt"
	ColumnAvgRTT = "avg_rtt"
	ColumnMaxRTT = "max_rtt"
)

// Measurement is a single probe result for one hop of one site
type Measurement struct {
	Time   time.Time
	Site   string
	IP     string
	HopNum int

	// Latencies are in milliseconds, NaN when the hop never answered
	MinRTT float64
	AvgRTT float64
	MaxRTT float64
}

// RTT returns the latency stored in the named column.
func (m Measurement) RTT(column string) float64 {
	switch column {
	case ColumnMinRTT:
		return m.MinRTT
	case ColumnAvgRTT:
		return m.AvgRTT
	case ColumnMaxRTT:
		return m.MaxRTT
	}
	return math.NaN()
}

// Silent reports whether the hop did not respond to any probe
func (m Measurement) Silent() bool {
	return math.IsNaN(m.MinRTT) && math.IsNaN(m.AvgRTT) && math.IsNaN(m.MaxRTT)
}

func (m Measurement) String() string {
	return fmt.Sprintf("%v %v %v hop=%d rtt=%.2f/%.2f/%.2fms",
		m.Time.UTC().Format(time.RFC3339), m.Site, m.IP, m.HopNum, m.MinRTT, m.AvgRTT, m.MaxRTT)
}

// Millis converts a duration to fractional milliseconds
func Millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// ValidColumn reports whether column names one of the latency columns.
func ValidColumn(column string) bool {
	return column == ColumnMinRTT || column == ColumnAvgRTT || column == ColumnMaxRTT
}
