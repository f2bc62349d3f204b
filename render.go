package main

import (
	"fmt"
	"io"
	"math"

	"github.com/thetooth/hopwatch/decision"
	"github.com/thetooth/hopwatch/statistics"
)

var statusIcon = map[decision.HopStatus]string{
	decision.HopNormal:    "✅",
	decision.HopAnomalous: "❌",
	decision.HopUnknown:   "❔",
}

// printReport writes the per-hop lines, observations and the verdict
func printReport(w io.Writer, r *decision.Report) {
	if r.Gateway != "" {
		if r.GatewayStats != nil {
			icon := statusIcon[decision.HopNormal]
			if r.GatewayDegraded {
				icon = statusIcon[decision.HopAnomalous]
			}
			fmt.Fprintf(w, "%s gateway %v %s\n", icon, r.Gateway, expected(*r.GatewayStats))
		} else if r.Verdict == decision.VerdictGatewayUnreachable {
			fmt.Fprintf(w, "%s gateway %v unreachable\n", statusIcon[decision.HopAnomalous], r.Gateway)
		}
	}

	for _, s := range r.PopularSites {
		switch {
		case !s.Checked:
			fmt.Fprintf(w, "%s %v no history\n", statusIcon[decision.HopUnknown], s.Site)
		case !s.Alive:
			fmt.Fprintf(w, "%s %v unreachable\n", statusIcon[decision.HopAnomalous], s.Site)
		case s.Normal:
			fmt.Fprintf(w, "%s %v appears normal %s\n", statusIcon[decision.HopNormal], s.Site, expected(s.Stats))
		default:
			fmt.Fprintf(w, "%s %v appears problematic %s\n", statusIcon[decision.HopAnomalous], s.Site, expected(s.Stats))
		}
	}

	if r.NewSite {
		fmt.Fprintf(w, "%v is not in any site list, comparing against all collected history\n", r.Site)
	}
	for _, h := range r.Walk.Hops {
		fmt.Fprintln(w, hopLine(h))
	}
	if r.Destination != nil {
		fmt.Fprintln(w, hopLine(*r.Destination))
	}

	for _, o := range r.Observations {
		fmt.Fprintf(w, "  - %v\n", o)
	}
	fmt.Fprintln(w, r.Message)
}

func hopLine(h decision.HopVerdict) string {
	name := h.Address
	if h.Label != "" {
		name += " " + h.Label
	}
	if h.Status == decision.HopUnknown {
		return fmt.Sprintf("%s %d %s %.1fms unknown hop", statusIcon[h.Status], h.Index, name, h.RTT)
	}
	return fmt.Sprintf("%s %d %s %.1fms (z=%s)", statusIcon[h.Status], h.Index, name, h.RTT, zscore(h.Stats.ZScore))
}

func expected(s statistics.Stats) string {
	return fmt.Sprintf("%.1fms, expected %.1f±%.1fms (z=%s)", s.Current, s.Mean, s.Std, zscore(s.ZScore))
}

func zscore(z float64) string {
	switch {
	case math.IsInf(z, 1):
		return "+Inf"
	case math.IsInf(z, -1):
		return "-Inf"
	}
	return fmt.Sprintf("%.2f", z)
}
