package decision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/thetooth/hopwatch/check"
	"github.com/thetooth/hopwatch/config"
	"github.com/thetooth/hopwatch/record"
	"github.com/thetooth/hopwatch/statistics"
	"github.com/thetooth/hopwatch/store"
)

// ErrNoGatewayHistory means no popular site has been collected yet, so the
// gateway cannot be identified.
var ErrNoGatewayHistory = errors.New("no gateway history, run collect popular first")

// Annotator labels hop addresses, e.g. with the owning autonomous system
type Annotator interface {
	Annotate(address string) string
}

// Analyzer runs the root-cause analysis of one site against the collected
// history.
type Analyzer struct {
	Cfg       *config.Config
	Prober    check.Prober
	Resolver  check.Resolver
	Store     store.Store
	Annotator Annotator

	// Site lists decide whether a target is known, and which partition
	// holds its baseline
	PopularSites []string
	Sites        []string

	Now func() time.Time
}

// SiteCheck is the live state of one popular site
type SiteCheck struct {
	Site    string           `json:"site"`
	Address string           `json:"address,omitempty"`
	Alive   bool             `json:"alive"`
	Normal  bool             `json:"normal"`
	Checked bool             `json:"checked"`
	Stats   statistics.Stats `json:"stats"`
	Error   string           `json:"error,omitempty"`
}

// Report is the structured outcome of Analyze
type Report struct {
	Site    string `json:"site"`
	Address string `json:"address,omitempty"`
	NewSite bool   `json:"new_site"`

	Gateway         string            `json:"gateway"`
	GatewayStats    *statistics.Stats `json:"gateway_stats,omitempty"`
	GatewayDegraded bool              `json:"gateway_degraded"`

	PopularSites []SiteCheck `json:"popular_sites,omitempty"`
	Destination  *HopVerdict `json:"destination,omitempty"`
	Reached      bool        `json:"reached"`
	Walk         WalkResult  `json:"walk"`

	Observations []string `json:"observations"`
	Verdict      Verdict  `json:"verdict"`
	Message      string   `json:"message"`
}

func (r *Report) observe(format string, args ...interface{}) {
	r.Observations = append(r.Observations, fmt.Sprintf(format, args...))
}

func (r *Report) finish(v Verdict) *Report {
	r.Verdict = v
	r.Message = v.Message(r.Site)
	logrus.Debug("[ VERDICT ] site: ", r.Site, " verdict: ", v)
	return r
}

// Analyze checks the gateway, the popular sites and finally walks a live
// trace to site, returning which network segment is most likely at fault.
// Probe failures are folded into the report, errors are returned only when
// the analysis cannot start.
func (a *Analyzer) Analyze(ctx context.Context, site string) (*Report, error) {
	cfg := a.Cfg
	r := &Report{Site: site}

	popular, err := a.window(store.Popular)
	if err != nil {
		return nil, err
	}
	gateway, ok := record.MostFrequentAddress(popular, 1)
	if !ok {
		return nil, ErrNoGatewayHistory
	}
	r.Gateway = gateway

	gw, err := a.Prober.ProbeHost(ctx, gateway, cfg.ProbeCount)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if err != nil {
		logrus.Warn("[ GATEWAY_FAIL ] gateway: ", gateway, " error: ", err)
	}
	if err != nil || !gw.Alive {
		return r.finish(VerdictGatewayUnreachable), nil
	}

	history := record.Latencies(record.ByHop(record.ByAddress(popular, gateway), 1), cfg.RTTColumn)
	current := a.rtt(gw.Hop)
	stats, err := statistics.Compute(history, current, cfg.Percentile)
	if err == nil || errors.Is(err, statistics.ErrIndeterminateBaseline) {
		r.GatewayStats = &stats
		if statistics.IsAnomalous(stats, cfg.BadZScore) {
			r.GatewayDegraded = true
			r.observe("gateway %v latency is anomalous: %.2fms against %.2f±%.2fms (z=%.2f)",
				gateway, current, stats.Mean, stats.Std, stats.ZScore)
			if cfg.FastRun {
				return r.finish(VerdictGatewayDegraded), nil
			}
		}
	}

	if !cfg.FastRun {
		if a.sweep(ctx, r, popular) {
			return r.finish(VerdictUpstreamFailure), nil
		}
	}

	var reference []record.Measurement
	switch {
	case config.Contains(a.PopularSites, site):
		reference = popular
	case config.Contains(a.Sites, site):
		reference, err = a.window(store.Frequent)
	default:
		r.NewSite = true
		reference, err = a.window(store.Popular, store.Frequent)
	}
	if err != nil {
		return nil, err
	}

	addrs, err := check.Resolve(ctx, a.Resolver, site)
	if err != nil {
		r.observe("%v", err)
		return r.finish(VerdictUnresolvable), nil
	}
	r.Address = addrs[0]

	host, err := a.Prober.ProbeHost(ctx, r.Address, cfg.ProbeCount)
	if err != nil {
		logrus.Warn("[ TARGET_FAIL ] site: ", site, " error: ", err)
		r.observe("ping %v failed: %v", site, err)
	}
	if host.Alive {
		dest := a.score(host.Hop, destinationHistory(reference, site, host.Hop.Address, cfg.RTTColumn))
		r.Destination = &dest
		if dest.Status == HopAnomalous {
			r.observe("%v latency is anomalous: %.2fms against %.2f±%.2fms (z=%.2f)",
				site, dest.RTT, dest.Stats.Mean, dest.Stats.Std, dest.Stats.ZScore)
		}
		if cfg.FastRun && dest.Status == HopNormal {
			r.Reached = true
			return r.finish(VerdictNormal), nil
		}
	}

	path, err := a.Prober.ProbePath(ctx, r.Address, cfg.ProbeCount)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if err != nil {
		logrus.Warn("[ TRACE_FAIL ] site: ", site, " error: ", err)
		r.observe("trace to %v failed: %v", site, err)
	}

	// The gateway was scored on its own above
	walker := NewWalker(cfg.BadZScore, cfg.FastRun)
	for _, h := range path.Hops {
		if h.Index < 1 || h.Address == gateway || h.Address == host.Hop.Address || contains(addrs, h.Address) {
			continue
		}
		current := a.rtt(h)
		stats, err := statistics.Compute(record.Latencies(record.ByAddress(reference, h.Address), cfg.RTTColumn), current, cfg.Percentile)
		hop := HopVerdict{Index: h.Index, Address: h.Address, Label: a.annotate(h.Address), RTT: current, Stats: stats}
		if _, done := walker.Step(hop, err); done {
			break
		}
	}

	r.Walk = walker.Result()
	r.Observations = append(r.Observations, r.Walk.Observations...)
	r.Reached = path.Reachable || host.Alive

	destAnomalous := r.Destination != nil && r.Destination.Status == HopAnomalous
	v := conclude(r.Reached, r.Walk.FailureDetected, r.Walk.IsDetached, r.Walk.DetachmentDetected, destAnomalous)
	// A slow gateway delays everything behind it
	if r.GatewayDegraded && (v == VerdictNormal || v == VerdictDestinationDegraded) {
		v = VerdictGatewayDegraded
	}
	return r.finish(v), nil
}

// sweep pings every popular site and reports whether all of the ones that
// could be scored are failing.
func (a *Analyzer) sweep(ctx context.Context, r *Report, popular []record.Measurement) (upstreamFailure bool) {
	checked, normal := 0, 0
	for _, site := range a.PopularSites {
		if ctx.Err() != nil {
			break
		}
		sc := SiteCheck{Site: site}

		res, err := a.Prober.ProbeHost(ctx, site, a.Cfg.ProbeCount)
		switch {
		case err != nil:
			sc.Error = err.Error()
			sc.Checked = true
		case !res.Alive:
			sc.Checked = true
		default:
			sc.Alive = true
			sc.Address = res.Hop.Address
			hop := a.score(res.Hop, destinationHistory(popular, site, res.Hop.Address, a.Cfg.RTTColumn))
			sc.Stats = hop.Stats
			sc.Checked = hop.Status != HopUnknown
			sc.Normal = hop.Status == HopNormal
		}

		if sc.Checked {
			checked++
			if sc.Normal {
				normal++
				logrus.Info("[ SITE_OK ] site: ", site)
			} else {
				logrus.Warn("[ SITE_FAIL ] site: ", site)
			}
		}
		r.PopularSites = append(r.PopularSites, sc)
	}
	return checked > 0 && normal == 0
}

// score classifies a directly pinged host against history
func (a *Analyzer) score(h check.Hop, history []float64) HopVerdict {
	current := a.rtt(h)
	stats, err := statistics.Compute(history, current, a.Cfg.Percentile)
	v := HopVerdict{Index: h.Index, Address: h.Address, Label: a.annotate(h.Address), RTT: current, Stats: stats}
	switch {
	case errors.Is(err, statistics.ErrInsufficientHistory):
		v.Status = HopUnknown
	case statistics.IsAnomalous(stats, a.Cfg.BadZScore):
		v.Status = HopAnomalous
	}
	return v
}

func (a *Analyzer) rtt(h check.Hop) float64 {
	return h.Measurement("", time.Time{}).RTT(a.Cfg.RTTColumn)
}

func (a *Analyzer) annotate(address string) string {
	if a.Annotator == nil {
		return ""
	}
	return a.Annotator.Annotate(address)
}

func (a *Analyzer) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

// window returns the records of parts within the configured number of days
func (a *Analyzer) window(parts ...store.Partition) ([]record.Measurement, error) {
	recs, err := store.ReadUnion(a.Store, parts...)
	if err != nil {
		return nil, fmt.Errorf("reading history: %w", err)
	}
	return record.LastNDays(recs, a.Cfg.WindowDays, a.now()), nil
}

// destinationHistory returns the latencies of site measured at address. When
// the site has moved to an address never seen before, the terminal hop of
// every earlier trace of the site is used instead.
func destinationHistory(recs []record.Measurement, site, address, column string) []float64 {
	siteRecs := record.BySite(recs, site)
	if at := record.ByAddress(siteRecs, address); len(at) > 0 {
		return record.Latencies(at, column)
	}
	return record.Latencies(terminals(siteRecs), column)
}

// terminals keeps the highest hop of every trace, traces being the records
// of one site sharing a timestamp.
func terminals(recs []record.Measurement) []record.Measurement {
	idx := map[int64]int{}
	out := []record.Measurement{}
	for _, m := range recs {
		i, ok := idx[m.Time.UnixNano()]
		if !ok {
			idx[m.Time.UnixNano()] = len(out)
			out = append(out, m)
			continue
		}
		if m.HopNum > out[i].HopNum {
			out[i] = m
		}
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
