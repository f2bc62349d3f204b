package collect

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/thetooth/hopwatch/check"
	"github.com/thetooth/hopwatch/record"
	"github.com/thetooth/hopwatch/store"
)

// ErrDNSMismatch marks a measurement whose final address is not one the
// site resolves to, the trace timed out or DNS is out of date.
var ErrDNSMismatch = errors.New("terminal address not among DNS candidates")

type Mode string

const (
	// ModeTrace stores one record per responding hop
	ModeTrace Mode = "trace"
	// ModePing stores a single hop 0 record from a direct ping
	ModePing Mode = "ping"
)

// Collector measures a list of sites and files the results into the store
type Collector struct {
	Prober   check.Prober
	Resolver check.Resolver
	Store    store.Store

	// Count is the number of probes per hop
	Count int
	Mode  Mode

	// Parallel bounds the number of sites probed at once
	Parallel int

	Now func() time.Time
}

type batch struct {
	good []record.Measurement
	bad  []record.Measurement
}

// Collect probes every target. Records whose final address matches DNS are
// returned in good, the rest in bad. A target that cannot be probed is
// logged and skipped. Output follows the order of targets.
func (c *Collector) Collect(ctx context.Context, targets []string) (good, bad []record.Measurement, err error) {
	batches := make([]batch, len(targets))

	g, gctx := errgroup.WithContext(ctx)
	if c.Parallel > 1 {
		g.SetLimit(c.Parallel)
	} else {
		g.SetLimit(1)
	}

	for i, site := range targets {
		i, site := i, site
		g.Go(func() error {
			start := time.Now()
			b, err := c.collect(gctx, site)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				logrus.Warn("[ COLLECT_FAIL ] site: ", site, " error: ", err)
				return nil
			}
			logrus.Debugf("[ COLLECT ] site: %v records: %d in %v", site, len(b.good)+len(b.bad), time.Since(start).Round(time.Millisecond))
			batches[i] = b
			return nil
		})
	}
	if err = g.Wait(); err != nil {
		return nil, nil, err
	}

	for _, b := range batches {
		good = append(good, b.good...)
		bad = append(bad, b.bad...)
	}
	return good, bad, nil
}

// Run collects targets and appends the results to p and its bad variant.
func (c *Collector) Run(ctx context.Context, p store.Partition, targets []string) error {
	start := time.Now()
	logrus.Info("[ COLLECT_START ] dataset: ", p, " sites: ", len(targets))

	good, bad, err := c.Collect(ctx, targets)
	if err != nil {
		return err
	}
	if len(good) > 0 {
		if err = c.Store.Append(p, good); err != nil {
			return fmt.Errorf("saving %v: %w", p, err)
		}
	}
	if len(bad) > 0 {
		if err = c.Store.Append(p.Bad(), bad); err != nil {
			return fmt.Errorf("saving %v: %w", p.Bad(), err)
		}
	}

	logrus.Infof("[ COLLECT_DONE ] dataset: %v records: %d bad: %d in %v",
		p, len(good), len(bad), time.Since(start).Round(time.Millisecond))
	return nil
}

func (c *Collector) collect(ctx context.Context, site string) (b batch, err error) {
	candidates, err := check.Resolve(ctx, c.Resolver, site)
	if err != nil {
		return
	}

	at := c.now()
	var (
		recs     []record.Measurement
		answered bool
	)
	switch c.Mode {
	case ModePing:
		var res check.HostResult
		if res, err = c.Prober.ProbeHost(ctx, site, c.count()); err != nil {
			return
		}
		recs = append(recs, res.Hop.Measurement(site, at))
		answered = res.Alive
	default:
		var res check.PathResult
		if res, err = c.Prober.ProbePath(ctx, site, c.count()); err != nil {
			return
		}
		for _, h := range res.Hops {
			recs = append(recs, h.Measurement(site, at))
		}
		answered = len(recs) > 0
	}

	if !answered {
		logrus.Warn("[ NO_REPLY ] site: ", site)
		b.bad = recs
		return b, nil
	}
	terminal, err := record.Terminal(recs)
	if err != nil {
		logrus.Warn("[ HOP_ORDER ] site: ", site, " error: ", err)
		b.bad = recs
		return b, nil
	}
	if !contains(candidates, terminal.IP) {
		logrus.Warn("[ DNS_MISMATCH ] site: ", site, " ", fmt.Errorf("%w: %v not one of %v", ErrDNSMismatch, terminal.IP, candidates))
		b.bad = recs
		return b, nil
	}
	b.good = recs
	return b, nil
}

func (c *Collector) count() int {
	if c.Count < 1 {
		return 1
	}
	return c.Count
}

func (c *Collector) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
