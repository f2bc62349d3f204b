package collect_test

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/thetooth/hopwatch/check"
	"github.com/thetooth/hopwatch/collect"
	"github.com/thetooth/hopwatch/record"
	"github.com/thetooth/hopwatch/store"
)

var now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeProber struct {
	hosts map[string]check.HostResult
	paths map[string]check.PathResult
	delay map[string]time.Duration
}

func (f *fakeProber) ProbeHost(_ context.Context, address string, _ int) (check.HostResult, error) {
	time.Sleep(f.delay[address])
	res, ok := f.hosts[address]
	if !ok {
		return res, errors.New("socket: operation not permitted")
	}
	return res, nil
}

func (f *fakeProber) ProbePath(_ context.Context, address string, _ int) (check.PathResult, error) {
	time.Sleep(f.delay[address])
	res, ok := f.paths[address]
	if !ok {
		return res, errors.New("socket: operation not permitted")
	}
	return res, nil
}

type fakeResolver map[string][]string

func (f fakeResolver) LookupHost(_ context.Context, host string) ([]string, error) {
	if addrs, ok := f[host]; ok {
		return addrs, nil
	}
	return nil, errors.New("no such host")
}

func hop(index int, address string, ms float64) check.Hop {
	d := time.Duration(ms * float64(time.Millisecond))
	return check.Hop{Address: address, Index: index, Sent: 3, Received: 3, MinRtt: d, AvgRtt: d, MaxRtt: d}
}

func newCollector(p *fakeProber, r fakeResolver) (*collect.Collector, *store.Memory) {
	s := store.NewMemory()
	return &collect.Collector{
		Prober:   p,
		Resolver: r,
		Store:    s,
		Count:    3,
		Mode:     collect.ModeTrace,
		Now:      func() time.Time { return now },
	}, s
}

func readAll(t *testing.T, s store.Store, p store.Partition) []record.Measurement {
	t.Helper()
	recs, err := s.ReadAll(p)
	if err != nil {
		t.Fatal(err)
	}
	return recs
}

func TestRunPing(t *testing.T) {
	p := &fakeProber{hosts: map[string]check.HostResult{
		"example.com": {Alive: true, Hop: hop(0, "93.184.216.34", 12)},
	}}
	c, s := newCollector(p, fakeResolver{"example.com": {"93.184.216.34"}})
	c.Mode = collect.ModePing

	if err := c.Run(context.Background(), store.Frequent, []string{"example.com"}); err != nil {
		t.Fatal(err)
	}

	expected := []record.Measurement{{
		Time: now, Site: "example.com", IP: "93.184.216.34", HopNum: 0,
		MinRTT: 12, AvgRTT: 12, MaxRTT: 12,
	}}
	if recs := readAll(t, s, store.Frequent); !reflect.DeepEqual(recs, expected) {
		t.Errorf("Unexpected records %v", recs)
	}
	if recs := readAll(t, s, store.FrequentBad); len(recs) != 0 {
		t.Errorf("Nothing should be marked bad, got %v", recs)
	}
}

func TestRunTrace(t *testing.T) {
	p := &fakeProber{paths: map[string]check.PathResult{
		"example.com": {Reachable: true, Hops: []check.Hop{hop(1, "10.0.0.1", 1), hop(2, "100.64.0.1", 5), hop(3, "93.184.216.34", 12)}},
	}}
	c, s := newCollector(p, fakeResolver{"example.com": {"93.184.216.34"}})

	if err := c.Run(context.Background(), store.Popular, []string{"example.com"}); err != nil {
		t.Fatal(err)
	}
	recs := readAll(t, s, store.Popular)
	if len(recs) != 3 {
		t.Fatalf("Expected one record per hop, got %v", recs)
	}
	for i, m := range recs {
		if m.HopNum != i+1 || m.Site != "example.com" || !m.Time.Equal(now) {
			t.Errorf("Unexpected record %v", m)
		}
	}
	if _, err := record.Terminal(recs); err != nil {
		t.Error(err)
	}
}

func TestRunDNSMismatch(t *testing.T) {
	p := &fakeProber{paths: map[string]check.PathResult{
		"example.com": {Hops: []check.Hop{hop(1, "10.0.0.1", 1), hop(2, "100.64.0.1", 5)}},
	}}
	c, s := newCollector(p, fakeResolver{"example.com": {"93.184.216.34"}})

	if err := c.Run(context.Background(), store.Popular, []string{"example.com"}); err != nil {
		t.Fatal(err)
	}
	if recs := readAll(t, s, store.Popular); len(recs) != 0 {
		t.Errorf("Mismatched trace must not reach the primary dataset, got %v", recs)
	}
	if recs := readAll(t, s, store.PopularBad); len(recs) != 2 {
		t.Errorf("Mismatched trace should be kept in the bad dataset, got %v", recs)
	}
}

func TestRunHopOrder(t *testing.T) {
	p := &fakeProber{paths: map[string]check.PathResult{
		"example.com": {Reachable: true, Hops: []check.Hop{hop(2, "100.64.0.1", 5), hop(1, "10.0.0.1", 1), hop(3, "93.184.216.34", 12)}},
	}}
	c, s := newCollector(p, fakeResolver{"example.com": {"93.184.216.34"}})

	if err := c.Run(context.Background(), store.Popular, []string{"example.com"}); err != nil {
		t.Fatal(err)
	}
	if recs := readAll(t, s, store.Popular); len(recs) != 0 {
		t.Errorf("Out of order trace must not reach the primary dataset, got %v", recs)
	}
	if recs := readAll(t, s, store.PopularBad); len(recs) != 3 {
		t.Errorf("Out of order trace should be kept in the bad dataset, got %v", recs)
	}
}

func TestCollectDeadHost(t *testing.T) {
	p := &fakeProber{hosts: map[string]check.HostResult{
		"example.com": {Alive: false, Hop: check.Hop{Address: "93.184.216.34", Sent: 3}},
	}}
	c, _ := newCollector(p, fakeResolver{"example.com": {"93.184.216.34"}})
	c.Mode = collect.ModePing

	good, bad, err := c.Collect(context.Background(), []string{"example.com"})
	if err != nil {
		t.Fatal(err)
	}
	if len(good) != 0 || len(bad) != 1 || !bad[0].Silent() {
		t.Errorf("Dead host should be a silent bad record, got %v %v", good, bad)
	}
}

func TestCollectSkipsFailures(t *testing.T) {
	p := &fakeProber{hosts: map[string]check.HostResult{
		"example.com": {Alive: true, Hop: hop(0, "93.184.216.34", 12)},
	}}
	r := fakeResolver{"example.com": {"93.184.216.34"}, "broken.example": {"192.0.2.1"}}
	c, _ := newCollector(p, r)
	c.Mode = collect.ModePing

	good, bad, err := c.Collect(context.Background(), []string{"missing.example", "broken.example", "example.com"})
	if err != nil {
		t.Fatal(err)
	}
	if len(good) != 1 || good[0].Site != "example.com" || len(bad) != 0 {
		t.Errorf("Only the healthy site should be recorded, got %v %v", good, bad)
	}
}

func TestCollectParallelKeepsOrder(t *testing.T) {
	p := &fakeProber{
		hosts: map[string]check.HostResult{},
		delay: map[string]time.Duration{},
	}
	r := fakeResolver{}
	sites := []string{}
	for i := 0; i < 8; i++ {
		site := fmt.Sprintf("site%d.example", i)
		addr := fmt.Sprintf("192.0.2.%d", i+1)
		sites = append(sites, site)
		r[site] = []string{addr}
		p.hosts[site] = check.HostResult{Alive: true, Hop: hop(0, addr, float64(i))}
		p.delay[site] = time.Duration(8-i) * 5 * time.Millisecond
	}

	c, _ := newCollector(p, r)
	c.Mode = collect.ModePing
	c.Parallel = 4

	good, _, err := c.Collect(context.Background(), sites)
	if err != nil {
		t.Fatal(err)
	}
	if len(good) != len(sites) {
		t.Fatalf("Expected %d records, got %d", len(sites), len(good))
	}
	for i, m := range good {
		if m.Site != sites[i] {
			t.Errorf("Record %d is %v, expected %v", i, m.Site, sites[i])
		}
	}
}

func TestCollectCancelled(t *testing.T) {
	p := &fakeProber{hosts: map[string]check.HostResult{}}
	c, _ := newCollector(p, fakeResolver{"example.com": {"93.184.216.34"}})
	c.Mode = collect.ModePing

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := c.Collect(ctx, []string{"example.com"}); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}
