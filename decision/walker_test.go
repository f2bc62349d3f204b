package decision_test

import (
	"strings"
	"testing"

	"github.com/thetooth/hopwatch/decision"
	"github.com/thetooth/hopwatch/statistics"
)

func known(index int, address string, z float64) decision.HopVerdict {
	return decision.HopVerdict{Index: index, Address: address, Stats: statistics.Stats{ZScore: z, Samples: 10}}
}

func unknown(index int, address string) decision.HopVerdict {
	return decision.HopVerdict{Index: index, Address: address}
}

func TestWalkerReattachment(t *testing.T) {
	w := decision.NewWalker(1.0, false)

	w.Step(known(1, "A", 0.1), nil)
	w.Step(unknown(2, "B"), statistics.ErrInsufficientHistory)
	w.Step(unknown(3, "C"), statistics.ErrInsufficientHistory)
	if !w.IsDetached || len(w.PendingUnknown) != 2 {
		t.Fatalf("Expected detached walk with two pending hops, got %+v", w)
	}

	v, done := w.Step(known(4, "D", 0.2), nil)
	if done {
		t.Error("Full walk must not stop early")
	}
	if v.Status != decision.HopNormal {
		t.Errorf("D should be normal, got %v", v.Status)
	}

	res := w.Result()
	if res.IsDetached || len(res.PendingUnknown) != 0 {
		t.Errorf("Reattachment should clear detachment, got %+v", res)
	}
	if !res.FailureDetected || !res.DetachmentDetected {
		t.Errorf("Undiagnosed reroute should be a failure, got %+v", res)
	}
	if len(res.Observations) != 1 || res.Observations[0] != "rerouted through [B C] to reach D" {
		t.Errorf("Unexpected observations %q", res.Observations)
	}
	if len(res.Hops) != 4 || res.Hops[1].Status != decision.HopUnknown {
		t.Errorf("Unexpected hops %+v", res.Hops)
	}
}

func TestWalkerDetourAfterProblematicHop(t *testing.T) {
	w := decision.NewWalker(1.0, false)

	w.Step(known(1, "A", 3.0), nil)
	if w.ConsecutiveProblematic != 1 {
		t.Fatalf("Expected one problematic hop, got %d", w.ConsecutiveProblematic)
	}
	w.Step(unknown(2, "B"), statistics.ErrInsufficientHistory)
	w.Step(known(3, "C", 0.0), nil)

	if w.IsDetached || len(w.PendingUnknown) != 0 || w.ConsecutiveProblematic != 0 {
		t.Errorf("Reattachment should reset the walk state, got %+v", w)
	}
	for _, o := range w.Observations {
		if strings.HasPrefix(o, "rerouted") {
			t.Errorf("Detour after a degraded hop is already explained: %q", o)
		}
	}
	if !w.FailureDetected {
		t.Error("Anomalous hop should be a failure")
	}
}

func TestWalkerStillDetached(t *testing.T) {
	w := decision.NewWalker(1.0, false)
	w.Step(known(1, "A", 0), nil)
	w.Step(unknown(2, "B"), statistics.ErrInsufficientHistory)

	res := w.Result()
	if !res.IsDetached || !res.DetachmentDetected || res.FailureDetected {
		t.Errorf("Unexpected state %+v", res)
	}
	if len(res.PendingUnknown) != 1 || res.PendingUnknown[0] != "B" {
		t.Errorf("Unexpected pending hops %v", res.PendingUnknown)
	}
}

func TestWalkerThreshold(t *testing.T) {
	w := decision.NewWalker(1.0, false)
	if v, _ := w.Step(known(1, "A", 1.0), nil); v.Status != decision.HopAnomalous {
		t.Error("A z-score equal to the threshold is anomalous")
	}
	if v, _ := w.Step(known(2, "B", 0.99), nil); v.Status != decision.HopNormal {
		t.Error("A z-score below the threshold is normal")
	}
}

func TestWalkerIndeterminateBaseline(t *testing.T) {
	flat, err := statistics.Compute([]float64{10, 10, 10, 10, 100}, 10, statistics.DefaultPercentile)
	w := decision.NewWalker(1.0, false)
	v, _ := w.Step(decision.HopVerdict{Index: 1, Address: "X", Stats: flat}, err)
	if v.Status != decision.HopNormal {
		t.Errorf("Sample on a flat baseline should be normal, got %v", v.Status)
	}

	above, err := statistics.Compute([]float64{10, 10, 10, 10, 100}, 11, statistics.DefaultPercentile)
	v, _ = w.Step(decision.HopVerdict{Index: 2, Address: "Y", Stats: above}, err)
	if v.Status != decision.HopAnomalous {
		t.Errorf("Excess over a flat baseline should be anomalous, got %v", v.Status)
	}
}

func TestWalkerFastRun(t *testing.T) {
	w := decision.NewWalker(1.0, true)
	if _, done := w.Step(known(1, "A", 0), nil); done {
		t.Error("Normal hop should not stop the walk")
	}
	if _, done := w.Step(known(2, "B", 2), nil); !done {
		t.Error("First anomaly should stop a fast walk")
	}

	w = decision.NewWalker(1.0, true)
	w.Step(known(1, "A", 0), nil)
	w.Step(unknown(2, "B"), statistics.ErrInsufficientHistory)
	if _, done := w.Step(known(3, "C", 0), nil); !done {
		t.Error("Undiagnosed reroute should stop a fast walk")
	}
}

func TestVerdictMessages(t *testing.T) {
	if msg := decision.VerdictGatewayUnreachable.Message("example.com"); msg != "Gateway unreachable, local link or ISP down" {
		t.Errorf("Unexpected message %q", msg)
	}
	if msg := decision.VerdictNormal.Message("example.com"); msg != "example.com appears normal" {
		t.Errorf("Unexpected message %q", msg)
	}
	if decision.VerdictRerouted.String() != "rerouted" || decision.Verdict(99).String() != "verdict(99)" {
		t.Error("Unexpected verdict names")
	}
	if decision.VerdictNormal.IsFailure() || !decision.VerdictTransitFailure.IsFailure() {
		t.Error("Unexpected failure classification")
	}
}
