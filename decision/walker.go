package decision

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/thetooth/hopwatch/statistics"
)

type HopStatus int

const (
	HopNormal HopStatus = iota
	HopAnomalous
	HopUnknown
)

func (s HopStatus) String() string {
	switch s {
	case HopNormal:
		return "normal"
	case HopAnomalous:
		return "anomalous"
	case HopUnknown:
		return "unknown"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

func (s HopStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// HopVerdict is the classification of one live hop against its baseline
type HopVerdict struct {
	Index   int              `json:"hop"`
	Address string           `json:"address"`
	Label   string           `json:"label,omitempty"`
	RTT     float64          `json:"rtt_ms"`
	Status  HopStatus        `json:"status"`
	Stats   statistics.Stats `json:"stats"`
}

// Walker accumulates the state of a hop by hop walk outward along one trace.
type Walker struct {
	Threshold float64
	FastRun   bool

	IsDetached             bool
	DetachmentDetected     bool
	FailureDetected        bool
	PendingUnknown         []string
	ConsecutiveProblematic int

	Observations []string
	Hops         []HopVerdict
}

func NewWalker(threshold float64, fastRun bool) *Walker {
	return &Walker{Threshold: threshold, FastRun: fastRun}
}

// Step classifies hop using the outcome of statistics.Compute for its
// address. A hop without history is unknown. done reports that fast-run mode
// has found its first anomaly and the walk should stop.
func (w *Walker) Step(hop HopVerdict, err error) (v HopVerdict, done bool) {
	v = hop

	if errors.Is(err, statistics.ErrInsufficientHistory) {
		v.Status = HopUnknown
		w.PendingUnknown = append(w.PendingUnknown, hop.Address)
		w.IsDetached = true
		w.DetachmentDetected = true
		w.Hops = append(w.Hops, v)
		logrus.Debugf("[ WALK ] hop %d %v unknown", hop.Index, hop.Address)
		return v, false
	}

	if w.IsDetached {
		w.IsDetached = false
		if w.ConsecutiveProblematic == 0 {
			w.observe("rerouted through [%v] to reach %v", strings.Join(w.PendingUnknown, " "), hop.Address)
			w.FailureDetected = true
			done = w.FastRun
		}
		w.PendingUnknown = nil
		w.ConsecutiveProblematic = 0
	}

	if statistics.IsAnomalous(hop.Stats, w.Threshold) {
		v.Status = HopAnomalous
		w.FailureDetected = true
		w.ConsecutiveProblematic++
		w.observe("hop %d %v is anomalous: %.2fms against %.2f±%.2fms (z=%.2f)",
			hop.Index, hop.Address, hop.RTT, hop.Stats.Mean, hop.Stats.Std, hop.Stats.ZScore)
		done = w.FastRun
	} else {
		v.Status = HopNormal
	}

	w.Hops = append(w.Hops, v)
	return v, done
}

func (w *Walker) observe(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	logrus.Debug("[ WALK ] ", msg)
	w.Observations = append(w.Observations, msg)
}

// WalkResult is a snapshot of the walker state
type WalkResult struct {
	FailureDetected    bool         `json:"failure_detected"`
	IsDetached         bool         `json:"is_detached"`
	DetachmentDetected bool         `json:"detachment_detected"`
	PendingUnknown     []string     `json:"pending_unknown,omitempty"`
	Observations       []string     `json:"observations,omitempty"`
	Hops               []HopVerdict `json:"hops"`
}

func (w *Walker) Result() WalkResult {
	return WalkResult{
		FailureDetected:    w.FailureDetected,
		IsDetached:         w.IsDetached,
		DetachmentDetected: w.DetachmentDetected,
		PendingUnknown:     append([]string(nil), w.PendingUnknown...),
		Observations:       append([]string(nil), w.Observations...),
		Hops:               append([]HopVerdict(nil), w.Hops...),
	}
}
