package decision

import "testing"

func TestConclude(t *testing.T) {
	tests := []struct {
		reached, failure, detached, detachment, destAnomalous bool

		expected Verdict
	}{
		{true, false, false, false, false, VerdictNormal},
		{true, false, false, false, true, VerdictDestinationDegraded},
		{true, false, true, true, false, VerdictRerouted},
		{true, false, true, true, true, VerdictDestinationDegraded},
		{true, false, false, true, true, VerdictDestinationDegraded},
		{true, true, false, false, false, VerdictTransitDegraded},
		{true, true, true, true, true, VerdictTransitDegraded},
		{false, false, false, false, false, VerdictDestinationFailure},
		{false, false, false, true, false, VerdictDestinationFailure},
		{false, true, false, false, false, VerdictTransitFailure},
		{false, true, false, true, false, VerdictTransitFailure},
		{false, false, true, true, false, VerdictDetachedFailure},
		{false, true, true, true, false, VerdictDetachedFailure},
	}
	for _, tt := range tests {
		v := conclude(tt.reached, tt.failure, tt.detached, tt.detachment, tt.destAnomalous)
		if v != tt.expected {
			t.Errorf("conclude(%v, %v, %v, %v, %v) = %v, expected %v",
				tt.reached, tt.failure, tt.detached, tt.detachment, tt.destAnomalous, v, tt.expected)
		}
	}
}
