package decision

import "fmt"

// Verdict is the final conclusion of one analysis run
type Verdict int

const (
	VerdictNormal Verdict = iota
	VerdictGatewayUnreachable
	VerdictGatewayDegraded
	VerdictUpstreamFailure
	VerdictUnresolvable
	VerdictDestinationDegraded
	VerdictRerouted
	VerdictTransitDegraded
	VerdictDestinationFailure
	VerdictTransitFailure
	VerdictDetachedFailure
)

var verdictNames = map[Verdict]string{
	VerdictNormal:              "normal",
	VerdictGatewayUnreachable:  "gateway_unreachable",
	VerdictGatewayDegraded:     "gateway_degraded",
	VerdictUpstreamFailure:     "upstream_failure",
	VerdictUnresolvable:        "unresolvable",
	VerdictDestinationDegraded: "destination_degraded",
	VerdictRerouted:            "rerouted",
	VerdictTransitDegraded:     "transit_degraded",
	VerdictDestinationFailure:  "destination_failure",
	VerdictTransitFailure:      "transit_failure",
	VerdictDetachedFailure:     "detached_failure",
}

var verdictMessages = map[Verdict]string{
	VerdictNormal:              "%v appears normal",
	VerdictGatewayUnreachable:  "Gateway unreachable, local link or ISP down",
	VerdictGatewayDegraded:     "Gateway latency is anomalous, local network degraded",
	VerdictUpstreamFailure:     "Gateway router or ISP failure detected (no popular sites reachable)",
	VerdictUnresolvable:        "%v could not be resolved",
	VerdictDestinationDegraded: "Host of interest failure detected, %v is reachable but slow",
	VerdictRerouted:            "%v is reachable through a new route, no known hop is degraded",
	VerdictTransitDegraded:     "%v is reachable, transit hops are degraded",
	VerdictDestinationFailure:  "Host of interest failure detected, path to %v is healthy but it does not answer",
	VerdictTransitFailure:      "Transit failure detected, %v is unreachable behind degraded hops",
	VerdictDetachedFailure:     "%v is unreachable, trace was lost in unfamiliar transit",
}

func (v Verdict) String() string {
	if name, ok := verdictNames[v]; ok {
		return name
	}
	return fmt.Sprintf("verdict(%d)", int(v))
}

// Message renders the human readable conclusion for site
func (v Verdict) Message(site string) string {
	msg, ok := verdictMessages[v]
	if !ok {
		return v.String()
	}
	if v == VerdictGatewayUnreachable || v == VerdictGatewayDegraded || v == VerdictUpstreamFailure {
		return msg
	}
	return fmt.Sprintf(msg, site)
}

func (v Verdict) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// IsFailure reports whether the verdict describes degraded connectivity
func (v Verdict) IsFailure() bool {
	return v != VerdictNormal
}

// conclude maps the outcome of a walk onto the final verdict
func conclude(reached, failure, detached, detachment, destAnomalous bool) Verdict {
	if reached {
		switch {
		case failure:
			return VerdictTransitDegraded
		case destAnomalous:
			return VerdictDestinationDegraded
		case detached && detachment:
			return VerdictRerouted
		}
		return VerdictNormal
	}

	switch {
	case detached && detachment:
		return VerdictDetachedFailure
	case failure:
		return VerdictTransitFailure
	}
	return VerdictDestinationFailure
}
