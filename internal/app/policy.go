package app

import "time"

// QualityPolicy grades a transport round-trip time into the coarse 1-3
// indicator shown to participants.
type QualityPolicy interface {
	Grade(rtt time.Duration, known bool) int
}

// RTTPolicy grades by fixed round-trip thresholds. Unknown RTT is Good.
type RTTPolicy struct {
	Fair time.Duration
	Poor time.Duration
}

func DefaultQualityPolicy() RTTPolicy {
	return RTTPolicy{Fair: 250 * time.Millisecond, Poor: 500 * time.Millisecond}
}

func (p RTTPolicy) Grade(rtt time.Duration, known bool) int {
	switch {
	case !known:
		return QualityGood
	case p.Poor > 0 && rtt >= p.Poor:
		return QualityPoor
	case p.Fair > 0 && rtt >= p.Fair:
		return QualityFair
	default:
		return QualityGood
	}
}
