package service

import (
	"math"

	"runetrack/internal/domain"
)

// BoundsChecker decides whether the jump between two snapshots is a
// plausible amount of progress for the elapsed time.
type BoundsChecker interface {
	// Plausible reports whether cand is an acceptable successor of prev.
	Plausible(prev, cand *domain.Snapshot) bool
	// Excessive reports whether the from->to jump gains more efficiency
	// than the elapsed time allows.
	Excessive(from, to *domain.Snapshot) bool
}

// rateBoundsChecker allows gains up to a multiple of the elapsed hours plus
// a flat grace, so short gaps between updates do not trip the check.
type rateBoundsChecker struct {
	hourlyFactor float64
	graceHours   float64
}

func NewBoundsChecker() BoundsChecker {
	return &rateBoundsChecker{hourlyFactor: 2, graceHours: 24}
}

func (c *rateBoundsChecker) Plausible(prev, cand *domain.Snapshot) bool {
	if len(negativeGains(prev.Data, cand.Data)) > 0 {
		return false
	}
	return !c.Excessive(prev, cand)
}

func (c *rateBoundsChecker) Excessive(from, to *domain.Snapshot) bool {
	gained := (to.EHP - from.EHP) + (to.EHB - from.EHB)
	if gained <= 0 {
		return false
	}
	hours := math.Abs(to.CreatedAt.Sub(from.CreatedAt).Hours())
	return gained > hours*c.hourlyFactor+c.graceHours
}
