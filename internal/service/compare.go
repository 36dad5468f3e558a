package service

import (
	"runetrack/internal/domain"
	"runetrack/internal/efficiency"
)

// negativeGains returns the metrics whose value decreased between two stat
// sets, mapped to the (negative) difference. Metrics unranked on either
// side are ignored.
func negativeGains(old, current domain.SnapshotData) map[domain.Metric]int64 {
	var offending map[domain.Metric]int64
	for metric, ov := range old {
		nv, ok := current[metric]
		if !ok || ov.Value < 0 || nv.Value < 0 {
			continue
		}
		if nv.Value < ov.Value {
			if offending == nil {
				offending = make(map[domain.Metric]int64)
			}
			offending[metric] = nv.Value - ov.Value
		}
	}
	return offending
}

// anyGain reports whether any metric's value increased.
func anyGain(old, current domain.SnapshotData) bool {
	for metric, nv := range current {
		ov, ok := old[metric]
		if !ok {
			if nv.Value > 0 {
				return true
			}
			continue
		}
		if nv.Value > ov.Value {
			return true
		}
	}
	return false
}

// lostEfficiency sums the per-metric efficiency losses across the skills
// and bosses that individually decreased.
func lostEfficiency(old, current domain.SnapshotData) float64 {
	var lost float64
	for metric, ov := range old {
		nv, ok := current[metric]
		if !ok || ov.Value < 0 || nv.Value < 0 || nv.Value >= ov.Value {
			continue
		}
		switch {
		case metric.IsSkill() && metric != domain.Overall:
			lost += efficiency.SkillEHP(metric, ov.Value) - efficiency.SkillEHP(metric, nv.Value)
		case metric.IsBoss():
			lost += efficiency.BossEHB(metric, ov.Value) - efficiency.BossEHB(metric, nv.Value)
		}
	}
	return lost
}

// stackableRatio returns the fraction of gained efficiency attributable to
// stackable skills, or nil when nothing was gained.
func stackableRatio(old, current domain.SnapshotData) *float64 {
	var total, stackable float64
	for metric, nv := range current {
		ov := old[metric]
		oldValue := ov.Value
		if oldValue < 0 {
			oldValue = 0
		}
		newValue := nv.Value
		if newValue < 0 {
			newValue = 0
		}
		if newValue <= oldValue {
			continue
		}
		var gained float64
		switch {
		case metric.IsSkill() && metric != domain.Overall:
			gained = efficiency.SkillEHP(metric, newValue) - efficiency.SkillEHP(metric, oldValue)
		case metric.IsBoss():
			gained = efficiency.BossEHB(metric, newValue) - efficiency.BossEHB(metric, oldValue)
		default:
			continue
		}
		total += gained
		if efficiency.IsStackable(metric) {
			stackable += gained
		}
	}
	if total <= 0 {
		return nil
	}
	ratio := stackable / total
	return &ratio
}
