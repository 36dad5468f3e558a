package domain

import (
	"time"
)

// Player is a tracked identity. Username is the standardized form and is
// unique; DisplayName keeps the submitted casing. The exp/ehp/ehb fields
// cache the latest snapshot's derived values.
type Player struct {
	ID               int64
	Username         string
	DisplayName      string
	Status           PlayerStatus
	Exp              int64
	EHP              float64
	EHB              float64
	LastChangedAt    *time.Time
	RegisteredAt     time.Time
	UpdatedAt        time.Time
	LatestSnapshotID *int64
}

// Snapshot is one immutable point-in-time capture of a player's hiscores
// stats plus derived efficiency values. Snapshots are append-only and never
// updated in place.
type Snapshot struct {
	ID        int64
	PlayerID  int64
	Data      SnapshotData
	EHP       float64
	EHB       float64
	CreatedAt time.Time
}

// OverallExperience returns the overall skill experience, or 0 when the
// snapshot has no overall entry.
func (s *Snapshot) OverallExperience() int64 {
	v, ok := s.Data[Overall]
	if !ok || v.Value < 0 {
		return 0
	}
	return v.Value
}

// OverallRank returns the overall rank, or -1 when unranked.
func (s *Snapshot) OverallRank() int {
	v, ok := s.Data[Overall]
	if !ok {
		return -1
	}
	return v.Rank
}

// NameChange is a request to rename OldName to NewName. Both names keep the
// submitted display casing; all uniqueness checks run on standardized forms.
type NameChange struct {
	ID            int64
	PlayerID      int64
	OldName       string
	NewName       string
	Status        NameChangeStatus
	ReviewContext *ReviewContext
	CreatedAt     time.Time
	ResolvedAt    *time.Time
	UpdatedAt     time.Time
}

// Archive links an archived player to the synthetic username it was parked
// under and the username it held before archiving.
type Archive struct {
	PlayerID         int64
	ArchiveUsername  string
	PreviousUsername string
	RestoredAt       *time.Time
	RestoredUsername *string
	CreatedAt        time.Time
}

// Record is a player's best value for one (period, metric) pair.
type Record struct {
	ID        int64
	PlayerID  int64
	Period    Period
	Metric    Metric
	Value     int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Period is a record's time window.
type Period string

const (
	PeriodDay   Period = "day"
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
	PeriodYear  Period = "year"
)

// Membership ties a player to a group with a role.
type Membership struct {
	ID        int64
	PlayerID  int64
	GroupID   int64
	Role      string
	CreatedAt time.Time
}

// Participation ties a player to a competition.
type Participation struct {
	ID            int64
	PlayerID      int64
	CompetitionID int64
	CreatedAt     time.Time
}

// GroupActivity is one join/leave/role-change event inside a group.
type GroupActivity struct {
	ID        int64
	GroupID   int64
	PlayerID  int64
	Type      GroupActivityType
	Role      string
	CreatedAt time.Time
}

// FlagReport is the manual-review report stored when a player is flagged.
type FlagReport struct {
	ID        int64
	PlayerID  int64
	Report    FlagReportData
	Resolved  bool
	CreatedAt time.Time
}

// FlagReportData summarizes the snapshot pair that triggered a flag.
type FlagReportData struct {
	PreviousEHP           float64  `json:"previousEhp"`
	PreviousEHB           float64  `json:"previousEhb"`
	PreviousRank          int      `json:"previousRank"`
	RejectedEHP           float64  `json:"rejectedEhp"`
	RejectedEHB           float64  `json:"rejectedEhb"`
	RejectedRank          int      `json:"rejectedRank"`
	NegativeGains         bool     `json:"negativeGains"`
	ExcessiveGains        bool     `json:"excessiveGains"`
	PossibleRollback      bool     `json:"possibleRollback"`
	LostEfficiency        float64  `json:"lostEfficiency,omitempty"`
	StackableGainedRatio  *float64 `json:"stackableGainedRatio,omitempty"`
}

// NameChangePair is one entry of a bulk submission.
type NameChangePair struct {
	OldName string `json:"oldName"`
	NewName string `json:"newName"`
}
