package domain

// PlayerStatus is a player's lifecycle state.
type PlayerStatus string

const (
	StatusActive   PlayerStatus = "active"
	StatusUnranked PlayerStatus = "unranked"
	StatusFlagged  PlayerStatus = "flagged"
	StatusArchived PlayerStatus = "archived"
	StatusBanned   PlayerStatus = "banned"
)

func (s PlayerStatus) Valid() bool {
	switch s {
	case StatusActive, StatusUnranked, StatusFlagged, StatusArchived, StatusBanned:
		return true
	}
	return false
}

// NameChangeStatus is the state of a name change request. Approved and
// Denied are terminal.
type NameChangeStatus string

const (
	NameChangePending  NameChangeStatus = "pending"
	NameChangeApproved NameChangeStatus = "approved"
	NameChangeDenied   NameChangeStatus = "denied"
)

func (s NameChangeStatus) Valid() bool {
	switch s {
	case NameChangePending, NameChangeApproved, NameChangeDenied:
		return true
	}
	return false
}

func (s NameChangeStatus) Terminal() bool {
	switch s {
	case NameChangeApproved, NameChangeDenied:
		return true
	case NameChangePending:
		return false
	}
	return false
}

// GroupActivityType is the kind of a group activity event.
type GroupActivityType string

const (
	ActivityJoined      GroupActivityType = "joined"
	ActivityLeft        GroupActivityType = "left"
	ActivityChangedRole GroupActivityType = "changed_role"
)

func (t GroupActivityType) Valid() bool {
	switch t {
	case ActivityJoined, ActivityLeft, ActivityChangedRole:
		return true
	}
	return false
}
