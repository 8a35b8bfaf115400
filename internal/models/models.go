package models

import "time"

// Role is the access level of a user. Roles form a total order:
// warga < koordinator < admin.
type Role string

const (
	RoleResident    Role = "warga"
	RoleKoordinator Role = "koordinator"
	RoleAdmin       Role = "admin"
)

var roleRank = map[Role]int{
	RoleResident:    0,
	RoleKoordinator: 1,
	RoleAdmin:       2,
}

// AtLeast reports whether r grants at least the access level of min.
func (r Role) AtLeast(min Role) bool {
	return roleRank[r] >= roleRank[min]
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	_, ok := roleRank[r]
	return ok
}

// Phase is the registration-dialog position of a user.
type Phase string

const (
	PhaseUnregistered Phase = "unregistered"
	PhaseAwaitName    Phase = "await_name"
	PhaseAwaitAddress Phase = "await_address"
	PhaseRegistered   Phase = "registered"
)

// User is a bot user keyed by normalized phone number.
type User struct {
	Phone        string            `json:"phone"`
	Name         string            `json:"name"`
	Address      string            `json:"address"`
	Role         Role              `json:"role"`
	Phase        Phase             `json:"phase"`
	MessageCount int               `json:"message_count"`
	ImageCount   int               `json:"image_count"`
	Points       int               `json:"points"`
	Active       bool              `json:"active"`
	Preferences  map[string]string `json:"preferences,omitempty"`
	FirstSeen    time.Time         `json:"first_seen"`
	LastActive   time.Time         `json:"last_active"`
}
