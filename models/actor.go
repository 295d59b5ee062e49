package models

// Role is the role claim carried by an authenticated actor.
type Role string

const (
	RoleNGO       Role = "NGO"
	RoleCommunity Role = "Community"
	RolePanchayat Role = "Panchayat"
	RoleAdmin     Role = "admin"
)

// Actor is a caller whose identity has already been verified by the
// token layer.
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// Elevated reports whether the actor may drive verification transitions.
func (a Actor) Elevated() bool {
	return a.ID != "" && a.Role == RoleAdmin
}
