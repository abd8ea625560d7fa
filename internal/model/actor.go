package model

// Role is the coarse account type supplied by the auth collaborator.
type Role string

const (
	RoleClient     Role = "client"
	RoleFreelancer Role = "freelancer"
	RoleAdmin      Role = "admin"
)

// Actor is an already-authenticated identity. The core never re-validates it.
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}
