package invoice

// Role is the caller's role in the business, as asserted by the external
// authorization layer.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleMember:
		return true
	}
	return false
}

// Caller carries identity and capability flags supplied by the auth and
// billing collaborators. The service honours them but does not verify them.
type Caller struct {
	ActorID       string
	Role          Role
	BillingLocked bool // trial expired or subscription unpaid
}

func (c Caller) IsOwner() bool { return c.Role == RoleOwner }
