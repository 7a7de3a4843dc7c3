package enums

import "fmt"

// ActorRole identifies who is calling the recovery API.
type ActorRole string

const (
	ActorRoleAdmin   ActorRole = "admin"
	ActorRoleChef    ActorRole = "chef"
	ActorRoleService ActorRole = "service"
)

var validActorRoles = []ActorRole{
	ActorRoleAdmin,
	ActorRoleChef,
	ActorRoleService,
}

// String implements fmt.Stringer.
func (r ActorRole) String() string {
	return string(r)
}

// IsValid reports whether the value is known.
func (r ActorRole) IsValid() bool {
	for _, candidate := range validActorRoles {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseActorRole converts raw input into an ActorRole.
func ParseActorRole(value string) (ActorRole, error) {
	for _, candidate := range validActorRoles {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid actor role %q", value)
}
