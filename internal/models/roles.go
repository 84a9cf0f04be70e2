package models

import "fmt"

type Role string

const (
	RoleGuest     Role = "guest"
	RoleOwner     Role = "owner"
	RoleAdmin     Role = "admin"
	RoleSuperuser Role = "superuser"
)

type Permission string

const (
	PermReadAvailability   Permission = "read:availability"
	PermCreateReservation  Permission = "create:reservation"
	PermReadReservation    Permission = "read:reservation"
	PermManageReservations Permission = "manage:reservations"
	PermManageBlocks       Permission = "manage:blocks"
	PermReadProperties     Permission = "read:properties"
)

var rolePermissions = map[Role][]Permission{
	RoleGuest: {
		PermReadAvailability,
		PermCreateReservation,
		PermReadReservation,
		PermReadProperties,
	},
	RoleOwner: {
		PermReadAvailability,
		PermCreateReservation,
		PermReadReservation,
		PermReadProperties,
		PermManageReservations,
		PermManageBlocks,
	},
	RoleAdmin: {
		PermReadAvailability,
		PermCreateReservation,
		PermReadReservation,
		PermReadProperties,
		PermManageReservations,
		PermManageBlocks,
	},
	RoleSuperuser: {
		PermReadAvailability,
		PermCreateReservation,
		PermReadReservation,
		PermReadProperties,
		PermManageReservations,
		PermManageBlocks,
	},
}

func ParseRole(s string) (Role, error) {
	r := Role(s)
	if _, ok := rolePermissions[r]; !ok {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// Can reports whether the role grants p.
func (r Role) Can(p Permission) bool {
	for _, granted := range rolePermissions[r] {
		if granted == p {
			return true
		}
	}
	return false
}

// Actor is the authenticated caller of a service operation.
type Actor struct {
	Name    string `json:"name"`
	Role    Role   `json:"role"`
	OwnerID int64  `json:"owner_id,omitempty"`
}

// Owns reports whether the actor may manage the given property.
// Admins and superusers manage every property.
func (a Actor) Owns(p *Property) bool {
	switch a.Role {
	case RoleAdmin, RoleSuperuser:
		return true
	case RoleOwner:
		return p != nil && a.OwnerID != 0 && p.OwnerID == a.OwnerID
	default:
		return false
	}
}
