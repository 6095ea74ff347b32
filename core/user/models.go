package user

import (
	"time"

	"github.com/trezcool/examinator/core"
)

// Roles
const (
	RoleAdmin   = "admin"
	RoleTeacher = "teacher"
	RoleStudent = "student"
)

var (
	AllRoles = []string{RoleAdmin, RoleTeacher, RoleStudent}

	Roles = []Role{
		{Name: "Student", Value: RoleStudent},
		{Name: "Staff", Value: RoleTeacher},
		{Name: "Admin", Value: RoleAdmin},
	}
)

type Role struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type User struct {
	ID             string    `json:"id"`
	Username       string    `json:"username"`
	Email          string    `json:"email"`
	Role           string    `json:"role"`
	IsActive       bool      `json:"is_active"`
	OrganizationID string    `json:"organization_id,omitempty"`
	Permissions    []string  `json:"permissions"` // direct permission codenames
	CreatedAt      time.Time `json:"created_at"`  // UTC
	UpdatedAt      time.Time `json:"updated_at"`  // UTC
}

func (u User) IsAdmin() bool { return u.Role == RoleAdmin }

func (u User) HasPermission(codename string) bool {
	for _, p := range u.Permissions {
		if p == codename {
			return true
		}
	}
	return false
}

// Profile is the per-user extension holding the content boundary.
type Profile struct {
	UserID         string   `json:"user_id"`
	OrganizationID string   `json:"organization_id,omitempty"`
	AcademicStream []string `json:"academic_stream"` // accessible curriculum node IDs
	LicenseActive  bool     `json:"license_active"`
	Groups         []string `json:"groups"` // organization group IDs
}

// NewUser contains information needed to create a new User.
type NewUser struct {
	Username       string `json:"username" validate:"required,min=3,alphanum_"`
	Email          string `json:"email" validate:"required,email"`
	Role           string `json:"role" validate:"required,userrole"`
	OrganizationID string `json:"organization_id"`
}

func (nu *NewUser) Validate() error {
	nu.Username = core.CleanString(nu.Username, true /* lower */)
	nu.Email = core.CleanString(nu.Email, true /* lower */)
	nu.Role = core.CleanString(nu.Role, true /* lower */)
	nu.OrganizationID = core.CleanString(nu.OrganizationID)
	return core.Validate.Struct(nu)
}

type QueryFilter struct {
	OrganizationID string   `query:"organization_id"`
	Roles          []string `query:"role"`
	IsActive       *bool    `query:"is_active"`
}
