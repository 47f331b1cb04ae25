package principal

import (
	"sort"
	"strings"
)

// Roles
const (
	// Admin
	RoleAdmin          = "admin:"
	RoleAdminOwner     = "admin:owner"
	RoleAdminPrincipal = "admin:principal"
	RoleAdminBursar    = "admin:bursar"

	// Teacher
	RoleTeacher = "teacher:"

	// Student
	RoleStudent = "student:"
)

// Capabilities
const (
	CapManageCatalog  Capability = "catalog:manage"
	CapAssignFees     Capability = "fees:assign"
	CapRecordPayments Capability = "payments:record"
	CapViewLedgers    Capability = "ledgers:view"
	CapViewAll        Capability = "ledgers:view_all"
)

var (
	AdminRoles   = []string{RoleAdmin, RoleAdminOwner, RoleAdminPrincipal, RoleAdminBursar}
	TeacherRoles = []string{RoleTeacher}
	StudentRoles = []string{RoleStudent}
	AllRoles     = getAllRoles()

	rolePriorities = map[string]int{
		// Admins: 30 - 21
		RoleAdminOwner:     30,
		RoleAdminPrincipal: 29,
		RoleAdminBursar:    25,
		RoleAdmin:          21,

		// Teachers: 20 - 11
		RoleTeacher: 11,

		// Students: 10 - 1
		RoleStudent: 1,
	}

	adminCaps   = []Capability{CapManageCatalog, CapAssignFees, CapRecordPayments, CapViewLedgers, CapViewAll}
	teacherCaps = []Capability{CapViewLedgers, CapViewAll}
	studentCaps = []Capability{CapViewLedgers}

	Roles = []Role{
		{Name: "Student", Value: RoleStudent},
		{Name: "Teacher", Value: RoleTeacher},
		{Name: "Admin", Value: RoleAdmin},
		{Name: "Admin Bursar", Value: RoleAdminBursar},
		{Name: "Admin Principal", Value: RoleAdminPrincipal},
		{Name: "Admin Owner", Value: RoleAdminOwner},
	}
)

func getAllRoles() []string {
	all := make([]string, 0, 6)
	all = append(all, AdminRoles...)
	all = append(all, TeacherRoles...)
	all = append(all, StudentRoles...)
	sort.Strings(all)
	return all
}

func RolePriority(role string) int {
	return rolePriorities[role]
}

func MaxRolePriority(roles []string) int {
	var max int
	for _, role := range roles {
		if RolePriority(role) > max {
			max = RolePriority(role)
		}
	}
	return max
}

// IsKnownRole reports whether role is one of AllRoles.
func IsKnownRole(role string) bool {
	i := sort.SearchStrings(AllRoles, role)
	return i < len(AllRoles) && AllRoles[i] == role
}

type Role struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type Capability string

// Principal is the authenticated caller, as asserted by the identity provider.
type Principal struct {
	ID       string   `json:"id"`
	Username string   `json:"username"`
	Email    string   `json:"email"`
	Roles    []string `json:"roles"`
}

func (p Principal) RoleStartsWith(prefix string) bool {
	for _, role := range p.Roles {
		if strings.HasPrefix(role, prefix) {
			return true
		}
	}
	return false
}

func (p Principal) IsAdmin() bool {
	return p.RoleStartsWith(RoleAdmin)
}

func (p Principal) IsTeacher() bool {
	return p.RoleStartsWith(RoleTeacher)
}

func (p Principal) IsStudent() bool {
	return p.RoleStartsWith(RoleStudent)
}

func (p Principal) HasAnyRole(roles ...string) bool {
	for _, want := range roles {
		for _, role := range p.Roles {
			if role == want {
				return true
			}
		}
	}
	return false
}

// Capabilities returns the union of capabilities granted by the principal's roles.
func (p Principal) Capabilities() []Capability {
	var caps []Capability
	switch {
	case p.IsAdmin():
		caps = adminCaps
	case p.IsTeacher():
		caps = teacherCaps
	case p.IsStudent():
		caps = studentCaps
	}
	return caps
}

func (p Principal) Can(c Capability) bool {
	for _, granted := range p.Capabilities() {
		if granted == c {
			return true
		}
	}
	return false
}
