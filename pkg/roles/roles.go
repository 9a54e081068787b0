package roles

import "strings"

// Role is a user's seniority class. It is assigned by the identity provider
// when the account is created and only ever read here.
type Role string

// Role constants defining the hierarchy
const (
	Candidate  Role = "CANDIDATE"   // Job seeker
	Recruiter  Role = "RECRUITER"   // Posts jobs and reviews applications
	Admin      Role = "ADMIN"       // Platform administrator
	SuperAdmin Role = "SUPER_ADMIN" // Manages administrators
)

// roleHierarchy defines the role hierarchy levels (higher number = more privileges)
var roleHierarchy = map[Role]int{
	Candidate:  1,
	Recruiter:  2,
	Admin:      3,
	SuperAdmin: 4,
}

// All returns every known role, least privileged first.
func All() []Role {
	return []Role{Candidate, Recruiter, Admin, SuperAdmin}
}

// Parse converts a claim value into a Role. Matching is exact after trimming
// surrounding whitespace; the second return is false for unknown values.
func Parse(s string) (Role, bool) {
	r := Role(strings.TrimSpace(s))
	_, ok := roleHierarchy[r]
	return r, ok
}

// IsValid checks if a role is part of the hierarchy
func IsValid(r Role) bool {
	_, exists := roleHierarchy[r]
	return exists
}

// Level returns the hierarchy level for a role. Unknown roles are level 0.
func Level(r Role) int {
	return roleHierarchy[r]
}

// IsAuthorized reports whether caller is at least as senior as required.
// A role outside the hierarchy on either side is never authorized.
func IsAuthorized(caller, required Role) bool {
	callerLevel := Level(caller)
	requiredLevel := Level(required)

	if callerLevel == 0 || requiredLevel == 0 {
		return false
	}

	return callerLevel >= requiredLevel
}

func (r Role) String() string { return string(r) }
