package roles

import "testing"

func TestRoleHierarchy(t *testing.T) {
	tests := []struct {
		role     Role
		expected int
	}{
		{Candidate, 1},
		{Recruiter, 2},
		{Admin, 3},
		{SuperAdmin, 4},
		{"invalid", 0},
		{"", 0},
	}

	for _, test := range tests {
		if level := Level(test.role); level != test.expected {
			t.Errorf("Level(%s) = %d, want %d", test.role, level, test.expected)
		}
	}
}

func TestIsAuthorized(t *testing.T) {
	tests := []struct {
		caller   Role
		required Role
		expected bool
	}{
		// Super admin passes every check
		{SuperAdmin, SuperAdmin, true},
		{SuperAdmin, Admin, true},
		{SuperAdmin, Recruiter, true},
		{SuperAdmin, Candidate, true},

		{Admin, SuperAdmin, false},
		{Admin, Admin, true},
		{Admin, Recruiter, true},
		{Admin, Candidate, true},

		{Recruiter, SuperAdmin, false},
		{Recruiter, Admin, false},
		{Recruiter, Recruiter, true},
		{Recruiter, Candidate, true},

		{Candidate, SuperAdmin, false},
		{Candidate, Admin, false},
		{Candidate, Recruiter, false},
		{Candidate, Candidate, true},

		// Unknown roles fail closed on either side
		{"GUEST", Candidate, false},
		{"", Candidate, false},
		{SuperAdmin, "GUEST", false},
		{"GUEST", "GUEST", false},
		{"admin", Candidate, false},
	}

	for _, test := range tests {
		result := IsAuthorized(test.caller, test.required)
		if result != test.expected {
			t.Errorf("IsAuthorized(%s, %s) = %t, want %t",
				test.caller, test.required, result, test.expected)
		}
	}
}

func TestIsAuthorizedReflexive(t *testing.T) {
	for _, r := range All() {
		if !IsAuthorized(r, r) {
			t.Errorf("IsAuthorized(%s, %s) should be true", r, r)
		}
	}
}

func TestIsAuthorizedTransitive(t *testing.T) {
	all := All()
	for _, a := range all {
		for _, b := range all {
			for _, c := range all {
				if IsAuthorized(a, b) && IsAuthorized(b, c) && !IsAuthorized(a, c) {
					t.Errorf("transitivity broken for %s >= %s >= %s", a, b, c)
				}
			}
		}
	}
}

func TestParse(t *testing.T) {
	for _, r := range All() {
		got, ok := Parse(string(r))
		if !ok || got != r {
			t.Errorf("Parse(%q) = %q, %t", r, got, ok)
		}
	}
	if got, ok := Parse("  RECRUITER "); !ok || got != Recruiter {
		t.Errorf("Parse should trim whitespace, got %q %t", got, ok)
	}

	invalidRoles := []string{"invalid", "", "admin", "Super_Admin"}
	for _, s := range invalidRoles {
		if _, ok := Parse(s); ok {
			t.Errorf("Parse(%q) should fail", s)
		}
		if IsValid(Role(s)) {
			t.Errorf("IsValid(%q) should be false", s)
		}
	}
}
