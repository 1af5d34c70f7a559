package learner

import "strings"

// Roles
const (
	RoleAdmin   = "admin:"
	RoleLearner = "learner:"
)

// Learner is the identity handed over by the auth collaborator (decoded from a signed JWT).
type Learner struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Email    string   `json:"email"`
	CohortID string   `json:"cohort_id"`
	Roles    []string `json:"roles"`
}

func (l *Learner) RoleStartsWith(prefix string) bool {
	for _, role := range l.Roles {
		if strings.HasPrefix(role, prefix) {
			return true
		}
	}
	return false
}

func (l *Learner) IsAdmin() bool {
	return l.RoleStartsWith(RoleAdmin)
}

// InCohort reports whether the learner belongs to `cohortID`. Admins belong to every cohort.
func (l *Learner) InCohort(cohortID string) bool {
	return l.IsAdmin() || (l.CohortID != "" && l.CohortID == cohortID)
}
