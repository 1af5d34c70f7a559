package main

import (
	"fmt"

	echoapi "github.com/trezcool/jitu/apps/api/echo"
	"github.com/trezcool/jitu/core"
	"github.com/trezcool/jitu/core/learner"
)

// token prints a signed JWT for `lrnID`. Identities are owned by the auth provider: this is for local testing.
func (cli *commandLine) token(lrnID, name, email, cohortID string, isAdmin bool) error {
	lrn := learner.Learner{
		ID:       core.CleanString(lrnID),
		Name:     core.CleanString(name),
		Email:    core.CleanString(email),
		CohortID: core.CleanString(cohortID),
		Roles:    []string{learner.RoleLearner},
	}
	if isAdmin {
		lrn.Roles = append(lrn.Roles, learner.RoleAdmin)
	}

	tkn, err := echoapi.GenerateToken(echoapi.GetLearnerClaims(lrn, cli.conf, ""), cli.conf)
	if err != nil {
		return err
	}
	fmt.Fprintln(cli.out, tkn)
	return nil
}
