package main

import (
	"context"
	"fmt"

	"github.com/nithadya/classsync/core/user"
)

var roleFlags = map[string]string{
	"admin":       user.RoleAdmin,
	"contributor": user.RoleContributor,
	"learner":     user.RoleLearner,
}

// addUser creates an active user with the given role.
func (cli *commandLine) addUser(name, uname, email, role, pwd string) error {
	r, ok := roleFlags[role]
	if !ok {
		return fmt.Errorf("unknown role %q", role)
	}

	ctx := context.Background()
	nu := user.NewUser{
		Name:            name,
		Username:        uname,
		Email:           email,
		Password:        pwd,
		PasswordConfirm: pwd,
		Roles:           []string{r},
	}
	if err := nu.Validate(ctx, cli.validate, cli.usrSvc); err != nil {
		return err
	}
	usr, err := cli.usrSvc.Create(ctx, nu)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "created user %s (%s)\n", usr.Username, usr.ID)
	return nil
}
