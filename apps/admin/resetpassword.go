package main

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
)

// resetPassword sets a new password for the user matching uname (username or email).
func (cli *commandLine) resetPassword(uname, pwd string) error {
	ctx := context.Background()
	usr, err := cli.usrSvc.GetByUsernameOrEmail(ctx, uname)
	if err != nil {
		return err
	}
	if err = usr.SetPassword(pwd); err != nil {
		return errors.Wrap(err, "hashing password")
	}
	if usr, err = cli.usrSvc.Update(ctx, usr); err != nil {
		return errors.Wrap(err, "updating user")
	}
	fmt.Fprintf(cli.out, "password of %s updated\n", usr.Username)
	return nil
}
