package main

import (
	"context"
	"fmt"

	"github.com/nithadya/classsync/core/user"
)

// systemPrincipal awards points when no user is named.
var systemPrincipal = user.Principal{Roles: []string{user.RoleAdmin}}

func (cli *commandLine) reconcile(repair bool) error {
	mismatches, err := cli.pointsSvc.Reconcile(context.Background(), repair)
	if err != nil {
		return err
	}
	if len(mismatches) == 0 {
		fmt.Fprintln(cli.out, "all scores match the ledger")
		return nil
	}
	for _, m := range mismatches {
		fmt.Fprintf(cli.out, "user %s: score %d, ledger %d\n", m.UserID, m.TotalPoints, m.LedgerPoints)
	}
	if repair {
		fmt.Fprintf(cli.out, "repaired %d scores\n", len(mismatches))
	}
	return nil
}

func (cli *commandLine) award(uname string, amount int, by string) error {
	ctx := context.Background()
	usr, err := cli.usrSvc.GetByUsernameOrEmail(ctx, uname)
	if err != nil {
		return err
	}

	awardedBy := systemPrincipal
	if by != "" {
		awarder, err := cli.usrSvc.GetByUsernameOrEmail(ctx, by)
		if err != nil {
			return err
		}
		awardedBy = awarder.Principal()
	}

	score, err := cli.pointsSvc.AwardManualPoints(ctx, awardedBy, usr.ID, amount)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "%s now has %d points (%s)\n", usr.Username, score.TotalPoints, score.Level)
	return nil
}
