package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"syscall"

	"github.com/go-playground/validator/v10"
	"golang.org/x/term"

	"github.com/nithadya/classsync/core"
	"github.com/nithadya/classsync/core/points"
	"github.com/nithadya/classsync/core/user"
	"github.com/nithadya/classsync/storage/database"
)

var (
	readPasswordFunc = term.ReadPassword      // mockable
	gooseRunFunc     = database.RunMigrations // mockable

	errHelp = errors.New("help provided")
)

type commandLine struct {
	db        *sql.DB
	usrSvc    *user.Service
	pointsSvc *points.Service
	mailer    core.EmailService
	validate  *validator.Validate
	out       io.Writer
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  migrate COMMAND [ARGS] - run a goose command on the database")
	fmt.Fprintln(cli.out, "  adduser -name NAME -username USERNAME -email EMAIL [-role ROLE] - create a user")
	fmt.Fprintln(cli.out, "  resetpassword -username USERNAME|EMAIL - reset user's password")
	fmt.Fprintln(cli.out, "  reconcile [-repair] - compare scores with the ledger")
	fmt.Fprintln(cli.out, "  award -user USERNAME|EMAIL -amount POINTS [-by USERNAME|EMAIL] - grant manual points")
	fmt.Fprintln(cli.out, "  export -out FILE.xlsx [-range all|month|week] [-metric METRIC] [-limit N] [-mail EMAIL] - export the leaderboard")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	addUserCmd := flag.NewFlagSet("adduser", flag.ContinueOnError)
	addUserName := addUserCmd.String("name", "", "The user's full name.")
	addUserUname := addUserCmd.String("username", "", "The user's username.")
	addUserEmail := addUserCmd.String("email", "", "The user's email.")
	addUserRole := addUserCmd.String("role", "learner", "One of admin, contributor or learner.")

	resetPasswordCmd := flag.NewFlagSet("resetpassword", flag.ContinueOnError)
	resetPasswordUname := resetPasswordCmd.String("username", "", "The user's username or email. The password will be prompted next.")

	reconcileCmd := flag.NewFlagSet("reconcile", flag.ContinueOnError)
	reconcileRepair := reconcileCmd.Bool("repair", false, "Rebuild mismatching scores from the ledger.")

	awardCmd := flag.NewFlagSet("award", flag.ContinueOnError)
	awardUser := awardCmd.String("user", "", "The awarded user's username or email.")
	awardAmount := awardCmd.Int("amount", 0, fmt.Sprintf("Points to grant, between %d and %d.", points.MinAward, points.MaxAward))
	awardBy := awardCmd.String("by", "", "The awarding user's username or email. Defaults to the system.")

	exportCmd := flag.NewFlagSet("export", flag.ContinueOnError)
	exportOut := exportCmd.String("out", "", "The XLSX file to write.")
	exportRange := exportCmd.String("range", string(points.RangeAll), "One of all, month or week.")
	exportMetric := exportCmd.String("metric", string(points.MetricPoints), "The ranking metric.")
	exportLimit := exportCmd.Int("limit", 0, "Maximum number of rows.")
	exportMail := exportCmd.String("mail", "", "Also email the file to this address.")

	for _, fs := range []*flag.FlagSet{addUserCmd, resetPasswordCmd, reconcileCmd, awardCmd, exportCmd} {
		fs.SetOutput(cli.out)
	}

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])

	case "adduser":
		if err := addUserCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *addUserName == "" || *addUserUname == "" || *addUserEmail == "" {
			addUserCmd.Usage()
			return errHelp
		}
		pwd, err := cli.promptPassword()
		if err != nil {
			return err
		}
		if pwd == "" {
			addUserCmd.Usage()
			return errHelp
		}
		return cli.addUser(*addUserName, *addUserUname, *addUserEmail, *addUserRole, pwd)

	case "resetpassword":
		if err := resetPasswordCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *resetPasswordUname == "" {
			resetPasswordCmd.Usage()
			return errHelp
		}
		pwd, err := cli.promptPassword()
		if err != nil {
			return err
		}
		if pwd == "" {
			resetPasswordCmd.Usage()
			return errHelp
		}
		return cli.resetPassword(*resetPasswordUname, pwd)

	case "reconcile":
		if err := reconcileCmd.Parse(args[2:]); err != nil {
			return err
		}
		return cli.reconcile(*reconcileRepair)

	case "award":
		if err := awardCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *awardUser == "" || *awardAmount == 0 {
			awardCmd.Usage()
			return errHelp
		}
		return cli.award(*awardUser, *awardAmount, *awardBy)

	case "export":
		if err := exportCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *exportOut == "" {
			exportCmd.Usage()
			return errHelp
		}
		return cli.export(*exportOut, points.LeaderboardFilter{
			TimeRange: points.TimeRange(*exportRange),
			Metric:    points.Metric(*exportMetric),
			Limit:     *exportLimit,
		}, *exportMail)

	default:
		cli.printUsage()
		return errHelp
	}
}

func (cli *commandLine) promptPassword() (string, error) {
	fmt.Fprint(cli.out, "Enter password:")
	pwd, err := readPasswordFunc(int(syscall.Stdin))
	fmt.Fprintln(cli.out)
	if err != nil {
		return "", err
	}
	return string(pwd), nil
}
