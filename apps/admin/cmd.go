package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/trezcool/bursar/apps/api/echo"
	"github.com/trezcool/bursar/core"
	"github.com/trezcool/bursar/core/billing"
	"github.com/trezcool/bursar/core/principal"
)

var (
	errHelp       = errors.New("help provided")
	errNoDatabase = errors.New("this command needs a database (database.driver=postgres)")
)

type (
	enroller interface {
		Enroll(ctx context.Context, classID, academicYear string, studentIDs ...string) error
	}

	commandLine struct {
		conf       *core.Config
		db         *sql.DB
		roster     enroller
		billingSvc *billing.Service
		out        io.Writer
	}
)

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  migrate COMMAND [ARGS] - run database migrations (up, up-by-one, up-to, down, down-to, redo, reset, status, version, create, fix)")
	fmt.Fprintln(cli.out, "  issuetoken -id ID -roles ROLE[,ROLE] [-username USERNAME] [-email EMAIL] - print an API token")
	fmt.Fprintln(cli.out, "  enroll -class CLASS -year YYYY-YY STUDENT_ID... - add students to a class roster")
	fmt.Fprintln(cli.out, "  assignclass -structure FEE_STRUCTURE_ID -class CLASS [-year YYYY-YY] [-due YYYY-MM-DD] - assign a fee structure to a class")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	issueTokenCmd := flag.NewFlagSet("issuetoken", flag.ContinueOnError)
	issueTokenCmd.SetOutput(cli.out)
	issueTokenID := issueTokenCmd.String("id", "", "The principal id (the student id for students).")
	issueTokenUsername := issueTokenCmd.String("username", "", "The principal's username.")
	issueTokenEmail := issueTokenCmd.String("email", "", "The principal's email.")
	issueTokenRoles := issueTokenCmd.String("roles", "", "Comma separated roles, e.g: admin:bursar")

	enrollCmd := flag.NewFlagSet("enroll", flag.ContinueOnError)
	enrollCmd.SetOutput(cli.out)
	enrollClass := enrollCmd.String("class", "", "The class id.")
	enrollYear := enrollCmd.String("year", "", "The academic year, e.g: 2024-25")

	assignCmd := flag.NewFlagSet("assignclass", flag.ContinueOnError)
	assignCmd.SetOutput(cli.out)
	assignStructure := assignCmd.String("structure", "", "The fee structure id.")
	assignClass := assignCmd.String("class", "", "The class id.")
	assignYear := assignCmd.String("year", "", "The academic year (defaults to the structure's).")
	assignDue := assignCmd.String("due", "", "The due date, e.g: 2025-01-31")

	switch args[1] {
	case "migrate":
		return cli.migrate(args[2:])

	case "issuetoken":
		if err := issueTokenCmd.Parse(args[2:]); err != nil {
			return err
		}
		roles := splitList(*issueTokenRoles)
		if *issueTokenID == "" || len(roles) == 0 {
			issueTokenCmd.Usage()
			return errHelp
		}
		return cli.issueToken(principal.Principal{
			ID:       *issueTokenID,
			Username: *issueTokenUsername,
			Email:    *issueTokenEmail,
			Roles:    roles,
		})

	case "enroll":
		if err := enrollCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *enrollClass == "" || *enrollYear == "" || enrollCmd.NArg() == 0 {
			enrollCmd.Usage()
			return errHelp
		}
		return cli.enroll(*enrollClass, *enrollYear, enrollCmd.Args())

	case "assignclass":
		if err := assignCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *assignStructure == "" || *assignClass == "" {
			assignCmd.Usage()
			return errHelp
		}
		a := billing.Assignment{FeeStructureID: *assignStructure, AcademicYear: *assignYear}
		if *assignDue != "" {
			due, err := core.ParseDate(*assignDue)
			if err != nil {
				return fmt.Errorf("invalid due date %q: %v", *assignDue, err)
			}
			a.DueDate = due
		}
		return cli.assignClass(*assignClass, a)

	default:
		cli.printUsage()
		return errHelp
	}
}

func (cli *commandLine) issueToken(p principal.Principal) error {
	for _, role := range p.Roles {
		if !principal.IsKnownRole(role) {
			return fmt.Errorf("unknown role %q", role)
		}
	}
	token, err := echoapi.GenerateToken(cli.conf, echoapi.NewClaims(cli.conf, p))
	if err != nil {
		return err
	}
	fmt.Fprintln(cli.out, token)
	return nil
}

func (cli *commandLine) enroll(classID, year string, studentIDs []string) error {
	if cli.roster == nil {
		return errNoDatabase
	}
	if !core.ValidAcademicYear(year) {
		return fmt.Errorf("invalid academic year %q", year)
	}
	if err := cli.roster.Enroll(context.Background(), classID, year, studentIDs...); err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "%d student(s) enrolled in %s (%s)\n", len(studentIDs), classID, year)
	return nil
}

func (cli *commandLine) assignClass(classID string, a billing.Assignment) error {
	if cli.billingSvc == nil {
		return errNoDatabase
	}
	res, err := cli.billingSvc.AssignToClass(context.Background(), classID, a)
	if err != nil {
		return err
	}
	for _, r := range res.Results {
		if r.Outcome == billing.OutcomeFailed {
			fmt.Fprintf(cli.out, "  %s: %s\n", r.StudentID, r.Error)
		}
	}
	fmt.Fprintf(cli.out, "%d assigned, %d skipped, %d failed\n", res.Assigned, res.Skipped, res.Failed)
	return nil
}

func splitList(s string) []string {
	var items []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
