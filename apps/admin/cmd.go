package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/trezcool/examinator/apps/shared"
	"github.com/trezcool/examinator/core/license"
	"github.com/trezcool/examinator/core/saas"
	"github.com/trezcool/examinator/core/user"
	"github.com/trezcool/examinator/storage/database"
)

var (
	gooseRunFunc = database.RunMigrations // mockable

	errHelp       = errors.New("help provided")
	errNoDatabase = errors.New("migrations need a SQL database")
)

type commandLine struct {
	deps *shared.Deps
	db   *sqlx.DB
	out  io.Writer
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  migrate COMMAND [ARGS] - run a goose migration command (up, down, status, redo, ...)")
	fmt.Fprintln(cli.out, "  seed - create the sample curriculum and permissions")
	fmt.Fprintln(cli.out, "  addorg -name NAME -email EMAIL [-max-users N] - create an organization")
	fmt.Fprintln(cli.out, "  adduser -username USERNAME -email EMAIL -role ROLE -org ID - create a user")
	fmt.Fprintln(cli.out, "  deluser -id ID - delete a user")
	fmt.Fprintln(cli.out, "  recompute -org ID [-grant] - recompute the licenses of an organization")
	fmt.Fprintln(cli.out, "  sweep - recompute the licenses of every organization")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}
	ctx := context.Background()

	addOrgCmd := flag.NewFlagSet("addorg", flag.ContinueOnError)
	addOrgCmd.SetOutput(cli.out)
	addOrgName := addOrgCmd.String("name", "", "The organization's name.")
	addOrgEmail := addOrgCmd.String("email", "", "The organization's billing email.")
	addOrgMaxUsers := addOrgCmd.Int("max-users", 0, "The maximum number of active users.")

	addUserCmd := flag.NewFlagSet("adduser", flag.ContinueOnError)
	addUserCmd.SetOutput(cli.out)
	addUserUname := addUserCmd.String("username", "", "The user's username.")
	addUserEmail := addUserCmd.String("email", "", "The user's email.")
	addUserRole := addUserCmd.String("role", user.RoleStudent, "One of: "+strings.Join(user.AllRoles, ", ")+".")
	addUserOrg := addUserCmd.String("org", "", "The user's organization ID.")

	delUserCmd := flag.NewFlagSet("deluser", flag.ContinueOnError)
	delUserCmd.SetOutput(cli.out)
	delUserID := delUserCmd.String("id", "", "The user's ID.")

	recomputeCmd := flag.NewFlagSet("recompute", flag.ContinueOnError)
	recomputeCmd.SetOutput(cli.out)
	recomputeOrg := recomputeCmd.String("org", "", "The organization ID.")
	recomputeGrant := recomputeCmd.Bool("grant", false, "Only update the organization admins.")

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		if cli.db == nil {
			return errNoDatabase
		}
		return gooseRunFunc(ctx, cli.db, args[2], args[3:]...)

	case "seed":
		return cli.seed(ctx)

	case "addorg":
		if err := addOrgCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *addOrgName == "" || *addOrgEmail == "" {
			addOrgCmd.Usage()
			return errHelp
		}
		org, err := cli.deps.Saas.CreateOrganization(ctx, saas.NewOrganization{
			Name:         *addOrgName,
			BillingEmail: *addOrgEmail,
			MaxUsers:     *addOrgMaxUsers,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cli.out, "organization %q created: %s\n", org.Name, org.ID)
		return nil

	case "adduser":
		if err := addUserCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *addUserUname == "" || *addUserEmail == "" {
			addUserCmd.Usage()
			return errHelp
		}
		return cli.addUser(ctx, *addUserUname, *addUserEmail, *addUserRole, *addUserOrg)

	case "deluser":
		if err := delUserCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *delUserID == "" {
			delUserCmd.Usage()
			return errHelp
		}
		if err := cli.deps.Users.Delete(ctx, *delUserID); err != nil {
			return err
		}
		fmt.Fprintf(cli.out, "user %s deleted\n", *delUserID)
		return nil

	case "recompute":
		if err := recomputeCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *recomputeOrg == "" {
			recomputeCmd.Usage()
			return errHelp
		}
		dir := license.Revoke
		if *recomputeGrant {
			dir = license.Grant
		}
		res, err := cli.deps.Engine.Recompute(ctx, *recomputeOrg, dir)
		if err != nil {
			return err
		}
		fmt.Fprintf(cli.out, "%s: %d active grant(s), %d node(s), %d permission(s), %d user(s) updated\n",
			res.OrganizationID, res.ActiveGrants, len(res.Nodes), len(res.Permissions), len(res.Targets))
		return nil

	case "sweep":
		return cli.sweep(ctx)

	default:
		cli.printUsage()
		return errHelp
	}
}

// addUser creates a user.User in an existing organization.
func (cli *commandLine) addUser(ctx context.Context, uname, email, role, orgID string) error {
	if orgID != "" {
		if _, err := cli.deps.Saas.GetOrganization(ctx, orgID); err != nil {
			return err
		}
	}
	usr, err := cli.deps.Users.Create(ctx, user.NewUser{
		Username:       uname,
		Email:          email,
		Role:           role,
		OrganizationID: orgID,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "user %q created: %s\n", usr.Username, usr.ID)
	return nil
}

func (cli *commandLine) sweep(ctx context.Context) error {
	report, err := cli.deps.Licenses.Sweep(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "%d organization(s) recomputed, %d failed\n", len(report.Succeeded), len(report.Failed))

	failed := make([]string, 0, len(report.Failed))
	for orgID := range report.Failed {
		failed = append(failed, orgID)
	}
	sort.Strings(failed)
	for _, orgID := range failed {
		fmt.Fprintf(cli.out, "  %s: %v\n", orgID, report.Failed[orgID])
	}
	return nil
}
