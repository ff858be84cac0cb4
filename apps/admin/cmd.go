package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"syscall"

	"golang.org/x/term"

	"github.com/dcycp/gestion/core/identity"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp = errors.New("help provided")
)

type commandLine struct {
	db  *sql.DB
	dir identity.Repository
	svc *identity.Service
}

func (cli *commandLine) printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  adduser -username USERNAME -name NAME -role ROLE - add a user to the directory")
	fmt.Println("  listusers                                        - list the user directory")
	fmt.Println("  setrole -username USERNAME -role ROLE            - change a user's role")
	fmt.Println("  setpassword -username USERNAME                   - reset a user's password")
	fmt.Println("  deactivate -username USERNAME                    - deactivate a user's account")
	fmt.Println("  migrate COMMAND [args]                           - run database migrations")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	addUserCmd := flag.NewFlagSet("adduser", flag.ExitOnError)
	addUserUname := addUserCmd.String("username", "", "The new user's username. The password will be prompted next.")
	addUserName := addUserCmd.String("name", "", "The new user's display name.")
	addUserRole := addUserCmd.String("role", identity.RoleGuest, "The new user's role.")

	setRoleCmd := flag.NewFlagSet("setrole", flag.ExitOnError)
	setRoleUname := setRoleCmd.String("username", "", "The user's username.")
	setRoleRole := setRoleCmd.String("role", "", "The role to assign.")

	setPasswordCmd := flag.NewFlagSet("setpassword", flag.ExitOnError)
	setPasswordUname := setPasswordCmd.String("username", "", "The user's username. The password will be prompted next.")

	deactivateCmd := flag.NewFlagSet("deactivate", flag.ExitOnError)
	deactivateUname := deactivateCmd.String("username", "", "The user's username.")

	switch args[1] {
	case "adduser":
		if err := addUserCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *addUserUname == "" || *addUserName == "" {
			addUserCmd.Usage()
			return errHelp
		}
		pwd, err := promptPassword()
		if err != nil {
			if err == errHelp {
				addUserCmd.Usage()
			}
			return err
		}
		return cli.addUser(*addUserUname, *addUserName, *addUserRole, pwd)
	case "listusers":
		return cli.listUsers(os.Stdout)
	case "setrole":
		if err := setRoleCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *setRoleUname == "" || *setRoleRole == "" {
			setRoleCmd.Usage()
			return errHelp
		}
		return cli.setRole(*setRoleUname, *setRoleRole)
	case "setpassword":
		if err := setPasswordCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *setPasswordUname == "" {
			setPasswordCmd.Usage()
			return errHelp
		}
		pwd, err := promptPassword()
		if err != nil {
			if err == errHelp {
				setPasswordCmd.Usage()
			}
			return err
		}
		return cli.setPassword(*setPasswordUname, pwd)
	case "deactivate":
		if err := deactivateCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *deactivateUname == "" {
			deactivateCmd.Usage()
			return errHelp
		}
		return cli.deactivate(*deactivateUname)
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])
	default:
		cli.printUsage()
		return errHelp
	}
}

func promptPassword() (string, error) {
	fmt.Print("Enter password:")
	pwd, err := readPasswordFunc(syscall.Stdin)
	fmt.Println()
	if err != nil {
		return "", err
	}
	if len(pwd) == 0 {
		return "", errHelp
	}
	return string(pwd), nil
}
