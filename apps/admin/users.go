package main

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/dcycp/gestion/core"
	"github.com/dcycp/gestion/core/identity"
)

func (cli *commandLine) addUser(uname, name, role, pwd string) error {
	uname = core.CleanString(uname, true /* lower */)
	if _, err := cli.dir.GetUserByUsername(uname); err == nil {
		return fmt.Errorf("user %q already exists", uname)
	}
	if !validRole(role) {
		return identity.ErrUnknownRole
	}

	usr := identity.User{
		Username: uname,
		Name:     core.CleanString(name),
		Role:     role,
		IsActive: true,
	}
	if err := usr.SetPassword(pwd); err != nil {
		return err
	}
	return cli.dir.SaveUser(usr)
}

func (cli *commandLine) listUsers(out io.Writer) error {
	users, err := cli.svc.QueryAll()
	if err != nil {
		return err
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "USERNAME\tNAME\tROLE\tSTATUS")
	for _, usr := range users {
		status := "active"
		if !usr.IsActive {
			status = "deactivated"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", usr.Username, usr.Name, usr.Role, status)
	}
	return w.Flush()
}

func (cli *commandLine) setRole(uname, role string) error {
	_, err := cli.svc.SetRole(uname, role)
	return err
}

func (cli *commandLine) setPassword(uname, pwd string) error {
	usr, err := cli.svc.GetByUsername(uname)
	if err != nil {
		return err
	}
	if err := usr.SetPassword(pwd); err != nil {
		return err
	}
	return cli.dir.SaveUser(usr)
}

func (cli *commandLine) deactivate(uname string) error {
	usr, err := cli.svc.GetByUsername(uname)
	if err != nil {
		return err
	}
	usr.IsActive = false
	return cli.dir.SaveUser(usr)
}

func validRole(role string) bool {
	for _, r := range identity.AllRoles {
		if r == role {
			return true
		}
	}
	return false
}
