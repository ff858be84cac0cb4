package identity

import (
	"golang.org/x/crypto/bcrypt"

	"github.com/dcycp/gestion/core/workflow"
)

// Roles
const (
	RoleAdmin    = "admin"
	RoleCampus   = "campus"
	RoleDesign   = "design"
	RoleDelivery = "delivery"
	RoleGuest    = "guest"
)

var AllRoles = []string{RoleAdmin, RoleCampus, RoleDesign, RoleDelivery, RoleGuest}

// Permissions grants view and edit sets over processes. View is a superset of
// edit for every role: nobody may edit what they cannot view.
type Permissions struct {
	View []workflow.Process
	Edit []workflow.Process
}

func (p Permissions) CanView(proc workflow.Process) bool { return contains(p.View, proc) }
func (p Permissions) CanEdit(proc workflow.Process) bool { return contains(p.Edit, proc) }

func contains(procs []workflow.Process, proc workflow.Process) bool {
	for _, p := range procs {
		if p == proc {
			return true
		}
	}
	return false
}

var rolePermissions = map[string]Permissions{
	RoleAdmin: {
		View: workflow.AllProcesses,
		Edit: workflow.AllProcesses,
	},
	RoleCampus: {
		View: []workflow.Process{workflow.ProcessCampus, workflow.ProcessDelivery},
		Edit: []workflow.Process{workflow.ProcessCampus},
	},
	RoleDesign: {
		View: []workflow.Process{workflow.ProcessApproval},
		Edit: []workflow.Process{workflow.ProcessApproval},
	},
	RoleDelivery: {
		View: workflow.AllProcesses,
		Edit: []workflow.Process{workflow.ProcessDelivery},
	},
	RoleGuest: {
		View: workflow.AllProcesses,
	},
}

// Resolve maps a role to its permissions. Unknown roles fall back to the
// read-only guest profile.
func Resolve(role string) Permissions {
	if perms, ok := rolePermissions[role]; ok {
		return perms
	}
	return rolePermissions[RoleGuest]
}

// User is an entry of the user directory.
type User struct {
	Username     string `json:"username"`
	Name         string `json:"name"`
	Role         string `json:"role"`
	IsActive     bool   `json:"is_active"`
	PasswordHash []byte `json:"-"`
}

func (u *User) SetPassword(pwd string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(pwd), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = hash
	return nil
}

func (u *User) CheckPassword(pwd string) error {
	return bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(pwd))
}

func (u *User) Permissions() Permissions { return Resolve(u.Role) }

func (u *User) IsAdmin() bool { return u.Role == RoleAdmin }
