package identity

import (
	"io/ioutil"
	"os"
	"sync"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/dcycp/gestion/core"
)

var (
	ErrNotFound             = errors.New("user not found")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrAccountDeactivated   = errors.New("account deactivated")
	ErrUnknownRole          = errors.New("unknown role")
)

type (
	Repository interface {
		GetUserByUsername(username string) (User, error)
		QueryAllUsers() ([]User, error)
		SaveUser(usr User) error
	}

	Service struct {
		repo Repository
	}
)

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (svc *Service) GetByUsername(uname string) (User, error) {
	return svc.repo.GetUserByUsername(core.CleanString(uname, true /* lower */))
}

func (svc *Service) QueryAll() ([]User, error) {
	return svc.repo.QueryAllUsers()
}

// Authenticate verifies the credentials and returns the matching user.
// Failures are indistinguishable (ErrAuthenticationFailed) except for
// deactivated accounts.
func (svc *Service) Authenticate(uname, pwd string) (User, error) {
	usr, err := svc.GetByUsername(uname)
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return User{}, ErrAuthenticationFailed
		}
		return User{}, errors.Wrap(err, "finding user by username")
	}
	if err = usr.CheckPassword(pwd); err != nil {
		return User{}, ErrAuthenticationFailed
	}
	if !usr.IsActive {
		return User{}, ErrAccountDeactivated
	}
	return usr, nil
}

func (svc *Service) SetRole(uname, role string) (User, error) {
	valid := false
	for _, r := range AllRoles {
		if role == r {
			valid = true
			break
		}
	}
	if !valid {
		return User{}, ErrUnknownRole
	}

	usr, err := svc.GetByUsername(uname)
	if err != nil {
		return User{}, err
	}
	usr.Role = role
	if err = svc.repo.SaveUser(usr); err != nil {
		return User{}, errors.Wrap(err, "saving user")
	}
	return usr, nil
}

// Directory is the YAML-file-backed Repository. File layout:
//
//	users:
//	  jdoe:
//	    name: Jane Doe
//	    role: campus
//	    active: true
//	    password_hash: $2a$10$...
type Directory struct {
	mu    sync.RWMutex
	path  string
	users map[string]*directoryEntry
}

type directoryEntry struct {
	Name         string `yaml:"name"`
	Role         string `yaml:"role"`
	Active       bool   `yaml:"active"`
	PasswordHash string `yaml:"password_hash"`
}

type directoryFile struct {
	Users map[string]*directoryEntry `yaml:"users"`
}

var _ Repository = (*Directory)(nil)

func OpenDirectory(path string) (*Directory, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	var file directoryFile
	if err = yaml.Unmarshal(data, &file); err != nil {
		return nil, errors.Wrapf(err, "parsing %s", path)
	}
	if file.Users == nil {
		file.Users = make(map[string]*directoryEntry)
	}
	return &Directory{path: path, users: file.Users}, nil
}

func (d *Directory) GetUserByUsername(username string) (User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	entry, ok := d.users[username]
	if !ok {
		return User{}, ErrNotFound
	}
	return entry.toUser(username), nil
}

func (d *Directory) QueryAllUsers() ([]User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	users := make([]User, 0, len(d.users))
	for uname, entry := range d.users {
		users = append(users, entry.toUser(uname))
	}
	return users, nil
}

func (d *Directory) SaveUser(usr User) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.users[usr.Username] = &directoryEntry{
		Name:         usr.Name,
		Role:         usr.Role,
		Active:       usr.IsActive,
		PasswordHash: string(usr.PasswordHash),
	}
	return d.flush()
}

func (d *Directory) flush() error {
	data, err := yaml.Marshal(directoryFile{Users: d.users})
	if err != nil {
		return errors.Wrap(err, "marshaling user directory")
	}
	return ioutil.WriteFile(d.path, data, os.FileMode(0600))
}

func (entry *directoryEntry) toUser(username string) User {
	return User{
		Username:     username,
		Name:         entry.Name,
		Role:         entry.Role,
		IsActive:     entry.Active,
		PasswordHash: []byte(entry.PasswordHash),
	}
}
