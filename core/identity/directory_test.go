package identity

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
)

func writeDirectoryFile(t *testing.T, content string) string {
	t.Helper()
	dir, err := ioutil.TempDir("", "gestion-users")
	if err != nil {
		t.Fatalf("TempDir() failed: %v", err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	path := filepath.Join(dir, "users.yml")
	if err := ioutil.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}
	return path
}

func newTestDirectory(t *testing.T) *Directory {
	t.Helper()
	usr := User{Username: "jdoe", Name: "Jane Doe", Role: RoleCampus, IsActive: true}
	if err := usr.SetPassword("s3cret"); err != nil {
		t.Fatalf("SetPassword() failed: %v", err)
	}

	path := writeDirectoryFile(t, "users: {}\n")
	dir, err := OpenDirectory(path)
	if err != nil {
		t.Fatalf("OpenDirectory() failed: %v", err)
	}
	if err := dir.SaveUser(usr); err != nil {
		t.Fatalf("SaveUser() failed: %v", err)
	}

	inactive := User{Username: "gone", Name: "Gone", Role: RoleDesign, IsActive: false}
	_ = inactive.SetPassword("s3cret")
	if err := dir.SaveUser(inactive); err != nil {
		t.Fatalf("SaveUser() failed: %v", err)
	}
	return dir
}

func TestDirectoryRoundTrip(t *testing.T) {
	dir := newTestDirectory(t)

	// reopen from disk: SaveUser must have flushed
	reopened, err := OpenDirectory(dir.path)
	if err != nil {
		t.Fatalf("OpenDirectory() failed: %v", err)
	}
	usr, err := reopened.GetUserByUsername("jdoe")
	if err != nil {
		t.Fatalf("GetUserByUsername() failed: %v", err)
	}
	if usr.Name != "Jane Doe" || usr.Role != RoleCampus || !usr.IsActive {
		t.Errorf("unexpected user after reload: %+v", usr)
	}
	if err = usr.CheckPassword("s3cret"); err != nil {
		t.Errorf("password hash did not survive reload: %v", err)
	}

	if _, err = reopened.GetUserByUsername("nobody"); err != ErrNotFound {
		t.Errorf("GetUserByUsername(nobody) error = %v, want ErrNotFound", err)
	}
}

func TestServiceAuthenticate(t *testing.T) {
	svc := NewService(newTestDirectory(t))

	tests := []struct {
		name    string
		uname   string
		pwd     string
		wantErr error
	}{
		{name: "ok", uname: "jdoe", pwd: "s3cret"},
		{name: "case-insensitive username", uname: " JDoe ", pwd: "s3cret"},
		{name: "wrong password", uname: "jdoe", pwd: "nope", wantErr: ErrAuthenticationFailed},
		{name: "unknown user", uname: "who", pwd: "s3cret", wantErr: ErrAuthenticationFailed},
		{name: "deactivated", uname: "gone", pwd: "s3cret", wantErr: ErrAccountDeactivated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			usr, err := svc.Authenticate(tt.uname, tt.pwd)
			if err != tt.wantErr {
				t.Fatalf("Authenticate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr == nil && usr.Username != "jdoe" {
				t.Errorf("Authenticate() user = %+v", usr)
			}
		})
	}
}

func TestServiceSetRole(t *testing.T) {
	svc := NewService(newTestDirectory(t))

	usr, err := svc.SetRole("jdoe", RoleAdmin)
	if err != nil {
		t.Fatalf("SetRole() failed: %v", err)
	}
	if usr.Role != RoleAdmin {
		t.Errorf("SetRole() role = %s, want %s", usr.Role, RoleAdmin)
	}

	if _, err = svc.SetRole("jdoe", "superuser"); err != ErrUnknownRole {
		t.Errorf("SetRole() error = %v, want ErrUnknownRole", err)
	}
	if _, err = svc.SetRole("nobody", RoleGuest); err != ErrNotFound {
		t.Errorf("SetRole() error = %v, want ErrNotFound", err)
	}
}
