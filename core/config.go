package core

import (
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Conf is the application configuration. It is set once by the composition
// root (apps/api, apps/admin) before anything else runs.
var Conf *Config

type Config struct {
	Debug            bool
	TestMode         bool
	Env              string // DEV (default), TEST, QA, PROD
	Build            string
	AppName          string
	SecretKey        string `validate:"required,min=32"`
	FrontendBaseURL  string
	DefaultFromEmail mail.Address
	// Coordinators receive process-completion notifications.
	Coordinators []mail.Address

	// UsersFile is the YAML user directory (username -> profile, role).
	// Relative values resolve against the app root at load time.
	UsersFile string `validate:"required"`

	Server struct {
		Host                      string
		Addr                      string
		JWTExpirationDelta        time.Duration
		JWTRefreshExpirationDelta time.Duration
	}

	Database struct {
		Engine        string
		Name          string
		Host          string
		Port          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
	}

	Sheet struct {
		SpreadsheetID   string
		CredentialsFile string
		CacheTTL        time.Duration
	}

	Sync struct {
		BatchSize   int `validate:"min=1"`
		Pause       time.Duration
		RetryMax    int `validate:"min=1"`
		BackoffBase time.Duration
	}

	SendgridAPIKey string
	RollbarToken   string
}

func (c *Config) IsDev() bool { return c.Env == "DEV" }

// DatabaseAddress returns the database "host:port" address.
func (c *Config) DatabaseAddress() string {
	return c.Database.Host + ":" + c.Database.Port
}

// NewConfig loads the configuration from the environment, with an optional
// config/.env.<env> dotenv file layered underneath.
func NewConfig(appRoot string) (*Config, error) {
	v := viper.New()
	v.SetTypeByDefaultValue(true)

	// defaults
	v.SetDefault("debug", true)
	v.SetDefault("build", "dev")
	v.SetDefault("appName", "Gestion")
	v.SetDefault("secretKey", "o0v@a$+9y)3!d&g^gestion-dcycp-x(h2(h!x)#*c2(#yg4h")
	v.SetDefault("frontendBaseURL", "http://localhost:3000")
	v.SetDefault("defaultFromEmail", "noreply@localhost")
	v.SetDefault("usersFile", filepath.Join(appRoot, "config", "users.yml"))

	v.SetDefault("serverHost", "localhost")
	v.SetDefault("serverAddr", ":8000")
	v.SetDefault("jwtExpirationDelta", 7*24*time.Hour)
	v.SetDefault("jwtRefreshExpirationDelta", 4*time.Hour)

	v.SetDefault("databaseEngine", "postgres")
	v.SetDefault("databaseName", "gestion")
	v.SetDefault("databaseHost", "localhost")
	v.SetDefault("databasePort", "5432")
	v.SetDefault("databaseDisableTLS", true)

	v.SetDefault("sheetSpreadsheetID", "")
	v.SetDefault("sheetCredentialsFile", filepath.Join(appRoot, "config", "google-creds.json"))
	v.SetDefault("sheetCacheTTL", time.Minute)

	v.SetDefault("syncBatchSize", 30)
	v.SetDefault("syncPause", 1100*time.Millisecond)
	v.SetDefault("syncRetryMax", 3)
	v.SetDefault("syncBackoffBase", 500*time.Millisecond)

	env := os.Getenv("ENV")
	if env == "" {
		env = "DEV"
	}
	v.SetEnvPrefix(env)

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join(appRoot, "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			return nil, errors.Wrapf(err, "loading %s", dotEnvPath)
		}
	} else if !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "checking %s", dotEnvPath)
	}
	v.AutomaticEnv()

	conf := &Config{
		Debug:           v.GetBool("debug"),
		TestMode:        env == "TEST",
		Env:             env,
		Build:           v.GetString("build"),
		AppName:         v.GetString("appName"),
		SecretKey:       v.GetString("secretKey"),
		FrontendBaseURL: v.GetString("frontendBaseURL"),
		DefaultFromEmail: mail.Address{
			Name:    v.GetString("appName"),
			Address: v.GetString("defaultFromEmail"),
		},
		UsersFile:      resolvePath(appRoot, v.GetString("usersFile")),
		SendgridAPIKey: v.GetString("sendgridApiKey"),
		RollbarToken:   v.GetString("rollbarToken"),
	}
	for _, addr := range v.GetStringSlice("coordinators") {
		conf.Coordinators = append(conf.Coordinators, mail.Address{Address: addr})
	}

	conf.Server.Host = v.GetString("serverHost")
	conf.Server.Addr = v.GetString("serverAddr")
	conf.Server.JWTExpirationDelta = v.GetDuration("jwtExpirationDelta")
	conf.Server.JWTRefreshExpirationDelta = v.GetDuration("jwtRefreshExpirationDelta")

	conf.Database.Engine = v.GetString("databaseEngine")
	conf.Database.Name = v.GetString("databaseName")
	conf.Database.Host = v.GetString("databaseHost")
	conf.Database.Port = v.GetString("databasePort")
	conf.Database.User = v.GetString("databaseUser")
	conf.Database.Password = v.GetString("databasePassword")
	conf.Database.AdminUser = v.GetString("databaseAdminUser")
	conf.Database.AdminPassword = v.GetString("databaseAdminPassword")
	conf.Database.DisableTLS = v.GetBool("databaseDisableTLS")

	conf.Sheet.SpreadsheetID = v.GetString("sheetSpreadsheetID")
	conf.Sheet.CredentialsFile = resolvePath(appRoot, v.GetString("sheetCredentialsFile"))
	conf.Sheet.CacheTTL = v.GetDuration("sheetCacheTTL")

	conf.Sync.BatchSize = v.GetInt("syncBatchSize")
	conf.Sync.Pause = v.GetDuration("syncPause")
	conf.Sync.RetryMax = v.GetInt("syncRetryMax")
	conf.Sync.BackoffBase = v.GetDuration("syncBackoffBase")

	if err := Validate.Struct(conf); err != nil {
		return nil, errors.Wrap(err, "validating config")
	}
	return conf, nil
}

// resolvePath anchors a relative path at the app root; absolute paths (the
// defaults, or operator overrides) pass through untouched.
func resolvePath(appRoot, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(appRoot, path)
}

// NewTestConfig returns a Config suitable for unit tests: no external
// services, no pacing between sync batches.
func NewTestConfig() *Config {
	conf := &Config{
		Debug:     true,
		TestMode:  true,
		Env:       "TEST",
		AppName:   "Gestion",
		SecretKey: "test-secret-key-test-secret-key-test",
		UsersFile: "users.yml",
		DefaultFromEmail: mail.Address{
			Name:    "Gestion",
			Address: "noreply@localhost",
		},
	}
	conf.Server.Addr = ":0"
	conf.Server.JWTExpirationDelta = 10 * time.Minute
	conf.Server.JWTRefreshExpirationDelta = 4 * time.Hour
	conf.Sync.BatchSize = 30
	conf.Sync.RetryMax = 3
	return conf
}
