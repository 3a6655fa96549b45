package core

import (
	"log"
	"net"
	"net/mail"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	DatabaseConfig struct {
		Engine        string // postgres | sqlite
		Host          string
		Port          int
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
		Path          string // sqlite only
		LockTimeout   time.Duration
	}

	ServerConfig struct {
		Host                      string
		Address                   string
		DebugHost                 string
		ShutdownTimeout           time.Duration
		JWTExpirationDelta        time.Duration
		JWTRefreshExpirationDelta time.Duration
	}

	AlertsConfig struct {
		Recipients    []string
		DefaultLevels [3]int
	}

	Config struct {
		Debug     bool
		TestMode  bool
		AppName   string
		Env       string
		Build     string
		SecretKey string

		Server   ServerConfig
		Database DatabaseConfig
		Alerts   AlertsConfig

		RollbarToken     string
		SendgridAPIKey   string
		DefaultFromEmail mail.Address
	}
)

// Address returns the database "host:port".
func (c DatabaseConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// AlertRecipients returns the parsed alert recipients, skipping invalid addresses.
func (c AlertsConfig) AlertRecipients() []mail.Address {
	addrs := make([]mail.Address, 0, len(c.Recipients))
	for _, r := range c.Recipients {
		if addr, err := mail.ParseAddress(r); err == nil {
			addrs = append(addrs, *addr)
		}
	}
	return addrs
}

// NewConfig loads the configuration from defaults, an optional dotenv file
// (config/.env.<env>) and environment variables prefixed with the env name.
func NewConfig() *Config {
	conf := viper.New()

	// defaults
	conf.SetTypeByDefaultValue(true)
	conf.SetDefault("debug", true)
	conf.SetDefault("appName", "Conta")
	conf.SetDefault("build", "develop")
	conf.SetDefault("secretKey", "jx9-4kd!0m2$cz6=q_p@w1s8#hb3v%7(ty5&ue0rl")
	conf.SetDefault("defaultFromEmail", "Conta <noreply@localhost>")
	conf.SetDefault("rollbarToken", "")
	conf.SetDefault("sendgridApiKey", "")

	conf.SetDefault("serverHost", "localhost")
	conf.SetDefault("serverAddress", ":8000")
	conf.SetDefault("serverDebugHost", ":4000")
	conf.SetDefault("serverShutdownTimeout", 5*time.Second)
	conf.SetDefault("jwtExpirationDelta", 7*24*time.Hour)
	conf.SetDefault("jwtRefreshExpirationDelta", 4*time.Hour)

	conf.SetDefault("dbEngine", "postgres")
	conf.SetDefault("dbHost", "localhost")
	conf.SetDefault("dbPort", 5432)
	conf.SetDefault("dbName", "conta")
	conf.SetDefault("dbUser", "conta")
	conf.SetDefault("dbPassword", "conta")
	conf.SetDefault("dbAdminUser", "")
	conf.SetDefault("dbAdminPassword", "")
	conf.SetDefault("dbDisableTls", true)
	conf.SetDefault("dbPath", "conta.db")
	conf.SetDefault("dbLockTimeout", 5*time.Second)

	conf.SetDefault("alertRecipients", "")
	conf.SetDefault("alertLevel1", 70)
	conf.SetDefault("alertLevel2", 85)
	conf.SetDefault("alertLevel3", 95)

	env := strings.ToUpper(os.Getenv("ENV")) // DEV (local; default), TEST, QA, PROD
	if env == "" {
		env = "DEV"
	}
	if env == "TEST" {
		conf.SetDefault("testMode", true)
	}
	conf.SetEnvPrefix(env)

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join(configDir(), ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	conf.AutomaticEnv()

	fromEmail, err := mail.ParseAddress(conf.GetString("defaultFromEmail"))
	if err != nil {
		log.Fatalf("config.defaultFromEmail: %v", err)
	}

	return &Config{
		Debug:     conf.GetBool("debug"),
		TestMode:  conf.GetBool("testMode"),
		AppName:   conf.GetString("appName"),
		Env:       env,
		Build:     conf.GetString("build"),
		SecretKey: conf.GetString("secretKey"),
		Server: ServerConfig{
			Host:                      conf.GetString("serverHost"),
			Address:                   conf.GetString("serverAddress"),
			DebugHost:                 conf.GetString("serverDebugHost"),
			ShutdownTimeout:           conf.GetDuration("serverShutdownTimeout"),
			JWTExpirationDelta:        conf.GetDuration("jwtExpirationDelta"),
			JWTRefreshExpirationDelta: conf.GetDuration("jwtRefreshExpirationDelta"),
		},
		Database: DatabaseConfig{
			Engine:        conf.GetString("dbEngine"),
			Host:          conf.GetString("dbHost"),
			Port:          conf.GetInt("dbPort"),
			Name:          conf.GetString("dbName"),
			User:          conf.GetString("dbUser"),
			Password:      conf.GetString("dbPassword"),
			AdminUser:     conf.GetString("dbAdminUser"),
			AdminPassword: conf.GetString("dbAdminPassword"),
			DisableTLS:    conf.GetBool("dbDisableTls"),
			Path:          conf.GetString("dbPath"),
			LockTimeout:   conf.GetDuration("dbLockTimeout"),
		},
		Alerts: AlertsConfig{
			Recipients: splitList(conf.GetString("alertRecipients")),
			DefaultLevels: [3]int{
				conf.GetInt("alertLevel1"),
				conf.GetInt("alertLevel2"),
				conf.GetInt("alertLevel3"),
			},
		},
		RollbarToken:     conf.GetString("rollbarToken"),
		SendgridAPIKey:   conf.GetString("sendgridApiKey"),
		DefaultFromEmail: *fromEmail,
	}
}

// configDir returns $CONFIG_DIR or "./config".
func configDir() string {
	if dir := os.Getenv("CONFIG_DIR"); dir != "" {
		return dir
	}
	wd, err := os.Getwd()
	if err != nil {
		log.Fatal(err)
	}
	return filepath.Join(wd, "config")
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = CleanString(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
