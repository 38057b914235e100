package core

import (
	"log"
	"net"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Debug           bool
	TestMode        bool
	AppName         string
	Env             string
	Build           string
	WorkDir         string
	SecretKey       string
	RollbarToken    string
	SendgridApiKey  string
	FrontendBaseURL string

	DefaultFromEmail mail.Address

	Server struct {
		Host                      string
		DebugHost                 string
		ShutdownTimeout           time.Duration
		JWTExpirationDelta        time.Duration
		JWTRefreshExpirationDelta time.Duration
	}

	Database DatabaseConfig

	Redis struct {
		Addr     string
		Password string
		DB       int
		Channel  string
	}

	Points struct {
		LeaderboardCap    int
		MaxAttempts       int
		RetryBaseDelay    time.Duration
		ReconcileInterval time.Duration
		NotifyBuffer      int
		LevelUpMails      bool
	}

	Classifier struct {
		Enabled           bool
		URL               string
		APIKey            string
		Model             string
		RequestsPerMinute int
		Timeout           time.Duration
	}
}

type DatabaseConfig struct {
	Engine        string
	Host          string
	Port          string
	User          string
	Password      string
	AdminUser     string
	AdminPassword string
	Name          string
	DisableTLS    bool
	MaxOpenConns  int
	MaxIdleConns  int
}

func (dbc DatabaseConfig) Address() string {
	return net.JoinHostPort(dbc.Host, dbc.Port)
}

func NewConfig() *Config {
	v := viper.New()

	// defaults
	v.SetTypeByDefaultValue(true)
	v.SetDefault("debug", true)
	v.SetDefault("testMode", false)
	v.SetDefault("appName", "ClassSync")
	v.SetDefault("build", "dev")
	v.SetDefault("secretKey", "h3k$9c-2lq!b0r@p7x_4zn+u1&w8e^ty6m(5fa*s)d")
	v.SetDefault("rollbarToken", "")
	v.SetDefault("sendgridApiKey", "")
	v.SetDefault("frontendBaseURL", "http://localhost:5173")
	v.SetDefault("defaultFromEmail", "noreply@localhost")
	v.SetDefault("defaultFromName", "ClassSync")

	v.SetDefault("server.host", "0.0.0.0:8000")
	v.SetDefault("server.debugHost", "0.0.0.0:4000")
	v.SetDefault("server.shutdownTimeout", 5*time.Second)
	v.SetDefault("server.jwtExpirationDelta", 4*time.Hour)
	v.SetDefault("server.jwtRefreshExpirationDelta", 7*24*time.Hour)

	v.SetDefault("database.engine", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.user", "classsync")
	v.SetDefault("database.password", "classsync")
	v.SetDefault("database.adminUser", "postgres")
	v.SetDefault("database.adminPassword", "postgres")
	v.SetDefault("database.name", "classsync")
	v.SetDefault("database.disableTLS", true)
	v.SetDefault("database.maxOpenConns", 20)
	v.SetDefault("database.maxIdleConns", 5)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channel", "classsync:points")

	v.SetDefault("points.leaderboardCap", 100)
	v.SetDefault("points.maxAttempts", 5)
	v.SetDefault("points.retryBaseDelay", 10*time.Millisecond)
	v.SetDefault("points.reconcileInterval", time.Hour)
	v.SetDefault("points.notifyBuffer", 16)
	v.SetDefault("points.levelUpMails", true)

	v.SetDefault("classifier.enabled", false)
	v.SetDefault("classifier.url", "https://api.openai.com/v1/chat/completions")
	v.SetDefault("classifier.apiKey", "")
	v.SetDefault("classifier.model", "gpt-4o-mini")
	v.SetDefault("classifier.requestsPerMinute", 60)
	v.SetDefault("classifier.timeout", 10*time.Second)

	env := strings.ToUpper(os.Getenv("ENV")) // DEV (local; default), TEST, QA, PROD
	if env == "" {
		env = "DEV"
	}
	if env == "TEST" {
		v.SetDefault("testMode", true)
	}
	v.SetEnvPrefix(env)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	workDir := getWorkDir()

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join(workDir, "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	v.AutomaticEnv()

	conf := &Config{
		Debug:           v.GetBool("debug"),
		TestMode:        v.GetBool("testMode"),
		AppName:         v.GetString("appName"),
		Env:             env,
		Build:           v.GetString("build"),
		WorkDir:         workDir,
		SecretKey:       v.GetString("secretKey"),
		RollbarToken:    v.GetString("rollbarToken"),
		SendgridApiKey:  v.GetString("sendgridApiKey"),
		FrontendBaseURL: v.GetString("frontendBaseURL"),
		DefaultFromEmail: mail.Address{
			Name:    v.GetString("defaultFromName"),
			Address: v.GetString("defaultFromEmail"),
		},
	}

	conf.Server.Host = v.GetString("server.host")
	conf.Server.DebugHost = v.GetString("server.debugHost")
	conf.Server.ShutdownTimeout = v.GetDuration("server.shutdownTimeout")
	conf.Server.JWTExpirationDelta = v.GetDuration("server.jwtExpirationDelta")
	conf.Server.JWTRefreshExpirationDelta = v.GetDuration("server.jwtRefreshExpirationDelta")

	conf.Database.Engine = v.GetString("database.engine")
	conf.Database.Host = v.GetString("database.host")
	conf.Database.Port = v.GetString("database.port")
	conf.Database.User = v.GetString("database.user")
	conf.Database.Password = v.GetString("database.password")
	conf.Database.AdminUser = v.GetString("database.adminUser")
	conf.Database.AdminPassword = v.GetString("database.adminPassword")
	conf.Database.Name = v.GetString("database.name")
	conf.Database.DisableTLS = v.GetBool("database.disableTLS")
	conf.Database.MaxOpenConns = v.GetInt("database.maxOpenConns")
	conf.Database.MaxIdleConns = v.GetInt("database.maxIdleConns")

	conf.Redis.Addr = v.GetString("redis.addr")
	conf.Redis.Password = v.GetString("redis.password")
	conf.Redis.DB = v.GetInt("redis.db")
	conf.Redis.Channel = v.GetString("redis.channel")

	conf.Points.LeaderboardCap = v.GetInt("points.leaderboardCap")
	conf.Points.MaxAttempts = v.GetInt("points.maxAttempts")
	conf.Points.RetryBaseDelay = v.GetDuration("points.retryBaseDelay")
	conf.Points.ReconcileInterval = v.GetDuration("points.reconcileInterval")
	conf.Points.NotifyBuffer = v.GetInt("points.notifyBuffer")
	conf.Points.LevelUpMails = v.GetBool("points.levelUpMails")

	conf.Classifier.Enabled = v.GetBool("classifier.enabled")
	conf.Classifier.URL = v.GetString("classifier.url")
	conf.Classifier.APIKey = v.GetString("classifier.apiKey")
	conf.Classifier.Model = v.GetString("classifier.model")
	conf.Classifier.RequestsPerMinute = v.GetInt("classifier.requestsPerMinute")
	conf.Classifier.Timeout = v.GetDuration("classifier.timeout")

	return conf
}

// NewTestConfig returns the configuration used by tests: no .env lookup, test mode on.
func NewTestConfig() *Config {
	conf := &Config{
		TestMode:  true,
		WorkDir:   getWorkDir(),
		AppName:   "ClassSync",
		Env:       "TEST",
		Build:     "test",
		SecretKey: "test-secret-key",
		DefaultFromEmail: mail.Address{
			Name:    "ClassSync",
			Address: "noreply@localhost",
		},
	}
	conf.Server.ShutdownTimeout = time.Second
	conf.Server.JWTExpirationDelta = time.Hour
	conf.Server.JWTRefreshExpirationDelta = 24 * time.Hour
	conf.Points.LeaderboardCap = 100
	conf.Points.MaxAttempts = 10
	conf.Points.RetryBaseDelay = time.Millisecond
	conf.Points.NotifyBuffer = 16
	return conf
}
