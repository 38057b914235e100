package database

import (
	"context"
	"database/sql"
	"net/url"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/pressly/goose/v3"

	"github.com/nithadya/classsync/core"
	"github.com/nithadya/classsync/storage/database/migrations"
)

// MigrationsDir is the goose directory within migrations.FS.
const MigrationsDir = "."

const (
	readyAttempts = 30
	readyStep     = 100 * time.Millisecond
)

func init() {
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		panic(err)
	}
}

// dsn builds the connection URL of dbName, as the admin user when admin is set.
func dsn(dbName string, admin bool, conf *core.Config) string {
	user := url.UserPassword(conf.Database.User, conf.Database.Password)
	if admin && conf.Database.AdminUser != "" {
		user = url.UserPassword(conf.Database.AdminUser, conf.Database.AdminPassword)
	}

	sslMode := "require"
	if conf.Database.DisableTLS {
		sslMode = "disable"
	}
	q := make(url.Values)
	q.Set("sslmode", sslMode)
	q.Set("timezone", "utc")

	u := url.URL{
		Scheme:   "postgres",
		User:     user,
		Host:     conf.Database.Address(),
		Path:     dbName,
		RawQuery: q.Encode(),
	}
	return u.String()
}

// Open connects to the app database. The connection is not checked; call Ping for that.
func Open(conf *core.Config) (*sqlx.DB, error) {
	db, err := sqlx.Open(conf.Database.Engine, dsn(conf.Database.Name, false, conf))
	if err != nil {
		return nil, errors.Wrap(err, "opening database")
	}
	if conf.Database.MaxOpenConns > 0 {
		db.SetMaxOpenConns(conf.Database.MaxOpenConns)
	}
	if conf.Database.MaxIdleConns > 0 {
		db.SetMaxIdleConns(conf.Database.MaxIdleConns)
	}
	return db, nil
}

// waitReady pings db until it answers, backing off linearly.
func waitReady(ctx context.Context, db *sqlx.DB) error {
	var err error
	for attempt := 1; attempt <= readyAttempts; attempt++ {
		if err = db.PingContext(ctx); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "waiting for database")
		case <-time.After(time.Duration(attempt) * readyStep):
		}
	}
	return errors.Wrap(err, "DB ping timeout")
}

func ensureAppUser(ctx context.Context, db *sqlx.DB, conf *core.Config) error {
	if conf.Database.User == "" {
		return nil
	}
	var exists bool
	if err := db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM pg_roles WHERE rolname = $1)`, conf.Database.User); err != nil {
		return errors.Wrap(err, "checking app user")
	}
	if exists {
		return nil
	}
	q := "CREATE USER " + pq.QuoteIdentifier(conf.Database.User) +
		" CREATEDB ENCRYPTED PASSWORD " + pq.QuoteLiteral(conf.Database.Password)
	_, err := db.ExecContext(ctx, q)
	return errors.Wrap(err, "creating app user")
}

func ensureDB(ctx context.Context, db *sqlx.DB, conf *core.Config) error {
	var exists bool
	if err := db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM pg_database WHERE datname = $1)`, conf.Database.Name); err != nil {
		return errors.Wrap(err, "checking DB")
	}
	if exists {
		return nil
	}
	_, err := db.ExecContext(ctx, "CREATE DATABASE "+pq.QuoteIdentifier(conf.Database.Name))
	return errors.Wrap(err, "creating database")
}

// CreateIfNotExist waits for the server, then creates the app role (as admin) and the app database (as the app role).
func CreateIfNotExist(conf *core.Config) error {
	ctx := context.Background()

	admin, err := sqlx.Open(conf.Database.Engine, dsn("postgres", true, conf))
	if err != nil {
		return errors.Wrap(err, "opening database")
	}
	//goland:noinspection GoUnhandledErrorResult
	defer admin.Close()

	if err = waitReady(ctx, admin); err != nil {
		return err
	}
	if err = ensureAppUser(ctx, admin, conf); err != nil {
		return err
	}

	app, err := sqlx.Open(conf.Database.Engine, dsn("postgres", false, conf))
	if err != nil {
		return errors.Wrap(err, "opening database")
	}
	//goland:noinspection GoUnhandledErrorResult
	defer app.Close()

	return ensureDB(ctx, app, conf)
}

// Migrate applies the pending migrations.
func Migrate(db *sql.DB) error {
	if err := goose.Up(db, MigrationsDir); err != nil {
		return errors.Wrap(err, "migrating database")
	}
	return nil
}

// RunMigrations runs a goose command ("up", "down-to", "status"...) against db.
func RunMigrations(command string, db *sql.DB, args ...string) error {
	return goose.Run(command, db, MigrationsDir, args...)
}
