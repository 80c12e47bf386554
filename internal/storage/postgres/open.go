package postgres

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Options locate the trader database and size its connection pool.
type Options struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

// DSN renders the options as a postgres URL with the credentials escaped.
func (o Options) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(o.User, o.Password),
		Host:   net.JoinHostPort(o.Host, strconv.Itoa(o.Port)),
		Path:   "/" + o.Database,
	}
	q := url.Values{}
	q.Set("sslmode", o.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

// Open connects, applies the pool limits and migrates the schema.
func Open(ctx context.Context, o Options) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", o.DSN())
	if err != nil {
		return nil, fmt.Errorf("%w: can't connect to %s/%s", err, o.Host, o.Database)
	}
	if o.MaxOpenConns > 0 {
		db.SetMaxOpenConns(o.MaxOpenConns)
		db.SetMaxIdleConns(o.MaxOpenConns)
	}
	if o.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(o.ConnMaxLifetime)
	}

	s := NewStore(db)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
