package sink

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/TFMV/fraudpipe/errs"
	"github.com/go-sql-driver/mysql"
)

// Supported drivers.
const (
	Postgres = "postgres"
	MySQL    = "mysql"
	SQLite   = "sqlite"
)

// Descriptor locates a relational sink. When DSN is set it is passed to
// the driver verbatim and the discrete fields are ignored.
type Descriptor struct {
	Driver   string `yaml:"driver"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
	DSN      string `yaml:"dsn"`
}

// DriverName returns the database/sql driver name for d.Driver.
func (d Descriptor) DriverName() (string, error) {
	switch strings.ToLower(d.Driver) {
	case "postgres", "postgresql":
		return Postgres, nil
	case "mysql", "mariadb":
		return MySQL, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	}
	return "", fmt.Errorf("sink: unsupported driver %q: %w", d.Driver, errs.ErrConnection)
}

// DataSourceName renders the driver-specific connection string.
func (d Descriptor) DataSourceName() (string, error) {
	driver, err := d.DriverName()
	if err != nil {
		return "", err
	}
	if d.DSN != "" {
		return d.DSN, nil
	}

	switch driver {
	case Postgres:
		sslmode := d.SSLMode
		if sslmode == "" {
			sslmode = "disable"
		}
		// URL form so empty or spaced values survive lib/pq's parser.
		u := url.URL{
			Scheme:   Postgres,
			Host:     net.JoinHostPort(d.host(), strconv.Itoa(d.port(5432))),
			Path:     "/" + d.Database,
			RawQuery: url.Values{"sslmode": {sslmode}}.Encode(),
		}
		switch {
		case d.Password != "":
			u.User = url.UserPassword(d.User, d.Password)
		case d.User != "":
			u.User = url.User(d.User)
		}
		return u.String(), nil
	case MySQL:
		cfg := mysql.NewConfig()
		cfg.User = d.User
		cfg.Passwd = d.Password
		cfg.Net = "tcp"
		cfg.Addr = net.JoinHostPort(d.host(), strconv.Itoa(d.port(3306)))
		cfg.DBName = d.Database
		return cfg.FormatDSN(), nil
	default:
		if d.Database == "" {
			return "", fmt.Errorf("sink: sqlite needs a database path: %w", errs.ErrConnection)
		}
		return d.Database, nil
	}
}

func (d Descriptor) host() string {
	if d.Host == "" {
		return "localhost"
	}
	return d.Host
}

func (d Descriptor) port(def int) int {
	if d.Port == 0 {
		return def
	}
	return d.Port
}

// String describes the sink without its password.
func (d Descriptor) String() string {
	driver, err := d.DriverName()
	if err != nil {
		return "sink(" + d.Driver + ")"
	}
	if d.DSN != "" {
		return driver + "://(dsn)"
	}
	if driver == SQLite {
		return driver + "://" + d.Database
	}
	user := d.User
	if d.Password != "" {
		user += ":***"
	}
	def := 5432
	if driver == MySQL {
		def = 3306
	}
	return fmt.Sprintf("%s://%s@%s/%s", driver, user, net.JoinHostPort(d.host(), strconv.Itoa(d.port(def))), d.Database)
}
