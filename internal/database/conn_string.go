package database

import (
	"net"
	"net/url"
	"strconv"

	"github.com/rickgao/autobridge/internal/config"
)

// ApplicationName is reported to the server in pg_stat_activity.
const ApplicationName = "autobridge"

// BuildConnString builds a PostgreSQL connection URL from config.
func BuildConnString(cfg config.DBConfig) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = config.DefaultDBSSLMode
	}

	port := cfg.Port
	if port == 0 {
		port = config.DefaultDBPort
	}

	q := url.Values{}
	q.Set("application_name", ApplicationName)
	q.Set("sslmode", sslMode)

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     net.JoinHostPort(cfg.Host, strconv.Itoa(port)),
		Path:     "/" + cfg.Name,
		RawQuery: q.Encode(),
	}
	return u.String()
}
