// Package servers persists the saved server definitions that query
// execution resolves a server id against.
package servers

import (
	"errors"
	"fmt"
	"time"

	"github.com/justjake/querylink/pkg/backend"
	"github.com/justjake/querylink/pkg/config"
)

// ErrNotFound is returned when no saved server has the requested id.
var ErrNotFound = errors.New("server not found")

// Server is one saved server definition.
type Server struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username,omitempty"`
	Password string `json:"-"`

	// PasswordSecret, when set, is resolved into Password by
	// Store.GetServer. It is stored instead of a plaintext password.
	PasswordSecret *config.SecretRef `json:"password_secret,omitempty"`

	// DefaultDatabase is used when a query names no database.
	DefaultDatabase string       `json:"default_database,omitempty"`
	Backend         backend.Kind `json:"backend"`
	SSLMode         string       `json:"ssl_mode,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
}

// Validate checks the fields a caller supplies. ID and CreatedAt are
// assigned by the store and ignored.
func (s *Server) Validate() error {
	var errs []error
	if s.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}
	kind, err := backend.ParseKind(string(s.Backend))
	if err != nil {
		errs = append(errs, err)
	}
	if kind == backend.KindPostgres && s.Host == "" {
		errs = append(errs, errors.New("host is required"))
	}
	if s.Port < 0 || s.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", s.Port))
	}
	if s.PasswordSecret != nil {
		if s.Password != "" {
			errs = append(errs, errors.New("password and password_secret are mutually exclusive"))
		}
		if err := s.PasswordSecret.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("password_secret: %w", err))
		}
	}
	return errors.Join(errs...)
}

// ResolveDatabase picks the database for a request: the requested one if
// given, else the server's default, else the backend default.
func (s *Server) ResolveDatabase(requested string) string {
	switch {
	case requested != "":
		return requested
	case s.DefaultDatabase != "":
		return s.DefaultDatabase
	}
	return backend.DefaultDatabase(s.Backend)
}

// Target returns the connection target for database on this server.
func (s *Server) Target(database string) backend.Target {
	kind := s.Backend
	if kind == "" {
		kind = backend.KindPostgres
	}
	return backend.Target{
		Kind:     kind,
		Host:     s.Host,
		Port:     s.Port,
		Username: s.Username,
		Password: s.Password,
		Database: database,
		SSLMode:  s.SSLMode,
	}
}

func (s *Server) String() string {
	return fmt.Sprintf("Server(id=%d, name=%s, backend=%s, addr=%s)", s.ID, s.Name, s.Backend, s.Target("").Addr())
}
