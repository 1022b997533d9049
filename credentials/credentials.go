// Package credentials loads backend secrets from standard locations.
package credentials

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/BurntSushi/toml"
)

// ErrInsecurePermissions is returned when credentials file has overly permissive permissions.
var ErrInsecurePermissions = fmt.Errorf("credentials file has insecure permissions")

// Credentials holds secrets loaded from credentials.toml, one section per
// service.
type Credentials struct {
	Redis *ServiceCreds `toml:"redis"`
	NATS  *ServiceCreds `toml:"nats"`
}

// ServiceCreds holds credentials for a single service.
type ServiceCreds struct {
	Username string `toml:"username"`
	Password string `toml:"password"`
	Token    string `toml:"token"`
}

// StandardPaths returns the standard credential file locations in order of priority
func StandardPaths() []string {
	paths := []string{"credentials.toml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths,
			filepath.Join(home, ".config", "chatkit", "credentials.toml"),
			filepath.Join(home, ".chatkit", "credentials.toml"),
		)
	}
	return paths
}

// Load loads credentials from the first available standard location
func Load() (*Credentials, string, error) {
	for _, path := range StandardPaths() {
		if _, err := os.Stat(path); err == nil {
			creds, err := LoadFile(path)
			if err != nil {
				return nil, path, err
			}
			return creds, path, nil
		}
	}
	return nil, "", nil // No credentials file found (not an error)
}

// LoadFile loads credentials from a specific file.
// Returns ErrInsecurePermissions if file is readable by group or others.
func LoadFile(path string) (*Credentials, error) {
	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		mode := info.Mode().Perm()
		// Credentials must be 0400 (owner read-only)
		if mode != 0400 {
			return nil, fmt.Errorf("%w: %s has mode %04o (must be 0400)",
				ErrInsecurePermissions, path, mode)
		}
	}

	creds := &Credentials{}
	if _, err := toml.DecodeFile(path, creds); err != nil {
		return nil, err
	}
	return creds, nil
}

// RedisPassword returns the Redis password.
// Priority: [redis] section > CHATKIT_REDIS_PASSWORD
func (c *Credentials) RedisPassword() string {
	if c != nil && c.Redis != nil && c.Redis.Password != "" {
		return c.Redis.Password
	}
	return os.Getenv(envVar("redis", "password"))
}

// RedisUsername returns the Redis ACL user.
func (c *Credentials) RedisUsername() string {
	if c != nil && c.Redis != nil && c.Redis.Username != "" {
		return c.Redis.Username
	}
	return os.Getenv(envVar("redis", "username"))
}

// NATSToken returns the NATS auth token.
// Priority: [nats] section > CHATKIT_NATS_TOKEN
func (c *Credentials) NATSToken() string {
	if c != nil && c.NATS != nil && c.NATS.Token != "" {
		return c.NATS.Token
	}
	return os.Getenv(envVar("nats", "token"))
}

// envVar returns the environment variable for a service secret,
// e.g. CHATKIT_REDIS_PASSWORD.
func envVar(service, field string) string {
	return "CHATKIT_" + strings.ToUpper(service) + "_" + strings.ToUpper(field)
}
