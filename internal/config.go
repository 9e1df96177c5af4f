package internal

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/sensorhub/internal/models"
	"github.com/starford/sensorhub/internal/provider"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App       ApplicationConfig `yaml:"app"`
	Data      DataConfig        `yaml:"data"`
	SQLite    SQLiteConfig      `yaml:"sqlite"`
	Auth      AuthConfig        `yaml:"auth"`
	Driver    DriverConfig      `yaml:"driver"`
	Publisher PublisherConfig   `yaml:"publisher"`
	Sensors   []SensorConfig    `yaml:"sensors"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Data.Validate(); err != nil {
		return err
	}
	if err := c.SQLite.Validate(); err != nil {
		return err
	}
	if err := c.Auth.Validate(); err != nil {
		return err
	}
	if err := c.Driver.Validate(); err != nil {
		return err
	}
	if err := c.Publisher.Validate(); err != nil {
		return err
	}
	seen := make(map[string]bool, len(c.Sensors))
	for i := range c.Sensors {
		s := &c.Sensors[i]
		if err := s.Validate(); err != nil {
			return fmt.Errorf("sensors[%d]: %w", i, err)
		}
		if seen[s.Name] {
			return fmt.Errorf("sensors[%d]: duplicate sensor name %q", i, s.Name)
		}
		seen[s.Name] = true
	}
	return nil
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// DataConfig holds the directory that settings, buffers, about documents and
// images live in.
type DataConfig struct {
	Dir string `yaml:"dir"`
}

// Validate validates the data configuration.
func (c *DataConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Dir, validation.Required),
	)
}

// SQLiteConfig holds the ledger database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// DriverConfig controls the polling loop.
type DriverConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
	// UpdateThrottle is the minimum gap between sensor.updated SSE events
	// for one sensor.
	UpdateThrottle time.Duration `yaml:"update_throttle"`
}

// Validate validates the driver configuration.
func (c *DriverConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Interval, validation.When(c.Enabled, validation.Required, validation.Min(time.Second))),
		validation.Field(&c.UpdateThrottle, validation.Min(time.Duration(0))),
	)
}

// PublisherConfig holds the Ghost Admin API connection.
type PublisherConfig struct {
	Enabled  bool          `yaml:"enabled"`
	URL      string        `yaml:"url"`
	AdminKey string        `yaml:"admin_key"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Validate validates the publisher configuration.
func (c *PublisherConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.URL, validation.When(c.Enabled, validation.Required)),
		validation.Field(&c.AdminKey, validation.When(c.Enabled, validation.Required,
			validation.By(func(any) error {
				if _, _, ok := strings.Cut(c.AdminKey, ":"); !ok {
					return fmt.Errorf("must have the form id:secret")
				}
				return nil
			}))),
		validation.Field(&c.Timeout, validation.Min(time.Duration(0))),
	)
}

// SensorConfig declares one sensor. Settings are the defaults used until the
// sensor's settings file exists.
type SensorConfig struct {
	Name     string          `yaml:"name"`
	Kind     string          `yaml:"kind"`
	Settings models.Settings `yaml:"settings"`
}

// Validate validates the sensor declaration.
func (c *SensorConfig) Validate() error {
	kinds := make([]any, 0, len(provider.Kinds()))
	for _, k := range provider.Kinds() {
		kinds = append(kinds, k)
	}
	c.Kind = strings.ToLower(c.Kind)
	return validation.ValidateStruct(c,
		validation.Field(&c.Kind, validation.Required, validation.In(kinds...)),
		validation.Field(&c.Name,
			validation.When(c.Kind == provider.KindFeed, validation.Required),
			validation.By(func(any) error {
				if strings.ContainsAny(c.Name, `/\.`) {
					return fmt.Errorf("must be a plain file name")
				}
				return nil
			})),
	)
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Data: DataConfig{
			Dir: "./data",
		},
		SQLite: SQLiteConfig{
			Path: "./sensorhub.db",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
		Driver: DriverConfig{
			Enabled:        true,
			Interval:       time.Minute,
			UpdateThrottle: 2 * time.Second,
		},
		Publisher: PublisherConfig{
			Timeout: 30 * time.Second,
		},
	}
}
