// Package conf loads the YAML server configuration, mirroring the
// defaulting and validation style of a minimal YAML-backed config loader.
package conf

import (
	"fmt"
	"io"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v2"
)

var reAlphanumeric = regexp.MustCompile("^[a-zA-Z0-9]+$")

// AuthScheme is the authentication scheme enforced for a source.
type AuthScheme int

// Authentication schemes.
const (
	AuthNone AuthScheme = iota
	AuthBasic
	AuthDigest
)

// SourceConf describes one configured upstream media source.
type SourceConf struct {
	Name       string   `yaml:"-"`
	URL        string   `yaml:"url"`
	Aliases    []string `yaml:"aliases"`
	User       string   `yaml:"user"`
	Pass       string   `yaml:"pass"`
	AuthScheme string   `yaml:"authScheme"`
	ForceTCP   bool     `yaml:"forceTCP"`

	AuthSchemeParsed AuthScheme `yaml:"-"`
}

// Conf is the root server configuration.
type Conf struct {
	Port                            int                    `yaml:"port"`
	MaximumClients                  int                    `yaml:"maximumClients"`
	ReceiveTimeoutMs                int                    `yaml:"receiveTimeoutMs"`
	SendTimeoutMs                   int                    `yaml:"sendTimeoutMs"`
	ClientInactivityTimeoutSeconds  int                    `yaml:"clientInactivityTimeoutSeconds"`
	RequireUserAgent                bool                   `yaml:"requireUserAgent"`
	RequireRangeHeader              bool                   `yaml:"requireRangeHeader"`
	ServerName                      string                 `yaml:"serverName"`
	MinimumUDPPort                  int                    `yaml:"minimumUdpPort"`
	MaximumUDPPort                  int                    `yaml:"maximumUdpPort"`
	HTTPPort                        int                    `yaml:"httpPort"`
	EnableHTTP                      bool                   `yaml:"enableHttp"`
	UDPPort                         int                    `yaml:"udpPort"`
	EnableUDP                       bool                   `yaml:"enableUdp"`
	MaintenanceIntervalSeconds      int                    `yaml:"maintenanceIntervalSeconds"`
	Sources                         map[string]*SourceConf `yaml:"sources"`
}

func applyDefaults(c *Conf) {
	if c.Port == 0 {
		c.Port = 554
	}
	if c.MaximumClients == 0 {
		c.MaximumClients = 1024
	}
	if c.ReceiveTimeoutMs == 0 {
		c.ReceiveTimeoutMs = 1000
	}
	if c.SendTimeoutMs == 0 {
		c.SendTimeoutMs = 1000
	}
	if c.ClientInactivityTimeoutSeconds == 0 {
		c.ClientInactivityTimeoutSeconds = 60
	}
	if c.ServerName == "" {
		c.ServerName = "ASTI Media Server"
	}
	if c.HTTPPort == 0 {
		c.HTTPPort = 80
	}
	if c.UDPPort == 0 {
		c.UDPPort = 555
	}
	if c.MaintenanceIntervalSeconds == 0 {
		c.MaintenanceIntervalSeconds = 30
	}
}

func validate(c *Conf) error {
	if c.MaximumClients <= 0 {
		return fmt.Errorf("maximumClients must be > 0")
	}

	if c.MinimumUDPPort != 0 || c.MaximumUDPPort != 0 {
		if c.MinimumUDPPort <= 0 || c.MaximumUDPPort <= 0 || c.MinimumUDPPort > c.MaximumUDPPort {
			return fmt.Errorf("invalid UDP port range [%d, %d]", c.MinimumUDPPort, c.MaximumUDPPort)
		}
	}

	for name, sc := range c.Sources {
		sc.Name = name

		if sc.URL == "" {
			return fmt.Errorf("source '%s': url is required", name)
		}

		if sc.User != "" && !reAlphanumeric.MatchString(sc.User) {
			return fmt.Errorf("source '%s': user must be alphanumeric", name)
		}

		switch sc.AuthScheme {
		case "", "none":
			sc.AuthSchemeParsed = AuthNone
		case "basic":
			sc.AuthSchemeParsed = AuthBasic
		case "digest":
			sc.AuthSchemeParsed = AuthDigest
		default:
			return fmt.Errorf("source '%s': unsupported authScheme '%s'", name, sc.AuthScheme)
		}
	}

	return nil
}

// Load reads and validates a YAML configuration, applying defaults for
// every optional field.
func Load(path string) (*Conf, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return decode(f)
}

// LoadReader behaves like Load but reads from an already-open stream,
// used by tests.
func LoadReader(r io.Reader) (*Conf, error) {
	return decode(r)
}

func decode(r io.Reader) (*Conf, error) {
	c := &Conf{}

	if err := yaml.NewDecoder(r).Decode(c); err != nil && err != io.EOF {
		return nil, err
	}

	applyDefaults(c)

	if err := validate(c); err != nil {
		return nil, err
	}

	return c, nil
}

// ReceiveTimeout returns ReceiveTimeoutMs as a time.Duration.
func (c *Conf) ReceiveTimeout() time.Duration {
	return time.Duration(c.ReceiveTimeoutMs) * time.Millisecond
}

// SendTimeout returns SendTimeoutMs as a time.Duration.
func (c *Conf) SendTimeout() time.Duration {
	return time.Duration(c.SendTimeoutMs) * time.Millisecond
}

// MaintenanceInterval returns MaintenanceIntervalSeconds as a time.Duration.
func (c *Conf) MaintenanceInterval() time.Duration {
	return time.Duration(c.MaintenanceIntervalSeconds) * time.Second
}
