// Package imapconf loads named clientengine.Options/serverengine.Options
// profiles from a YAML file, for use by the example programs and
// integration tests instead of hand-assembling Options literals.
package imapconf

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"

	"github.com/meszmate/imapengine/clientengine"
	"github.com/meszmate/imapengine/serverengine"
)

// Profile is one named engine configuration.
type Profile struct {
	CRLFRelaxed       bool   `yaml:"crlf_relaxed"`
	MaxLiteralSize    int64  `yaml:"max_literal_size"`
	MaxCommandSize    int64  `yaml:"max_command_size"`
	MaxResponseSize   int64  `yaml:"max_response_size"`
	LiteralAcceptText string `yaml:"literal_accept_text"`
	LiteralRejectText string `yaml:"literal_reject_text"`
}

// Config is the top-level YAML document: a set of named profiles.
type Config struct {
	Profiles map[string]Profile `yaml:"profiles"`
}

// Load reads and parses a YAML config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &cfg, nil
}

// Profile looks up a named profile, returning an error if it is absent.
func (c *Config) Profile(name string) (Profile, error) {
	p, ok := c.Profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("no profile named %q", name)
	}
	return p, nil
}

// ClientOptions converts the profile into clientengine.Options.
func (p Profile) ClientOptions() clientengine.Options {
	return clientengine.Options{
		CRLFRelaxed:     p.CRLFRelaxed,
		MaxResponseSize: p.MaxResponseSize,
	}
}

// ServerOptions converts the profile into serverengine.Options.
func (p Profile) ServerOptions() serverengine.Options {
	opts := serverengine.Options{
		CRLFRelaxed:       p.CRLFRelaxed,
		MaxLiteralSize:    p.MaxLiteralSize,
		MaxCommandSize:    p.MaxCommandSize,
		LiteralAcceptText: p.LiteralAcceptText,
		LiteralRejectText: p.LiteralRejectText,
	}
	if opts.LiteralAcceptText == "" {
		opts.LiteralAcceptText = serverengine.DefaultOptions().LiteralAcceptText
	}
	if opts.LiteralRejectText == "" {
		opts.LiteralRejectText = serverengine.DefaultOptions().LiteralRejectText
	}
	return opts
}
