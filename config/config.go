// Package config loads dicomul settings from a TOML or YAML file.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/caio-sobreiro/dicomul/types"
)

// MinMaxPDULength is the smallest maximum PDU length accepted in a file.
const MinMaxPDULength = 1024

// Config is the complete configuration of the serve, echo and store commands.
type Config struct {
	Server  ServerConfig
	Client  ClientConfig
	TLS     TLSConfig
	Logging LoggingConfig
	Metrics MetricsConfig
}

// ServerConfig configures the acceptor.
type ServerConfig struct {
	AETitle            string
	Address            string
	StorageDir         string
	MaxPDULength       uint32
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	CheckCalledAETitle bool
	AbortOnNoContexts  bool
	// AcceptedSOPClasses limits the abstract syntaxes accepted. Empty accepts
	// Verification and every storage SOP class.
	AcceptedSOPClasses []string
	// TransferSyntaxes in order of preference. Empty takes the requestor's first choice.
	TransferSyntaxes []string
}

// ClientConfig configures the requestor used by echo and store.
type ClientConfig struct {
	CallingAETitle   string
	CalledAETitle    string
	Address          string
	MaxPDULength     uint32
	ConnectTimeout   time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	TransferSyntaxes []string
}

// TLSConfig names the PEM files used when TLS is enabled.
type TLSConfig struct {
	Enabled           bool
	CertFile          string
	KeyFile           string
	TrustedCerts      []string
	RequireClientCert bool
	ServerName        string
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string // debug, info, warn, error
	Format string // text, json
}

// MetricsConfig configures the Prometheus endpoint. An empty address disables it.
type MetricsConfig struct {
	Address string
}

// Default returns the configuration used for anything a file leaves unset.
func Default() Config {
	return Config{
		Server: ServerConfig{
			AETitle:           "DICOMUL",
			Address:           ":11112",
			StorageDir:        "./incoming",
			ReadTimeout:       60 * time.Second,
			WriteTimeout:      60 * time.Second,
			AbortOnNoContexts: true,
		},
		Client: ClientConfig{
			CallingAETitle: "DICOMUL_SCU",
			CalledAETitle:  "DICOMUL",
			Address:        "127.0.0.1:11112",
			ConnectTimeout: 30 * time.Second,
			ReadTimeout:    60 * time.Second,
			WriteTimeout:   60 * time.Second,
			TransferSyntaxes: []string{
				types.ExplicitVRLittleEndian,
				types.ImplicitVRLittleEndian,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

type fileConfig struct {
	Server  serverFile  `toml:"server" yaml:"server"`
	Client  clientFile  `toml:"client" yaml:"client"`
	TLS     tlsFile     `toml:"tls" yaml:"tls"`
	Logging loggingFile `toml:"logging" yaml:"logging"`
	Metrics metricsFile `toml:"metrics" yaml:"metrics"`
}

type serverFile struct {
	AETitle            *string  `toml:"ae_title" yaml:"ae_title"`
	Address            *string  `toml:"address" yaml:"address"`
	StorageDir         *string  `toml:"storage_dir" yaml:"storage_dir"`
	MaxPDULength       *uint32  `toml:"max_pdu_length" yaml:"max_pdu_length"`
	ReadTimeout        *string  `toml:"read_timeout" yaml:"read_timeout"`
	WriteTimeout       *string  `toml:"write_timeout" yaml:"write_timeout"`
	CheckCalledAETitle *bool    `toml:"check_called_ae_title" yaml:"check_called_ae_title"`
	AbortOnNoContexts  *bool    `toml:"abort_on_no_contexts" yaml:"abort_on_no_contexts"`
	AcceptedSOPClasses []string `toml:"accepted_sop_classes" yaml:"accepted_sop_classes"`
	TransferSyntaxes   []string `toml:"transfer_syntaxes" yaml:"transfer_syntaxes"`
}

type clientFile struct {
	CallingAETitle   *string  `toml:"calling_ae_title" yaml:"calling_ae_title"`
	CalledAETitle    *string  `toml:"called_ae_title" yaml:"called_ae_title"`
	Address          *string  `toml:"address" yaml:"address"`
	MaxPDULength     *uint32  `toml:"max_pdu_length" yaml:"max_pdu_length"`
	ConnectTimeout   *string  `toml:"connect_timeout" yaml:"connect_timeout"`
	ReadTimeout      *string  `toml:"read_timeout" yaml:"read_timeout"`
	WriteTimeout     *string  `toml:"write_timeout" yaml:"write_timeout"`
	TransferSyntaxes []string `toml:"transfer_syntaxes" yaml:"transfer_syntaxes"`
}

type tlsFile struct {
	Enabled           *bool    `toml:"enabled" yaml:"enabled"`
	CertFile          *string  `toml:"cert_file" yaml:"cert_file"`
	KeyFile           *string  `toml:"key_file" yaml:"key_file"`
	TrustedCerts      []string `toml:"trusted_certs" yaml:"trusted_certs"`
	RequireClientCert *bool    `toml:"require_client_cert" yaml:"require_client_cert"`
	ServerName        *string  `toml:"server_name" yaml:"server_name"`
}

type loggingFile struct {
	Level  *string `toml:"level" yaml:"level"`
	Format *string `toml:"format" yaml:"format"`
}

type metricsFile struct {
	Address *string `toml:"address" yaml:"address"`
}

// Load reads path, choosing the decoder by extension (.toml, .yaml or .yml),
// applies it over Default and validates the result. Unknown keys are errors.
func Load(path string) (Config, error) {
	var raw fileConfig
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		meta, err := toml.DecodeFile(path, &raw)
		if err != nil {
			return Config{}, fmt.Errorf("load config %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return Config{}, fmt.Errorf("load config %s: unknown key %q", path, undecoded[0].String())
		}
	case ".yaml", ".yml":
		f, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("load config %s: %w", path, err)
		}
		defer f.Close()

		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)
		if err := dec.Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
			return Config{}, fmt.Errorf("load config %s: %w", path, err)
		}
	default:
		return Config{}, fmt.Errorf("load config %s: unsupported format %q", path, ext)
	}

	cfg := Default()
	if err := raw.apply(&cfg); err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

func (f *fileConfig) apply(cfg *Config) error {
	s := f.Server
	setString(&cfg.Server.AETitle, s.AETitle)
	setString(&cfg.Server.Address, s.Address)
	setString(&cfg.Server.StorageDir, s.StorageDir)
	setUint32(&cfg.Server.MaxPDULength, s.MaxPDULength)
	setBool(&cfg.Server.CheckCalledAETitle, s.CheckCalledAETitle)
	setBool(&cfg.Server.AbortOnNoContexts, s.AbortOnNoContexts)
	if s.AcceptedSOPClasses != nil {
		cfg.Server.AcceptedSOPClasses = normalizeList(s.AcceptedSOPClasses)
	}
	if s.TransferSyntaxes != nil {
		cfg.Server.TransferSyntaxes = normalizeList(s.TransferSyntaxes)
	}
	if err := setDuration(&cfg.Server.ReadTimeout, "server.read_timeout", s.ReadTimeout); err != nil {
		return err
	}
	if err := setDuration(&cfg.Server.WriteTimeout, "server.write_timeout", s.WriteTimeout); err != nil {
		return err
	}

	c := f.Client
	setString(&cfg.Client.CallingAETitle, c.CallingAETitle)
	setString(&cfg.Client.CalledAETitle, c.CalledAETitle)
	setString(&cfg.Client.Address, c.Address)
	setUint32(&cfg.Client.MaxPDULength, c.MaxPDULength)
	if c.TransferSyntaxes != nil {
		cfg.Client.TransferSyntaxes = normalizeList(c.TransferSyntaxes)
	}
	if err := setDuration(&cfg.Client.ConnectTimeout, "client.connect_timeout", c.ConnectTimeout); err != nil {
		return err
	}
	if err := setDuration(&cfg.Client.ReadTimeout, "client.read_timeout", c.ReadTimeout); err != nil {
		return err
	}
	if err := setDuration(&cfg.Client.WriteTimeout, "client.write_timeout", c.WriteTimeout); err != nil {
		return err
	}

	t := f.TLS
	setBool(&cfg.TLS.Enabled, t.Enabled)
	setString(&cfg.TLS.CertFile, t.CertFile)
	setString(&cfg.TLS.KeyFile, t.KeyFile)
	setBool(&cfg.TLS.RequireClientCert, t.RequireClientCert)
	setString(&cfg.TLS.ServerName, t.ServerName)
	if t.TrustedCerts != nil {
		cfg.TLS.TrustedCerts = normalizeList(t.TrustedCerts)
	}

	setString(&cfg.Logging.Level, f.Logging.Level)
	setString(&cfg.Logging.Format, f.Logging.Format)
	setString(&cfg.Metrics.Address, f.Metrics.Address)
	return nil
}

// Validate reports the first setting that cannot be used.
func (c Config) Validate() error {
	if err := validateAETitle("server.ae_title", c.Server.AETitle); err != nil {
		return err
	}
	if err := validateAETitle("client.calling_ae_title", c.Client.CallingAETitle); err != nil {
		return err
	}
	if err := validateAETitle("client.called_ae_title", c.Client.CalledAETitle); err != nil {
		return err
	}
	if err := validatePDULength("server.max_pdu_length", c.Server.MaxPDULength); err != nil {
		return err
	}
	if err := validatePDULength("client.max_pdu_length", c.Client.MaxPDULength); err != nil {
		return err
	}

	for name, d := range map[string]time.Duration{
		"server.read_timeout":    c.Server.ReadTimeout,
		"server.write_timeout":   c.Server.WriteTimeout,
		"client.connect_timeout": c.Client.ConnectTimeout,
		"client.read_timeout":    c.Client.ReadTimeout,
		"client.write_timeout":   c.Client.WriteTimeout,
	} {
		if d < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}

	if c.TLS.Enabled && (c.TLS.CertFile == "" || c.TLS.KeyFile == "") {
		return fmt.Errorf("tls.cert_file and tls.key_file are required when tls is enabled")
	}
	if _, err := ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q must be text or json", c.Logging.Format)
	}
	return nil
}

// ParseLevel maps a level name to its slog level.
func ParseLevel(level string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return slog.LevelInfo, fmt.Errorf("logging.level %q: %w", level, err)
	}
	return l, nil
}

func validateAETitle(name, title string) error {
	if strings.TrimSpace(title) == "" {
		return fmt.Errorf("%s is required", name)
	}
	if len(title) > 16 {
		return fmt.Errorf("%s %q is longer than 16 characters", name, title)
	}
	return nil
}

func validatePDULength(name string, length uint32) error {
	if length != 0 && length < MinMaxPDULength {
		return fmt.Errorf("%s %d is below the minimum of %d", name, length, MinMaxPDULength)
	}
	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = strings.TrimSpace(*v)
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func setUint32(dst *uint32, v *uint32) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, name string, v *string) error {
	if v == nil {
		return nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(*v))
	if err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	*dst = d
	return nil
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
