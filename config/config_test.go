package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caio-sobreiro/dicomul/types"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_TOML(t *testing.T) {
	path := writeFile(t, "dicomul.toml", `
[server]
ae_title = "ARCHIVE"
address = "0.0.0.0:104"
storage_dir = "/var/lib/dicomul"
max_pdu_length = 65536
read_timeout = "30s"
abort_on_no_contexts = false
accepted_sop_classes = ["1.2.840.10008.1.1", " 1.2.840.10008.5.1.4.1.1.2 ", ""]
transfer_syntaxes = ["1.2.840.10008.1.2"]

[client]
calling_ae_title = "MODALITY"
connect_timeout = "5s"

[tls]
enabled = true
cert_file = "server.pem"
key_file = "server.key"
trusted_certs = ["ca.pem"]
require_client_cert = true

[logging]
level = "debug"
format = "json"

[metrics]
address = ":9090"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "ARCHIVE", cfg.Server.AETitle)
	assert.Equal(t, "0.0.0.0:104", cfg.Server.Address)
	assert.Equal(t, "/var/lib/dicomul", cfg.Server.StorageDir)
	assert.Equal(t, uint32(65536), cfg.Server.MaxPDULength)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 60*time.Second, cfg.Server.WriteTimeout, "unset keys keep their defaults")
	assert.False(t, cfg.Server.AbortOnNoContexts)
	assert.Equal(t, []string{types.VerificationSOPClass, types.CTImageStorage}, cfg.Server.AcceptedSOPClasses)
	assert.Equal(t, []string{types.ImplicitVRLittleEndian}, cfg.Server.TransferSyntaxes)

	assert.Equal(t, "MODALITY", cfg.Client.CallingAETitle)
	assert.Equal(t, "DICOMUL", cfg.Client.CalledAETitle)
	assert.Equal(t, 5*time.Second, cfg.Client.ConnectTimeout)

	assert.Equal(t, TLSConfig{
		Enabled:           true,
		CertFile:          "server.pem",
		KeyFile:           "server.key",
		TrustedCerts:      []string{"ca.pem"},
		RequireClientCert: true,
	}, cfg.TLS)
	assert.Equal(t, LoggingConfig{Level: "debug", Format: "json"}, cfg.Logging)
	assert.Equal(t, ":9090", cfg.Metrics.Address)
}

func TestLoad_YAML(t *testing.T) {
	for _, name := range []string{"dicomul.yaml", "dicomul.yml"} {
		t.Run(name, func(t *testing.T) {
			path := writeFile(t, name, `
server:
  ae_title: ARCHIVE
  check_called_ae_title: true
  write_timeout: 1m30s
client:
  called_ae_title: ARCHIVE
  address: pacs.example.org:104
  max_pdu_length: 32768
logging:
  level: warn
`)

			cfg, err := Load(path)
			require.NoError(t, err)

			assert.Equal(t, "ARCHIVE", cfg.Server.AETitle)
			assert.True(t, cfg.Server.CheckCalledAETitle)
			assert.True(t, cfg.Server.AbortOnNoContexts)
			assert.Equal(t, 90*time.Second, cfg.Server.WriteTimeout)
			assert.Equal(t, "ARCHIVE", cfg.Client.CalledAETitle)
			assert.Equal(t, "pacs.example.org:104", cfg.Client.Address)
			assert.Equal(t, uint32(32768), cfg.Client.MaxPDULength)
			assert.Equal(t, "warn", cfg.Logging.Level)
			assert.Equal(t, "text", cfg.Logging.Format)
		})
	}
}

func TestLoad_EmptyYAML(t *testing.T) {
	cfg, err := Load(writeFile(t, "empty.yaml", ""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"unsupported extension", "dicomul.json", `{}`},
		{"toml syntax", "bad.toml", `[server`},
		{"toml unknown key", "unknown.toml", "[server]\nport = 104\n"},
		{"yaml unknown key", "unknown.yaml", "server:\n  port: 104\n"},
		{"bad duration", "duration.toml", "[server]\nread_timeout = \"soon\"\n"},
		{"negative duration", "negative.yaml", "client:\n  read_timeout: -1s\n"},
		{"long ae title", "title.toml", "[server]\nae_title = \"ABCDEFGHIJKLMNOPQ\"\n"},
		{"empty ae title", "empty.yaml", "client:\n  calling_ae_title: \"  \"\n"},
		{"small pdu length", "pdu.toml", "[server]\nmax_pdu_length = 512\n"},
		{"tls without key", "tls.yaml", "tls:\n  enabled: true\n  cert_file: a.pem\n"},
		{"bad level", "level.toml", "[logging]\nlevel = \"loud\"\n"},
		{"bad format", "format.yaml", "logging:\n  format: xml\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.file, tt.content))
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestDefault_Valid(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{" warn ", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}

	_, err := ParseLevel("verbose")
	assert.Error(t, err)
}
