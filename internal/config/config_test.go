package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimal = `
identity:
  name: BOB
  certFile: bob.crt
  keyFile: bob.key
partners:
  - name: ALICE
    certFile: alice.crt
`

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(minimal))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "/as2", cfg.Server.Path)
	assert.Equal(t, int64(100<<20), cfg.Server.MaxBodySize)
	assert.Equal(t, 60*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, SignatureFailureReject, cfg.Server.SignatureFailure)
	assert.Equal(t, 24*time.Hour, cfg.Server.DuplicateWindow)
	assert.Equal(t, "localhost", cfg.Identity.Domain)
	assert.Equal(t, "as2", cfg.Storage.MongoDB.Database)
	assert.Equal(t, "payloads", cfg.Storage.MongoDB.GridFS.BucketName)
	assert.Equal(t, 261120, cfg.Storage.MongoDB.GridFS.ChunkSizeBytes)
	assert.False(t, cfg.Storage.MongoDB.Enabled())
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "/metrics", cfg.Metrics.Metrics.Path)
	assert.False(t, cfg.Metrics.Metrics.Enabled)
}

func TestLoad_Full(t *testing.T) {
	t.Setenv("TEST_MONGODB_URI", "mongodb://db:27017")

	data := `
server:
  port: 9090
  path: /inbound
  readTimeout: 5s
  duplicateWindow: 2h
  signatureFailure: accept
  tls:
    enabled: true
    certFile: tls.crt
    keyFile: tls.key
identity:
  name: BOB
  domain: bob.example.com
  url: https://bob.example.com/inbound
  certFile: bob.crt
  keyFile: bob.key
partners:
  - name: ALICE
    url: https://alice.example.com/as2
    certFile: alice.crt
    outboundFormat: rfc2045
    micAlgorithm: sha-256
    encryptionAlgorithm: aes256-cbc
storage:
  inbox: /var/spool/as2
  mongodb:
    uri: ${TEST_MONGODB_URI}
logging:
  level: debug
observability:
  metrics:
    enabled: true
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "/inbound", cfg.Server.Path)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, SignatureFailureAccept, cfg.Server.SignatureFailure)
	assert.Equal(t, 2*time.Hour, cfg.Server.DuplicateWindow)
	assert.True(t, cfg.Server.TLS.Enabled)
	assert.Equal(t, "bob.example.com", cfg.Identity.Domain)

	require.Len(t, cfg.Partners, 1)
	assert.Equal(t, "ALICE", cfg.Partners[0].Name)
	assert.Equal(t, "rfc2045", cfg.Partners[0].OutboundFormat)
	assert.Equal(t, "sha-256", cfg.Partners[0].MICAlgorithm)

	assert.Equal(t, "/var/spool/as2", cfg.Storage.Inbox)
	assert.Equal(t, "mongodb://db:27017", cfg.Storage.MongoDB.URI)
	assert.True(t, cfg.Storage.MongoDB.Enabled())
	assert.Equal(t, slog.LevelDebug, cfg.Logging.SlogLevel())
	assert.True(t, cfg.Metrics.Metrics.Enabled)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "reading config file")
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
		want string
	}{
		{
			name: "malformed yaml",
			data: "identity: [",
			want: "parsing config file",
		},
		{
			name: "missing identity",
			data: "partners:\n  - name: ALICE\n    certFile: a.crt\n",
			want: "identity.name is required",
		},
		{
			name: "missing key file",
			data: "identity:\n  name: BOB\n  certFile: b.crt\npartners:\n  - name: ALICE\n    certFile: a.crt\n",
			want: "identity.certFile and identity.keyFile are required",
		},
		{
			name: "no partners",
			data: "identity:\n  name: BOB\n  certFile: b.crt\n  keyFile: b.key\n",
			want: "at least one partner is required",
		},
		{
			name: "duplicate partner",
			data: minimal + "  - name: ALICE\n    certFile: other.crt\n",
			want: "duplicate partner 'ALICE'",
		},
		{
			name: "partner without certificate",
			data: minimal + "  - name: CAROL\n",
			want: "partner 'CAROL': certFile is required",
		},
		{
			name: "unsupported mic algorithm",
			data: minimal + "  - name: CAROL\n    certFile: c.crt\n    micAlgorithm: md4\n",
			want: "unsupported micAlgorithm 'md4'",
		},
		{
			name: "unsupported cipher",
			data: minimal + "  - name: CAROL\n    certFile: c.crt\n    encryptionAlgorithm: rc2\n",
			want: "unsupported content encryption algorithm",
		},
		{
			name: "unsupported outbound format",
			data: minimal + "  - name: CAROL\n    certFile: c.crt\n    outboundFormat: uuencode\n",
			want: "outboundFormat must be",
		},
		{
			name: "bad path",
			data: minimal + "server:\n  path: as2\n",
			want: "server.path must start with '/'",
		},
		{
			name: "bad signature failure strategy",
			data: minimal + "server:\n  signatureFailure: ignore\n",
			want: "server.signatureFailure must be",
		},
		{
			name: "negative duplicate window",
			data: minimal + "server:\n  duplicateWindow: -1h\n",
			want: "server.duplicateWindow must not be negative",
		},
		{
			name: "tls without files",
			data: minimal + "server:\n  tls:\n    enabled: true\n",
			want: "server.tls.certFile and server.tls.keyFile are required",
		},
		{
			name: "bad log level",
			data: minimal + "logging:\n  level: verbose\n",
			want: "logging.level must be one of",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoggingConfig_SlogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelInfo, LoggingConfig{}.SlogLevel())
	assert.Equal(t, slog.LevelWarn, LoggingConfig{Level: "WARN"}.SlogLevel())
	assert.Equal(t, slog.LevelError, LoggingConfig{Level: "error"}.SlogLevel())
}
