package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestDefaults(t *testing.T) {
	dev := Defaults("development")
	assert.Equal(t, "console", dev.Format)
	assert.Equal(t, "info", dev.Level)
	assert.Equal(t, "stdout", dev.Output)

	prod := Defaults("production")
	assert.Equal(t, "json", prod.Format)
	assert.NotEmpty(t, prod.TimeFormat)
}

func TestNew(t *testing.T) {
	tests := []struct {
		name string
		cfg  *Config
	}{
		{"development", Defaults("development")},
		{"production", Defaults("production")},
		{"stderr debug", &Config{Level: "debug", Format: "json", Output: "stderr"}},
		{"empty output", &Config{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log, err := New(tt.cfg)
			require.NoError(t, err)
			assert.NotNil(t, log)
		})
	}
}

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.log")
	log, err := New(&Config{Level: "info", Format: "json", Output: path, Service: "csr-ledger"})
	require.NoError(t, err)

	log.Info("payment approved", zap.String("payment_number", "PAY-202410-000001"))
	require.NoError(t, Sync(log))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(raw), &entry))
	assert.Equal(t, "payment approved", entry["msg"])
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "csr-ledger", entry["service"])
	assert.Contains(t, entry, "time")
}

func TestNew_UnwritableFile(t *testing.T) {
	_, err := New(&Config{Output: filepath.Join(t.TempDir(), "missing", "ledger.log")})
	assert.ErrorContains(t, err, "open log file")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"DEBUG", zapcore.DebugLevel},
		{"info", zapcore.InfoLevel},
		{"warn", zapcore.WarnLevel},
		{"Warning", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"fatal", zapcore.FatalLevel},
		{"verbose", zapcore.InfoLevel},
		{"", zapcore.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLevel(tt.in))
		})
	}
}

func TestNewTee(t *testing.T) {
	var buf bytes.Buffer
	extra := zapcore.NewCore(
		zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
		zapcore.AddSync(&buf),
		zapcore.DebugLevel,
	)

	cfg := Defaults("development")
	cfg.Service = "csr-ledger"
	l, err := NewTee(cfg, extra)
	require.NoError(t, err)

	l.Info("invoice generated", zap.String("invoice_number", "INV-202410-0001"))
	_ = l.Sync()

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "invoice generated", entry["msg"])
	assert.Equal(t, "csr-ledger", entry["service"])
	assert.Equal(t, "INV-202410-0001", entry["invoice_number"])
}

func TestNewTee_LevelAppliesToPrimaryOnly(t *testing.T) {
	var buf bytes.Buffer
	extra := zapcore.NewCore(
		zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
		zapcore.AddSync(&buf),
		zapcore.DebugLevel,
	)
	l, err := NewTee(&Config{Level: "error", Output: "stderr"}, extra)
	require.NoError(t, err)

	l.Debug("sweep tick")
	assert.Contains(t, buf.String(), "sweep tick")
}
