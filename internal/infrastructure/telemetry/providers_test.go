package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/csr/ledger/internal/infrastructure/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// ============================================
// Disabled Provider Tests
// ============================================

func TestSetup_Disabled(t *testing.T) {
	ctx := context.Background()
	stack, err := Setup(ctx, config.TelemetryConfig{ServiceName: "csr-ledger"}, zap.NewNop())
	require.NoError(t, err)

	assert.False(t, stack.Tracer.IsEnabled())
	assert.False(t, stack.Meter.IsEnabled())
	assert.False(t, stack.Logs.IsEnabled())
	assert.False(t, stack.Profiler.IsEnabled())
	assert.False(t, stack.Tracer.IsSpanProfilesEnabled())

	assert.NotNil(t, stack.Tracer.Tracer("test"))
	assert.NotNil(t, stack.Meter.Meter("test"))
	assert.NoError(t, stack.Tracer.ForceFlush(ctx))
	assert.NoError(t, stack.Meter.ForceFlush(ctx))
	assert.NoError(t, stack.Logs.ForceFlush(ctx))

	assert.False(t, stack.LogCore("csr-ledger", zapcore.InfoLevel).Enabled(zapcore.ErrorLevel))

	assert.NoError(t, stack.Shutdown(ctx))
	assert.NoError(t, stack.Shutdown(ctx))
}

func TestSetup_InstrumentDBDisabled(t *testing.T) {
	ctx := context.Background()
	stack, err := Setup(ctx, config.TelemetryConfig{}, zap.NewNop())
	require.NoError(t, err)

	db := openSQLite(t)
	require.NoError(t, stack.InstrumentDB(ctx, db, config.TelemetryConfig{}))
	assert.Nil(t, stack.DB, "no meter provider, no db metrics")
}

func TestNewProfiler(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ProfilerConfig
		wantErr string
	}{
		{name: "disabled", cfg: ProfilerConfig{}},
		{name: "missing address", cfg: ProfilerConfig{Enabled: true, ApplicationName: "csr-ledger"}, wantErr: "server address"},
		{name: "missing name", cfg: ProfilerConfig{Enabled: true, ServerAddress: "http://localhost:4040"}, wantErr: "application name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewProfiler(tt.cfg, zap.NewNop())
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.False(t, p.IsEnabled())
			assert.Equal(t, DefaultProfileTypes(), p.GetConfig().ProfileTypes)
			assert.NoError(t, p.Stop())
		})
	}
}

func TestNewTracerProvider_EnabledWithoutCollector(t *testing.T) {
	// the gRPC exporter connects lazily, so construction succeeds
	ctx := context.Background()
	tp, err := NewTracerProvider(ctx, Config{
		Enabled:           true,
		CollectorEndpoint: "localhost:4317",
		SamplingRatio:     0.5,
		ServiceName:       "csr-ledger-test",
		Insecure:          true,
	}, zap.NewNop())
	require.NoError(t, err)
	assert.True(t, tp.IsEnabled())
	assert.Equal(t, 0.5, tp.GetConfig().SamplingRatio)

	require.NoError(t, tp.EnableSpanProfiles())
	require.NoError(t, tp.EnableSpanProfiles())
	assert.True(t, tp.IsSpanProfilesEnabled())

	shutdownCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	_ = tp.Shutdown(shutdownCtx)
}

// ============================================
// Log Bridge Tests
// ============================================

func TestNewZapOTELCore_Disabled(t *testing.T) {
	core := NewZapOTELCore(ZapBridgeConfig{ServiceName: "csr-ledger"})
	assert.False(t, core.Enabled(zapcore.ErrorLevel))
}

func TestLevelFilterCore(t *testing.T) {
	inner, logs := observer.New(zapcore.DebugLevel)
	core := &levelFilterCore{Core: inner, minLevel: zapcore.WarnLevel}
	log := zap.New(core).With(zap.String("organization_id", "org-1"))

	log.Info("dropped")
	log.Warn("kept")

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "kept", entry.Message)
	assert.Equal(t, "org-1", entry.ContextMap()["organization_id"])
}
