package telemetry

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/grafana/pyroscope-go"
	"go.uber.org/zap"
)

// ProfilerConfig configures continuous profiling to a Pyroscope server.
type ProfilerConfig struct {
	Enabled         bool
	ServerAddress   string
	ApplicationName string
	ServiceVersion  string
	// ProfileTypes falls back to DefaultProfileTypes when empty.
	ProfileTypes []pyroscope.ProfileType
}

// DefaultProfileTypes covers CPU, heap and goroutines. Mutex and block
// profiles need runtime sampling rates and are left off.
func DefaultProfileTypes() []pyroscope.ProfileType {
	return []pyroscope.ProfileType{
		pyroscope.ProfileCPU,
		pyroscope.ProfileAllocObjects,
		pyroscope.ProfileAllocSpace,
		pyroscope.ProfileInuseObjects,
		pyroscope.ProfileInuseSpace,
		pyroscope.ProfileGoroutines,
	}
}

// Profiler owns a running Pyroscope session. A disabled Profiler is inert.
type Profiler struct {
	session *pyroscope.Profiler
	config  ProfilerConfig
	log     *zap.Logger
	once    sync.Once
	stopErr error
}

func NewProfiler(cfg ProfilerConfig, log *zap.Logger) (*Profiler, error) {
	if len(cfg.ProfileTypes) == 0 {
		cfg.ProfileTypes = DefaultProfileTypes()
	}
	p := &Profiler{config: cfg, log: log}
	if !cfg.Enabled {
		log.Info("profiling disabled")
		return p, nil
	}

	var missing []error
	if cfg.ServerAddress == "" {
		missing = append(missing, errors.New("profiler server address is required"))
	}
	if cfg.ApplicationName == "" {
		missing = append(missing, errors.New("profiler application name is required"))
	}
	if err := errors.Join(missing...); err != nil {
		return nil, err
	}

	session, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: cfg.ApplicationName,
		ServerAddress:   cfg.ServerAddress,
		Logger:          log.Named("pyroscope").Sugar(),
		Tags:            profileTags(cfg.ServiceVersion),
		ProfileTypes:    cfg.ProfileTypes,
	})
	if err != nil {
		return nil, fmt.Errorf("start pyroscope: %w", err)
	}
	p.session = session

	log.Info("profiling enabled",
		zap.String("server", cfg.ServerAddress),
		zap.String("application", cfg.ApplicationName),
	)
	return p, nil
}

func profileTags(version string) map[string]string {
	tags := map[string]string{}
	if version != "" {
		tags["version"] = version
	}
	for tag, env := range map[string]string{"hostname": "HOSTNAME", "pod": "POD_NAME"} {
		if v := os.Getenv(env); v != "" {
			tags[tag] = v
		}
	}
	return tags
}

// Stop flushes the last profiles once; later calls return the first result.
// pyroscope offers no deadline, so an unreachable server can block it.
func (p *Profiler) Stop() error {
	p.once.Do(func() {
		if p.session == nil {
			return
		}
		if err := p.session.Stop(); err != nil {
			p.stopErr = fmt.Errorf("stop pyroscope: %w", err)
			return
		}
		p.log.Info("profiling stopped")
	})
	return p.stopErr
}

func (p *Profiler) IsEnabled() bool { return p.session != nil }

func (p *Profiler) GetConfig() ProfilerConfig { return p.config }
