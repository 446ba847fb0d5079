// Package service serves one editing session of the mbusd configuration over
// an HTTP JSON API and persists accepted changes.
package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/timzifer/mbusdconf/config"
	"github.com/timzifer/mbusdconf/discovery"
	"github.com/timzifer/mbusdconf/editor"
	"github.com/timzifer/mbusdconf/form"
	internalconfig "github.com/timzifer/mbusdconf/internal/config"
	"github.com/timzifer/mbusdconf/internal/reload"
	"github.com/timzifer/mbusdconf/notify"
	"github.com/timzifer/mbusdconf/telemetry"
)

// ReloadInterval is the period between checks for external store changes.
const ReloadInterval = 2 * time.Second

// Service owns the editing session. All session access is serialized.
type Service struct {
	cfg    *internalconfig.Config
	logger zerolog.Logger

	mu       sync.Mutex
	session  *editor.Session
	devices  []string
	policies []*form.Policy

	discoverer *discovery.Discoverer
	applier    Applier
	publisher  notify.Publisher
	telemetry  telemetry.Collector
	gatherer   prometheus.Gatherer
	watcher    *reload.Watcher
}

// SaveResult summarizes a successful save.
type SaveResult struct {
	Sections int    `json:"sections"`
	Applied  bool   `json:"applied"`
	Notified bool   `json:"notified"`
	ApplyErr string `json:"apply_error,omitempty"`
}

// New builds a service from the tool settings. The store is not read until Load.
func New(cfg *internalconfig.Config, logger zerolog.Logger, opts ...Option) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config must not be nil")
	}
	o := applyOptions(defaultOptions(cfg, logger), opts)

	policies := make([]*form.Policy, 0, len(cfg.Policies))
	for i, pc := range cfg.Policies {
		policy, err := form.CompilePolicy(pc.Field, pc.Expression, pc.Message)
		if err != nil {
			return nil, fmt.Errorf("policies[%d]: %w", i, err)
		}
		policies = append(policies, policy)
	}

	dirs := cfg.Discovery.Dirs
	if len(dirs) == 0 {
		dirs = discovery.DefaultDirs
	}

	svc := &Service{
		cfg:        cfg,
		logger:     logger,
		policies:   policies,
		discoverer: discovery.New(o.lister, dirs, logger, o.collector),
		applier:    o.applier,
		publisher:  o.publisher,
		telemetry:  o.collector,
		gatherer:   o.gatherer,
	}
	if cfg.HotReload {
		watcher, err := reload.NewWatcher("", cfg)
		if err != nil {
			return nil, fmt.Errorf("create watcher: %w", err)
		}
		svc.watcher = watcher
	}
	return svc, nil
}

// Load discovers serial devices, builds the form and reads the store into a
// fresh session. Unsaved edits are discarded.
func (s *Service) Load(ctx context.Context) error {
	devices := s.discoverer.Discover(ctx)
	m, err := s.buildForm(devices)
	if err != nil {
		return err
	}
	session, err := editor.New(m, s.logger, s.telemetry)
	if err != nil {
		return err
	}
	file, err := config.Load(s.cfg.Store)
	if err != nil {
		return err
	}
	session.Load(file)

	s.mu.Lock()
	s.session = session
	s.devices = devices
	s.mu.Unlock()

	if err := s.watcher.Update("", s.cfg); err != nil {
		s.logger.Warn().Err(err).Msg("refresh watcher")
	}
	s.logger.Info().
		Str("store", s.cfg.Store).
		Int("sections", len(session.Sections())).
		Int("devices", len(devices)).
		Msg("configuration loaded")
	return nil
}

func (s *Service) buildForm(devices []string) (*form.Map, error) {
	m := form.NewMbusdMap(devices)
	grid, ok := m.Lookup(config.SectionType)
	if !ok {
		return nil, fmt.Errorf("form declares no %s section", config.SectionType)
	}
	for _, policy := range s.policies {
		if err := policy.Attach(grid); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Devices returns the serial devices found by the last Load.
func (s *Service) Devices() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.devices...)
}

// Session returns the current session. Callers that keep using it after the
// call bypass the lock, which suits single owner front ends such as the
// terminal editor that do not share the service with the HTTP API.
func (s *Service) Session() *editor.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// WithSession runs fn while holding the session lock.
func (s *Service) WithSession(fn func(*editor.Session) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return errors.New("configuration not loaded")
	}
	return fn(s.session)
}

// Save validates the session, writes the store, runs the apply command and
// publishes the result. Failures after the store was written are logged and
// reported in the result, the save itself stands.
func (s *Service) Save(ctx context.Context) (SaveResult, error) {
	var (
		result SaveResult
		ports  []config.PortSection
	)
	err := s.WithSession(func(session *editor.Session) error {
		file, err := session.Apply()
		if err != nil {
			return err
		}
		if err := file.Save(s.cfg.Store); err != nil {
			return err
		}
		session.MarkSaved(file)
		ports, err = file.Ports()
		if err != nil {
			s.logger.Warn().Err(err).Msg("decode saved ports")
		}
		result.Sections = len(file.SectionsOfType(config.SectionType))
		return nil
	})
	if err != nil {
		if errors.Is(err, editor.ErrInvalid) {
			s.telemetry.IncSave(telemetry.SaveInvalid)
		} else {
			s.telemetry.IncSave(telemetry.SaveError)
		}
		s.logger.Warn().Err(err).Msg("save rejected")
		return result, err
	}
	if err := s.watcher.Update("", s.cfg); err != nil {
		s.logger.Warn().Err(err).Msg("refresh watcher")
	}
	s.telemetry.IncSave(telemetry.SaveOK)
	s.logger.Info().Str("store", s.cfg.Store).Int("sections", result.Sections).Msg("configuration saved")

	if s.applier != nil {
		if err := s.applier.Apply(ctx); err != nil {
			result.ApplyErr = err.Error()
			s.logger.Error().Err(err).Msg("apply configuration")
		} else {
			result.Applied = true
		}
	}
	if notify.Enabled(s.publisher) {
		if err := s.publisher.Publish(ctx, ports); err != nil {
			s.logger.Warn().Err(err).Msg("publish configuration")
		} else {
			result.Notified = true
		}
	}
	return result, nil
}

// CheckReload reloads the session when the store changed on disk and the
// session holds no unsaved edits. It reports whether a reload happened.
func (s *Service) CheckReload(ctx context.Context) (bool, error) {
	changed, err := s.watcher.Check()
	if err != nil || len(changed) == 0 {
		return false, err
	}
	for _, file := range changed {
		s.telemetry.IncHotReload(file)
	}
	dirty := false
	_ = s.WithSession(func(session *editor.Session) error {
		dirty = session.Dirty()
		return nil
	})
	if dirty {
		s.logger.Warn().Strs("files", changed).Msg("store changed on disk while edits are pending; keeping edits")
		return false, s.watcher.Update("", s.cfg)
	}
	s.logger.Info().Strs("files", changed).Msg("store changed on disk; reloading")
	if err := s.Load(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// Run serves the HTTP API until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.HTTP.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.HTTP.Listen, err)
	}
	srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info().Str("listen", ln.Addr().String()).Msg("editor api started")

	var ticker <-chan time.Time
	if s.watcher != nil {
		t := time.NewTicker(ReloadInterval)
		defer t.Stop()
		ticker = t.C
	}

	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error().Err(err).Msg("shutdown editor api")
			}
			return nil
		case err, ok := <-errCh:
			if ok && err != nil {
				return err
			}
			return nil
		case <-ticker:
			if _, err := s.CheckReload(ctx); err != nil {
				s.logger.Error().Err(err).Msg("reload configuration")
			}
		}
	}
}

// Close releases the notification client.
func (s *Service) Close() {
	s.publisher.Close()
}
