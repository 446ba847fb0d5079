package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/timzifer/mbusdconf/config"
	"github.com/timzifer/mbusdconf/discovery"
	internalconfig "github.com/timzifer/mbusdconf/internal/config"
	"github.com/timzifer/mbusdconf/telemetry"
)

const initialStore = `config mbusd
	option enable '1'
	option device '/dev/ttyS0'
	option port '502'

config mbusd
	option enable '0'
	option device '/dev/ttyUSB0'
	option port '1502'
`

type recordingPublisher struct {
	mu    sync.Mutex
	calls [][]config.PortSection
	err   error
}

func (p *recordingPublisher) Publish(_ context.Context, ports []config.PortSection) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, ports)
	return p.err
}

func (p *recordingPublisher) Close() {}

type fixture struct {
	svc       *Service
	server    *httptest.Server
	store     string
	applied   *int
	publisher *recordingPublisher
	registry  *prometheus.Registry
}

func newFixture(t *testing.T, applyErr error) *fixture {
	t.Helper()
	dir := t.TempDir()
	store := filepath.Join(dir, "mbusd")
	require.NoError(t, os.WriteFile(store, []byte(initialStore), 0o644))

	cfg := internalconfig.Default()
	cfg.Store = store
	cfg.HotReload = true

	lister := discovery.ListerFunc(func(_ context.Context, path string) ([]discovery.Entry, error) {
		switch path {
		case "/dev/":
			return []discovery.Entry{{Name: "ttyS0"}, {Name: "ttyUSB0"}, {Name: "null"}}, nil
		default:
			return nil, errors.New("not found")
		}
	})

	registry := prometheus.NewRegistry()
	collector, err := telemetry.NewPrometheusCollector(registry)
	require.NoError(t, err)

	applied := 0
	publisher := &recordingPublisher{}
	svc, err := New(cfg, zerolog.Nop(),
		WithLister(lister),
		WithApplier(ApplierFunc(func(context.Context) error {
			applied++
			return applyErr
		})),
		WithPublisher(publisher),
		WithTelemetry(collector),
		WithGatherer(registry),
	)
	require.NoError(t, err)
	require.NoError(t, svc.Load(context.Background()))

	server := httptest.NewServer(svc.Handler())
	t.Cleanup(server.Close)
	return &fixture{svc: svc, server: server, store: store, applied: &applied, publisher: publisher, registry: registry}
}

func (f *fixture) do(t *testing.T, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, f.server.URL+path, reader)
	require.NoError(t, err)
	resp, err := f.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var decoded map[string]any
	if resp.StatusCode != http.StatusNoContent && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	}
	return resp, decoded
}

func (f *fixture) sectionIDs(t *testing.T) []string {
	t.Helper()
	_, body := f.do(t, http.MethodGet, "/api/sections", nil)
	var ids []string
	for _, raw := range body["sections"].([]any) {
		ids = append(ids, raw.(map[string]any)["id"].(string))
	}
	return ids
}

func TestDevicesEndpointReturnsDiscoveredDevices(t *testing.T) {
	f := newFixture(t, nil)
	resp, body := f.do(t, http.MethodGet, "/api/devices", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, []any{"/dev/ttyS0", "/dev/ttyUSB0"}, body["devices"])
}

func TestFormEndpointDescribesMbusdSection(t *testing.T) {
	f := newFixture(t, nil)
	resp, body := f.do(t, http.MethodGet, "/api/form", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "mbusd", body["config"])
	section := body["sections"].([]any)[0].(map[string]any)
	require.Equal(t, true, section["sortable"])
	require.Len(t, section["tabs"], 3)
}

func TestSectionsEndpointListsStoreInOrder(t *testing.T) {
	f := newFixture(t, nil)
	resp, body := f.do(t, http.MethodGet, "/api/sections", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sections := body["sections"].([]any)
	require.Len(t, sections, 2)
	first := sections[0].(map[string]any)["values"].(map[string]any)
	require.Equal(t, "/dev/ttyS0", first["device"])
	require.Equal(t, "115200", first["speed"])
	require.Equal(t, false, body["dirty"])
}

func TestFieldUpdateRejectsDuplicatePort(t *testing.T) {
	f := newFixture(t, nil)
	ids := f.sectionIDs(t)

	resp, body := f.do(t, http.MethodPut, "/api/sections/"+ids[1]+"/port", map[string]string{"value": "502"})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	require.Equal(t, ids[1], body["section"])
	require.Equal(t, "port", body["field"])
	require.Equal(t, "Multiple instances with same TCP port is not allowed", body["message"])

	resp, body = f.do(t, http.MethodPut, "/api/sections/"+ids[1]+"/port", map[string]string{"value": "0503"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "503", body["value"])
}

func TestFieldUpdateUnknownTargets(t *testing.T) {
	f := newFixture(t, nil)
	ids := f.sectionIDs(t)

	resp, _ := f.do(t, http.MethodPut, "/api/sections/cfgffffff/port", map[string]string{"value": "1"})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = f.do(t, http.MethodPut, "/api/sections/"+ids[0]+"/bogus", map[string]string{"value": "1"})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = f.do(t, http.MethodPut, "/api/sections/"+ids[0]+"/port", map[string]string{})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAddMoveDeleteSections(t *testing.T) {
	f := newFixture(t, nil)
	ids := f.sectionIDs(t)

	resp, body := f.do(t, http.MethodPost, "/api/sections", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	added := body["id"].(string)
	require.Equal(t, "502", body["values"].(map[string]any)["port"])

	resp, body = f.do(t, http.MethodPost, "/api/sections/"+added+"/move", map[string]int{"index": 0})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, true, body["dirty"])
	require.Equal(t, []string{added, ids[0], ids[1]}, f.sectionIDs(t))

	resp, _ = f.do(t, http.MethodDelete, "/api/sections/"+ids[0], nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Equal(t, []string{added, ids[1]}, f.sectionIDs(t))

	resp, _ = f.do(t, http.MethodDelete, "/api/sections/"+ids[0], nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestValidateReportsConflictsOfNewSections(t *testing.T) {
	f := newFixture(t, nil)
	f.do(t, http.MethodPost, "/api/sections", nil)

	resp, body := f.do(t, http.MethodPost, "/api/validate", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, false, body["valid"])
	fields := map[string]bool{}
	for _, raw := range body["errors"].([]any) {
		fields[raw.(map[string]any)["field"].(string)] = true
	}
	require.True(t, fields["device"])
	require.True(t, fields["port"])
}

func TestSaveRejectsInvalidSession(t *testing.T) {
	f := newFixture(t, nil)
	f.do(t, http.MethodPost, "/api/sections", nil)

	before, err := os.ReadFile(f.store)
	require.NoError(t, err)

	resp, body := f.do(t, http.MethodPost, "/api/save", nil)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	require.NotEmpty(t, body["errors"])
	require.Equal(t, 0, *f.applied)

	after, err := os.ReadFile(f.store)
	require.NoError(t, err)
	require.Equal(t, string(before), string(after))
}

func TestSaveWritesStoreAppliesAndPublishes(t *testing.T) {
	f := newFixture(t, nil)
	ids := f.sectionIDs(t)

	resp, _ := f.do(t, http.MethodPut, "/api/sections/"+ids[1]+"/speed", map[string]string{"value": "9600"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := f.do(t, http.MethodPost, "/api/save", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.EqualValues(t, 2, body["sections"])
	require.Equal(t, true, body["applied"])
	require.Equal(t, true, body["notified"])
	require.Equal(t, 1, *f.applied)

	stored, err := config.Load(f.store)
	require.NoError(t, err)
	ports, err := stored.Ports()
	require.NoError(t, err)
	require.Len(t, ports, 2)
	require.Equal(t, 9600, ports[1].Speed)
	require.False(t, ports[1].Enable)

	require.Len(t, f.publisher.calls, 1)
	require.Len(t, f.publisher.calls[0], 2)

	_, body = f.do(t, http.MethodGet, "/api/sections", nil)
	require.Equal(t, false, body["dirty"])
}

func TestSaveSucceedsWhenApplyFails(t *testing.T) {
	f := newFixture(t, errors.New("init script missing"))
	resp, body := f.do(t, http.MethodPost, "/api/save", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, false, body["applied"])
	require.Equal(t, "init script missing", body["apply_error"])
}

func TestResetDiscardsEdits(t *testing.T) {
	f := newFixture(t, nil)
	f.do(t, http.MethodPost, "/api/sections", nil)
	require.Len(t, f.sectionIDs(t), 3)

	resp, body := f.do(t, http.MethodPost, "/api/reset", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, body["sections"], 2)
	require.Equal(t, false, body["dirty"])
}

func TestMetricsEndpointExposesCounters(t *testing.T) {
	f := newFixture(t, nil)
	ids := f.sectionIDs(t)
	f.do(t, http.MethodPut, "/api/sections/"+ids[1]+"/device", map[string]string{"value": "/dev/ttyS0"})

	resp, err := f.server.Client().Get(f.server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	require.Contains(t, buf.String(), `mbusdconf_validation_failures_total{field="device"} 1`)
	require.Contains(t, buf.String(), `mbusdconf_discovery_failures_total{dir="/dev/tts/"} 1`)
}

func TestCheckReloadFollowsExternalChanges(t *testing.T) {
	f := newFixture(t, nil)

	updated := initialStore + "\nconfig mbusd\n\toption device '/dev/ttyS3'\n\toption port '2502'\n"
	require.NoError(t, os.WriteFile(f.store, []byte(updated), 0o644))
	future := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(f.store, future, future))

	reloaded, err := f.svc.CheckReload(context.Background())
	require.NoError(t, err)
	require.True(t, reloaded)
	require.Len(t, f.sectionIDs(t), 3)
}

func TestCheckReloadKeepsPendingEdits(t *testing.T) {
	f := newFixture(t, nil)
	f.do(t, http.MethodPost, "/api/sections", nil)

	require.NoError(t, os.WriteFile(f.store, []byte(""), 0o644))
	future := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(f.store, future, future))

	reloaded, err := f.svc.CheckReload(context.Background())
	require.NoError(t, err)
	require.False(t, reloaded)
	require.Len(t, f.sectionIDs(t), 3)
}

func TestNewRejectsInvalidPolicy(t *testing.T) {
	cfg := internalconfig.Default()
	cfg.Policies = []internalconfig.PolicyConfig{{Field: "port", Expression: "value >"}}
	_, err := New(cfg, zerolog.Nop())
	require.Error(t, err)
}

func TestPolicyIsEnforcedThroughAPI(t *testing.T) {
	dir := t.TempDir()
	cfg := internalconfig.Default()
	cfg.Store = filepath.Join(dir, "mbusd")
	cfg.Policies = []internalconfig.PolicyConfig{{Field: "port", Expression: "value >= 1024 || value == 502", Message: "privileged port"}}
	svc, err := New(cfg, zerolog.Nop(),
		WithLister(discovery.ListerFunc(func(context.Context, string) ([]discovery.Entry, error) { return nil, nil })),
		WithApplier(nil),
		WithGatherer(prometheus.NewRegistry()))
	require.NoError(t, err)
	require.NoError(t, svc.Load(context.Background()))
	server := httptest.NewServer(svc.Handler())
	defer server.Close()
	f := &fixture{svc: svc, server: server}

	_, body := f.do(t, http.MethodPost, "/api/sections", nil)
	id := body["id"].(string)
	resp, body := f.do(t, http.MethodPut, "/api/sections/"+id+"/port", map[string]string{"value": "80"})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	require.Equal(t, "privileged port", body["message"])
}

func TestSaveWithoutNotificationsReportsNotNotified(t *testing.T) {
	dir := t.TempDir()
	cfg := internalconfig.Default()
	cfg.Store = filepath.Join(dir, "mbusd")
	require.NoError(t, os.WriteFile(cfg.Store, []byte(initialStore), 0o644))
	svc, err := New(cfg, zerolog.Nop(),
		WithLister(discovery.ListerFunc(func(context.Context, string) ([]discovery.Entry, error) { return nil, nil })),
		WithApplier(nil),
		WithGatherer(prometheus.NewRegistry()))
	require.NoError(t, err)
	require.NoError(t, svc.Load(context.Background()))

	result, err := svc.Save(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, result.Sections)
	require.False(t, result.Applied)
	require.False(t, result.Notified)
}
