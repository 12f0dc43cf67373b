package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/char5742/kbqueue/internal/config"
	"github.com/char5742/kbqueue/internal/device"
)

type stubSampler struct {
	mu      sync.Mutex
	pressed []int
}

func (s *stubSampler) Sample() ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pressed, nil
}

func (s *stubSampler) press(codes ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pressed = codes
}

func (s *stubSampler) Name() string { return "stub" }
func (s *stubSampler) Close() error { return nil }

func newTestServer(t *testing.T, sampler *stubSampler) (*httptest.Server, *QueueService) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Queue.PollInterval = config.Duration{Duration: time.Millisecond}
	cfg.Devices = []config.DeviceConfig{{Index: 0, Path: "/dev/input/event0"}}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc, err := NewQueueService(cfg, logger,
		WithoutWatcher(),
		WithOpener(func(backend device.Backend, path string) (device.Sampler, error) {
			if path != "/dev/input/event0" {
				return nil, errors.New("unexpected path")
			}
			return sampler, nil
		}),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if err := svc.Start(); err != nil {
		t.Fatalf("start service: %v", err)
	}
	t.Cleanup(func() { _ = svc.Stop() })

	ts := httptest.NewServer(NewServer(svc, 0, logger).Handler())
	t.Cleanup(ts.Close)
	return ts, svc
}

func do(t *testing.T, method, url string, body io.Reader) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()

	var out map[string]any
	data, _ := io.ReadAll(resp.Body)
	if len(data) > 0 && data[0] == '{' {
		if err := json.Unmarshal(data, &out); err != nil {
			t.Fatalf("decode %s: %v", data, err)
		}
	}
	return resp, out
}

func TestQueueLifecycleOverHTTP(t *testing.T) {
	sampler := &stubSampler{}
	ts, _ := newTestServer(t, sampler)

	resp, _ := do(t, http.MethodGet, ts.URL+"/api/queues/0/check", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("check before create: status %d", resp.StatusCode)
	}

	resp, _ = do(t, http.MethodPost, ts.URL+"/api/queues/0", nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: status %d", resp.StatusCode)
	}
	resp, _ = do(t, http.MethodPost, ts.URL+"/api/queues/-1", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate create: status %d", resp.StatusCode)
	}

	resp, _ = do(t, http.MethodPost, ts.URL+"/api/queues/0/start", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start: status %d", resp.StatusCode)
	}
	sampler.press(30)

	resp, body := do(t, http.MethodGet, ts.URL+"/api/queues/0/event?wait=2", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("event: status %d", resp.StatusCode)
	}
	ev, ok := body["event"].(map[string]any)
	if !ok {
		t.Fatalf("expected event, got %v", body)
	}
	if ev["keycode"] != float64(30) || ev["pressed"] != true || ev["cookedKey"] != float64('a') {
		t.Fatalf("unexpected event %v", ev)
	}

	resp, body = do(t, http.MethodGet, ts.URL+"/api/queues/0/check", nil)
	if resp.StatusCode != http.StatusOK || body["running"] != true {
		t.Fatalf("check: status %d body %v", resp.StatusCode, body)
	}

	resp, _ = do(t, http.MethodPost, ts.URL+"/api/queues/0/stop", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stop: status %d", resp.StatusCode)
	}
	resp, body = do(t, http.MethodPost, ts.URL+"/api/queues/0/flush", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("flush: status %d body %v", resp.StatusCode, body)
	}
	resp, body = do(t, http.MethodGet, ts.URL+"/api/queues/0/event", nil)
	if resp.StatusCode != http.StatusOK || body["event"] != nil || body["navail"] != float64(0) {
		t.Fatalf("empty event: status %d body %v", resp.StatusCode, body)
	}

	resp, _ = do(t, http.MethodDelete, ts.URL+"/api/queues/0", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("release: status %d", resp.StatusCode)
	}
	resp, _ = do(t, http.MethodDelete, ts.URL+"/api/queues/0", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("second release: status %d", resp.StatusCode)
	}
}

func TestInvalidArguments(t *testing.T) {
	ts, _ := newTestServer(t, &stubSampler{})
	do(t, http.MethodPost, ts.URL+"/api/queues/0", nil)

	tests := []string{
		"/api/queues/abc/check",
		"/api/queues/-2/check",
		"/api/queues/0/event?wait=-1",
		"/api/queues/0/event?wait=soon",
	}
	for _, path := range tests {
		resp, body := do(t, http.MethodGet, ts.URL+path, nil)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("%s: status %d body %v", path, resp.StatusCode, body)
		}
	}
}

func TestAutoStartAndHealth(t *testing.T) {
	sampler := &stubSampler{}
	cfg := config.DefaultConfig()
	cfg.Devices = []config.DeviceConfig{{Index: 4, Path: "/dev/input/event4", AutoStart: true}}
	svc, err := NewQueueService(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)),
		WithoutWatcher(),
		WithOpener(func(device.Backend, string) (device.Sampler, error) { return sampler, nil }),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if err := svc.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer svc.Stop()

	st, err := svc.Engine().Check(4)
	if err != nil || !st.Running {
		t.Fatalf("auto started queue: %+v %v", st, err)
	}

	ts := httptest.NewServer(NewServer(svc, 0, nil).Handler())
	defer ts.Close()
	resp, body := do(t, http.MethodGet, ts.URL+"/api/health", nil)
	if resp.StatusCode != http.StatusOK || body["service"] != "running" {
		t.Fatalf("health: status %d body %v", resp.StatusCode, body)
	}
}

func TestSaveConfig(t *testing.T) {
	ts, _ := newTestServer(t, &stubSampler{})
	path := filepath.Join(t.TempDir(), "saved.toml")

	resp, body := do(t, http.MethodPost, ts.URL+"/api/config/save", strings.NewReader(`{"path":"`+path+`"}`))
	if resp.StatusCode != http.StatusOK || body["path"] != path {
		t.Fatalf("save: status %d body %v", resp.StatusCode, body)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read saved config: %v", err)
	}
	if !strings.Contains(string(data), "/dev/input/event0") {
		t.Fatalf("saved config missing device: %s", data)
	}
}

func TestGetEventReportsLostDevice(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Devices = []config.DeviceConfig{{Index: 0, Path: "/dev/input/event0"}}
	svc, err := NewQueueService(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)),
		WithoutWatcher(),
		WithOpener(func(device.Backend, string) (device.Sampler, error) {
			return nil, errors.New("no such device")
		}),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if err := svc.Start(); err != nil {
		t.Fatalf("start service: %v", err)
	}
	defer svc.Stop()
	ts := httptest.NewServer(NewServer(svc, 0, nil).Handler())
	defer ts.Close()

	do(t, http.MethodPost, ts.URL+"/api/queues/0", nil)
	resp, _ := do(t, http.MethodPost, ts.URL+"/api/queues/0/start", nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("start: status %d", resp.StatusCode)
	}

	start := time.Now()
	resp, body := do(t, http.MethodGet, ts.URL+"/api/queues/0/event?wait=5", nil)
	if resp.StatusCode != http.StatusOK || body["event"] != nil {
		t.Fatalf("event: status %d body %v", resp.StatusCode, body)
	}
	if msg, _ := body["error"].(string); !strings.Contains(msg, "device unavailable") {
		t.Fatalf("expected device error in body, got %v", body)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("waited %v on a lost device", elapsed)
	}
}

func TestGetConfigMatchesService(t *testing.T) {
	ts, svc := newTestServer(t, &stubSampler{})
	resp, body := do(t, http.MethodGet, ts.URL+"/api/config", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("config: status %d", resp.StatusCode)
	}
	api, _ := body["api"].(map[string]any)
	if api["port"] != float64(svc.Config().API.Port) {
		t.Fatalf("unexpected config body %v", body)
	}
	devices, _ := body["devices"].([]any)
	if len(devices) != 1 {
		t.Fatalf("expected 1 device, got %v", body["devices"])
	}
}
