package printer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestStatusIdle(t *testing.T) {
	tests := []struct {
		name   string
		status *Status
		want   bool
	}{
		{"idle online", &Status{State: StateIdle, Online: true}, true},
		{"standby online", &Status{State: StateStandby, Online: true}, true},
		{"complete online", &Status{State: StateComplete, Online: true}, true},
		{"printing", &Status{State: StatePrinting, Online: true}, false},
		{"error", &Status{State: StateError, Online: true}, false},
		{"offline", &Status{State: StateIdle, Online: false}, false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		if got := tt.status.Idle(); got != tt.want {
			t.Errorf("%s: Idle() = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestCapabilityMinDimension(t *testing.T) {
	c := Capability{BuildVolumeMM: [3]float64{256, 256, 220}}
	if got := c.MinBuildDimensionMM(); got != 220 {
		t.Errorf("MinBuildDimensionMM = %f", got)
	}
}

// fakeDriver counts connects for cache tests.
type fakeDriver struct {
	mu        sync.Mutex
	connects  int
	connected bool
	failNext  bool
}

func (d *fakeDriver) Connect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connects++
	if d.failNext {
		d.failNext = false
		return ErrConnection
	}
	d.connected = true
	return nil
}
func (d *fakeDriver) Disconnect() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected = false
	return nil
}
func (d *fakeDriver) IsConnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}
func (d *fakeDriver) Status(ctx context.Context) (*Status, error) {
	return &Status{State: StateIdle, Online: true}, nil
}
func (d *fakeDriver) Capabilities() Capability { return Capability{} }
func (d *fakeDriver) UploadGCode(ctx context.Context, localPath, remoteName string) (string, error) {
	return remoteName, nil
}
func (d *fakeDriver) StartPrint(ctx context.Context, remoteName string) error      { return nil }
func (d *fakeDriver) PausePrint(ctx context.Context) error                         { return nil }
func (d *fakeDriver) ResumePrint(ctx context.Context) error                        { return nil }
func (d *fakeDriver) CancelPrint(ctx context.Context) error                        { return nil }
func (d *fakeDriver) SetBedTemperature(ctx context.Context, celsius float64) error { return nil }
func (d *fakeDriver) SetNozzleTemperature(ctx context.Context, c float64) error    { return nil }
func (d *fakeDriver) HomeAxes(ctx context.Context, x, y, z bool) error             { return nil }

func TestCacheReusesDriver(t *testing.T) {
	ctx := context.Background()
	created := 0
	driver := &fakeDriver{}
	cache := NewCache(func(id string) (Driver, error) {
		created++
		return driver, nil
	})

	first, err := cache.Get(ctx, "bamboo")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	second, err := cache.Get(ctx, "bamboo")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if first != second || created != 1 {
		t.Errorf("driver should be cached: created=%d", created)
	}
	if driver.connects != 1 {
		t.Errorf("connected driver should not reconnect, connects=%d", driver.connects)
	}

	driver.Disconnect()
	if _, err := cache.Get(ctx, "bamboo"); err != nil {
		t.Fatalf("Get after disconnect: %v", err)
	}
	if driver.connects != 2 {
		t.Errorf("disconnected driver should reconnect, connects=%d", driver.connects)
	}
}

func TestCacheFactoryError(t *testing.T) {
	cache := NewCache(func(id string) (Driver, error) {
		return nil, errors.New("unknown printer")
	})
	if _, err := cache.Get(context.Background(), "ghost"); err == nil {
		t.Error("factory error should propagate")
	}
}

func newMoonrakerTestServer(t *testing.T) (*Moonraker, *httptest.Server, *[]string) {
	t.Helper()
	var paths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		switch r.URL.Path {
		case "/server/info":
			json.NewEncoder(w).Encode(map[string]any{"result": map[string]any{"klippy_connected": true}})
		case "/printer/objects/query":
			json.NewEncoder(w).Encode(map[string]any{"result": map[string]any{"status": map[string]any{
				"print_stats":    map[string]any{"state": "printing", "filename": "bracket.gcode", "print_duration": 120.0},
				"heater_bed":     map[string]any{"temperature": 60.1, "target": 60.0},
				"extruder":       map[string]any{"temperature": 215.2, "target": 215.0},
				"virtual_sdcard": map[string]any{"progress": 0.42},
			}}})
		case "/server/files/upload":
			w.WriteHeader(http.StatusCreated)
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
	t.Cleanup(server.Close)
	return NewMoonraker("voron", server.URL, Capability{}), server, &paths
}

func TestMoonrakerConnectAndStatus(t *testing.T) {
	ctx := context.Background()
	driver, _, _ := newMoonrakerTestServer(t)

	if err := driver.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if !driver.IsConnected() {
		t.Error("driver should be connected")
	}

	status, err := driver.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.State != StatePrinting || !status.Online {
		t.Errorf("status = %+v", status)
	}
	if status.ProgressPercent != 42 || status.CurrentFile != "bracket.gcode" {
		t.Errorf("status = %+v", status)
	}
	if status.BedTemp != 60.1 || status.NozzleTemp != 215.2 {
		t.Errorf("temps = %+v", status)
	}
}

func TestMoonrakerUploadAndControl(t *testing.T) {
	ctx := context.Background()
	driver, _, paths := newMoonrakerTestServer(t)

	local := filepath.Join(t.TempDir(), "bracket.gcode")
	if err := os.WriteFile(local, []byte("G28\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	remote, err := driver.UploadGCode(ctx, local, "")
	if err != nil {
		t.Fatalf("UploadGCode: %v", err)
	}
	if remote != "bracket.gcode" {
		t.Errorf("remote = %q", remote)
	}

	if err := driver.StartPrint(ctx, remote); err != nil {
		t.Fatalf("StartPrint: %v", err)
	}
	if err := driver.CancelPrint(ctx); err != nil {
		t.Fatalf("CancelPrint: %v", err)
	}
	want := []string{"/server/files/upload", "/printer/print/start", "/printer/print/cancel"}
	if len(*paths) != len(want) {
		t.Fatalf("paths = %v", *paths)
	}
	for i, p := range want {
		if (*paths)[i] != p {
			t.Errorf("path[%d] = %q, want %q", i, (*paths)[i], p)
		}
	}
}

func TestMoonrakerUploadMissingFile(t *testing.T) {
	driver, _, _ := newMoonrakerTestServer(t)
	_, err := driver.UploadGCode(context.Background(), "/does/not/exist.gcode", "")
	if !errors.Is(err, ErrFileNotFound) {
		t.Errorf("err = %v, want ErrFileNotFound", err)
	}
}

func TestMoonrakerTemperatureValidation(t *testing.T) {
	driver, _, _ := newMoonrakerTestServer(t)
	ctx := context.Background()
	if err := driver.SetBedTemperature(ctx, 500); !errors.Is(err, ErrInvalidValue) {
		t.Errorf("err = %v, want ErrInvalidValue", err)
	}
	if err := driver.SetNozzleTemperature(ctx, -5); !errors.Is(err, ErrInvalidValue) {
		t.Errorf("err = %v, want ErrInvalidValue", err)
	}
}

func TestBambuConcurrentSessionAccess(t *testing.T) {
	ctx := context.Background()
	b := NewBambu("bamboo", "01S00C", "tcp://127.0.0.1:1", "code", Capability{})

	// Scheduler polls and executor commands hit the same driver from
	// different goroutines; none of these may race on the session.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Disconnect()
			b.IsConnected()
			b.StartPrint(ctx, "bracket.gcode")
			b.Status(ctx)
		}()
	}
	wg.Wait()

	if b.IsConnected() {
		t.Error("driver should report disconnected")
	}
	if err := b.StartPrint(ctx, "bracket.gcode"); !errors.Is(err, ErrConnection) {
		t.Errorf("err = %v, want ErrConnection", err)
	}
	status, err := b.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.State != StateOffline || status.Online {
		t.Errorf("status = %+v", status)
	}
}

func TestMapBambuState(t *testing.T) {
	tests := []struct {
		gcodeState string
		errCode    int
		want       State
	}{
		{"RUNNING", 0, StatePrinting},
		{"PAUSE", 0, StatePaused},
		{"FINISH", 0, StateComplete},
		{"FAILED", 0, StateError},
		{"IDLE", 0, StateIdle},
		{"RUNNING", 83886, StateError},
		{"", 0, StateStandby},
	}
	for _, tt := range tests {
		if got := mapBambuState(tt.gcodeState, tt.errCode); got != tt.want {
			t.Errorf("mapBambuState(%q, %d) = %s, want %s", tt.gcodeState, tt.errCode, got, tt.want)
		}
	}
}
