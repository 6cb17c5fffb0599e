package executor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/atelierhq/atelier/internal/printer"
	"github.com/atelierhq/atelier/internal/printjob"
)

// execDriver replays a scripted status sequence, repeating the last
// entry once exhausted.
type execDriver struct {
	mu       sync.Mutex
	statuses []*printer.Status
	uploads  []string
	started  []string
	cancels  int

	uploadErr error
	startErr  error
}

func (d *execDriver) Connect(ctx context.Context) error { return nil }
func (d *execDriver) Disconnect() error                 { return nil }
func (d *execDriver) IsConnected() bool                 { return true }

func (d *execDriver) Status(ctx context.Context) (*printer.Status, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.statuses) == 0 {
		return &printer.Status{State: printer.StateIdle, Online: true}, nil
	}
	status := d.statuses[0]
	if len(d.statuses) > 1 {
		d.statuses = d.statuses[1:]
	}
	return status, nil
}

func (d *execDriver) Capabilities() printer.Capability { return printer.Capability{} }

func (d *execDriver) UploadGCode(ctx context.Context, localPath, remoteName string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.uploadErr != nil {
		return "", d.uploadErr
	}
	d.uploads = append(d.uploads, remoteName)
	return remoteName, nil
}

func (d *execDriver) StartPrint(ctx context.Context, remoteName string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.startErr != nil {
		return d.startErr
	}
	d.started = append(d.started, remoteName)
	return nil
}

func (d *execDriver) PausePrint(ctx context.Context) error  { return nil }
func (d *execDriver) ResumePrint(ctx context.Context) error { return nil }
func (d *execDriver) CancelPrint(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancels++
	return nil
}
func (d *execDriver) SetBedTemperature(ctx context.Context, celsius float64) error { return nil }
func (d *execDriver) SetNozzleTemperature(ctx context.Context, c float64) error    { return nil }
func (d *execDriver) HomeAxes(ctx context.Context, x, y, z bool) error             { return nil }

func scheduledJob(t *testing.T, store printjob.Store, id, printerID string, maxRetries int) {
	t.Helper()
	ctx := context.Background()
	job := &printjob.Job{
		ID:         id,
		FilePath:   "/models/" + id + ".gcode",
		Material:   "PLA",
		Priority:   5,
		MaxRetries: maxRetries,
		Status:     printjob.StatusQueued,
		QueuedAt:   time.Now().Add(-time.Minute),
	}
	if err := store.Create(ctx, job); err != nil {
		t.Fatalf("Create: %v", err)
	}
	claimed, err := store.Claim(ctx, id, printerID, 60, "priority 5 (+60)", "test")
	if err != nil || !claimed {
		t.Fatalf("Claim: claimed=%v err=%v", claimed, err)
	}
}

func newTestExecutor(store printjob.Store, driver printer.Driver) *Executor {
	drivers := printer.NewCache(func(id string) (printer.Driver, error) {
		return driver, nil
	})
	return New(Config{
		Store:              store,
		Drivers:            drivers,
		StatusPollInterval: 5 * time.Millisecond,
		SnapshotInterval:   time.Hour,
		RetryDelay:         5 * time.Millisecond,
	})
}

func TestExecuteRunsJobToCompletion(t *testing.T) {
	ctx := context.Background()
	store := printjob.NewMemoryStore()
	defer store.Close()
	scheduledJob(t, store, "bracket", "voron", 2)

	driver := &execDriver{statuses: []*printer.Status{
		{State: printer.StatePrinting, Online: true},
		{State: printer.StatePrinting, Online: true},
		{State: printer.StateComplete, Online: true},
	}}
	newTestExecutor(store, driver).Execute(ctx, "bracket")

	job, err := store.Get(ctx, "bracket")
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != printjob.StatusCompleted {
		t.Fatalf("status = %s, want completed", job.Status)
	}
	if job.CompletedAt == nil || job.StartedAt == nil {
		t.Error("completion timestamps should be stamped")
	}
	if len(driver.uploads) != 1 || driver.uploads[0] != "bracket.gcode" {
		t.Errorf("uploads = %v", driver.uploads)
	}
	if len(driver.started) != 1 || driver.started[0] != "bracket.gcode" {
		t.Errorf("started = %v", driver.started)
	}

	history, err := store.History(ctx, "bracket")
	if err != nil {
		t.Fatal(err)
	}
	want := []printjob.Status{
		printjob.StatusScheduled, printjob.StatusUploading,
		printjob.StatusPrinting, printjob.StatusCompleted,
	}
	if len(history) != len(want) {
		t.Fatalf("history length = %d, want %d", len(history), len(want))
	}
	for i, entry := range history {
		if entry.To != want[i] {
			t.Errorf("history[%d].To = %s, want %s", i, entry.To, want[i])
		}
	}
}

func TestExecuteRequeuesAfterPrinterError(t *testing.T) {
	ctx := context.Background()
	store := printjob.NewMemoryStore()
	defer store.Close()
	scheduledJob(t, store, "gear", "elegoo", 2)

	driver := &execDriver{statuses: []*printer.Status{
		{State: printer.StatePrinting, Online: true},
		{State: printer.StateError, Online: true, ErrorMessage: "thermal runaway"},
	}}
	newTestExecutor(store, driver).Execute(ctx, "gear")

	job, err := store.Get(ctx, "gear")
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != printjob.StatusQueued {
		t.Fatalf("status = %s, want queued after retry", job.Status)
	}
	if job.RetryCount != 1 {
		t.Errorf("retry_count = %d, want 1", job.RetryCount)
	}
	if job.PrinterID != "" || job.ScheduledStart != nil {
		t.Errorf("assignment should be cleared: printer=%q", job.PrinterID)
	}

	history, err := store.History(ctx, "gear")
	if err != nil {
		t.Fatal(err)
	}
	var sawFailure bool
	for _, entry := range history {
		if entry.To == printjob.StatusFailed && entry.Reason == "thermal runaway" {
			sawFailure = true
		}
	}
	if !sawFailure {
		t.Error("history should record the failure reason")
	}
}

func TestExecuteFailsPermanentlyWhenRetriesExhausted(t *testing.T) {
	ctx := context.Background()
	store := printjob.NewMemoryStore()
	defer store.Close()
	scheduledJob(t, store, "vase", "voron", 0)

	driver := &execDriver{uploadErr: printer.ErrFileNotFound}
	newTestExecutor(store, driver).Execute(ctx, "vase")

	job, err := store.Get(ctx, "vase")
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != printjob.StatusFailed {
		t.Fatalf("status = %s, want failed", job.Status)
	}
	if !strings.Contains(job.StatusReason, "upload failed") {
		t.Errorf("reason = %q", job.StatusReason)
	}
}

func TestExecuteFailsWhenPrinterGoesOffline(t *testing.T) {
	ctx := context.Background()
	store := printjob.NewMemoryStore()
	defer store.Close()
	scheduledJob(t, store, "hinge", "voron", 0)

	driver := &execDriver{statuses: []*printer.Status{
		{State: printer.StatePrinting, Online: true},
		{State: printer.StateOffline, Online: false},
	}}
	newTestExecutor(store, driver).Execute(ctx, "hinge")

	job, err := store.Get(ctx, "hinge")
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != printjob.StatusFailed {
		t.Fatalf("status = %s, want failed", job.Status)
	}
	if job.StatusReason != "printer offline" {
		t.Errorf("reason = %q", job.StatusReason)
	}
}

func TestExecuteHonorsStoreCancellation(t *testing.T) {
	ctx := context.Background()
	store := printjob.NewMemoryStore()
	defer store.Close()
	scheduledJob(t, store, "clip", "voron", 0)

	driver := &execDriver{statuses: []*printer.Status{
		{State: printer.StatePrinting, Online: true},
	}}
	exec := newTestExecutor(store, driver)

	done := make(chan struct{})
	go func() {
		exec.Execute(ctx, "clip")
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		job, err := store.Get(ctx, "clip")
		if err != nil {
			t.Fatal(err)
		}
		if job.Status == printjob.StatusPrinting {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("job never started printing, status = %s", job.Status)
		}
		time.Sleep(time.Millisecond)
	}
	if _, err := store.Cancel(ctx, "clip", "user request", "test"); err != nil {
		t.Fatal(err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("executor did not observe the cancellation")
	}
	driver.mu.Lock()
	cancels := driver.cancels
	driver.mu.Unlock()
	if cancels == 0 {
		t.Error("driver cancel should be issued for a cancelled job")
	}
	job, _ := store.Get(ctx, "clip")
	if job.Status != printjob.StatusCancelled {
		t.Errorf("status = %s, want cancelled", job.Status)
	}
}

func TestExecuteUnknownJob(t *testing.T) {
	store := printjob.NewMemoryStore()
	defer store.Close()
	driver := &execDriver{}
	// Must not panic or create state.
	newTestExecutor(store, driver).Execute(context.Background(), "ghost")
	if _, err := store.Get(context.Background(), "ghost"); !errors.Is(err, printjob.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
