package printer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Moonraker driver timeouts.
const (
	moonrakerStatusTimeout  = 5 * time.Second
	moonrakerUploadTimeout  = 300 * time.Second
	moonrakerCommandTimeout = 10 * time.Second
)

// Moonraker drives a Klipper printer through the Moonraker REST API.
type Moonraker struct {
	baseURL    string
	client     *http.Client
	capability Capability

	mu        sync.Mutex
	connected bool
}

// NewMoonraker creates a Moonraker driver for a base URL like
// "http://voron.local:7125".
func NewMoonraker(id, baseURL string, capability Capability) *Moonraker {
	capability.ID = id
	capability.Kind = "moonraker"
	return &Moonraker{
		baseURL:    strings.TrimRight(baseURL, "/"),
		client:     &http.Client{},
		capability: capability,
	}
}

// Connect verifies the server responds to /server/info.
func (m *Moonraker) Connect(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, moonrakerStatusTimeout)
	defer cancel()
	var info struct {
		Result struct {
			KlippyConnected bool `json:"klippy_connected"`
		} `json:"result"`
	}
	if err := m.getJSON(ctx, "/server/info", &info); err != nil {
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
	m.mu.Lock()
	m.connected = true
	m.mu.Unlock()
	return nil
}

// Disconnect drops the connected flag; HTTP needs no teardown.
func (m *Moonraker) Disconnect() error {
	m.mu.Lock()
	m.connected = false
	m.mu.Unlock()
	return nil
}

// IsConnected reports the last connect result.
func (m *Moonraker) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// Capabilities returns the static capability record.
func (m *Moonraker) Capabilities() Capability { return m.capability }

// Status queries the printer objects and maps them onto Status.
func (m *Moonraker) Status(ctx context.Context) (*Status, error) {
	ctx, cancel := context.WithTimeout(ctx, moonrakerStatusTimeout)
	defer cancel()

	var payload struct {
		Result struct {
			Status struct {
				PrintStats struct {
					State         string  `json:"state"`
					Filename      string  `json:"filename"`
					PrintDuration float64 `json:"print_duration"`
					Message       string  `json:"message"`
					Info          struct {
						CurrentLayer int `json:"current_layer"`
						TotalLayer   int `json:"total_layer"`
					} `json:"info"`
				} `json:"print_stats"`
				HeaterBed struct {
					Temperature float64 `json:"temperature"`
					Target      float64 `json:"target"`
				} `json:"heater_bed"`
				Extruder struct {
					Temperature float64 `json:"temperature"`
					Target      float64 `json:"target"`
				} `json:"extruder"`
				VirtualSdcard struct {
					Progress float64 `json:"progress"`
				} `json:"virtual_sdcard"`
			} `json:"status"`
		} `json:"result"`
	}
	query := "/printer/objects/query?print_stats&heater_bed&extruder&virtual_sdcard"
	if err := m.getJSON(ctx, query, &payload); err != nil {
		m.Disconnect()
		return &Status{State: StateOffline, Online: false}, nil
	}

	s := payload.Result.Status
	status := &Status{
		State:           mapMoonrakerState(s.PrintStats.State),
		Online:          true,
		NozzleTemp:      s.Extruder.Temperature,
		NozzleTarget:    s.Extruder.Target,
		BedTemp:         s.HeaterBed.Temperature,
		BedTarget:       s.HeaterBed.Target,
		CurrentFile:     s.PrintStats.Filename,
		ProgressPercent: s.VirtualSdcard.Progress * 100,
		ElapsedSeconds:  int(s.PrintStats.PrintDuration),
		CurrentLayer:    s.PrintStats.Info.CurrentLayer,
		TotalLayers:     s.PrintStats.Info.TotalLayer,
		ErrorMessage:    s.PrintStats.Message,
	}
	return status, nil
}

func mapMoonrakerState(state string) State {
	switch state {
	case "standby":
		return StateStandby
	case "printing":
		return StatePrinting
	case "paused":
		return StatePaused
	case "complete":
		return StateComplete
	case "error", "shutdown":
		return StateError
	case "":
		return StateOffline
	default:
		return StateIdle
	}
}

// UploadGCode posts the file to /server/files/upload as multipart.
func (m *Moonraker) UploadGCode(ctx context.Context, localPath, remoteName string) (string, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrFileNotFound, localPath)
	}
	defer file.Close()

	if remoteName == "" {
		remoteName = filepath.Base(localPath)
	}

	body := &strings.Builder{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", remoteName)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, file); err != nil {
		return "", fmt.Errorf("read %s: %w", localPath, err)
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, moonrakerUploadTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		m.baseURL+"/server/files/upload", strings.NewReader(body.String()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := m.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: upload: %v", ErrConnection, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("%w: upload HTTP %d: %s", ErrConnection, resp.StatusCode, payload)
	}
	return remoteName, nil
}

// StartPrint starts a previously uploaded file.
func (m *Moonraker) StartPrint(ctx context.Context, remoteName string) error {
	return m.post(ctx, "/printer/print/start?filename="+url.QueryEscape(remoteName))
}

// PausePrint pauses the active print.
func (m *Moonraker) PausePrint(ctx context.Context) error {
	return m.post(ctx, "/printer/print/pause")
}

// ResumePrint resumes a paused print.
func (m *Moonraker) ResumePrint(ctx context.Context) error {
	return m.post(ctx, "/printer/print/resume")
}

// CancelPrint cancels the active print.
func (m *Moonraker) CancelPrint(ctx context.Context) error {
	return m.post(ctx, "/printer/print/cancel")
}

// SetBedTemperature issues the matching G-code.
func (m *Moonraker) SetBedTemperature(ctx context.Context, celsius float64) error {
	if celsius < 0 || celsius > 150 {
		return fmt.Errorf("%w: bed temperature %.1f", ErrInvalidValue, celsius)
	}
	return m.gcode(ctx, fmt.Sprintf("M140 S%.0f", celsius))
}

// SetNozzleTemperature issues the matching G-code.
func (m *Moonraker) SetNozzleTemperature(ctx context.Context, celsius float64) error {
	if celsius < 0 || celsius > 350 {
		return fmt.Errorf("%w: nozzle temperature %.1f", ErrInvalidValue, celsius)
	}
	return m.gcode(ctx, fmt.Sprintf("M104 S%.0f", celsius))
}

// HomeAxes homes the selected axes, all when none selected.
func (m *Moonraker) HomeAxes(ctx context.Context, x, y, z bool) error {
	script := "G28"
	if x || y || z {
		var axes []string
		if x {
			axes = append(axes, "X")
		}
		if y {
			axes = append(axes, "Y")
		}
		if z {
			axes = append(axes, "Z")
		}
		script = "G28 " + strings.Join(axes, " ")
	}
	return m.gcode(ctx, script)
}

func (m *Moonraker) gcode(ctx context.Context, script string) error {
	return m.post(ctx, "/printer/gcode/script?script="+url.QueryEscape(script))
}

func (m *Moonraker) post(ctx context.Context, path string) error {
	ctx, cancel := context.WithTimeout(ctx, moonrakerCommandTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrFileNotFound, path)
	}
	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%w: %s HTTP %d: %s", ErrConnection, path, resp.StatusCode, payload)
	}
	return nil
}

func (m *Moonraker) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
