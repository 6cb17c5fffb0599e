// Package printer abstracts concrete printer protocols behind one
// driver interface. The core schedules and executes against Driver;
// Moonraker and Bambu adapters live alongside it.
package printer

import (
	"context"
	"errors"
)

// Typed driver errors. Adapters wrap protocol failures into these so
// the executor can classify them.
var (
	ErrFileNotFound = errors.New("file not found")
	ErrConnection   = errors.New("printer connection error")
	ErrInvalidValue = errors.New("invalid value")
)

// State is a printer's coarse operational state.
type State string

const (
	StateOffline  State = "offline"
	StateIdle     State = "idle"
	StatePrinting State = "printing"
	StatePaused   State = "paused"
	StateComplete State = "complete"
	StateError    State = "error"
	StateStandby  State = "standby"
)

// Status is a point-in-time printer report. Produced on demand, never
// persisted by the core.
type Status struct {
	State            State   `json:"state"`
	Online           bool    `json:"online"`
	NozzleTemp       float64 `json:"nozzle_temp,omitempty"`
	NozzleTarget     float64 `json:"nozzle_target,omitempty"`
	BedTemp          float64 `json:"bed_temp,omitempty"`
	BedTarget        float64 `json:"bed_target,omitempty"`
	CurrentFile      string  `json:"current_file,omitempty"`
	ProgressPercent  float64 `json:"progress_percent,omitempty"`
	ElapsedSeconds   int     `json:"elapsed_seconds,omitempty"`
	RemainingSeconds int     `json:"remaining_seconds,omitempty"`
	CurrentLayer     int     `json:"current_layer,omitempty"`
	TotalLayers      int     `json:"total_layers,omitempty"`
	ErrorMessage     string  `json:"error_message,omitempty"`
}

// Idle reports whether the printer can accept a new job: online, not
// printing, and not in error.
func (s *Status) Idle() bool {
	if s == nil || !s.Online {
		return false
	}
	return s.State != StatePrinting && s.State != StateError && s.State != StateOffline
}

// Capability is a printer's static feature set, owned by the driver.
type Capability struct {
	ID                   string     `json:"id"`
	Kind                 string     `json:"kind"`
	BuildVolumeMM        [3]float64 `json:"build_volume_mm"`
	Materials            []string   `json:"materials,omitempty"`
	HasCamera            bool       `json:"has_camera,omitempty"`
	AutoLevel            bool       `json:"auto_level,omitempty"`
	MultiColor           bool       `json:"multi_color,omitempty"`
	ResumeAfterPowerLoss bool       `json:"resume_after_power_loss,omitempty"`
}

// MinBuildDimensionMM returns the smallest build-volume axis, or 0
// when the volume is unknown.
func (c Capability) MinBuildDimensionMM() float64 {
	min := c.BuildVolumeMM[0]
	for _, dim := range c.BuildVolumeMM[1:] {
		if dim < min {
			min = dim
		}
	}
	return min
}

// Driver is the uniform control surface over one printer. Adapters
// serialize internally; all methods are safe for concurrent use.
type Driver interface {
	Connect(ctx context.Context) error
	Disconnect() error
	IsConnected() bool

	Status(ctx context.Context) (*Status, error)
	Capabilities() Capability

	// UploadGCode transfers a local file and returns its remote name.
	UploadGCode(ctx context.Context, localPath, remoteName string) (string, error)
	StartPrint(ctx context.Context, remoteName string) error
	PausePrint(ctx context.Context) error
	ResumePrint(ctx context.Context) error
	CancelPrint(ctx context.Context) error

	SetBedTemperature(ctx context.Context, celsius float64) error
	SetNozzleTemperature(ctx context.Context, celsius float64) error
	HomeAxes(ctx context.Context, x, y, z bool) error
}
