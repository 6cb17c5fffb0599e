package printer

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const bambuConnectTimeout = 10 * time.Second

// Bambu drives a Bambu Lab printer over its local MQTT interface.
// Commands publish to device/{serial}/request; the printer pushes
// state to device/{serial}/report.
type Bambu struct {
	serial     string
	broker     string
	accessCode string
	capability Capability

	sequence atomic.Int64

	mu         sync.Mutex // guards client and lastReport
	client     mqtt.Client
	lastReport *Status
}

// NewBambu creates a Bambu driver. broker is the printer address, e.g.
// "tls://192.168.1.50:8883"; accessCode is the LAN access code.
func NewBambu(id, serial, broker, accessCode string, capability Capability) *Bambu {
	capability.ID = id
	capability.Kind = "bambu"
	return &Bambu{
		serial:     serial,
		broker:     broker,
		accessCode: accessCode,
		capability: capability,
	}
}

// Connect dials the printer's broker and subscribes to reports.
func (b *Bambu) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions().
		AddBroker(b.broker).
		SetClientID("atelier-" + b.serial).
		SetUsername("bblp").
		SetPassword(b.accessCode).
		SetTLSConfig(&tls.Config{InsecureSkipVerify: true}).
		SetAutoReconnect(true).
		SetConnectTimeout(bambuConnectTimeout)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(bambuConnectTimeout) {
		return fmt.Errorf("%w: connect timeout", ErrConnection)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}

	reportTopic := fmt.Sprintf("device/%s/report", b.serial)
	sub := client.Subscribe(reportTopic, 0, b.handleReport)
	if !sub.WaitTimeout(bambuConnectTimeout) || sub.Error() != nil {
		client.Disconnect(250)
		return fmt.Errorf("%w: subscribe %s", ErrConnection, reportTopic)
	}

	// Concurrent Connects can race here; the loser's session is torn
	// down so exactly one survives.
	b.mu.Lock()
	prior := b.client
	b.client = client
	b.mu.Unlock()
	if prior != nil {
		prior.Disconnect(250)
	}

	// Ask for a full state push so Status has data before the first
	// periodic report.
	return b.publish(map[string]any{"pushing": map[string]any{
		"command":     "pushall",
		"sequence_id": b.nextSequence(),
	}})
}

// Disconnect closes the MQTT session.
func (b *Bambu) Disconnect() error {
	b.mu.Lock()
	client := b.client
	b.client = nil
	b.mu.Unlock()
	if client != nil {
		client.Disconnect(250)
	}
	return nil
}

// IsConnected reports the MQTT session state.
func (b *Bambu) IsConnected() bool {
	return b.session() != nil
}

// session returns the live MQTT client, or nil when disconnected.
func (b *Bambu) session() mqtt.Client {
	b.mu.Lock()
	client := b.client
	b.mu.Unlock()
	if client == nil || !client.IsConnected() {
		return nil
	}
	return client
}

// Capabilities returns the static capability record.
func (b *Bambu) Capabilities() Capability { return b.capability }

// Status returns the most recent pushed report.
func (b *Bambu) Status(ctx context.Context) (*Status, error) {
	if !b.IsConnected() {
		return &Status{State: StateOffline, Online: false}, nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.lastReport == nil {
		return &Status{State: StateStandby, Online: true}, nil
	}
	clone := *b.lastReport
	return &clone, nil
}

func (b *Bambu) handleReport(_ mqtt.Client, msg mqtt.Message) {
	var report struct {
		Print struct {
			GcodeState      string  `json:"gcode_state"`
			GcodeFile       string  `json:"gcode_file"`
			McPercent       int     `json:"mc_percent"`
			McRemainingTime int     `json:"mc_remaining_time"`
			NozzleTemper    float64 `json:"nozzle_temper"`
			NozzleTarget    float64 `json:"nozzle_target_temper"`
			BedTemper       float64 `json:"bed_temper"`
			BedTarget       float64 `json:"bed_target_temper"`
			LayerNum        int     `json:"layer_num"`
			TotalLayerNum   int     `json:"total_layer_num"`
			PrintError      int     `json:"print_error"`
		} `json:"print"`
	}
	if err := json.Unmarshal(msg.Payload(), &report); err != nil {
		return
	}
	p := report.Print
	status := &Status{
		State:            mapBambuState(p.GcodeState, p.PrintError),
		Online:           true,
		NozzleTemp:       p.NozzleTemper,
		NozzleTarget:     p.NozzleTarget,
		BedTemp:          p.BedTemper,
		BedTarget:        p.BedTarget,
		CurrentFile:      p.GcodeFile,
		ProgressPercent:  float64(p.McPercent),
		RemainingSeconds: p.McRemainingTime * 60,
		CurrentLayer:     p.LayerNum,
		TotalLayers:      p.TotalLayerNum,
	}
	if p.PrintError != 0 {
		status.ErrorMessage = "printer error code " + strconv.Itoa(p.PrintError)
	}
	b.mu.Lock()
	b.lastReport = status
	b.mu.Unlock()
}

func mapBambuState(gcodeState string, printError int) State {
	if printError != 0 {
		return StateError
	}
	switch gcodeState {
	case "RUNNING", "PREPARE":
		return StatePrinting
	case "PAUSE":
		return StatePaused
	case "FINISH":
		return StateComplete
	case "FAILED":
		return StateError
	case "IDLE":
		return StateIdle
	default:
		return StateStandby
	}
}

// UploadGCode resolves the remote name only: Bambu printers receive
// files over their own FTPS channel or from the slicer, so the driver
// starts prints from files already on the SD card.
func (b *Bambu) UploadGCode(ctx context.Context, localPath, remoteName string) (string, error) {
	if remoteName == "" {
		remoteName = filepath.Base(localPath)
	}
	return remoteName, nil
}

// StartPrint issues the project_file command for an SD card file.
func (b *Bambu) StartPrint(ctx context.Context, remoteName string) error {
	return b.printCommand("project_file", map[string]any{
		"param": "Metadata/plate_1.gcode",
		"url":   "file:///sdcard/" + remoteName,
	})
}

// PausePrint pauses the active print.
func (b *Bambu) PausePrint(ctx context.Context) error {
	return b.printCommand("pause", nil)
}

// ResumePrint resumes a paused print.
func (b *Bambu) ResumePrint(ctx context.Context) error {
	return b.printCommand("resume", nil)
}

// CancelPrint stops the active print.
func (b *Bambu) CancelPrint(ctx context.Context) error {
	return b.printCommand("stop", nil)
}

// SetBedTemperature sends the matching G-code line.
func (b *Bambu) SetBedTemperature(ctx context.Context, celsius float64) error {
	if celsius < 0 || celsius > 120 {
		return fmt.Errorf("%w: bed temperature %.1f", ErrInvalidValue, celsius)
	}
	return b.gcodeLine(fmt.Sprintf("M140 S%.0f", celsius))
}

// SetNozzleTemperature sends the matching G-code line.
func (b *Bambu) SetNozzleTemperature(ctx context.Context, celsius float64) error {
	if celsius < 0 || celsius > 300 {
		return fmt.Errorf("%w: nozzle temperature %.1f", ErrInvalidValue, celsius)
	}
	return b.gcodeLine(fmt.Sprintf("M104 S%.0f", celsius))
}

// HomeAxes homes the printer; Bambu firmware homes all axes together.
func (b *Bambu) HomeAxes(ctx context.Context, x, y, z bool) error {
	return b.gcodeLine("G28")
}

func (b *Bambu) gcodeLine(line string) error {
	return b.printCommand("gcode_line", map[string]any{"param": line + "\n"})
}

func (b *Bambu) printCommand(command string, extra map[string]any) error {
	payload := map[string]any{
		"command":     command,
		"sequence_id": b.nextSequence(),
	}
	for k, v := range extra {
		payload[k] = v
	}
	return b.publish(map[string]any{"print": payload})
}

func (b *Bambu) publish(envelope map[string]any) error {
	client := b.session()
	if client == nil {
		return fmt.Errorf("%w: not connected", ErrConnection)
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	topic := fmt.Sprintf("device/%s/request", b.serial)
	token := client.Publish(topic, 0, false, body)
	if !token.WaitTimeout(bambuConnectTimeout) {
		return fmt.Errorf("%w: publish timeout", ErrConnection)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
	return nil
}

func (b *Bambu) nextSequence() string {
	return strconv.FormatInt(b.sequence.Add(1), 10)
}
