package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"slotwatch/internal/models"
)

// Command is the closed set of operations the orchestrator accepts. Each
// variant carries exactly the payload its operation needs.
type Command interface{ isCommand() }

type (
	StartMonitoring  struct{}
	StopMonitoring   struct{}
	EmergencyStopCmd struct{}
	ManualCheckCmd   struct{}
	AddMonitorCmd    struct {
		Monitor models.Monitor `json:"monitor"`
	}
	UpdateMonitorCmd struct {
		ID    string              `json:"id"`
		Patch models.MonitorPatch `json:"patch"`
	}
	DeleteMonitorCmd struct {
		ID string `json:"id"`
	}
	ToggleMonitorCmd struct {
		ID     string               `json:"id"`
		Status models.MonitorStatus `json:"status"`
	}
	UpdateSettingsCmd struct {
		Patch models.SettingsPatch `json:"patch"`
	}
	GetMonitorsCmd struct{}
	GetStatsCmd    struct{}
	GetRiskCmd     struct{}
	BookSlotCmd    struct {
		Slot      models.Slot `json:"slot"`
		MonitorID string      `json:"monitor_id"`
	}
)

func (StartMonitoring) isCommand()   {}
func (StopMonitoring) isCommand()    {}
func (EmergencyStopCmd) isCommand()  {}
func (ManualCheckCmd) isCommand()    {}
func (AddMonitorCmd) isCommand()     {}
func (UpdateMonitorCmd) isCommand()  {}
func (DeleteMonitorCmd) isCommand()  {}
func (ToggleMonitorCmd) isCommand()  {}
func (UpdateSettingsCmd) isCommand() {}
func (GetMonitorsCmd) isCommand()    {}
func (GetStatsCmd) isCommand()       {}
func (GetRiskCmd) isCommand()        {}
func (BookSlotCmd) isCommand()       {}

// Result is the uniform command outcome. Every command resolves to one;
// nothing is left pending.
type Result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func ok(data any) Result    { return Result{Success: true, Data: data} }
func fail(err error) Result { return Result{Success: false, Error: err.Error()} }

// Decode maps an action-tagged JSON request onto a command variant.
func Decode(action string, payload json.RawMessage) (Command, error) {
	into := func(cmd Command) (Command, error) {
		if len(payload) == 0 {
			return cmd, nil
		}
		if err := json.Unmarshal(payload, cmd); err != nil {
			return nil, fmt.Errorf("decode %s: %w", action, err)
		}
		return cmd, nil
	}

	switch action {
	case "start":
		return StartMonitoring{}, nil
	case "stop":
		return StopMonitoring{}, nil
	case "emergencyStop":
		return EmergencyStopCmd{}, nil
	case "manualCheck":
		return ManualCheckCmd{}, nil
	case "addMonitor":
		return into(&AddMonitorCmd{})
	case "updateMonitor":
		return into(&UpdateMonitorCmd{})
	case "deleteMonitor":
		return into(&DeleteMonitorCmd{})
	case "toggleMonitor":
		return into(&ToggleMonitorCmd{})
	case "updateSettings":
		return into(&UpdateSettingsCmd{})
	case "getMonitors":
		return GetMonitorsCmd{}, nil
	case "getStats":
		return GetStatsCmd{}, nil
	case "getRisk":
		return GetRiskCmd{}, nil
	case "bookSlot":
		return into(&BookSlotCmd{})
	default:
		return nil, fmt.Errorf("%w: %q", models.ErrUnknownCommand, action)
	}
}

// Execute dispatches a command exhaustively and converts failures into
// {success:false, error} results; nothing is raised to the caller.
func (o *Orchestrator) Execute(ctx context.Context, cmd Command) Result {
	switch c := cmd.(type) {
	case StartMonitoring:
		o.Start()
		return ok(nil)
	case StopMonitoring:
		o.Stop()
		return ok(nil)
	case EmergencyStopCmd:
		o.EmergencyStop(ctx)
		return ok(nil)
	case ManualCheckCmd:
		go o.performCheck(context.Background())
		return ok(nil)
	case *AddMonitorCmd:
		m, err := o.AddMonitor(ctx, c.Monitor)
		if err != nil {
			return fail(err)
		}
		return ok(m)
	case *UpdateMonitorCmd:
		if err := o.UpdateMonitor(ctx, c.ID, c.Patch); err != nil {
			return fail(err)
		}
		return ok(nil)
	case *DeleteMonitorCmd:
		if err := o.DeleteMonitor(ctx, c.ID); err != nil {
			return fail(err)
		}
		return ok(nil)
	case *ToggleMonitorCmd:
		if err := o.ToggleMonitor(ctx, c.ID, c.Status); err != nil {
			return fail(err)
		}
		return ok(nil)
	case *UpdateSettingsCmd:
		o.UpdateSettings(ctx, c.Patch)
		return ok(o.Settings())
	case GetMonitorsCmd:
		return ok(o.Monitors())
	case GetStatsCmd:
		return ok(o.Stats())
	case GetRiskCmd:
		return ok(o.Risk())
	case *BookSlotCmd:
		msg, err := o.BookSlot(ctx, c.Slot, c.MonitorID)
		if err != nil {
			return fail(err)
		}
		return ok(msg)
	default:
		log.Printf("[orchestrator] unhandled command %T", cmd)
		return fail(models.ErrUnknownCommand)
	}
}
