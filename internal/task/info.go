package task

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
)

// Status is the lifecycle state of a task.
type Status int32

const (
	StatusPending Status = iota
	StatusRunning
	StatusSucceeded
	StatusFailed
	StatusUnknown
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusRunning:
		return "RUNNING"
	case StatusSucceeded:
		return "SUCCEEDED"
	case StatusFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Detail is the per-task fragment embedded in status reports.
type Detail struct {
	ID    string `json:"id"`
	State string `json:"state"`
}

// Info is a fully parsed task request.
type Info struct {
	ID      string
	Config  json.RawMessage
	Input   IO
	Outputs []IO
}

// infoWire is the request body as received from the cloud.
type infoWire struct {
	ID      string            `json:"id"`
	Config  json.RawMessage   `json:"config"`
	Input   json.RawMessage   `json:"input"`
	Outputs []json.RawMessage `json:"outputs"`
}

// ParseInfo decodes and validates a task request body. A task needs an
// id and exactly one input; outputs are optional but their absence is
// logged.
func ParseInfo(registry *Registry, raw []byte, logger *slog.Logger) (*Info, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var wire infoWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("task: malformed request body: %w", err)
	}
	if wire.ID == "" {
		return nil, fmt.Errorf("task: request is missing an id")
	}
	if len(wire.Input) == 0 {
		return nil, fmt.Errorf("task: request %q has no input", wire.ID)
	}

	info := &Info{ID: wire.ID, Config: wire.Config}
	input, err := registry.Parse(wire.Input, DirInput)
	if err != nil {
		return nil, err
	}
	info.Input = input
	for _, rawIO := range wire.Outputs {
		out, err := registry.Parse(rawIO, DirOutput)
		if err != nil {
			return nil, err
		}
		info.Outputs = append(info.Outputs, out)
	}
	if len(info.Outputs) == 0 {
		logger.Warn("task has no outputs", "task_id", info.ID)
	}
	return info, nil
}

// Group is one admitted task with its current status. Status reads and
// writes are atomic; the rest of the struct is immutable after creation.
type Group struct {
	info   *Info
	status atomic.Int32
}

// NewGroup wraps an admitted task. Tasks start pending.
func NewGroup(info *Info) *Group {
	g := &Group{info: info}
	g.status.Store(int32(StatusPending))
	return g
}

func (g *Group) ID() string     { return g.info.ID }
func (g *Group) Info() *Info    { return g.info }
func (g *Group) Status() Status { return Status(g.status.Load()) }

func (g *Group) SetStatus(s Status) { g.status.Store(int32(s)) }

// Detail renders the report fragment for this task.
func (g *Group) Detail() Detail {
	return Detail{ID: g.info.ID, State: g.Status().String()}
}
