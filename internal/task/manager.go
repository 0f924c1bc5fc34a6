// Package task owns the task lifecycle: admission, status tracking,
// deletion and the periodic status reports pushed to the cloud.
package task

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/taskbridge-ai/taskbridge/internal/comm"
	"github.com/taskbridge-ai/taskbridge/internal/config"
	"github.com/taskbridge-ai/taskbridge/internal/logging"
)

var (
	ErrConfigInvalid = errors.New("task: invalid manager configuration")
	ErrTaskNotFound  = errors.New("task: not found")
)

// CreateFunc hands an admitted task to the execution engine. A false
// return rejects the task.
type CreateFunc func(info *Info) bool

// DeleteFunc asks the execution engine to stop a running task. A false
// return keeps the task alive.
type DeleteFunc func(taskID string) bool

// Recorder persists lifecycle events for local inspection. All methods
// are best effort.
type Recorder interface {
	RecordTaskEvent(taskID, event, detail string)
	RecordReport(business string, ok bool)
}

// groupContext carries the affected task from a handler to its post
// handler.
type groupContext struct {
	group *Group
}

func (*groupContext) IsHandlerContext() {}

type taskReport struct {
	Business   string `json:"business"`
	InstanceID string `json:"instance_id"`
	Data       Detail `json:"data"`
}

type instanceReport struct {
	Business   string             `json:"business"`
	InstanceID string             `json:"instance_id"`
	Data       instanceReportData `json:"data"`
}

type instanceReportData struct {
	State string   `json:"state"`
	Tasks []Detail `json:"tasks"`
}

// Manager tracks every admitted task and serves the four inbound
// operations. It drives the heartbeat that keeps the cloud's view of
// the instance current.
type Manager struct {
	comm     comm.Communication
	cfg      *config.Config
	registry *Registry
	recorder Recorder
	logger   *slog.Logger

	instanceID   string
	maxTaskCount int

	mu     sync.Mutex
	groups map[string]*Group

	// admitMu serializes admission so concurrent creates of the same
	// id cannot both pass the duplicate check.
	admitMu sync.Mutex

	createFunc CreateFunc
	deleteFunc DeleteFunc

	stopCh   chan struct{}
	updateCh chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	failWait    time.Duration
	successWait time.Duration
}

func NewManager(c comm.Communication, cfg *config.Config, registry *Registry, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		comm:        c,
		cfg:         cfg,
		registry:    registry,
		logger:      logger.With("component", "task"),
		groups:      make(map[string]*Group),
		stopCh:      make(chan struct{}),
		updateCh:    make(chan struct{}, 1),
		done:        make(chan struct{}),
		failWait:    5 * time.Second,
		successWait: 60 * time.Second,
	}
}

// SetRecorder attaches the optional lifecycle recorder.
func (m *Manager) SetRecorder(r Recorder) { m.recorder = r }

// SetCreateFunc installs the engine create callback. A nil func is
// ignored.
func (m *Manager) SetCreateFunc(f CreateFunc) {
	if f == nil {
		m.logger.Warn("ignoring nil create callback")
		return
	}
	m.createFunc = f
}

// SetDeleteFunc installs the engine delete callback. A nil func is
// ignored.
func (m *Manager) SetDeleteFunc(f DeleteFunc) {
	if f == nil {
		m.logger.Warn("ignoring nil delete callback")
		return
	}
	m.deleteFunc = f
}

// Init validates configuration and registers the operation handlers.
func (m *Manager) Init() error {
	m.instanceID = m.cfg.GetString(config.KeyInstanceID, "")
	if m.instanceID == "" {
		return errors.Join(ErrConfigInvalid, errors.New("instance id is empty"))
	}
	m.maxTaskCount = m.cfg.GetInt(config.KeyMaxInputCount, 0)
	if m.maxTaskCount <= 0 {
		return errors.Join(ErrConfigInvalid, errors.New("max task count must be positive"))
	}

	m.comm.RegisterHandler(comm.MsgCreate, m.CreateTaskProcess, m.createPostProcess)
	m.comm.RegisterHandler(comm.MsgDelete, m.DeleteTaskProcess, m.deletePostProcess)
	m.comm.RegisterHandler(comm.MsgDeleteAll, m.DeleteAllTaskProcess, m.createPostProcess)
	m.comm.RegisterHandler(comm.MsgQuery, m.QueryTaskProcess, nil)
	return nil
}

// Start launches the heartbeat loop.
func (m *Manager) Start() {
	go m.heartbeatLoop()
}

// Stop halts the heartbeat and waits for it to exit.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	<-m.done
}

func errorReply(code ErrorCode) []byte {
	reply, _ := json.Marshal(NewErrorBody(code))
	return reply
}

// CreateTaskProcess admits a new task and hands it to the engine.
func (m *Manager) CreateTaskProcess(_ string, body []byte) (comm.Status, []byte, comm.HandlerContext) {
	m.admitMu.Lock()
	defer m.admitMu.Unlock()

	info, err := ParseInfo(m.registry, body, m.logger)
	if err != nil {
		m.logger.Warn("task create rejected",
			"error", err, "body", logging.Mask(string(body)))
		return comm.StatusBadRequest, errorReply(CodeParamIncorrect), nil
	}
	if m.getGroup(info.ID) != nil {
		m.logger.Warn("task already exists", "task_id", info.ID)
		return comm.StatusBadRequest, errorReply(CodeTaskExists), nil
	}
	if count := m.taskCount(); count >= m.maxTaskCount {
		m.logger.Warn("task count over limit, admitting anyway",
			"task_id", info.ID, "count", count, "limit", m.maxTaskCount)
	}

	if m.createFunc == nil || !m.createFunc(info) {
		m.logger.Error("engine rejected task", "task_id", info.ID)
		m.recordEvent(info.ID, "create", "engine rejected")
		return comm.StatusInternal, errorReply(CodeCreateFailed), nil
	}

	group := NewGroup(info)
	group.SetStatus(StatusRunning)
	m.mu.Lock()
	m.groups[info.ID] = group
	m.mu.Unlock()

	m.logger.Info("task created", "task_id", info.ID)
	m.recordEvent(info.ID, "create", "admitted")
	return comm.StatusCreated, []byte("{}"), &groupContext{group: group}
}

// QueryTaskProcess returns the current state of one task.
func (m *Manager) QueryTaskProcess(taskID string, _ []byte) (comm.Status, []byte, comm.HandlerContext) {
	group := m.getGroup(taskID)
	if group == nil {
		return comm.StatusNotFound, errorReply(CodeNotExist), nil
	}
	reply, err := json.Marshal(group.Detail())
	if err != nil {
		m.logger.Error("task query failed", "task_id", taskID, "error", err)
		return comm.StatusInternal, errorReply(CodeQueryFailed), nil
	}
	return comm.StatusOK, reply, nil
}

// DeleteTaskProcess asks the engine to stop a running task. The task
// stays tracked until the engine reports a terminal state.
func (m *Manager) DeleteTaskProcess(taskID string, _ []byte) (comm.Status, []byte, comm.HandlerContext) {
	group := m.getGroup(taskID)
	if group == nil {
		return comm.StatusNotFound, errorReply(CodeNotExist), nil
	}
	if group.Status() == StatusRunning {
		if m.deleteFunc == nil || !m.deleteFunc(taskID) {
			m.logger.Error("engine failed to stop task", "task_id", taskID)
			m.recordEvent(taskID, "delete", "engine failed")
			return comm.StatusInternal, errorReply(CodeDeleteFailed), nil
		}
	}
	m.logger.Info("task delete accepted", "task_id", taskID)
	m.recordEvent(taskID, "delete", "accepted")
	return comm.StatusAccepted, []byte("{}"), &groupContext{group: group}
}

// DeleteAllTaskProcess stops every tracked task.
func (m *Manager) DeleteAllTaskProcess(_ string, _ []byte) (comm.Status, []byte, comm.HandlerContext) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.groups))
	for id := range m.groups {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		status, _, _ := m.DeleteTaskProcess(id, nil)
		if status != comm.StatusAccepted {
			m.logger.Warn("delete-all: task not stopped", "task_id", id, "status", int(status))
		}
	}
	return comm.StatusAccepted, []byte("{}"), nil
}

func (m *Manager) createPostProcess(ctx comm.HandlerContext) {
	if gc, ok := ctx.(*groupContext); ok {
		m.sendTaskReport(gc.group)
	}
	m.requestInstanceReport()
}

func (m *Manager) deletePostProcess(comm.HandlerContext) {
	m.requestInstanceReport()
}

// UpdateTaskStatus applies an engine-reported status change. It is a
// no-op when the status is unchanged; terminal states also drop the
// task from tracking.
func (m *Manager) UpdateTaskStatus(taskID string, status Status) error {
	group := m.getGroup(taskID)
	if group == nil {
		return ErrTaskNotFound
	}
	if group.Status() == status {
		return nil
	}
	group.SetStatus(status)
	m.logger.Info("task status changed", "task_id", taskID, "status", status.String())
	m.recordEvent(taskID, "status", status.String())

	m.sendTaskReport(group)
	if status.IsTerminal() {
		m.mu.Lock()
		delete(m.groups, taskID)
		m.mu.Unlock()
		m.recordEvent(taskID, "remove", status.String())
	}
	m.requestInstanceReport()
	return nil
}

// GetTaskStatus returns the tracked status, or StatusUnknown for tasks
// that are not tracked.
func (m *Manager) GetTaskStatus(taskID string) Status {
	group := m.getGroup(taskID)
	if group == nil {
		return StatusUnknown
	}
	return group.Status()
}

func (m *Manager) getGroup(taskID string) *Group {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.groups[taskID]
}

func (m *Manager) taskCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.groups)
}

func (m *Manager) sendTaskReport(group *Group) {
	payload, err := json.Marshal(taskReport{
		Business:   "task",
		InstanceID: m.instanceID,
		Data:       group.Detail(),
	})
	if err != nil {
		m.logger.Error("task report marshal failed", "task_id", group.ID(), "error", err)
		return
	}
	sendErr := m.comm.SendMsg(payload)
	m.recordReport("task", sendErr == nil)
	if sendErr != nil {
		m.logger.Error("task report not delivered", "task_id", group.ID(), "error", sendErr)
	}
}

func (m *Manager) sendInstanceReport() error {
	m.mu.Lock()
	tasks := make([]Detail, 0, len(m.groups))
	for _, group := range m.groups {
		tasks = append(tasks, group.Detail())
	}
	m.mu.Unlock()

	payload, err := json.Marshal(instanceReport{
		Business:   "instance",
		InstanceID: m.instanceID,
		Data:       instanceReportData{State: StatusRunning.String(), Tasks: tasks},
	})
	if err != nil {
		return err
	}
	sendErr := m.comm.SendMsg(payload)
	m.recordReport("instance", sendErr == nil)
	return sendErr
}

// requestInstanceReport nudges the heartbeat loop without blocking.
func (m *Manager) requestInstanceReport() {
	select {
	case m.updateCh <- struct{}{}:
	default:
	}
}

// heartbeatLoop pushes instance reports: quickly again after a failed
// send, at the steady interval after a successful one, immediately on
// request.
func (m *Manager) heartbeatLoop() {
	defer close(m.done)
	for {
		select {
		case <-m.stopCh:
			return
		default:
		}

		wait := m.failWait
		if err := m.sendInstanceReport(); err == nil {
			wait = m.successWait
		} else {
			m.logger.Warn("instance report not delivered", "error", err)
		}

		timer := time.NewTimer(wait)
		select {
		case <-m.stopCh:
			timer.Stop()
			return
		case <-m.updateCh:
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (m *Manager) recordEvent(taskID, event, detail string) {
	if m.recorder != nil {
		m.recorder.RecordTaskEvent(taskID, event, detail)
	}
}

func (m *Manager) recordReport(business string, ok bool) {
	if m.recorder != nil {
		m.recorder.RecordReport(business, ok)
	}
}
