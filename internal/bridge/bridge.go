// Package bridge wires the configuration, cipher, transport and task
// manager into a single component the daemon can start and stop.
package bridge

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/taskbridge-ai/taskbridge/internal/cipher"
	"github.com/taskbridge-ai/taskbridge/internal/comm"
	"github.com/taskbridge-ai/taskbridge/internal/config"
	"github.com/taskbridge-ai/taskbridge/internal/task"
)

// privateKeyFile is the RSA private key filename under the configured
// key directory.
const privateKeyFile = "app_pri_key"

// Bridge is the fully wired task orchestration stack.
type Bridge struct {
	cfg     *config.Config
	logger  *slog.Logger
	comm    comm.Communication
	manager *task.Manager
}

func New(cfg *config.Config, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{cfg: cfg, logger: logger}
}

// Init builds every component from configuration. It must run before
// Start; callbacks and the recorder attach between Init and Start.
func (b *Bridge) Init() error {
	c := cipher.New(b.logger)
	keyPath := filepath.Join(b.cfg.GetString(config.KeyPathRSA, ""), privateKeyFile)
	if err := c.InitFromFile(keyPath, true); err != nil {
		return fmt.Errorf("bridge: load private key: %w", err)
	}

	algType := b.cfg.GetString(config.KeyAlgType, "cloud")
	transport, err := comm.NewFactory().New(algType, b.cfg, c, b.logger)
	if err != nil {
		return fmt.Errorf("bridge: %w", err)
	}
	if err := transport.Init(); err != nil {
		return fmt.Errorf("bridge: init transport: %w", err)
	}
	b.comm = transport

	manager := task.NewManager(transport, b.cfg, task.NewRegistry(), b.logger)
	if err := manager.Init(); err != nil {
		return fmt.Errorf("bridge: init manager: %w", err)
	}
	b.manager = manager
	return nil
}

// RegisterCallbacks installs the engine hooks for task creation and
// deletion.
func (b *Bridge) RegisterCallbacks(create task.CreateFunc, del task.DeleteFunc) {
	b.manager.SetCreateFunc(create)
	b.manager.SetDeleteFunc(del)
}

// SetRecorder attaches the optional lifecycle recorder.
func (b *Bridge) SetRecorder(r task.Recorder) {
	b.manager.SetRecorder(r)
}

// Start brings up the transport, then the manager heartbeat.
func (b *Bridge) Start() error {
	if err := b.comm.Start(); err != nil {
		return fmt.Errorf("bridge: start transport: %w", err)
	}
	b.manager.Start()
	b.logger.Info("bridge started")
	return nil
}

// Stop halts the heartbeat first so no report races the transport
// shutdown.
func (b *Bridge) Stop() error {
	b.manager.Stop()
	if err := b.comm.Stop(); err != nil {
		return fmt.Errorf("bridge: stop transport: %w", err)
	}
	b.logger.Info("bridge stopped")
	return nil
}

// UpdateTaskStatus forwards an engine status change to the manager.
func (b *Bridge) UpdateTaskStatus(taskID string, status task.Status) error {
	return b.manager.UpdateTaskStatus(taskID, status)
}

// GetTaskStatus returns the tracked status for a task.
func (b *Bridge) GetTaskStatus(taskID string) task.Status {
	return b.manager.GetTaskStatus(taskID)
}
