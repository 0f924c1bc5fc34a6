package task

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskbridge-ai/taskbridge/internal/comm"
	"github.com/taskbridge-ai/taskbridge/internal/config"
)

type mockComm struct {
	mu       sync.Mutex
	sent     [][]byte
	sendFunc func(payload []byte) error

	handlers map[comm.MsgType]comm.Handler
	posts    map[comm.MsgType]comm.PostHandler
}

func newMockComm() *mockComm {
	return &mockComm{
		handlers: make(map[comm.MsgType]comm.Handler),
		posts:    make(map[comm.MsgType]comm.PostHandler),
	}
}

func (m *mockComm) Init() error  { return nil }
func (m *mockComm) Start() error { return nil }
func (m *mockComm) Stop() error  { return nil }

func (m *mockComm) SendMsg(payload []byte) error {
	m.mu.Lock()
	m.sent = append(m.sent, append([]byte(nil), payload...))
	fn := m.sendFunc
	m.mu.Unlock()
	if fn != nil {
		return fn(payload)
	}
	return nil
}

func (m *mockComm) RegisterHandler(msg comm.MsgType, handler comm.Handler, post comm.PostHandler) {
	m.handlers[msg] = handler
	if post != nil {
		m.posts[msg] = post
	}
}

func (m *mockComm) sentPayloads() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.sent))
	for i, p := range m.sent {
		out[i] = string(p)
	}
	return out
}

func newTestManager(t *testing.T, mc *mockComm) *Manager {
	t.Helper()
	cfg := config.FromMap(map[string]string{
		config.KeyInstanceID:    "inst-1",
		config.KeyMaxInputCount: "4",
	})
	m := NewManager(mc, cfg, NewRegistry(), nil)
	m.SetCreateFunc(func(*Info) bool { return true })
	m.SetDeleteFunc(func(string) bool { return true })
	require.NoError(t, m.Init())
	return m
}

func taskBody(id string) []byte {
	return []byte(fmt.Sprintf(
		`{"id":%q,"input":{"type":"url","data":{"url":"rtsp://cam/live"}}}`, id))
}

func TestInitValidation(t *testing.T) {
	mc := newMockComm()

	m := NewManager(mc, config.FromMap(map[string]string{config.KeyMaxInputCount: "4"}), NewRegistry(), nil)
	assert.ErrorIs(t, m.Init(), ErrConfigInvalid)

	m = NewManager(mc, config.FromMap(map[string]string{config.KeyInstanceID: "i"}), NewRegistry(), nil)
	assert.ErrorIs(t, m.Init(), ErrConfigInvalid)
}

func TestInitRegistersHandlers(t *testing.T) {
	mc := newMockComm()
	newTestManager(t, mc)

	for _, msg := range []comm.MsgType{comm.MsgCreate, comm.MsgDelete, comm.MsgDeleteAll, comm.MsgQuery} {
		assert.Contains(t, mc.handlers, msg)
	}
	assert.Contains(t, mc.posts, comm.MsgCreate)
	assert.Contains(t, mc.posts, comm.MsgDelete)
	assert.Contains(t, mc.posts, comm.MsgDeleteAll)
	assert.NotContains(t, mc.posts, comm.MsgQuery)
}

func TestCreateTask(t *testing.T) {
	m := newTestManager(t, newMockComm())

	status, reply, ctx := m.CreateTaskProcess("", taskBody("t1"))
	assert.Equal(t, comm.StatusCreated, status)
	assert.Equal(t, "{}", string(reply))
	assert.NotNil(t, ctx)
	assert.Equal(t, StatusRunning, m.GetTaskStatus("t1"))
}

func TestCreateDuplicate(t *testing.T) {
	m := newTestManager(t, newMockComm())
	m.CreateTaskProcess("", taskBody("t1"))

	status, reply, ctx := m.CreateTaskProcess("", taskBody("t1"))
	assert.Equal(t, comm.StatusBadRequest, status)
	assert.Contains(t, string(reply), "ERROR.001")
	assert.Nil(t, ctx)
}

func TestCreateBadBody(t *testing.T) {
	m := newTestManager(t, newMockComm())

	status, reply, _ := m.CreateTaskProcess("", []byte(`{"id":"t1"}`))
	assert.Equal(t, comm.StatusBadRequest, status)
	assert.Contains(t, string(reply), "ERROR.000")
}

func TestCreateEngineReject(t *testing.T) {
	m := newTestManager(t, newMockComm())
	m.createFunc = func(*Info) bool { return false }

	status, reply, _ := m.CreateTaskProcess("", taskBody("t1"))
	assert.Equal(t, comm.StatusInternal, status)
	assert.Contains(t, string(reply), "ERROR.003")
	assert.Equal(t, StatusUnknown, m.GetTaskStatus("t1"), "rejected task must not be tracked")
}

func TestCreateOverLimitStillAdmits(t *testing.T) {
	mc := newMockComm()
	cfg := config.FromMap(map[string]string{
		config.KeyInstanceID:    "inst-1",
		config.KeyMaxInputCount: "1",
	})
	m := NewManager(mc, cfg, NewRegistry(), nil)
	m.SetCreateFunc(func(*Info) bool { return true })
	require.NoError(t, m.Init())

	status, _, _ := m.CreateTaskProcess("", taskBody("t1"))
	assert.Equal(t, comm.StatusCreated, status)
	status, _, _ = m.CreateTaskProcess("", taskBody("t2"))
	assert.Equal(t, comm.StatusCreated, status)
}

func TestConcurrentCreateSameID(t *testing.T) {
	m := newTestManager(t, newMockComm())

	const workers = 10
	results := make(chan comm.Status, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			status, _, _ := m.CreateTaskProcess("", taskBody("t1"))
			results <- status
		}()
	}
	wg.Wait()
	close(results)

	created := 0
	for status := range results {
		if status == comm.StatusCreated {
			created++
		}
	}
	assert.Equal(t, 1, created)
}

func TestQuery(t *testing.T) {
	m := newTestManager(t, newMockComm())
	m.CreateTaskProcess("", taskBody("t1"))

	status, reply, _ := m.QueryTaskProcess("t1", nil)
	assert.Equal(t, comm.StatusOK, status)

	var detail Detail
	require.NoError(t, json.Unmarshal(reply, &detail))
	assert.Equal(t, Detail{ID: "t1", State: "RUNNING"}, detail)
}

func TestQueryUnknown(t *testing.T) {
	m := newTestManager(t, newMockComm())

	status, reply, _ := m.QueryTaskProcess("nope", nil)
	assert.Equal(t, comm.StatusNotFound, status)
	assert.Contains(t, string(reply), "ERROR.004")
}

func TestDeleteRunning(t *testing.T) {
	m := newTestManager(t, newMockComm())
	var deleted []string
	m.deleteFunc = func(id string) bool {
		deleted = append(deleted, id)
		return true
	}
	m.CreateTaskProcess("", taskBody("t1"))

	status, reply, ctx := m.DeleteTaskProcess("t1", nil)
	assert.Equal(t, comm.StatusAccepted, status)
	assert.Equal(t, "{}", string(reply))
	assert.NotNil(t, ctx)
	assert.Equal(t, []string{"t1"}, deleted)

	// The task remains tracked until a terminal status arrives.
	assert.Equal(t, StatusRunning, m.GetTaskStatus("t1"))
}

func TestDeleteEngineFailure(t *testing.T) {
	m := newTestManager(t, newMockComm())
	m.deleteFunc = func(string) bool { return false }
	m.CreateTaskProcess("", taskBody("t1"))

	status, reply, _ := m.DeleteTaskProcess("t1", nil)
	assert.Equal(t, comm.StatusInternal, status)
	assert.Contains(t, string(reply), "ERROR.005")
	assert.Equal(t, StatusRunning, m.GetTaskStatus("t1"))
}

func TestDeleteUnknown(t *testing.T) {
	m := newTestManager(t, newMockComm())

	status, reply, _ := m.DeleteTaskProcess("", nil)
	assert.Equal(t, comm.StatusNotFound, status)
	assert.Contains(t, string(reply), "ERROR.004")
}

func TestDeleteNotRunningSkipsEngine(t *testing.T) {
	m := newTestManager(t, newMockComm())
	m.deleteFunc = func(string) bool {
		t.Fatal("engine delete must not run for non-running tasks")
		return false
	}
	m.CreateTaskProcess("", taskBody("t1"))
	m.getGroup("t1").SetStatus(StatusPending)

	status, _, _ := m.DeleteTaskProcess("t1", nil)
	assert.Equal(t, comm.StatusAccepted, status)
}

func TestDeleteAll(t *testing.T) {
	m := newTestManager(t, newMockComm())
	var deleted []string
	m.deleteFunc = func(id string) bool {
		deleted = append(deleted, id)
		return true
	}
	m.CreateTaskProcess("", taskBody("t1"))
	m.CreateTaskProcess("", taskBody("t2"))

	status, reply, ctx := m.DeleteAllTaskProcess("", nil)
	assert.Equal(t, comm.StatusAccepted, status)
	assert.Equal(t, "{}", string(reply))
	assert.Nil(t, ctx)
	assert.ElementsMatch(t, []string{"t1", "t2"}, deleted)
}

func TestCreatePostProcessReports(t *testing.T) {
	mc := newMockComm()
	m := newTestManager(t, mc)

	_, _, ctx := m.CreateTaskProcess("", taskBody("t1"))
	mc.posts[comm.MsgCreate](ctx)

	payloads := mc.sentPayloads()
	require.Len(t, payloads, 1)
	assert.Contains(t, payloads[0], `"business":"task"`)
	assert.Contains(t, payloads[0], `"instance_id":"inst-1"`)
	assert.Contains(t, payloads[0], `"state":"RUNNING"`)
}

func TestCreatePostProcessNilContext(t *testing.T) {
	mc := newMockComm()
	newTestManager(t, mc)

	// delete-all shares the create post handler and passes no context.
	mc.posts[comm.MsgDeleteAll](nil)
	assert.Empty(t, mc.sentPayloads())
}

func TestUpdateTaskStatus(t *testing.T) {
	mc := newMockComm()
	m := newTestManager(t, mc)
	m.CreateTaskProcess("", taskBody("t1"))

	assert.ErrorIs(t, m.UpdateTaskStatus("nope", StatusFailed), ErrTaskNotFound)

	// Same status is a no-op and sends nothing.
	require.NoError(t, m.UpdateTaskStatus("t1", StatusRunning))
	assert.Empty(t, mc.sentPayloads())

	require.NoError(t, m.UpdateTaskStatus("t1", StatusSucceeded))
	payloads := mc.sentPayloads()
	require.Len(t, payloads, 1)
	assert.Contains(t, payloads[0], `"state":"SUCCEEDED"`)

	// Terminal status drops the task.
	assert.Equal(t, StatusUnknown, m.GetTaskStatus("t1"))
	assert.ErrorIs(t, m.UpdateTaskStatus("t1", StatusFailed), ErrTaskNotFound)
}

func TestHeartbeat(t *testing.T) {
	mc := newMockComm()
	m := newTestManager(t, mc)
	m.failWait = 5 * time.Millisecond
	m.successWait = 20 * time.Millisecond
	m.CreateTaskProcess("", taskBody("t1"))

	m.Start()
	time.Sleep(70 * time.Millisecond)
	m.Stop()

	instanceReports := 0
	for _, p := range mc.sentPayloads() {
		if strings.Contains(p, `"business":"instance"`) {
			instanceReports++
			assert.Contains(t, p, `"state":"RUNNING"`)
			assert.Contains(t, p, `"tasks":[`)
		}
	}
	assert.GreaterOrEqual(t, instanceReports, 2)
}

func TestHeartbeatRetriesFasterAfterFailure(t *testing.T) {
	mc := newMockComm()
	m := newTestManager(t, mc)
	mc.sendFunc = func([]byte) error { return errors.New("unreachable") }
	m.failWait = 5 * time.Millisecond
	m.successWait = time.Hour

	m.Start()
	time.Sleep(40 * time.Millisecond)
	m.Stop()

	assert.GreaterOrEqual(t, len(mc.sentPayloads()), 3)
}

func TestHeartbeatWakesOnUpdate(t *testing.T) {
	mc := newMockComm()
	m := newTestManager(t, mc)
	m.failWait = time.Hour
	m.successWait = time.Hour

	m.Start()
	time.Sleep(10 * time.Millisecond)
	before := len(mc.sentPayloads())

	m.requestInstanceReport()
	time.Sleep(10 * time.Millisecond)
	m.Stop()

	assert.Greater(t, len(mc.sentPayloads()), before)
}

func TestEmptyTaskListIsNotNull(t *testing.T) {
	mc := newMockComm()
	m := newTestManager(t, mc)

	require.NoError(t, m.sendInstanceReport())
	payloads := mc.sentPayloads()
	require.Len(t, payloads, 1)
	assert.Contains(t, payloads[0], `"tasks":[]`)
}

func TestStopBeforeFirstSendIsSilent(t *testing.T) {
	mc := newMockComm()
	m := newTestManager(t, mc)

	m.stopOnce.Do(func() { close(m.stopCh) })
	m.Start()
	m.Stop()

	assert.Empty(t, mc.sentPayloads())
}

func TestStopIsIdempotent(t *testing.T) {
	m := newTestManager(t, newMockComm())
	m.Start()
	m.Stop()
	m.Stop()
}
