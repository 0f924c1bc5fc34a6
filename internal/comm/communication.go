// Package comm carries task messages between the cloud control plane
// and the local bridge. Inbound operations arrive over an HTTPS
// listener and are dispatched to registered handlers; outbound status
// reports are signed and pushed to the cloud notification endpoint.
package comm

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/taskbridge-ai/taskbridge/internal/cipher"
	"github.com/taskbridge-ai/taskbridge/internal/config"
)

// MsgType names one inbound task operation.
type MsgType string

const (
	MsgCreate    MsgType = "create"
	MsgDelete    MsgType = "delete"
	MsgDeleteAll MsgType = "delete_all"
	MsgQuery     MsgType = "query"
)

// Status is the outcome of a handled operation.
type Status int

const (
	StatusOK Status = iota
	StatusCreated
	StatusAccepted
	StatusNoContent
	StatusBadRequest
	StatusNotFound
	StatusInternal
)

var httpStatuses = map[Status]int{
	StatusOK:         http.StatusOK,
	StatusCreated:    http.StatusCreated,
	StatusAccepted:   http.StatusAccepted,
	StatusNoContent:  http.StatusNoContent,
	StatusBadRequest: http.StatusBadRequest,
	StatusNotFound:   http.StatusNotFound,
	StatusInternal:   http.StatusInternalServerError,
}

// HTTPStatus maps a handler outcome to an HTTP status code. Unmapped
// values are logged and answered as an internal error.
func (s Status) HTTPStatus(logger *slog.Logger) int {
	code, ok := httpStatuses[s]
	if !ok {
		if logger != nil {
			logger.Error("unmapped handler status", "status", int(s))
		}
		return http.StatusInternalServerError
	}
	return code
}

// HandlerContext is an opaque value a handler passes to its post
// handler. A nil context means the post handler has nothing task
// specific to act on.
type HandlerContext interface {
	IsHandlerContext()
}

// Handler processes one inbound operation. taskID is taken from the
// request URL and may be empty; body is the raw request payload. The
// returned bytes are sent to the caller verbatim as JSON.
type Handler func(taskID string, body []byte) (Status, []byte, HandlerContext)

// PostHandler runs after the reply has been written, still under the
// dispatch lock.
type PostHandler func(ctx HandlerContext)

// HandlerRegistry stores the handler pair for each message type.
type HandlerRegistry struct {
	handlers     map[MsgType]Handler
	postHandlers map[MsgType]PostHandler
}

func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{
		handlers:     make(map[MsgType]Handler),
		postHandlers: make(map[MsgType]PostHandler),
	}
}

// RegisterHandler binds a message type to its handler pair. post may
// be nil.
func (r *HandlerRegistry) RegisterHandler(msg MsgType, handler Handler, post PostHandler) {
	r.handlers[msg] = handler
	if post != nil {
		r.postHandlers[msg] = post
	}
}

func (r *HandlerRegistry) handler(msg MsgType) Handler         { return r.handlers[msg] }
func (r *HandlerRegistry) postHandler(msg MsgType) PostHandler { return r.postHandlers[msg] }

// ErrSendFailed indicates an outbound report exhausted all attempts.
var ErrSendFailed = errors.New("comm: send failed")

// Communication is the transport between the bridge and the cloud.
type Communication interface {
	Init() error
	Start() error
	Stop() error
	SendMsg(payload []byte) error
	RegisterHandler(msg MsgType, handler Handler, post PostHandler)
}

// Constructor builds a Communication from its dependencies.
type Constructor func(cfg *config.Config, c *cipher.Cipher, logger *slog.Logger) Communication

// Factory resolves a transport by algorithm deployment kind.
type Factory struct {
	constructors map[string]Constructor
}

// NewFactory returns a factory with the built-in transports.
func NewFactory() *Factory {
	f := &Factory{constructors: make(map[string]Constructor)}
	f.Register("cloud", func(cfg *config.Config, c *cipher.Cipher, logger *slog.Logger) Communication {
		return NewRestful(cfg, c, logger)
	})
	return f
}

// Register adds a transport constructor under name.
func (f *Factory) Register(name string, ctor Constructor) {
	f.constructors[name] = ctor
}

// New builds the transport registered under name.
func (f *Factory) New(name string, cfg *config.Config, c *cipher.Cipher, logger *slog.Logger) (Communication, error) {
	ctor, ok := f.constructors[name]
	if !ok {
		return nil, fmt.Errorf("comm: unknown transport %q", name)
	}
	return ctor(cfg, c, logger), nil
}
