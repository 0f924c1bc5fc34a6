package task

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Direction distinguishes task inputs from outputs.
type Direction int

const (
	DirInput Direction = iota
	DirOutput
)

func (d Direction) String() string {
	if d == DirOutput {
		return "output"
	}
	return "input"
}

// IO is one endpoint of a task: a data source or sink of a concrete
// registered kind.
type IO interface {
	Type() string
	Direction() Direction
	// validate checks required fields after JSON decoding.
	validate() error
	// payload returns the wire "data" object.
	payload() any
}

// ioEnvelope is the wire form of a single endpoint.
type ioEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Marshal renders an endpoint into its wire envelope.
func Marshal(io IO) ([]byte, error) {
	data, err := json.Marshal(io.payload())
	if err != nil {
		return nil, err
	}
	return json.Marshal(ioEnvelope{Type: io.Type(), Data: data})
}

// Registry maps (type, direction) pairs to endpoint constructors. Kinds
// not present in the registry are rejected at parse time.
type Registry struct {
	factories map[ioKey]func() IO
}

type ioKey struct {
	typ string
	dir Direction
}

// Register adds a constructor for a (type, direction) pair. The type
// name is stored lowercase.
func (r *Registry) Register(typ string, dir Direction, factory func() IO) {
	r.factories[ioKey{typ: strings.ToLower(typ), dir: dir}] = factory
}

// Parse decodes one endpoint envelope for the given direction. Type
// matching is case-insensitive; unknown kinds return an error.
func (r *Registry) Parse(raw json.RawMessage, dir Direction) (IO, error) {
	var env ioEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("task: malformed %s endpoint: %w", dir, err)
	}
	typ := strings.ToLower(env.Type)
	factory, ok := r.factories[ioKey{typ: typ, dir: dir}]
	if !ok {
		return nil, fmt.Errorf("task: unsupported %s type %q", dir, env.Type)
	}
	io := factory()
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, io.payload()); err != nil {
			return nil, fmt.Errorf("task: malformed %s data for %q: %w", dir, typ, err)
		}
	}
	if err := io.validate(); err != nil {
		return nil, err
	}
	return io, nil
}

// NewRegistry returns a registry with every supported endpoint kind.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[ioKey]func() IO)}
	r.Register("obs", DirInput, func() IO { return &ObsIO{dir: DirInput} })
	r.Register("obs", DirOutput, func() IO { return &ObsIO{dir: DirOutput} })
	r.Register("vis", DirInput, func() IO { return &VisIO{} })
	r.Register("dis", DirOutput, func() IO { return &DisIO{} })
	r.Register("url", DirInput, func() IO { return &URLIO{} })
	r.Register("edgecamera", DirInput, func() IO { return &EdgeCameraIO{} })
	r.Register("restful", DirInput, func() IO { return &RestfulIO{} })
	r.Register("vcn", DirInput, func() IO { return &VcnIO{} })
	r.Register("webhook", DirOutput, func() IO { return &WebhookIO{} })
	return r
}

func requireField(typ, field, value string) error {
	if value == "" {
		return fmt.Errorf("task: %s endpoint missing required field %q", typ, field)
	}
	return nil
}

// ObsIO is an object storage location, usable as input or output.
type ObsIO struct {
	dir  Direction
	Body struct {
		Bucket string `json:"bucket"`
		Path   string `json:"path"`
	}
}

func (o *ObsIO) Type() string         { return "obs" }
func (o *ObsIO) Direction() Direction { return o.dir }
func (o *ObsIO) payload() any         { return &o.Body }

func (o *ObsIO) validate() error {
	if err := requireField("obs", "bucket", o.Body.Bucket); err != nil {
		return err
	}
	return requireField("obs", "path", o.Body.Path)
}

// VisIO is a video ingestion stream input.
type VisIO struct {
	Body struct {
		StreamName string `json:"stream_name"`
		ProjectID  string `json:"project_id,omitempty"`
	}
}

func (v *VisIO) Type() string         { return "vis" }
func (v *VisIO) Direction() Direction { return DirInput }
func (v *VisIO) payload() any         { return &v.Body }

func (v *VisIO) validate() error {
	return requireField("vis", "stream_name", v.Body.StreamName)
}

// DisIO is a data ingestion stream output.
type DisIO struct {
	Body struct {
		StreamName string `json:"stream_name"`
		ProjectID  string `json:"project_id"`
		StreamID   string `json:"stream_id,omitempty"`
	}
}

func (d *DisIO) Type() string         { return "dis" }
func (d *DisIO) Direction() Direction { return DirOutput }
func (d *DisIO) payload() any         { return &d.Body }

func (d *DisIO) validate() error {
	if err := requireField("dis", "stream_name", d.Body.StreamName); err != nil {
		return err
	}
	return requireField("dis", "project_id", d.Body.ProjectID)
}

var streamURLPattern = regexp.MustCompile(`^rt[sm]p://.*`)

// URLIO is a generic URL input. When url_type is absent it is inferred
// from the scheme: rtsp/rtmp URLs are streams, everything else a file.
type URLIO struct {
	Body struct {
		URL     string `json:"url"`
		URLType string `json:"url_type,omitempty"`
	}
}

func (u *URLIO) Type() string         { return "url" }
func (u *URLIO) Direction() Direction { return DirInput }
func (u *URLIO) payload() any         { return &u.Body }

func (u *URLIO) validate() error {
	if err := requireField("url", "url", u.Body.URL); err != nil {
		return err
	}
	if u.Body.URLType == "" {
		if streamURLPattern.MatchString(u.Body.URL) {
			u.Body.URLType = "stream"
		} else {
			u.Body.URLType = "file"
		}
	}
	return nil
}

// EdgeCameraIO is a camera attached to the edge node.
type EdgeCameraIO struct {
	Body struct {
		ID   string `json:"id"`
		RTSP string `json:"rtsp"`
	}
}

func (e *EdgeCameraIO) Type() string         { return "edgecamera" }
func (e *EdgeCameraIO) Direction() Direction { return DirInput }
func (e *EdgeCameraIO) payload() any         { return &e.Body }

func (e *EdgeCameraIO) validate() error {
	if err := requireField("edgecamera", "id", e.Body.ID); err != nil {
		return err
	}
	return requireField("edgecamera", "rtsp", e.Body.RTSP)
}

// RestfulIO is an input whose stream address is fetched from a REST
// endpoint at runtime.
type RestfulIO struct {
	Body struct {
		URL         string            `json:"url"`
		Certificate *bool             `json:"certificate"`
		RTSPPath    string            `json:"rtsp_path"`
		Headers     map[string]string `json:"headers,omitempty"`
	}
}

func (r *RestfulIO) Type() string         { return "restful" }
func (r *RestfulIO) Direction() Direction { return DirInput }
func (r *RestfulIO) payload() any         { return &r.Body }

func (r *RestfulIO) validate() error {
	if err := requireField("restful", "url", r.Body.URL); err != nil {
		return err
	}
	if r.Body.Certificate == nil {
		return fmt.Errorf("task: restful endpoint missing required field %q", "certificate")
	}
	return requireField("restful", "rtsp_path", r.Body.RTSPPath)
}

// VcnIO is a video cloud node camera input.
type VcnIO struct {
	Body struct {
		StreamID   string `json:"stream_id"`
		StreamIP   string `json:"stream_ip"`
		StreamPort string `json:"stream_port"`
		StreamUser string `json:"stream_user"`
		StreamPwd  string `json:"stream_pwd"`
		StreamType int    `json:"stream_type,omitempty"`
		Protocol   string `json:"protocol,omitempty"`
	}
}

func (v *VcnIO) Type() string         { return "vcn" }
func (v *VcnIO) Direction() Direction { return DirInput }
func (v *VcnIO) payload() any         { return &v.Body }

func (v *VcnIO) validate() error {
	for _, f := range []struct{ name, value string }{
		{"stream_id", v.Body.StreamID},
		{"stream_ip", v.Body.StreamIP},
		{"stream_port", v.Body.StreamPort},
		{"stream_user", v.Body.StreamUser},
		{"stream_pwd", v.Body.StreamPwd},
	} {
		if err := requireField("vcn", f.name, f.value); err != nil {
			return err
		}
	}
	if v.Body.StreamType == 0 {
		v.Body.StreamType = 1
	}
	return nil
}

// WebhookIO is an HTTP callback output.
type WebhookIO struct {
	Body struct {
		URL     string            `json:"url"`
		Headers map[string]string `json:"headers"`
	}
}

func (w *WebhookIO) Type() string         { return "webhook" }
func (w *WebhookIO) Direction() Direction { return DirOutput }
func (w *WebhookIO) payload() any         { return &w.Body }

func (w *WebhookIO) validate() error {
	if err := requireField("webhook", "url", w.Body.URL); err != nil {
		return err
	}
	if len(w.Body.Headers) == 0 {
		return fmt.Errorf("task: webhook endpoint missing required field %q", "headers")
	}
	return nil
}
