// Package config loads the bridge configuration supplied by the cloud
// control plane as a single JSON document in an environment variable.
// The resulting Config is an immutable snapshot constructed once at
// startup and passed explicitly to every component.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// EnvConfig is the environment variable carrying the JSON configuration
// document. Its absence is a fatal startup error.
const EnvConfig = "TASKBRIDGE_SVC_CONFIG"

var (
	// ErrMissing indicates the environment document is absent.
	ErrMissing = errors.New("config: environment document missing")
	// ErrParse indicates the environment document is not valid JSON.
	ErrParse = errors.New("config: malformed document")
)

// Logical configuration keys. Each maps to a fixed path in the JSON
// document; a key whose path is absent from the document is simply unset.
const (
	KeyInstanceID      = "instance_id"
	KeyAlgType         = "alg_type"
	KeyMaxInputCount   = "input_count_max"
	KeyNotifyURL       = "notification_url"
	KeyTaskURI         = "task_uri"
	KeyTaskPort        = "task_port"
	KeyProjectID       = "project_id"
	KeyDomainID        = "domain_id"
	KeyDomainName      = "domain_name"
	KeyAccessKey       = "sign_ak"
	KeySecretKey       = "sign_sk"
	KeyRegion          = "region"
	KeyEndpointIAM     = "endpoint_iam"
	KeyEndpointInfer   = "endpoint_infer"
	KeyEndpointOBS     = "endpoint_obs"
	KeyEndpointDIS     = "endpoint_dis"
	KeyEndpointVIS     = "endpoint_vis"
	KeyPathRSA         = "path_rsa"
	KeyPathCert        = "path_cert"
	KeyTopicUpstream   = "topic_upstream"
	KeyTopicDownstream = "topic_downstream"
)

// documentPaths maps logical keys to their location in the JSON document.
var documentPaths = map[string]string{
	KeyEndpointIAM:     "cloud_endpoint.iam_endpoint",
	KeyEndpointInfer:   "cloud_endpoint.infer_endpoint",
	KeyEndpointOBS:     "cloud_endpoint.obs_endpoint",
	KeyEndpointDIS:     "cloud_endpoint.dis_endpoint",
	KeyEndpointVIS:     "cloud_endpoint.vis_endpoint",
	KeyRegion:          "cloud_endpoint.region",
	KeyNotifyURL:       "notification_url",
	KeyInstanceID:      "instance_id",
	KeyTaskURI:         "service.task_uri",
	KeyTaskPort:        "service.port",
	KeyMaxInputCount:   "input_count_max",
	KeyAlgType:         "algorithm.alg_type",
	KeyProjectID:       "isv.project_id",
	KeyDomainID:        "isv.domain_id",
	KeyDomainName:      "isv.domain_name",
	KeyAccessKey:       "isv.sign_ak",
	KeySecretKey:       "isv.sign_sk",
	KeyPathRSA:         "path.rsa",
	KeyPathCert:        "path.cert",
	KeyTopicUpstream:   "topic.upstream",
	KeyTopicDownstream: "topic.downstream",
}

// Config is an immutable key/value snapshot of the loaded document.
// It is safe for concurrent reads after construction.
type Config struct {
	values map[string]string
}

// Load reads the JSON document from EnvConfig and parses it.
func Load(logger *slog.Logger) (*Config, error) {
	doc, ok := os.LookupEnv(EnvConfig)
	if !ok || doc == "" {
		return nil, fmt.Errorf("%w: env %s is not set", ErrMissing, EnvConfig)
	}
	return Parse(doc, logger)
}

// Parse builds a Config from a raw JSON document. Known keys whose path
// is absent are left unset; values that are neither string nor number
// are logged and skipped.
func Parse(doc string, logger *slog.Logger) (*Config, error) {
	if logger == nil {
		logger = slog.Default()
	}

	v := viper.New()
	v.SetConfigType("json")
	if err := v.ReadConfig(strings.NewReader(doc)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	values := make(map[string]string, len(documentPaths))
	for key, path := range documentPaths {
		raw := v.Get(path)
		if raw == nil {
			logger.Debug("config path not present", "path", path)
			continue
		}
		switch value := raw.(type) {
		case string:
			values[key] = value
		case float64:
			values[key] = strconv.FormatFloat(value, 'f', -1, 64)
		case int:
			values[key] = strconv.Itoa(value)
		case int64:
			values[key] = strconv.FormatInt(value, 10)
		default:
			logger.Warn("config value has unsupported type, skipping",
				"path", path, "type", fmt.Sprintf("%T", raw))
		}
	}

	logger.Info("configuration loaded", "keys", len(values))
	return &Config{values: values}, nil
}

// FromMap builds a Config directly from logical key/value pairs. Used by
// tests and local bootstrap wiring.
func FromMap(values map[string]string) *Config {
	copied := make(map[string]string, len(values))
	for k, v := range values {
		copied[k] = v
	}
	return &Config{values: copied}
}

// GetString returns the value for key, or def if the key is unset.
func (c *Config) GetString(key, def string) string {
	if value, ok := c.values[key]; ok {
		return value
	}
	return def
}

// GetInt returns the value for key parsed as an integer, or def if the
// key is unset or not numeric.
func (c *Config) GetInt(key string, def int) int {
	value, ok := c.values[key]
	if !ok {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

// GetBool returns the value for key parsed as a boolean, or def if the
// key is unset or not a boolean.
func (c *Config) GetBool(key string, def bool) bool {
	value, ok := c.values[key]
	if !ok {
		return def
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return def
	}
	return parsed
}
