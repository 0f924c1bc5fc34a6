package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDoc = `{
	"instance_id": "inst-42",
	"notification_url": "https://infer.example.com/v1/notify",
	"input_count_max": 8,
	"cloud_endpoint": {
		"iam_endpoint": "https://iam.example.com",
		"infer_endpoint": "https://infer.example.com",
		"region": "cn-north-1"
	},
	"service": {
		"task_uri": "/v1/tasks",
		"port": 8443
	},
	"algorithm": {
		"alg_type": "cloud"
	},
	"isv": {
		"project_id": "p-1",
		"domain_id": "d-1",
		"domain_name": "acme",
		"sign_ak": "AKXXXX",
		"sign_sk": "c2VjcmV0"
	},
	"path": {
		"rsa": "/etc/bridge/keys",
		"cert": "/etc/bridge/certs"
	},
	"topic": {
		"upstream": "/topic/upstream",
		"downstream": "/topic/downstream"
	}
}`

func TestParse(t *testing.T) {
	cfg, err := Parse(sampleDoc, nil)
	require.NoError(t, err)

	assert.Equal(t, "inst-42", cfg.GetString(KeyInstanceID, ""))
	assert.Equal(t, "https://infer.example.com/v1/notify", cfg.GetString(KeyNotifyURL, ""))
	assert.Equal(t, "https://iam.example.com", cfg.GetString(KeyEndpointIAM, ""))
	assert.Equal(t, "cn-north-1", cfg.GetString(KeyRegion, ""))
	assert.Equal(t, "/v1/tasks", cfg.GetString(KeyTaskURI, ""))
	assert.Equal(t, "cloud", cfg.GetString(KeyAlgType, ""))
	assert.Equal(t, "AKXXXX", cfg.GetString(KeyAccessKey, ""))
	assert.Equal(t, "/etc/bridge/keys", cfg.GetString(KeyPathRSA, ""))
	assert.Equal(t, "/topic/downstream", cfg.GetString(KeyTopicDownstream, ""))

	// Numbers in the document are carried as strings.
	assert.Equal(t, "8443", cfg.GetString(KeyTaskPort, ""))
	assert.Equal(t, 8443, cfg.GetInt(KeyTaskPort, 0))
	assert.Equal(t, 8, cfg.GetInt(KeyMaxInputCount, 0))
}

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse(`{"instance_id": "x"}`, nil)
	require.NoError(t, err)

	assert.Equal(t, "fallback", cfg.GetString(KeyNotifyURL, "fallback"))
	assert.Equal(t, 16, cfg.GetInt(KeyMaxInputCount, 16))
	assert.True(t, cfg.GetBool("no_such_key", true))
}

func TestParseMalformed(t *testing.T) {
	_, err := Parse(`{"instance_id": `, nil)
	assert.ErrorIs(t, err, ErrParse)
}

func TestParseSkipsUnsupportedTypes(t *testing.T) {
	cfg, err := Parse(`{"instance_id": {"nested": true}, "input_count_max": 4}`, nil)
	require.NoError(t, err)

	assert.Equal(t, "", cfg.GetString(KeyInstanceID, ""))
	assert.Equal(t, 4, cfg.GetInt(KeyMaxInputCount, 0))
}

func TestLoad(t *testing.T) {
	t.Setenv(EnvConfig, sampleDoc)
	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, "inst-42", cfg.GetString(KeyInstanceID, ""))
}

func TestLoadMissing(t *testing.T) {
	t.Setenv(EnvConfig, "")
	_, err := Load(nil)
	assert.ErrorIs(t, err, ErrMissing)
}

func TestFromMap(t *testing.T) {
	cfg := FromMap(map[string]string{
		KeyInstanceID:    "inst-1",
		KeyMaxInputCount: "3",
		"flag":           "true",
	})
	assert.Equal(t, "inst-1", cfg.GetString(KeyInstanceID, ""))
	assert.Equal(t, 3, cfg.GetInt(KeyMaxInputCount, 0))
	assert.True(t, cfg.GetBool("flag", false))
	assert.Equal(t, 7, cfg.GetInt("flag", 7))
}
