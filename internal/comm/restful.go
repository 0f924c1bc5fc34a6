package comm

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/taskbridge-ai/taskbridge/internal/cipher"
	"github.com/taskbridge-ai/taskbridge/internal/config"
	"github.com/taskbridge-ai/taskbridge/internal/logging"
)

const (
	defaultTaskURI  = "/v1/tasks"
	defaultTaskPort = 8443

	// maxCertFileSize bounds certificate and key reads. Anything
	// larger is treated as corrupt and the listener refuses to start.
	maxCertFileSize = 128 * 1024

	sendTimeout = 10 * time.Second
)

// Restful is the cloud transport: an HTTPS listener for inbound task
// operations and a signed HTTP client for outbound status reports.
type Restful struct {
	*HandlerRegistry

	cfg    *config.Config
	cipher *cipher.Cipher
	logger *slog.Logger

	engine *gin.Engine
	server *http.Server
	hub    *wsHub
	client *http.Client

	// dispatchMu serializes inbound operations end to end, including
	// their post handlers.
	dispatchMu sync.Mutex

	retryInterval time.Duration
	maxAttempts   int
}

func NewRestful(cfg *config.Config, c *cipher.Cipher, logger *slog.Logger) *Restful {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "comm")
	return &Restful{
		HandlerRegistry: NewHandlerRegistry(),
		cfg:             cfg,
		cipher:          c,
		logger:          logger,
		hub:             newWSHub(logger),
		client:          &http.Client{Timeout: sendTimeout},
		retryInterval:   5 * time.Second,
		maxAttempts:     10,
	}
}

// Init builds the route table and loads the TLS keypair. Missing or
// oversized certificate material is a hard failure.
func (r *Restful) Init() error {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	taskURI := r.cfg.GetString(config.KeyTaskURI, defaultTaskURI)
	engine.POST(taskURI, r.dispatch(MsgCreate))
	engine.DELETE(taskURI, r.dispatch(MsgDelete))
	engine.DELETE(taskURI+"/:id", r.dispatch(MsgDelete))
	engine.GET(taskURI, r.dispatch(MsgQuery))
	engine.GET(taskURI+"/:id", r.dispatch(MsgQuery))
	engine.GET("/ws", r.hub.handle)

	engine.HandleMethodNotAllowed = true
	engine.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error_code": "ERROR.400",
			"error_msg":  "invalid url!",
		})
	})
	engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error_code": "ERROR.400",
			"error_msg":  "invalid url!",
		})
	})
	r.engine = engine

	certDir := r.cfg.GetString(config.KeyPathCert, "")
	certPEM, err := readLimitedFile(filepath.Join(certDir, "server.crt"))
	if err != nil {
		return fmt.Errorf("comm: load certificate: %w", err)
	}
	keyPEM, err := readLimitedFile(filepath.Join(certDir, "server.key"))
	if err != nil {
		return fmt.Errorf("comm: load key: %w", err)
	}
	keypair, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return fmt.Errorf("comm: parse keypair: %w", err)
	}

	port := r.cfg.GetInt(config.KeyTaskPort, defaultTaskPort)
	r.server = &http.Server{
		Addr:    fmt.Sprintf("0.0.0.0:%d", port),
		Handler: engine,
		TLSConfig: &tls.Config{
			Certificates: []tls.Certificate{keypair},
			MinVersion:   tls.VersionTLS12,
		},
	}
	r.logger.Info("listener configured", "addr", r.server.Addr, "task_uri", taskURI)
	return nil
}

// Handler exposes the route table, bypassing the TLS listener.
func (r *Restful) Handler() http.Handler { return r.engine }

func (r *Restful) Start() error {
	if r.server == nil {
		return errors.New("comm: not initialized")
	}
	go func() {
		if err := r.server.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("listener stopped", "error", err)
		}
	}()
	return nil
}

func (r *Restful) Stop() error {
	r.hub.Close()
	if r.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return r.server.Shutdown(ctx)
}

func (r *Restful) dispatch(msg MsgType) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error_code": "ERROR.400",
				"error_msg":  "invalid body!",
			})
			return
		}
		taskID := c.Param("id")

		r.dispatchMu.Lock()
		defer r.dispatchMu.Unlock()

		handled := false
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Warn("handler panic",
					"msg_type", string(msg),
					"panic", fmt.Sprint(rec),
					"body", logging.Mask(string(body)))
				if !handled {
					c.JSON(http.StatusInternalServerError, gin.H{
						"error_code": "ERROR.500",
						"error_msg":  "internal error!",
					})
				}
			}
		}()

		handler := r.handler(msg)
		if handler == nil {
			c.JSON(http.StatusNotFound, gin.H{
				"error_code": "ERROR.404",
				"error_msg":  "handler not registered!",
			})
			return
		}

		status, reply, hctx := handler(taskID, body)
		c.Data(status.HTTPStatus(r.logger), "application/json", reply)
		handled = true

		if post := r.postHandler(msg); post != nil {
			post(hctx)
		}
	}
}

// SendMsg signs and posts a status report to the cloud notification
// endpoint, retrying on a fixed interval. The payload is also fanned
// out to local websocket observers.
func (r *Restful) SendMsg(payload []byte) error {
	r.hub.Broadcast(payload)

	notifyURL := r.cfg.GetString(config.KeyNotifyURL, "")
	if notifyURL == "" {
		return fmt.Errorf("%w: notification url not configured", ErrSendFailed)
	}

	signer := NewSigner(r.credentials())
	host, path := signerURLInfo(notifyURL, r.cfg.GetString(config.KeyEndpointInfer, ""))

	attempt := 0
	op := func() error {
		attempt++
		req, err := http.NewRequest(http.MethodPost, notifyURL, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Request-Id", uuid.NewString())
		signer.Sign(req, host, path, payload)

		resp, err := r.client.Do(req)
		if err != nil {
			r.logger.Warn("report send failed", "attempt", attempt, "error", err)
			return err
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			r.logger.Warn("report rejected", "attempt", attempt, "status", resp.StatusCode)
			return fmt.Errorf("status %d", resp.StatusCode)
		}
		return nil
	}

	policy := backoff.WithMaxRetries(
		backoff.NewConstantBackOff(r.retryInterval), uint64(r.maxAttempts-1))
	if err := backoff.Retry(op, policy); err != nil {
		r.logger.Error("report dropped after retries",
			"attempts", attempt, "payload", logging.Mask(string(payload)))
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	r.logger.Debug("report delivered", "attempts", attempt)
	return nil
}

// credentials resolves the signing keypair. The secret key is stored
// encrypted; if it does not decrypt it is used as given.
func (r *Restful) credentials() (string, string) {
	ak := r.cfg.GetString(config.KeyAccessKey, "")
	sk := r.cfg.GetString(config.KeySecretKey, "")
	if r.cipher != nil && sk != "" {
		plain, err := r.cipher.DecryptFromBase64(sk)
		if err != nil {
			r.logger.Warn("secret key decrypt failed, using raw value", "error", err)
		} else {
			sk = plain
		}
	}
	return ak, sk
}

// signerURLInfo derives the canonical host and path for signing. When
// the notification URL lives under the inference endpoint the endpoint
// host is canonical; otherwise the URL's own host is used.
func signerURLInfo(notifyURL, inferEndpoint string) (host, path string) {
	stripped := stripScheme(notifyURL)
	endpoint := stripScheme(inferEndpoint)
	if endpoint != "" && strings.HasPrefix(stripped, endpoint) {
		return endpoint, stripped[len(endpoint):]
	}
	if i := strings.Index(stripped, "/"); i >= 0 {
		return stripped[:i], stripped[i:]
	}
	return stripped, "/"
}

func stripScheme(url string) string {
	url = strings.TrimPrefix(url, "https://")
	url = strings.TrimPrefix(url, "http://")
	return url
}

func readLimitedFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.Size() > maxCertFileSize {
		return nil, fmt.Errorf("file %s exceeds %d bytes", path, maxCertFileSize)
	}
	return os.ReadFile(path)
}
