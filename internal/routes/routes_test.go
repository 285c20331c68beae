package routes

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pet-saude/authsvc/internal/config"
	"github.com/pet-saude/authsvc/internal/logging"
	"github.com/pet-saude/authsvc/internal/notification"
	"github.com/pet-saude/authsvc/internal/observability"
)

type outbox struct {
	mu       sync.Mutex
	messages []notification.Message
}

func (o *outbox) Send(_ context.Context, message notification.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.messages = append(o.messages, message)
	return nil
}

func testConfig() config.Config {
	return config.Config{
		AppName:        "AuthService",
		AppEnv:         "development",
		StoreBackend:   config.BackendMemory,
		AllowOrigins:   "*",
		IdempotencyTTL: time.Minute,
		BcryptCost:     4,
		MailTimeout:    time.Second,
		MetricsEnabled: true,
	}
}

func newTestApp(t *testing.T, d Deps) *fiber.App {
	t.Helper()
	d.Logger = logging.Discard()
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(d.Logger)})
	require.NoError(t, Setup(app, d))
	return app
}

func do(t *testing.T, app *fiber.App, method, path, body string, headers ...string) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var decoded map[string]any
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get(fiber.HeaderContentType), fiber.MIMEApplicationJSON) {
		require.NoError(t, json.Unmarshal(raw, &decoded), "body: %s", raw)
	}
	return resp.StatusCode, decoded
}

func TestHealth(t *testing.T) {
	app := newTestApp(t, Deps{Cfg: testConfig()})

	status, body := do(t, app, fiber.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
	_, err := time.Parse(time.RFC3339, body["timestamp"].(string))
	assert.NoError(t, err)
}

func TestReadyzWithoutDependencies(t *testing.T) {
	app := newTestApp(t, Deps{Cfg: testConfig()})

	status, body := do(t, app, fiber.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ready", body["status"])
}

func TestReadyzReportsRedisOutage(t *testing.T) {
	mr := miniredis.RunT(t)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { cache.Close() })
	app := newTestApp(t, Deps{Cfg: testConfig(), Cache: cache})

	status, _ := do(t, app, fiber.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, status)

	mr.Close()
	status, body := do(t, app, fiber.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, map[string]any{"redis": "unavailable"}, body["checks"])
}

func TestUnknownRoute(t *testing.T) {
	app := newTestApp(t, Deps{Cfg: testConfig()})

	status, body := do(t, app, fiber.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "not_found", body["error"])
	assert.NotEmpty(t, body["message"])
}

func TestAnaFlowMailsCode(t *testing.T) {
	mail := &outbox{}
	metrics := observability.NewMetrics()
	app := newTestApp(t, Deps{Cfg: testConfig(), Notifier: mail, Metrics: metrics})

	status, body := do(t, app, fiber.MethodPost, "/register", `{"name":"Ana","email":"ana@x.com","password":"secret1"}`)
	require.Equal(t, http.StatusOK, status)
	code, _ := body["demoCode"].(string)
	require.Len(t, code, 6)

	mail.mu.Lock()
	require.Len(t, mail.messages, 1)
	assert.Equal(t, "ana@x.com", mail.messages[0].Destination)
	assert.Contains(t, mail.messages[0].Body, code)
	mail.mu.Unlock()

	status, _ = do(t, app, fiber.MethodPost, "/login", `{"email":"ana@x.com","password":"secret1"}`)
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = do(t, app, fiber.MethodPost, "/verify", `{"email":"ana@x.com","code":"`+code+`"}`)
	require.Equal(t, http.StatusOK, status)

	status, body = do(t, app, fiber.MethodPost, "/verify", `{"email":"ana@x.com","code":"`+code+`"}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_code", body["error"])

	status, body = do(t, app, fiber.MethodPost, "/login", `{"email":"ana@x.com","password":"secret1"}`)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, map[string]any{"name": "Ana", "email": "ana@x.com"}, body["user"])

	req := httptest.NewRequest(fiber.MethodGet, "/metrics", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	exposition := string(raw)
	assert.Contains(t, exposition, `authsvc_identity_events_total{event="login",result="ok"} 1`)
	assert.Contains(t, exposition, `authsvc_mail_deliveries_total{kind="verification_code",result="sent"} 1`)
	assert.Contains(t, exposition, `authsvc_http_requests_total{method="POST",route="/register",status="200"} 1`)
}

func TestProductionHidesDemoCode(t *testing.T) {
	cfg := testConfig()
	cfg.AppEnv = "production"
	app := newTestApp(t, Deps{Cfg: cfg, Notifier: &outbox{}})

	status, body := do(t, app, fiber.MethodPost, "/register", `{"name":"Ana","email":"ana@x.com","password":"secret1"}`)
	require.Equal(t, http.StatusOK, status)
	assert.NotContains(t, body, "demoCode")
}

func TestMetricsDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.MetricsEnabled = false
	app := newTestApp(t, Deps{Cfg: cfg, Metrics: observability.NewMetrics()})

	status, _ := do(t, app, fiber.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestRedisBackendWithIdempotentRegister(t *testing.T) {
	mr := miniredis.RunT(t)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { cache.Close() })

	cfg := testConfig()
	cfg.StoreBackend = config.BackendRedis
	mail := &outbox{}
	app := newTestApp(t, Deps{Cfg: cfg, Cache: cache, Notifier: mail})

	payload := `{"name":"Ana","email":"ana@x.com","password":"secret1"}`
	status, first := do(t, app, fiber.MethodPost, "/register", payload, "Idempotency-Key", "reg-1")
	require.Equal(t, http.StatusOK, status)

	status, replay := do(t, app, fiber.MethodPost, "/register", payload, "Idempotency-Key", "reg-1")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, first, replay)

	status, body := do(t, app, fiber.MethodPost, "/register", payload)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "email_exists", body["error"])

	mail.mu.Lock()
	assert.Len(t, mail.messages, 1)
	mail.mu.Unlock()
	assert.True(t, mr.Exists("account:v1:ana@x.com"))
}

func TestIdempotencyKeyNeverReplaysLoginForOtherCredentials(t *testing.T) {
	mr := miniredis.RunT(t)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { cache.Close() })
	app := newTestApp(t, Deps{Cfg: testConfig(), Cache: cache, Notifier: &outbox{}})

	status, body := do(t, app, fiber.MethodPost, "/register", `{"name":"Ana","email":"ana@x.com","password":"secret1"}`)
	require.Equal(t, http.StatusOK, status)
	code := body["demoCode"].(string)
	status, _ = do(t, app, fiber.MethodPost, "/verify", `{"email":"ana@x.com","code":"`+code+`"}`)
	require.Equal(t, http.StatusOK, status)

	status, _ = do(t, app, fiber.MethodPost, "/login", `{"email":"ana@x.com","password":"secret1"}`, "Idempotency-Key", "k1")
	require.Equal(t, http.StatusOK, status)

	status, body = do(t, app, fiber.MethodPost, "/login", `{"email":"ana@x.com","password":"WRONG-PASSWORD"}`, "Idempotency-Key", "k1")
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.NotContains(t, body, "user")

	status, body = do(t, app, fiber.MethodPost, "/login", `{"email":"bob@x.com","password":"secret1"}`, "Idempotency-Key", "k1")
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.NotContains(t, body, "user")

	status, body = do(t, app, fiber.MethodPost, "/login", `{"email":"ana@x.com","password":"WRONG-PASSWORD"}`, "Idempotency-Key", "k2")
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "invalid_password", body["error"])

	status, body = do(t, app, fiber.MethodPost, "/verify", `{"email":"ana@x.com","code":"000000"}`, "Idempotency-Key", "v1")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_code", body["error"])
}

func TestSetupRejectsMissingBackend(t *testing.T) {
	cfg := testConfig()
	cfg.StoreBackend = config.BackendPostgres
	assert.Error(t, Setup(fiber.New(), Deps{Cfg: cfg}))

	cfg.StoreBackend = config.BackendRedis
	assert.Error(t, Setup(fiber.New(), Deps{Cfg: cfg}))

	cfg.StoreBackend = "cassandra"
	assert.Error(t, Setup(fiber.New(), Deps{Cfg: cfg}))
}

func TestErrorHandler(t *testing.T) {
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(logging.Discard())})
	app.Get("/boom", func(*fiber.Ctx) error { return assert.AnError })
	app.Get("/teapot", func(*fiber.Ctx) error { return fiber.NewError(http.StatusTeapot, "short and stout") })
	require.NoError(t, Setup(app, Deps{Cfg: testConfig()}))

	status, body := do(t, app, fiber.MethodGet, "/boom", "")
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "server_error", body["error"])
	assert.NotContains(t, body["message"], assert.AnError.Error())

	status, body = do(t, app, fiber.MethodGet, "/teapot", "")
	assert.Equal(t, http.StatusTeapot, status)
	assert.Equal(t, "short and stout", body["message"])
}
