package v1

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/openmind/core-gateway/internal/admission"
	"github.com/openmind/core-gateway/internal/config"
	"github.com/openmind/core-gateway/internal/gateway"
	"github.com/openmind/core-gateway/internal/ledger"
	"github.com/openmind/core-gateway/internal/registry"
	"github.com/openmind/core-gateway/internal/server/middleware"
	"github.com/openmind/core-gateway/internal/server/validator"
	"github.com/openmind/core-gateway/internal/store"
	"github.com/openmind/core-gateway/internal/store/cache"
	"github.com/openmind/core-gateway/internal/store/model"
	"github.com/openmind/core-gateway/internal/transport"
	"github.com/openmind/core-gateway/internal/usage"
)

// fakeRepo serves the auth path from a fixed set of accounts.
type fakeRepo struct {
	accounts map[string]*model.Account // key hash -> account
}

func (f *fakeRepo) Accounts() store.AccountRepository { return &fakeAccounts{f.accounts} }
func (f *fakeRepo) Usage() store.UsageRepository { return nil }
func (f *fakeRepo) Close() error { return nil }
func (f *fakeRepo) WithTx(ctx context.Context, fn func(repo store.Repository) error) error {
	return fn(f)
}

type fakeAccounts struct {
	byHash map[string]*model.Account
}

func (f *fakeAccounts) GetByHash(ctx context.Context, hash string) (*model.Account, error) {
	acct, ok := f.byHash[hash]
	if !ok {
		return nil, errors.New("not found")
	}
	return acct, nil
}

func (f *fakeAccounts) Create(ctx context.Context, acct *model.Account) error { return nil }
func (f *fakeAccounts) UpdateBalance(ctx context.Context, id string, b int64) error { return nil }
func (f *fakeAccounts) Touch(ctx context.Context, id string) error { return nil }
func (f *fakeAccounts) List(ctx context.Context) ([]model.Account, error) { return nil, nil }

type nopIngestor struct{}

func (nopIngestor) Log(e usage.Entry) {}
func (nopIngestor) Start(ctx context.Context) {}
func (nopIngestor) Stop() {}

const (
	staticKey = "om1_static_test_key"
	issuedKey = "om1_issued_free"
)

func hashKey(k string) string {
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:])
}

func setupRouter(t *testing.T, upstreamURL string, accounts map[string]*model.Account) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	reg := registry.New([]registry.ProviderSpec{
		{
			ID:        "openai",
			Prefixes:  []string{"gpt-4o", "gpt-4.1", "o1"},
			BaseURL:   upstreamURL,
			Dialect:   registry.DialectOpenAI,
			Streaming: true,
		},
		{
			ID:        "deepseek",
			Prefixes:  []string{"deepseek-chat"},
			BaseURL:   upstreamURL,
			Dialect:   registry.DialectOpenAI,
			Streaming: true,
		},
	})

	pool := transport.NewPool([]config.ProviderConfig{
		{
			ID:       "openai",
			Dialect:  "openai",
			BaseURL:  upstreamURL,
			APIKey:   "sk-test",
			Prefixes: []string{"gpt-4o", "gpt-4.1", "o1"},
			Enabled:  true,
		},
		{
			// registered but no credential configured
			ID:       "deepseek",
			Dialect:  "openai",
			BaseURL:  upstreamURL,
			Prefixes: []string{"deepseek-chat"},
			Enabled:  true,
		},
	}, 5*time.Second)

	led := ledger.New()
	svc := gateway.NewService(zap.NewNop(), admission.New(reg, led), led, pool, nopIngestor{})

	repo := &fakeRepo{accounts: accounts}

	r := gin.New()
	r.Use(middleware.ErrorHandler(zap.NewNop()))

	grp := r.Group("/api/core")
	grp.Use(middleware.Auth(repo, cache.NewMemoryCache(), []string{staticKey}))

	chat := NewChatHandler(svc, validator.New())
	grp.POST("/:provider/chat/completions", chat.CreateCompletion)

	models := NewModelsHandler(svc)
	grp.GET("/models", models.ListProviders)

	return r
}

func doRequest(r *gin.Engine, method, path, body, authHeader string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

const validBody = `{"model": "gpt-4o-mini", "messages": [{"role": "user", "content": "Hello"}]}`

func TestCreateCompletion_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"chatcmpl-1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"Hi"},"finish_reason":"stop"}],"usage":{"prompt_tokens":9,"completion_tokens":1,"total_tokens":10}}`)
	}))
	defer srv.Close()

	r := setupRouter(t, srv.URL, nil)

	w := doRequest(r, "POST", "/api/core/openai/chat/completions", validBody, "Bearer "+staticKey)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"id":"chatcmpl-1"`)
	assert.Contains(t, w.Body.String(), `"content":"Hi"`)
}

func TestCreateCompletion_UnsupportedProvider(t *testing.T) {
	r := setupRouter(t, "http://localhost:1", nil)

	w := doRequest(r, "POST", "/api/core/invalid_provider/chat/completions", validBody, "Bearer "+staticKey)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error": "unsupported model provider: invalid_provider"}`, w.Body.String())
}

func TestCreateCompletion_UnsupportedModel(t *testing.T) {
	r := setupRouter(t, "http://localhost:1", nil)

	body := `{"model": "gpt-6", "messages": [{"role": "user", "content": "Hello"}]}`
	w := doRequest(r, "POST", "/api/core/openai/chat/completions", body, "Bearer "+staticKey)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error": "unsupported model: gpt-6. Supported model prefixes for openai: [gpt-4o, gpt-4.1, o1]"}`, w.Body.String())
}

func TestCreateCompletion_ProviderNotConfigured(t *testing.T) {
	r := setupRouter(t, "http://localhost:1", nil)

	body := `{"model": "deepseek-chat", "messages": [{"role": "user", "content": "Hello"}]}`
	w := doRequest(r, "POST", "/api/core/deepseek/chat/completions", body, "Bearer "+staticKey)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"error": "deepseek API key not configured"}`, w.Body.String())
}

func TestCreateCompletion_MalformedJSON(t *testing.T) {
	r := setupRouter(t, "http://localhost:1", nil)

	w := doRequest(r, "POST", "/api/core/openai/chat/completions", `{"model": `, "Bearer "+staticKey)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"error"`)
}

func TestCreateCompletion_ValidationFailure(t *testing.T) {
	r := setupRouter(t, "http://localhost:1", nil)

	// no messages at all
	w := doRequest(r, "POST", "/api/core/openai/chat/completions", `{"model": "gpt-4o"}`, "Bearer "+staticKey)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid request")

	// temperature out of range
	body := `{"model": "gpt-4o", "temperature": 9, "messages": [{"role": "user", "content": "Hi"}]}`
	w = doRequest(r, "POST", "/api/core/openai/chat/completions", body, "Bearer "+staticKey)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateCompletion_AuthRequired(t *testing.T) {
	r := setupRouter(t, "http://localhost:1", nil)

	w := doRequest(r, "POST", "/api/core/openai/chat/completions", validBody, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{"error": "missing Authorization header"}`, w.Body.String())

	w = doRequest(r, "POST", "/api/core/openai/chat/completions", validBody, "Basic abc123")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{"error": "invalid Authorization header format"}`, w.Body.String())

	w = doRequest(r, "POST", "/api/core/openai/chat/completions", validBody, "Bearer unknown-key")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{"error": "invalid API key"}`, w.Body.String())
}

func TestCreateCompletion_QuotaExhaustedAccount(t *testing.T) {
	acct := &model.Account{
		ID:       "acct-broke",
		Plan:     string(ledger.PlanCustom),
		RPS:      10,
		Burst:    10,
		Balance:  0,
		IsActive: true,
	}
	r := setupRouter(t, "http://localhost:1", map[string]*model.Account{
		hashKey(issuedKey): acct,
	})

	w := doRequest(r, "POST", "/api/core/openai/chat/completions", validBody, "Bearer "+issuedKey)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "usage allowance exhausted")
}

func TestCreateCompletion_Streaming(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		frames := []string{
			`{"id":"chatcmpl-1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":"Hel"}}]}`,
			`{"id":"chatcmpl-1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":"lo"},"finish_reason":"stop"}]}`,
		}
		for _, f := range frames {
			fmt.Fprintf(w, "data: %s\n\n", f)
			flusher.Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	r := setupRouter(t, srv.URL, nil)

	body := `{"model": "gpt-4o-mini", "stream": true, "messages": [{"role": "user", "content": "Hello"}]}`
	w := doRequest(r, "POST", "/api/core/openai/chat/completions", body, "Bearer "+staticKey)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	out := w.Body.String()
	assert.Contains(t, out, `"content":"Hel"`)
	assert.Contains(t, out, `"content":"lo"`)
	assert.True(t, strings.HasSuffix(out, "data: [DONE]\n\n"))
}

func TestCreateCompletion_StreamingAdmissionFailureIsPlainJSON(t *testing.T) {
	r := setupRouter(t, "http://localhost:1", nil)

	// admission fails before any SSE byte: the response is the plain error
	// shape, not an event stream
	body := `{"model": "gpt-6", "stream": true, "messages": [{"role": "user", "content": "Hi"}]}`
	w := doRequest(r, "POST", "/api/core/openai/chat/completions", body, "Bearer "+staticKey)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.NotEqual(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "unsupported model")
}

func TestListProviders(t *testing.T) {
	r := setupRouter(t, "http://localhost:1", nil)

	w := doRequest(r, "GET", "/api/core/models", "", "Bearer "+staticKey)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"object":"list"`)
	assert.Contains(t, w.Body.String(), `"id":"openai"`)
	assert.Contains(t, w.Body.String(), `"model_prefixes"`)
}
