package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestRequestLogger(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = prev })

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	var seenIP string
	var ctxLogged bool
	router := gin.New()
	router.Use(otelgin.Middleware("test", otelgin.WithTracerProvider(tp)), RequestLogger(map[string]bool{"/healthz": true}))
	router.GET("/auth/sessions", func(c *gin.Context) {
		seenIP = ClientIP(c.Request.Context())
		ctxLogged = zerolog.Ctx(c.Request.Context()).GetLevel() != zerolog.Disabled
		c.Status(http.StatusTeapot)
	})
	router.GET("/boom", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })
	router.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/auth/sessions", nil)
	req.Header.Set("X-Forwarded-For", "198.51.100.7, 10.0.0.1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "198.51.100.7", seenIP)
	assert.True(t, ctxLogged, "handlers get the request logger on their context")

	spans := recorder.Ended()
	if assert.Len(t, spans, 1) {
		traceID := spans[0].SpanContext().TraceID().String()
		assert.Contains(t, buf.String(), `"trace_id":"`+traceID+`"`)
	}
	assert.Contains(t, buf.String(), `"route":"/auth/sessions"`)
	assert.Contains(t, buf.String(), `"status":418`)

	buf.Reset()
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Contains(t, buf.String(), `"level":"error"`)

	buf.Reset()
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Empty(t, buf.String(), "skipped paths are not logged")
}
