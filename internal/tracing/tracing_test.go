package tracing

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func TestInitDisabledIsNoop(t *testing.T) {
	shutdown, err := Init(t.Context(), Options{})
	require.NoError(t, err)
	require.NoError(t, shutdown(t.Context()))
}

func TestMiddlewarePassesSpanContext(t *testing.T) {
	shutdown, err := Init(t.Context(), Options{Enabled: true, SampleRatio: 1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = shutdown(t.Context()) })

	var sawSpan bool
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawSpan = trace.SpanContextFromContext(r.Context()).IsValid()
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequestWithContext(t.Context(), http.MethodGet, "/k", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.True(t, sawSpan, "handler runs inside a valid span")
}

func TestEndpointHelpers(t *testing.T) {
	t.Parallel()

	require.Equal(t, "collector:4318", stripScheme("HTTP://collector:4318"))
	require.Equal(t, "collector:4317", stripScheme("collector:4317"))
	require.True(t, isInsecure("http://collector:4318"))
	require.True(t, isInsecure("localhost:4317"))
	require.False(t, isInsecure("https://collector.example.com"))
}
