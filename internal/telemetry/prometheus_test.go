package telemetry

import (
	"context"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/guillermoBallester/querygate/internal/core/port"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPromInstruments_Counters(t *testing.T) {
	p := NewPromInstruments()
	ctx := context.Background()

	p.IncrementQueryCount(ctx)
	p.IncrementQueryCount(ctx)
	p.IncrementQueryErrors(ctx)
	p.IncrementValidationRejections(ctx)
	p.IncrementRateLimited(ctx)
	p.RecordQueryDuration(ctx, 40)
	p.RecordToolDuration(ctx, 45)

	assert.Equal(t, 2.0, testutil.ToFloat64(p.queries))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.queryErrors))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.rejections))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.rateLimited))
}

func TestPromInstruments_Handler(t *testing.T) {
	p := NewPromInstruments()
	p.IncrementRateLimited(context.Background())

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, string(body), "querygate_rate_limited_total 1")
	assert.Contains(t, string(body), "go_goroutines")
}

type countingInst struct {
	port.NoopInstrumentation
	queries int
}

func (c *countingInst) IncrementQueryCount(context.Context) { c.queries++ }

func TestMulti_Forwards(t *testing.T) {
	a, b := &countingInst{}, &countingInst{}
	m := Multi{a, b, NoopInstruments()}

	m.IncrementQueryCount(context.Background())
	m.IncrementRateLimited(context.Background())

	assert.Equal(t, 1, a.queries)
	assert.Equal(t, 1, b.queries)
}
