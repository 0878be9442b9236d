/*
 * metrics_test.go
 *
 * Copyright 2026 Benjamin Barenblat
 */
/*
 * This file is part of Scoville.
 *
 * It is licensed under the MIT license. The full license text can be found
 * in the License.txt file at the root of this project.
 */

package metrics

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledCollectorIsNil(t *testing.T) {
	c := NewCollector(Config{Enabled: false})
	assert.Nil(t, c)

	// A nil collector accepts observations without blowing up.
	c.Record("getattr", time.Millisecond, false)
	assert.NoError(t, c.Shutdown(context.Background()))
}

func TestRecord(t *testing.T) {
	c := NewCollector(Config{Enabled: true, Address: "localhost:0", Path: "/metrics"})
	require.NotNil(t, c)

	c.Record("getattr", 2*time.Millisecond, false)
	c.Record("getattr", time.Millisecond, true)
	c.Record("readdir", time.Millisecond, false)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.operations.WithLabelValues("getattr")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.errors.WithLabelValues("getattr")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.operations.WithLabelValues("readdir")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.errors.WithLabelValues("readdir")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	c := NewCollector(Config{Enabled: true, Address: "localhost:0", Path: "/metrics"})
	require.NotNil(t, c)
	c.Record("open", time.Millisecond, false)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, req)

	body := rec.Body.String()
	assert.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(body, "scoville_operations_total"), body)
	assert.True(t, strings.Contains(body, `op="open"`), body)
}
