package observability

import (
	"testing"
	"time"

	"github.com/danmuck/edgelink/internal/testutil/testlog"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("edgelink", "GET", "/health", 200, 12*time.Millisecond)
	RecordGatewayState("active")
	RecordGatewayClose(4000, "resume")
	RecordGatewayDispatch("MESSAGE_CREATE")
	RecordHeartbeatLatency(40 * time.Millisecond)
	RecordRESTRequest("GET /channels/1/messages", "GET", 200, 80*time.Millisecond)
	RecordRESTRetry("GET /channels/1/messages", "rate_limited")
	RecordRateLimitWait("bucket", 500*time.Millisecond)

	if got := testutil.ToFloat64(gatewayDispatch.WithLabelValues("MESSAGE_CREATE")); got < 1 {
		t.Fatalf("expected dispatch counter to move, got %v", got)
	}
	if got := testutil.ToFloat64(restRetries.WithLabelValues("GET /channels/1/messages", "rate_limited")); got < 1 {
		t.Fatalf("expected retry counter to move, got %v", got)
	}
}
