package observability

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func scrape(t *testing.T) string {
	t.Helper()
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("read metrics body: %v", err)
	}
	return string(body)
}

func TestHandlerExposesAgentMetrics(t *testing.T) {
	RecordCycle("ok", 2*time.Second)
	RecordTrade("BUY", "REJECTED", "liquidity", false)
	UpdateGroups(5, 20, 1)

	body := scrape(t)
	for _, want := range []string{
		`dex_trade_agent_scheduler_cycles_total{status="ok"}`,
		`dex_trade_agent_execution_trades_total{action="BUY",outcome="REJECTED",reason="liquidity",simulated="false"}`,
		`dex_trade_agent_universe_group_size{group="hot"} 5`,
		`dex_trade_agent_universe_disabled_tokens 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q in /metrics output", want)
		}
	}
}

func TestRecordGasRoundTrip_MarksRegime(t *testing.T) {
	RecordGasRoundTrip(3.5, "normal")

	body := scrape(t)
	if !strings.Contains(body, `dex_trade_agent_gas_regime{regime="normal"} 1`) {
		t.Error("expected normal regime gauge set to 1")
	}
	if !strings.Contains(body, `dex_trade_agent_gas_regime{regime="busy"} 0`) {
		t.Error("expected busy regime gauge set to 0")
	}
}
