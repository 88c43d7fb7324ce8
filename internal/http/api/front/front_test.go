package front

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/toolgate/toolgate/internal/bonus"
	"github.com/toolgate/toolgate/internal/catalog"
	"github.com/toolgate/toolgate/internal/clock"
	"github.com/toolgate/toolgate/internal/cooldown"
	"github.com/toolgate/toolgate/internal/db"
	"github.com/toolgate/toolgate/internal/entitlement"
	"github.com/toolgate/toolgate/internal/ledger"
	"github.com/toolgate/toolgate/internal/metering"
	"github.com/toolgate/toolgate/internal/models"
	"github.com/toolgate/toolgate/internal/run"
	"github.com/toolgate/toolgate/internal/usagewindow"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func newTestRouter(t *testing.T) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	conn, errOpen := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	resolver, errResolver := clock.NewResolver("UTC")
	if errResolver != nil {
		t.Fatalf("resolver: %v", errResolver)
	}

	cat := catalog.New(conn)
	ent := entitlement.NewResolver(conn, cat)
	windows := usagewindow.NewTracker(conn, resolver)
	ledgerStore := ledger.NewStore(conn)
	bonusStore := bonus.NewStore(conn)
	cooldowns := cooldown.NewManager(nil, nil, nil)
	meter := metering.NewMeter(conn, ledgerStore, bonusStore, windows)
	orchestrator := run.NewOrchestrator(cat, ent, windows, ledgerStore, bonusStore, cooldowns, meter, run.EchoExecutor{}, nil)

	if errSeed := conn.Create(&models.Tool{
		Slug:            "summarize",
		Name:            "Summarize",
		TokensPerRun:    900,
		IncludedInPlans: datatypes.JSON([]byte(`["free"]`)),
		DailyRunsByPlan: datatypes.JSON([]byte(`{}`)),
		Enabled:         true,
	}).Error; errSeed != nil {
		t.Fatalf("seed tool: %v", errSeed)
	}

	engine := gin.New()
	RegisterFrontRoutes(engine, cat, orchestrator)
	return engine, conn
}

func doRequest(t *testing.T, engine *gin.Engine, method, path, body string, identity bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if identity {
		req.Header.Set(HeaderActorID, "u1")
		req.Header.Set(HeaderPlanID, "free")
	}
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	return rec
}

func TestFront_RequiresActorHeader(t *testing.T) {
	engine, _ := newTestRouter(t)
	rec := doRequest(t, engine, http.MethodGet, "/api/usage", "", false)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestFront_RunEndpoint(t *testing.T) {
	engine, _ := newTestRouter(t)

	rec := doRequest(t, engine, http.MethodPost, "/api/run/summarize", `{"input":{"text":"hi"}}`, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body %s", rec.Code, rec.Body.String())
	}
	var result run.Result
	if errDecode := json.Unmarshal(rec.Body.Bytes(), &result); errDecode != nil {
		t.Fatalf("decode: %v", errDecode)
	}
	if result.Status != run.StatusOK || result.RunID == "" {
		t.Fatalf("unexpected result %+v", result)
	}

	rec = doRequest(t, engine, http.MethodPost, "/api/run/nope", "", true)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown tool, got %d", rec.Code)
	}
}

func TestFront_RunLockedReturns402(t *testing.T) {
	engine, _ := newTestRouter(t)

	// Two 900-token runs exhaust the free 2000 allowance.
	for i := 0; i < 2; i++ {
		rec := doRequest(t, engine, http.MethodPost, "/api/run/summarize", "", true)
		if rec.Code != http.StatusOK {
			t.Fatalf("run %d: expected 200, got %d body %s", i, rec.Code, rec.Body.String())
		}
	}

	rec := doRequest(t, engine, http.MethodPost, "/api/run/summarize", "", true)
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d body %s", rec.Code, rec.Body.String())
	}
	var payload struct {
		Status string `json:"status"`
		Lock   struct {
			Kind string `json:"kind"`
		} `json:"lock"`
	}
	if errDecode := json.Unmarshal(rec.Body.Bytes(), &payload); errDecode != nil {
		t.Fatalf("decode: %v", errDecode)
	}
	if payload.Status != run.StatusLocked || payload.Lock.Kind != "tokens" {
		t.Fatalf("unexpected lock payload %+v", payload)
	}
}

func TestFront_ToolsAndUsage(t *testing.T) {
	engine, _ := newTestRouter(t)

	rec := doRequest(t, engine, http.MethodGet, "/api/tools", "", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("tools: expected 200, got %d body %s", rec.Code, rec.Body.String())
	}
	var toolsPayload struct {
		Tools []struct {
			Slug string `json:"slug"`
			Lock struct {
				Kind string `json:"kind"`
			} `json:"lock"`
		} `json:"tools"`
	}
	if errDecode := json.Unmarshal(rec.Body.Bytes(), &toolsPayload); errDecode != nil {
		t.Fatalf("decode tools: %v", errDecode)
	}
	if len(toolsPayload.Tools) != 1 || toolsPayload.Tools[0].Slug != "summarize" {
		t.Fatalf("unexpected tools payload %+v", toolsPayload)
	}
	if toolsPayload.Tools[0].Lock.Kind != "none" {
		t.Fatalf("expected unlocked badge, got %q", toolsPayload.Tools[0].Lock.Kind)
	}

	rec = doRequest(t, engine, http.MethodGet, "/api/usage", "", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("usage: expected 200, got %d body %s", rec.Code, rec.Body.String())
	}
	var summary run.UsageSummary
	if errDecode := json.Unmarshal(rec.Body.Bytes(), &summary); errDecode != nil {
		t.Fatalf("decode usage: %v", errDecode)
	}
	if summary.PlanSlug != "free" || summary.DailyTokenCap != 2000 {
		t.Fatalf("unexpected usage summary %+v", summary)
	}
}
