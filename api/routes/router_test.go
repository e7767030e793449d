package routes_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/materialflow/api/controllers"
	"github.com/angelmondragon/materialflow/api/routes"
	"github.com/angelmondragon/materialflow/internal/approval"
	"github.com/angelmondragon/materialflow/internal/checkpoints"
	"github.com/angelmondragon/materialflow/internal/ledger"
	"github.com/angelmondragon/materialflow/internal/lifecycle"
	"github.com/angelmondragon/materialflow/internal/lifecycle/lifecycletest"
	"github.com/angelmondragon/materialflow/internal/orders"
	"github.com/angelmondragon/materialflow/internal/sequence"
	"github.com/angelmondragon/materialflow/internal/spawn"
	"github.com/angelmondragon/materialflow/pkg/config"
	pkgerrors "github.com/angelmondragon/materialflow/pkg/errors"
	"github.com/angelmondragon/materialflow/pkg/logger"
	"github.com/angelmondragon/materialflow/pkg/outbox"
)

type actor struct {
	id   string
	role string
}

var (
	buyer        = actor{id: "buyer-1", role: "purchase_head"}
	storekeeper  = actor{id: "stores-1", role: "stores"}
	engineer     = actor{id: "eng-1", role: "requester"}
	purchaseHead = actor{id: "ph-1", role: "purchase_head"}
	ceo          = actor{id: "ceo-1", role: "ceo"}
)

func newRouter(t *testing.T, readiness ...controllers.Dependency) http.Handler {
	t.Helper()
	env := lifecycletest.New(t)
	db := env.DB()
	logg := logger.Nop()

	allocator, err := sequence.NewAllocator(sequence.NewDBCounter(db), logg)
	require.NoError(t, err)
	emitter := outbox.NewService(outbox.NewRepository(db), logg)
	chains := approval.NewRepository(db)
	roles, err := approval.ParseRoles([]string{"requester", "purchase_head", "ceo"})
	require.NoError(t, err)

	lines, err := lifecycle.NewService(env.Machine)
	require.NoError(t, err)
	journal, err := ledger.NewService(ledger.NewRepository(db))
	require.NoError(t, err)
	spawner, err := spawn.NewService(spawn.ServiceParams{
		Machine: env.Machine, Records: spawn.NewRepository(db), Allocator: allocator, Logger: logg,
	})
	require.NoError(t, err)
	approvals, err := approval.NewService(approval.ServiceParams{
		DB: env.Client, Machine: env.Machine, Chains: chains, Allocator: allocator, Emitter: emitter, Roles: roles, Logger: logg,
	})
	require.NoError(t, err)
	orderSvc, err := orders.NewService(orders.ServiceParams{
		DB: env.Client, Machine: env.Machine, Chains: chains, Allocator: allocator, Emitter: emitter, Logger: logg,
	})
	require.NoError(t, err)
	checks, err := checkpoints.NewService(checkpoints.NewRepository(db), lifecycle.NewRepository(db))
	require.NoError(t, err)

	return routes.NewRouter(routes.Params{
		Config: &config.Config{
			App:  config.AppConfig{Env: "test"},
			CORS: config.CORSConfig{AllowedOrigins: []string{"http://localhost:3000"}, MaxAge: 60},
		},
		Logger:      logg,
		Readiness:   readiness,
		Metrics:     promhttp.HandlerFor(env.Registry, promhttp.HandlerOpts{}),
		Lines:       lines,
		Ledger:      journal,
		Spawner:     spawner,
		Approvals:   approvals,
		Orders:      orderSvc,
		Checkpoints: checks,
	})
}

func call(t *testing.T, h http.Handler, who actor, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if who.id != "" {
		req.Header.Set("X-Actor-Id", who.id)
		req.Header.Set("X-Actor-Role", who.role)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var env struct {
		Data T `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env.Data
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var env struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env.Error.Code
}

func raiseOrder(t *testing.T, h http.Handler, mpn string, qty int) controllers.PurchaseOrderView {
	t.Helper()
	body := `{"lines":[{"mpn":"` + mpn + `","description":"test part","uom":"pcs","quantity":` +
		itoa(qty) + `,"ratePerUnit":"0.25","gstPercent":"18"}]}`
	rec := call(t, h, buyer, http.MethodPost, "/api/v1/orders", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[controllers.PurchaseOrderView](t, rec)
}

func itoa(n int) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func linePath(order, mpn, lineage string) string {
	return "/api/v1/lines/" + order + "/" + mpn + "/" + lineage
}

func TestPurchaseOrderFlowOverHTTP(t *testing.T) {
	h := newRouter(t)
	po := raiseOrder(t, h, "CAP-EL-100U", 10)

	assert.Regexp(t, `^PO-\d{4}-0001$`, po.PONumber)
	assert.Equal(t, "2.95", po.OrderTotal)
	require.Len(t, po.Lines, 1)
	assert.Equal(t, "po_raised", po.Lines[0].Status)
	assert.Equal(t, 10, po.Lines[0].Quantities.Shortfall)

	path := linePath(po.PONumber, "CAP-EL-100U", "MAIN")

	rec := call(t, h, storekeeper, http.MethodPost, path+"/deliveries", `{"quantity":10}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	line := decode[controllers.LineView](t, rec)
	assert.Equal(t, "qc_pending", line.Status)
	assert.Equal(t, 10, line.Quantities.Undisposed)

	rec = call(t, h, storekeeper, http.MethodGet, path+"/checkpoints", "")
	require.Equal(t, http.StatusOK, rec.Code)
	steps := decode[[]controllers.CheckpointView](t, rec)
	require.Len(t, steps, 3)
	assert.Equal(t, "", steps[0].CategoryPrefix)
	assert.Equal(t, "CAP-EL", steps[2].CategoryPrefix)

	rec = call(t, h, storekeeper, http.MethodPost, path+"/quality", `{"passed":10,"failed":0}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	line = decode[controllers.LineView](t, rec)
	assert.Equal(t, "closed", line.Status)

	rec = call(t, h, storekeeper, http.MethodGet, path+"/movements", "")
	require.Equal(t, http.StatusOK, rec.Code)
	movements := decode[[]controllers.MovementView](t, rec)
	require.Len(t, movements, 2)
	assert.Equal(t, "received", movements[0].Field)
	assert.Equal(t, "passed", movements[1].Field)

	rec = call(t, h, storekeeper, http.MethodGet, "/api/v1/lines?orderNumber="+po.PONumber, "")
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[struct {
		Items []controllers.LineView `json:"items"`
	}](t, rec)
	assert.Empty(t, page.Items, "closed lines are not open")
}

func TestBackorderTokenReplaysOverHTTP(t *testing.T) {
	h := newRouter(t)
	po := raiseOrder(t, h, "RES-10K", 10)
	path := linePath(po.PONumber, "RES-10K", "MAIN")

	rec := call(t, h, storekeeper, http.MethodPost, path+"/deliveries", `{"quantity":6}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "delivery_pending", decode[controllers.LineView](t, rec).Status)

	rec = call(t, h, buyer, http.MethodPost, path+"/backorders", `{"token":"bo-1"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	first := decode[controllers.SpawnView](t, rec)
	assert.Equal(t, "BO-"+po.PONumber+"-01", first.Child.LineageID)
	assert.Equal(t, 4, first.Child.Quantities.Ordered)
	assert.Equal(t, 4, first.Parent.Quantities.Reordered)
	assert.False(t, first.Replayed)

	rec = call(t, h, buyer, http.MethodPost, path+"/backorders", `{"token":"bo-1"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	replay := decode[controllers.SpawnView](t, rec)
	assert.True(t, replay.Replayed)
	assert.Equal(t, first.Child.LineageID, replay.Child.LineageID)

	rec = call(t, h, buyer, http.MethodGet, path+"/lineage", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]controllers.LineView](t, rec), 1)

	rec = call(t, h, buyer, http.MethodGet, path+"/spawns", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	spawns := decode[[]controllers.SpawnRecordView](t, rec)
	require.Len(t, spawns, 1)
	assert.Equal(t, "bo-1", spawns[0].Token)
	assert.Equal(t, "backorder", spawns[0].Kind)
	assert.Equal(t, first.Child.LineageID, spawns[0].ChildLineageID)
	assert.Equal(t, 4, spawns[0].Quantity)
}

func TestDomainErrorsMapToStatusCodes(t *testing.T) {
	h := newRouter(t)
	po := raiseOrder(t, h, "IC-NE555", 5)
	path := linePath(po.PONumber, "IC-NE555", "MAIN")

	rec := call(t, h, storekeeper, http.MethodPost, path+"/deliveries", `{"quantity":6}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, string(pkgerrors.CodeInvariantViolation), errorCode(t, rec))

	rec = call(t, h, actor{}, http.MethodPost, path+"/deliveries", `{"quantity":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = call(t, h, storekeeper, http.MethodPost, path+"/quality", `{"passed":1,"failed":0}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, string(pkgerrors.CodeIllegalTransition), errorCode(t, rec))

	rec = call(t, h, storekeeper, http.MethodPost, path+"/transitions", `{"target":"shipped"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(pkgerrors.CodeValidation), errorCode(t, rec))

	rec = call(t, h, storekeeper, http.MethodPost, path+"/write-offs", `{"scope":"rejected","quantity":1,"note":""}`)
	assert.Equal(t, string(pkgerrors.CodeMissingJustification), errorCode(t, rec))

	rec = call(t, h, storekeeper, http.MethodGet, linePath(po.PONumber, "IC-NE556", "MAIN"), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = call(t, h, buyer, http.MethodPost, "/api/v1/orders", `{"lines":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDirectPOApprovalOverHTTP(t *testing.T) {
	h := newRouter(t)
	body := `{"note":"prototype","lines":[{"mpn":"IC-STM32F103","uom":"pcs","quantity":5,"ratePerUnit":"3.80","gstPercent":"18"}]}`

	rec := call(t, h, engineer, http.MethodPost, "/api/v1/direct-pos", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	chain := decode[controllers.ChainView](t, rec)
	require.NotNil(t, chain.NextRole)
	assert.Equal(t, "purchase_head", *chain.NextRole)
	assert.Equal(t, "open", chain.Status)
	require.Len(t, chain.Slots, 3)
	require.NotNil(t, chain.Slots[0].Decision)

	base := "/api/v1/direct-pos/" + chain.DirectPOID

	rec = call(t, h, ceo, http.MethodPost, base+"/decisions", `{"decision":"approve"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, string(pkgerrors.CodeOutOfSequence), errorCode(t, rec))

	rec = call(t, h, buyer, http.MethodPost, base+"/raise", "")
	assert.Equal(t, string(pkgerrors.CodeIllegalTransition), errorCode(t, rec))

	rec = call(t, h, purchaseHead, http.MethodPost, base+"/decisions", `{"decision":"approve"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "ceo", *decode[controllers.ChainView](t, rec).NextRole)

	rec = call(t, h, ceo, http.MethodPost, base+"/decisions", `{"role":"ceo","decision":"approve"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	chain = decode[controllers.ChainView](t, rec)
	assert.Equal(t, "approved", chain.Status)
	assert.Nil(t, chain.NextRole)
	assert.Equal(t, "ceo_approved", chain.Lines[0].Status)

	rec = call(t, h, engineer, http.MethodPost, base+"/raise", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, string(pkgerrors.CodeForbidden), errorCode(t, rec))

	rec = call(t, h, purchaseHead, http.MethodPost, base+"/raise", "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	po := decode[controllers.PurchaseOrderView](t, rec)
	assert.Equal(t, chain.DirectPOID, po.DirectPOID)
	require.Len(t, po.Lines, 1)
	assert.Equal(t, "po_raised", po.Lines[0].Status)

	rec = call(t, h, purchaseHead, http.MethodGet, base, "")
	require.Equal(t, http.StatusOK, rec.Code)
	chain = decode[controllers.ChainView](t, rec)
	assert.Equal(t, "po_raised", chain.Status)
	require.NotNil(t, chain.POReference)
	assert.Equal(t, po.PONumber, *chain.POReference)
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	down := controllers.Dependency{Name: "redis", Ping: func(context.Context) error { return errors.New("refused") }}
	h := newRouter(t, down)

	rec := call(t, h, actor{}, http.MethodGet, "/health/live", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "test", rec.Header().Get("X-MaterialFlow-Env"))

	rec = call(t, h, actor{}, http.MethodGet, "/health/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, string(pkgerrors.CodeDependency), errorCode(t, rec))

	raiseOrder(t, h, "CAP-100N", 3)
	rec = call(t, h, actor{}, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}
