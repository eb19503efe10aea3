package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goliatone/go-formflow/field"
	"github.com/goliatone/go-formflow/logging"
	"github.com/goliatone/go-formflow/schema"
	"github.com/goliatone/go-formflow/service"
	"github.com/goliatone/go-formflow/store"
	"github.com/goliatone/go-formflow/workflow"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRequests struct{ routes []string }

func (f *fakeRequests) RecordRequest(method, route string, status int, _ time.Duration) {
	f.routes = append(f.routes, method+" "+route)
}

func newTestServer(t *testing.T, opts ...Option) *echo.Echo {
	t.Helper()
	ctx := context.Background()
	svc := service.New(schema.NewRegistry(), store.NewMemoryStore(),
		service.WithLogger(logging.Nop{}),
		service.WithIDGenerator(func() string { return "doc-1" }),
	)
	_, err := svc.PublishWorkflow(ctx, workflow.Definition{
		ID:      "approval",
		Initial: "draft",
		Phases:  []workflow.Phase{{ID: "draft"}, {ID: "review"}, {ID: "approved", Terminal: true}},
		Transitions: []workflow.Transition{
			{ID: "submit", From: "draft", To: "review", Guard: workflow.Guard{RequiredFields: []string{"title"}}},
			{ID: "approve", From: "review", To: "approved", Guard: workflow.Guard{Roles: []string{"manager"}}},
		},
	})
	require.NoError(t, err)
	precision := int32(2)
	zero := decimal.Zero
	_, err = svc.PublishForm(ctx, schema.Form{
		ID:         "expense",
		WorkflowID: "approval",
		Fields: []schema.Field{
			{Name: "title", Kind: field.KindText},
			{Name: "amount", Kind: field.KindNumeric, Required: true, Constraints: field.Constraints{Min: &zero, Precision: &precision}},
		},
	})
	require.NoError(t, err)
	opts = append([]Option{WithLogger(logging.Nop{})}, opts...)
	return NewServer(svc, opts...).Echo()
}

func do(t *testing.T, e *echo.Echo, method, path, body string, roles ...string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(HeaderActorID, "u-1")
	if len(roles) > 0 {
		req.Header.Set(HeaderActorRoles, strings.Join(roles, ","))
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	var out map[string]any
	if strings.HasPrefix(strings.TrimSpace(rec.Body.String()), "{") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestDocumentLifecycleOverHTTP(t *testing.T) {
	e := newTestServer(t)

	rec, body := do(t, e, http.MethodPost, "/documents", `{"form_id":"expense","values":{"amount":12.50}}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "draft", body["phase"])
	assert.Contains(t, rec.Body.String(), `"amount":12.5`)

	rec, body = do(t, e, http.MethodPost, "/documents/doc-1/transitions/submit", `{}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "FORMFLOW_TRANSITION_FAILED", body["code"])
	details := body["details"].(map[string]any)
	assert.Equal(t, "missing_required_data", details["kind"])

	rec, body = do(t, e, http.MethodPost, "/documents/doc-1/transitions/submit", `{"values":{"title":"Taxi"}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "draft", body["from"])
	assert.Equal(t, "review", body["document"].(map[string]any)["phase"])

	rec, _ = do(t, e, http.MethodPost, "/documents/doc-1/transitions/submit", `{}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, _ = do(t, e, http.MethodPost, "/documents/doc-1/transitions/approve", ``, "author")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = do(t, e, http.MethodPost, "/documents/doc-1/transitions/teleport", ``)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = do(t, e, http.MethodGet, "/documents/doc-1/transitions", ``, "manager")
	require.Equal(t, http.StatusOK, rec.Code)
	var opts []workflow.Option
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &opts))
	require.Len(t, opts, 1)
	assert.True(t, opts[0].Allowed)

	rec, _ = do(t, e, http.MethodPost, "/documents/doc-1/transitions/approve", `{"expected_version": 1}`, "manager")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, body = do(t, e, http.MethodPost, "/documents/doc-1/transitions/approve", `{"expected_version": 2}`, "manager")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "approved", body["document"].(map[string]any)["phase"])

	rec, body = do(t, e, http.MethodGet, "/documents/doc-1", ``)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["history"], 3)
}

func TestValidationErrorsAreReportedTogether(t *testing.T) {
	e := newTestServer(t)
	rec, body := do(t, e, http.MethodPost, "/documents", `{"form_id":"expense","values":{"amount":1.005,"title":7,"extra":true}}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "FORMFLOW_VALIDATION_FAILED", body["code"])
	assert.Len(t, body["details"], 3)
}

func TestErrorStatusMapping(t *testing.T) {
	e := newTestServer(t)

	rec, body := do(t, e, http.MethodGet, "/documents/nope", ``)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "FORMFLOW_NOT_FOUND", body["code"])

	rec, _ = do(t, e, http.MethodPost, "/documents", `{"form_id":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, e, http.MethodGet, "/documents?limit=-1", ``)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, e, http.MethodGet, "/forms/expense/versions/zero", ``)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = do(t, e, http.MethodGet, "/workflows/missing", ``)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDefinitionEndpoints(t *testing.T) {
	e := newTestServer(t)

	rec, _ := do(t, e, http.MethodGet, "/forms", ``)
	require.Equal(t, http.StatusOK, rec.Code)
	var forms []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &forms))
	require.Len(t, forms, 1)
	assert.Equal(t, "expense", forms[0]["id"])

	rec, body := do(t, e, http.MethodGet, "/forms/expense/versions/1", ``)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"id": "approval", "version": 1.0}, body["workflow"])

	rec, body = do(t, e, http.MethodGet, "/workflows/approval", ``)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "draft", body["initial"])
}

func TestCreateDefinitionsOverHTTP(t *testing.T) {
	e := newTestServer(t)

	rec, body := do(t, e, http.MethodPost, "/workflows", `{
		"id": "approval",
		"initial": "draft",
		"phases": [{"id": "draft"}, {"id": "done", "terminal": true}],
		"transitions": [{"id": "finish", "from": "draft", "to": "done"}]
	}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, 2.0, body["version"])

	rec, body = do(t, e, http.MethodPost, "/forms", `{
		"id": "expense",
		"workflow": "approval",
		"fields": [{"name": "rate", "type": "numeric", "min": 0.12345678901234567890}]
	}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, 2.0, body["version"])
	assert.Equal(t, map[string]any{"id": "approval", "version": 2.0}, body["workflow"])
	assert.Contains(t, rec.Body.String(), `"min":"0.1234567890123456789"`)

	rec, body = do(t, e, http.MethodGet, "/forms/expense", ``)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2.0, body["version"])
}

func TestCreateDefinitionsReportSchemaIssues(t *testing.T) {
	e := newTestServer(t)

	rec, body := do(t, e, http.MethodPost, "/workflows", `{"id": "loop", "initial": "a", "phases": [{"id": "a"}]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "FORMFLOW_SCHEMA_INVALID", body["code"])
	assert.NotEmpty(t, body["details"])

	rec, body = do(t, e, http.MethodPost, "/forms", `{"id": "orphan", "workflow": "missing", "fields": [{"name": "a", "type": "text"}]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "FORMFLOW_SCHEMA_INVALID", body["code"])

	rec, body = do(t, e, http.MethodPost, "/forms", `{"id": "odd", "workflow": "approval", "fields": [{"name": "a", "type": "colour"}]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "FORMFLOW_SCHEMA_INVALID", body["code"])

	rec, _ = do(t, e, http.MethodGet, "/forms/orphan", ``)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth(t *testing.T) {
	rec, body := do(t, newTestServer(t), http.MethodGet, "/health", ``)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
}

func TestMetricsEndpointAndRequestRecording(t *testing.T) {
	reqs := &fakeRequests{}
	e := newTestServer(t,
		WithRequestRecorder(reqs),
		WithMetricsHandler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("ok"))
		})),
	)

	rec, _ := do(t, e, http.MethodGet, "/metrics", ``)
	assert.Equal(t, http.StatusOK, rec.Code)
	do(t, e, http.MethodGet, "/documents/doc-9", ``)
	assert.Equal(t, []string{"GET /metrics", "GET /documents/:id"}, reqs.routes)
}

func TestMapErrorFallsBackToInternal(t *testing.T) {
	status, body := MapError(assert.AnError)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, codeInternal, body.Code)
}
