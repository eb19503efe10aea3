package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	formflow "github.com/goliatone/go-formflow"
	"github.com/goliatone/go-formflow/config"
	"github.com/goliatone/go-formflow/document"
	"github.com/goliatone/go-formflow/schema"
	"github.com/goliatone/go-formflow/service"
	"github.com/goliatone/go-formflow/store"
	"github.com/goliatone/go-formflow/workflow"
	"github.com/labstack/echo/v4"
)

type submitRequest struct {
	ID          string         `json:"id,omitempty"`
	FormID      string         `json:"form_id"`
	FormVersion int            `json:"form_version,omitempty"`
	Values      map[string]any `json:"values"`
}

type transitionRequest struct {
	Values          map[string]any `json:"values"`
	ExpectedVersion int64          `json:"expected_version,omitempty"`
}

type documentView struct {
	ID        string                   `json:"id"`
	Form      formflow.Ref             `json:"form"`
	Workflow  formflow.Ref             `json:"workflow"`
	Phase     string                   `json:"phase"`
	Values    map[string]any           `json:"values"`
	History   []document.HistoryRecord `json:"history"`
	Version   int64                    `json:"version"`
	CreatedAt time.Time                `json:"created_at"`
	UpdatedAt time.Time                `json:"updated_at"`
}

type transitionView struct {
	Document    documentView        `json:"document"`
	Transition  workflow.Transition `json:"transition"`
	From        string              `json:"from"`
	ExecutionID string              `json:"execution_id"`
}

type formView struct {
	ID          string         `json:"id"`
	Name        string         `json:"name,omitempty"`
	Version     int            `json:"version"`
	Application string         `json:"application,omitempty"`
	Workflow    formflow.Ref   `json:"workflow"`
	Fields      []schema.Field `json:"fields"`
}

func viewDocument(doc *document.Document) documentView {
	return documentView{
		ID:        doc.ID,
		Form:      doc.Form,
		Workflow:  doc.Workflow,
		Phase:     doc.Phase,
		Values:    doc.Values.Raw(),
		History:   doc.History,
		Version:   doc.Version,
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}
}

func viewForm(f *schema.Form) formView {
	return formView{
		ID:          f.ID,
		Name:        f.Name,
		Version:     f.Version,
		Application: f.Application,
		Workflow:    f.WorkflowRef(),
		Fields:      f.Fields,
	}
}

// actorFrom reads the caller identity from the actor headers.
func actorFrom(c echo.Context) workflow.Actor {
	h := c.Request().Header
	actor := workflow.Actor{ID: strings.TrimSpace(h.Get(HeaderActorID))}
	for _, role := range strings.Split(h.Get(HeaderActorRoles), ",") {
		if role = strings.TrimSpace(role); role != "" {
			actor.Roles = append(actor.Roles, role)
		}
	}
	return actor
}

// decode reads a JSON body keeping numbers as json.Number so decimal
// values are not rounded through float64. An empty body leaves v as is.
func decode(c echo.Context, v any) error {
	if err := config.DecodeJSON(c.Request().Body, v); err != nil && !errors.Is(err, io.EOF) {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
	}
	return nil
}

// SubmitDocument creates a document.
// (POST /documents)
func (s *Server) SubmitDocument(c echo.Context) error {
	var req submitRequest
	if err := decode(c, &req); err != nil {
		return err
	}
	doc, err := s.svc.Submit(c.Request().Context(), service.SubmitRequest{
		FormID:      req.FormID,
		FormVersion: req.FormVersion,
		DocumentID:  req.ID,
		Values:      req.Values,
		Actor:       actorFrom(c),
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, viewDocument(doc))
}

// ListDocuments lists documents, optionally filtered by form and phase.
// (GET /documents?form_id=&phase=&limit=&offset=)
func (s *Server) ListDocuments(c echo.Context) error {
	filter := store.Filter{
		FormID: c.QueryParam("form_id"),
		Phase:  c.QueryParam("phase"),
	}
	var err error
	if filter.Limit, err = intQuery(c, "limit"); err != nil {
		return err
	}
	if filter.Offset, err = intQuery(c, "offset"); err != nil {
		return err
	}
	docs, err := s.svc.List(c.Request().Context(), filter)
	if err != nil {
		return err
	}
	out := make([]documentView, 0, len(docs))
	for _, doc := range docs {
		out = append(out, viewDocument(doc))
	}
	return c.JSON(http.StatusOK, out)
}

// GetDocument returns one document.
// (GET /documents/:id)
func (s *Server) GetDocument(c echo.Context) error {
	doc, err := s.svc.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, viewDocument(doc))
}

// AvailableTransitions lists the transitions leaving the document's phase
// for the calling actor.
// (GET /documents/:id/transitions)
func (s *Server) AvailableTransitions(c echo.Context) error {
	opts, err := s.svc.Available(c.Request().Context(), c.Param("id"), actorFrom(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, opts)
}

// ApplyTransition applies a transition with an optional value delta.
// (POST /documents/:id/transitions/:transition)
func (s *Server) ApplyTransition(c echo.Context) error {
	var req transitionRequest
	if err := decode(c, &req); err != nil {
		return err
	}
	res, err := s.svc.ApplyTransitionWithRetry(c.Request().Context(), service.ApplyRequest{
		DocumentID:      c.Param("id"),
		TransitionID:    c.Param("transition"),
		Delta:           req.Values,
		Actor:           actorFrom(c),
		ExpectedVersion: req.ExpectedVersion,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, transitionView{
		Document:    viewDocument(res.Document),
		Transition:  res.Transition,
		From:        res.FromPhase,
		ExecutionID: res.ExecutionID,
	})
}

// ListForms returns the latest version of every form.
// (GET /forms)
func (s *Server) ListForms(c echo.Context) error {
	forms := s.svc.ListForms()
	out := make([]formView, 0, len(forms))
	for _, f := range forms {
		out = append(out, viewForm(f))
	}
	return c.JSON(http.StatusOK, out)
}

// GetForm returns the latest version of a form.
// (GET /forms/:id)
func (s *Server) GetForm(c echo.Context) error {
	return s.writeForm(c, c.Param("id"), 0)
}

// GetFormVersion returns one version of a form.
// (GET /forms/:id/versions/:version)
func (s *Server) GetFormVersion(c echo.Context) error {
	version, err := strconv.Atoi(c.Param("version"))
	if err != nil || version <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "version must be a positive integer")
	}
	return s.writeForm(c, c.Param("id"), version)
}

func (s *Server) writeForm(c echo.Context, id string, version int) error {
	f, ok := s.svc.Registry().ResolveForm(id, version)
	if !ok {
		return formflow.CloneError(formflow.ErrNotFound, "form "+formflow.Ref{ID: id, Version: version}.String()+" is not registered", nil, nil)
	}
	return c.JSON(http.StatusOK, viewForm(f))
}

// CreateForm publishes a form version.
// (POST /forms)
func (s *Server) CreateForm(c echo.Context) error {
	var spec config.FormSpec
	if err := decode(c, &spec); err != nil {
		return err
	}
	form, err := spec.Form()
	if err != nil {
		return formflow.CloneError(formflow.ErrSchema, "form "+spec.ID+": "+err.Error(), err, nil)
	}
	published, err := s.svc.PublishForm(c.Request().Context(), form)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, viewForm(published))
}

// CreateWorkflow publishes a workflow version.
// (POST /workflows)
func (s *Server) CreateWorkflow(c echo.Context) error {
	var spec config.WorkflowSpec
	if err := decode(c, &spec); err != nil {
		return err
	}
	wf, err := s.svc.PublishWorkflow(c.Request().Context(), spec.Definition())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, wf.Definition())
}

// Health reports that the server is up.
// (GET /health)
func (s *Server) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// ListWorkflows returns the latest version of every workflow.
// (GET /workflows)
func (s *Server) ListWorkflows(c echo.Context) error {
	wfs := s.svc.ListWorkflows()
	out := make([]workflow.Definition, 0, len(wfs))
	for _, wf := range wfs {
		out = append(out, wf.Definition())
	}
	return c.JSON(http.StatusOK, out)
}

// GetWorkflow returns the latest version of a workflow.
// (GET /workflows/:id)
func (s *Server) GetWorkflow(c echo.Context) error {
	wf, ok := s.svc.Registry().ResolveWorkflow(c.Param("id"), 0)
	if !ok {
		return formflow.CloneError(formflow.ErrNotFound, "workflow "+c.Param("id")+" is not registered", nil, nil)
	}
	return c.JSON(http.StatusOK, wf.Definition())
}

func intQuery(c echo.Context, name string) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, name+" must be a non-negative integer")
	}
	return n, nil
}
