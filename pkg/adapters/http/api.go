package http

import (
	"context"
	_ "embed"
	"fmt"
	"net/http"
	"sync"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
)

//go:embed openapi.yaml
var openapiSpec []byte

var (
	swaggerOnce sync.Once
	swaggerDoc  *openapi3.T
	swaggerErr  error
)

// rawSpec returns the embedded OpenAPI document.
func rawSpec() ([]byte, error) {
	return openapiSpec, nil
}

// GetSwagger parses and validates the embedded OpenAPI document.
func GetSwagger() (*openapi3.T, error) {
	swaggerOnce.Do(func() {
		loader := openapi3.NewLoader()
		doc, err := loader.LoadFromData(openapiSpec)
		if err != nil {
			swaggerErr = fmt.Errorf("error loading openapi spec: %w", err)
			return
		}
		if err := doc.Validate(context.Background()); err != nil {
			swaggerErr = fmt.Errorf("invalid openapi spec: %w", err)
			return
		}
		swaggerDoc = doc
	})
	return swaggerDoc, swaggerErr
}

// ResolveConflictParams defines parameters for ResolveConflict.
type ResolveConflictParams struct {
	Keep string `form:"keep" json:"keep"`
}

// SubscribeEventsParams defines parameters for SubscribeEvents.
type SubscribeEventsParams struct {
	UserId     *string `form:"user_id,omitempty" json:"user_id,omitempty"`
	PlaybookId *string `form:"playbook_id,omitempty" json:"playbook_id,omitempty"`
	Watch      *string `form:"watch,omitempty" json:"watch,omitempty"`
}

// StartPlaybookJSONRequestBody is the optional body of StartPlaybook.
type StartPlaybookJSONRequestBody struct {
	ExternalRef string `json:"external_ref,omitempty"`
}

// ServerInterface lists the operations of openapi.yaml.
type ServerInterface interface {
	GetHealth(w http.ResponseWriter, r *http.Request)
	GetInfo(w http.ResponseWriter, r *http.Request)
	ListPlaybooks(w http.ResponseWriter, r *http.Request)
	GetPlaybook(w http.ResponseWriter, r *http.Request, playbookID string)
	GetStatus(w http.ResponseWriter, r *http.Request, userID string, playbookID string)
	ResetPlaybook(w http.ResponseWriter, r *http.Request, userID string, playbookID string)
	StartPlaybook(w http.ResponseWriter, r *http.Request, userID string, playbookID string)
	SaveResponse(w http.ResponseWriter, r *http.Request, userID string, playbookID string, itemID string)
	MoveNext(w http.ResponseWriter, r *http.Request, userID string, playbookID string)
	MovePrevious(w http.ResponseWriter, r *http.Request, userID string, playbookID string)
	JumpTo(w http.ResponseWriter, r *http.Request, userID string, playbookID string, index int)
	AbandonPlaybook(w http.ResponseWriter, r *http.Request, userID string, playbookID string)
	ResolveConflict(w http.ResponseWriter, r *http.Request, userID string, playbookID string, params ResolveConflictParams)
	SubscribeEvents(w http.ResponseWriter, r *http.Request, params SubscribeEventsParams)
}

// ServerInterfaceWrapper binds request parameters before calling the handler.
type ServerInterfaceWrapper struct {
	Handler          ServerInterface
	ErrorHandlerFunc func(w http.ResponseWriter, r *http.Request, err error)
}

func (siw *ServerInterfaceWrapper) pathParam(w http.ResponseWriter, r *http.Request, name string, dest any) bool {
	err := runtime.BindStyledParameterWithOptions("simple", name, chi.URLParam(r, name), dest,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Required: true})
	if err != nil {
		siw.ErrorHandlerFunc(w, r, fmt.Errorf("invalid format for parameter %s: %w", name, err))
		return false
	}
	return true
}

func (siw *ServerInterfaceWrapper) session(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	var userID, playbookID string
	if !siw.pathParam(w, r, "userID", &userID) || !siw.pathParam(w, r, "playbookID", &playbookID) {
		return "", "", false
	}
	return userID, playbookID, true
}

func (siw *ServerInterfaceWrapper) GetHealth(w http.ResponseWriter, r *http.Request) {
	siw.Handler.GetHealth(w, r)
}

func (siw *ServerInterfaceWrapper) GetInfo(w http.ResponseWriter, r *http.Request) {
	siw.Handler.GetInfo(w, r)
}

func (siw *ServerInterfaceWrapper) ListPlaybooks(w http.ResponseWriter, r *http.Request) {
	siw.Handler.ListPlaybooks(w, r)
}

func (siw *ServerInterfaceWrapper) GetPlaybook(w http.ResponseWriter, r *http.Request) {
	var playbookID string
	if !siw.pathParam(w, r, "playbookID", &playbookID) {
		return
	}
	siw.Handler.GetPlaybook(w, r, playbookID)
}

func (siw *ServerInterfaceWrapper) sessionOp(op func(http.ResponseWriter, *http.Request, string, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, playbookID, ok := siw.session(w, r)
		if !ok {
			return
		}
		op(w, r, userID, playbookID)
	}
}

func (siw *ServerInterfaceWrapper) SaveResponse(w http.ResponseWriter, r *http.Request) {
	userID, playbookID, ok := siw.session(w, r)
	if !ok {
		return
	}
	var itemID string
	if !siw.pathParam(w, r, "itemID", &itemID) {
		return
	}
	siw.Handler.SaveResponse(w, r, userID, playbookID, itemID)
}

func (siw *ServerInterfaceWrapper) JumpTo(w http.ResponseWriter, r *http.Request) {
	userID, playbookID, ok := siw.session(w, r)
	if !ok {
		return
	}
	var index int
	if !siw.pathParam(w, r, "index", &index) {
		return
	}
	siw.Handler.JumpTo(w, r, userID, playbookID, index)
}

func (siw *ServerInterfaceWrapper) ResolveConflict(w http.ResponseWriter, r *http.Request) {
	userID, playbookID, ok := siw.session(w, r)
	if !ok {
		return
	}
	var params ResolveConflictParams
	if err := runtime.BindQueryParameter("form", true, true, "keep", r.URL.Query(), &params.Keep); err != nil {
		siw.ErrorHandlerFunc(w, r, fmt.Errorf("invalid format for parameter keep: %w", err))
		return
	}
	siw.Handler.ResolveConflict(w, r, userID, playbookID, params)
}

func (siw *ServerInterfaceWrapper) SubscribeEvents(w http.ResponseWriter, r *http.Request) {
	var params SubscribeEventsParams
	query := r.URL.Query()
	for name, dest := range map[string]**string{
		"user_id":     &params.UserId,
		"playbook_id": &params.PlaybookId,
		"watch":       &params.Watch,
	} {
		if err := runtime.BindQueryParameter("form", true, false, name, query, dest); err != nil {
			siw.ErrorHandlerFunc(w, r, fmt.Errorf("invalid format for parameter %s: %w", name, err))
			return
		}
	}
	siw.Handler.SubscribeEvents(w, r, params)
}

// HandlerFromMux registers the operations of si on r.
func HandlerFromMux(si ServerInterface, r chi.Router) http.Handler {
	wrapper := ServerInterfaceWrapper{
		Handler: si,
		ErrorHandlerFunc: func(w http.ResponseWriter, r *http.Request, err error) {
			writeError(w, http.StatusBadRequest, "bad_request", err)
		},
	}

	r.Get("/health", wrapper.GetHealth)
	r.Get("/info", wrapper.GetInfo)
	r.Get("/playbooks", wrapper.ListPlaybooks)
	r.Get("/playbooks/{playbookID}", wrapper.GetPlaybook)
	r.Get("/events", wrapper.SubscribeEvents)

	r.Route("/users/{userID}/playbooks/{playbookID}", func(r chi.Router) {
		r.Get("/", wrapper.sessionOp(si.GetStatus))
		r.Delete("/", wrapper.sessionOp(si.ResetPlaybook))
		r.Post("/start", wrapper.sessionOp(si.StartPlaybook))
		r.Put("/responses/{itemID}", wrapper.SaveResponse)
		r.Post("/next", wrapper.sessionOp(si.MoveNext))
		r.Post("/previous", wrapper.sessionOp(si.MovePrevious))
		r.Post("/jump/{index}", wrapper.JumpTo)
		r.Post("/abandon", wrapper.sessionOp(si.AbandonPlaybook))
		r.Post("/resolve", wrapper.ResolveConflict)
	})
	return r
}
