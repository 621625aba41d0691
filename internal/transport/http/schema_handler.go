package http

import (
	"net/http"
	"sort"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/invopop/jsonschema"

	apierrors "ratecal/internal/errors"
	api "ratecal/pkg/contracts/api/v1"
)

// SchemaHandler publishes JSON Schemas of the request contract.
type SchemaHandler struct {
	errorHandler *apierrors.ErrorHandler
	once         sync.Once
	schemas      map[string]*jsonschema.Schema
}

// NewSchemaHandler creates a schema handler
func NewSchemaHandler(errorHandler *apierrors.ErrorHandler) *SchemaHandler {
	return &SchemaHandler{errorHandler: errorHandler}
}

// Routes returns the schema router
func (h *SchemaHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.Index)
	r.Get("/{name}", h.Get)
	return r
}

func (h *SchemaHandler) load() map[string]*jsonschema.Schema {
	h.once.Do(func() {
		r := &jsonschema.Reflector{DoNotReference: true}
		h.schemas = map[string]*jsonschema.Schema{
			"calibration-request": r.Reflect(&api.CalibrationRequest{}),
			"run":                 r.Reflect(&api.RunResponse{}),
		}
	})
	return h.schemas
}

// Index lists the published schema names.
func (h *SchemaHandler) Index(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(h.load()))
	for name := range h.load() {
		names = append(names, name)
	}
	sort.Strings(names)
	render.JSON(w, r, map[string]interface{}{"schemas": names})
}

// Get returns one schema.
func (h *SchemaHandler) Get(w http.ResponseWriter, r *http.Request) {
	schema, ok := h.load()[chi.URLParam(r, "name")]
	if !ok {
		h.errorHandler.HandleError(w, r, apierrors.NotFoundError("schema "+chi.URLParam(r, "name")))
		return
	}
	render.JSON(w, r, schema)
}
