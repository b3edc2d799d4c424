// Package httpapi serves the drinks API. Writes and the detailed listing
// sit behind an auth.Gate; the short listing and the schema are public.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/google/uuid"
	"github.com/invopop/jsonschema"

	"github.com/ggoodman/coffeeshop-go/auth"
	"github.com/ggoodman/coffeeshop-go/drinks"
	"github.com/ggoodman/coffeeshop-go/internal/logctx"
	"github.com/ggoodman/coffeeshop-go/internal/wellknown"
)

// Permissions required by the protected routes.
const (
	PermGetDrinksDetail = "get:drinks-detail"
	PermPostDrinks      = "post:drinks"
	PermPatchDrinks     = "patch:drinks"
	PermDeleteDrinks    = "delete:drinks"
)

// Permissions lists every permission string the API checks.
var Permissions = []string{PermGetDrinksDetail, PermPostDrinks, PermPatchDrinks, PermDeleteDrinks}

const requestIDHeader = "X-Request-ID"

var jsonMediaType = contenttype.NewMediaType("application/json")

// DrinkInput is the body accepted by POST /drinks.
type DrinkInput struct {
	Title  string              `json:"title" jsonschema:"minLength=1,description=Unique drink title"`
	Recipe []drinks.Ingredient `json:"recipe" jsonschema:"minItems=1,description=Ingredients from bottom to top"`
}

// Option configures the Handler.
type Option func(*config)

type config struct {
	logger    *slog.Logger
	publicURL string
	realm     string
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithPublicURL sets the externally visible base URL of the API. It becomes
// the "resource" of the protected resource metadata and lets challenges
// point at that document. When unset, the resource is derived per request.
func WithPublicURL(u string) Option {
	return func(c *config) { c.publicURL = strings.TrimRight(u, "/") }
}

// WithRealm sets the realm advertised in WWW-Authenticate challenges.
func WithRealm(realm string) Option {
	return func(c *config) { c.realm = realm }
}

// Handler is the API's http.Handler.
type Handler struct {
	log       *slog.Logger
	store     drinks.Store
	gate      *auth.Gate
	mux       *http.ServeMux
	publicURL string
	prm       wellknown.ProtectedResourceMetadata
	schema    []byte
}

// New wires the routes. verifier is typically built by auth.NewFromConfig;
// when it also describes its security configuration, that configuration is
// advertised at /.well-known/oauth-protected-resource.
func New(store drinks.Store, verifier auth.TokenVerifier, opts ...Option) (*Handler, error) {
	if store == nil {
		return nil, fmt.Errorf("drink store is required")
	}
	if verifier == nil {
		return nil, fmt.Errorf("token verifier is required")
	}
	cfg := &config{logger: slog.Default()}
	for _, opt := range opts {
		opt(cfg)
	}

	h := &Handler{
		log:       slog.New(logctx.New(cfg.logger.Handler())),
		store:     store,
		publicURL: cfg.publicURL,
	}

	gateOpts := []auth.GateOption{auth.WithLogger(h.log), auth.WithRealm(cfg.realm)}
	if h.publicURL != "" {
		gateOpts = append(gateOpts, auth.WithResourceMetadata(h.publicURL+wellknown.ProtectedResourcePath))
	}
	h.gate = auth.NewGate(verifier, gateOpts...)

	h.prm = wellknown.ProtectedResourceMetadata{
		Resource:               h.publicURL,
		ScopesSupported:        append([]string(nil), Permissions...),
		BearerMethodsSupported: []string{"header"},
		ResourceName:           "coffeeshop",
	}
	if sd, ok := verifier.(auth.SecurityDescriptor); ok {
		sec := sd.SecurityConfig()
		h.prm.AuthorizationServers = []string{sec.Issuer()}
		h.prm.JwksURI = sd.KeySetURL()
		h.prm.ResourceSigningAlgValuesSupported = sec.AllowedAlgs
	}

	r := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	schema, err := json.Marshal(r.Reflect(new(DrinkInput)))
	if err != nil {
		return nil, fmt.Errorf("reflect drink schema: %w", err)
	}
	h.schema = schema

	mux := http.NewServeMux()
	mux.HandleFunc("GET /drinks", h.handleListDrinks)
	mux.HandleFunc("GET /drinks/schema", h.handleGetSchema)
	mux.Handle("GET /drinks-detail", h.gate.Require(PermGetDrinksDetail, h.handleListDrinksDetail))
	mux.Handle("POST /drinks", h.gate.Require(PermPostDrinks, h.handleCreateDrink))
	mux.Handle("PATCH /drinks/{id}", h.gate.Require(PermPatchDrinks, h.handlePatchDrink))
	mux.Handle("DELETE /drinks/{id}", h.gate.Require(PermDeleteDrinks, h.handleDeleteDrink))
	mux.HandleFunc("GET "+wellknown.ProtectedResourcePath, h.handleGetProtectedResourceMetadata)
	mux.HandleFunc("/", h.handleFallback)
	h.mux = mux
	return h, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	reqID := r.Header.Get(requestIDHeader)
	if _, err := uuid.Parse(reqID); err != nil {
		reqID = uuid.NewString()
	}
	ctx := logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  reqID,
		Method:     r.Method,
		UserAgent:  r.UserAgent(),
		RemoteAddr: r.RemoteAddr,
		Path:       r.URL.Path,
	})
	w.Header().Set(requestIDHeader, reqID)
	sw := &statusWriter{ResponseWriter: w}
	h.log.DebugContext(ctx, "http.request.start")

	defer func() {
		if rec := recover(); rec != nil {
			h.log.ErrorContext(ctx, "http.request.panic", slog.Any("panic", rec))
			if !sw.wrote {
				writeJSONError(sw, http.StatusInternalServerError, "API Internal Error")
			}
		}
		h.log.InfoContext(ctx, "http.request.done", slog.Int("status", sw.status()), slog.Duration("dur", time.Since(start)))
	}()

	h.mux.ServeHTTP(sw, r.WithContext(ctx))
}

func (h *Handler) handleListDrinks(w http.ResponseWriter, r *http.Request) {
	list, err := h.store.List(r.Context())
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	out := make([]drinks.ShortDrink, 0, len(list))
	for _, d := range list {
		out = append(out, d.Short())
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "drinks": out})
}

func (h *Handler) handleListDrinksDetail(_ auth.Claims, w http.ResponseWriter, r *http.Request) {
	list, err := h.store.List(r.Context())
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	out := make([]drinks.Drink, 0, len(list))
	for _, d := range list {
		out = append(out, d.Long())
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "drinks": out})
}

func (h *Handler) handleCreateDrink(claims auth.Claims, w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.requireJSON(w, r) {
		return
	}
	var in DrinkInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		h.log.WarnContext(ctx, "json.decode.fail", slog.String("err", err.Error()))
		writeJSONError(w, http.StatusBadRequest, "Invalid body")
		return
	}
	d, err := h.store.Create(ctx, drinks.Drink{Title: in.Title, Recipe: in.Recipe})
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	h.log.InfoContext(ctx, "drinks.create.ok", slog.Int64("id", d.ID), slog.String("by", claims.Subject()))
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "drinks": []drinks.Drink{d.Long()}})
}

func (h *Handler) handlePatchDrink(claims auth.Claims, w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := pathID(r)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "resource not found")
		return
	}
	if !h.requireJSON(w, r) {
		return
	}
	var p drinks.Patch
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		h.log.WarnContext(ctx, "json.decode.fail", slog.String("err", err.Error()))
		writeJSONError(w, http.StatusBadRequest, "Invalid body")
		return
	}
	cur, err := h.store.Get(ctx, id)
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	d, err := h.store.Update(ctx, p.Apply(cur))
	if err != nil {
		h.storeError(w, r, err)
		return
	}
	h.log.InfoContext(ctx, "drinks.update.ok", slog.Int64("id", d.ID), slog.String("by", claims.Subject()))
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "drinks": []drinks.Drink{d.Long()}})
}

func (h *Handler) handleDeleteDrink(claims auth.Claims, w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := pathID(r)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "resource not found")
		return
	}
	if err := h.store.Delete(ctx, id); err != nil {
		h.storeError(w, r, err)
		return
	}
	h.log.InfoContext(ctx, "drinks.delete.ok", slog.Int64("id", id), slog.String("by", claims.Subject()))
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "delete": id})
}

func (h *Handler) handleGetSchema(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/schema+json")
	_, _ = w.Write(h.schema)
}

func (h *Handler) handleGetProtectedResourceMetadata(w http.ResponseWriter, r *http.Request) {
	doc := h.prm
	if doc.Resource == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		doc.Resource = scheme + "://" + r.Host
	}
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Vary", "Origin")
	writeJSON(w, http.StatusOK, doc)
}

// handleFallback distinguishes unknown paths (404) from known paths hit with
// the wrong method (405).
func (h *Handler) handleFallback(w http.ResponseWriter, r *http.Request) {
	var allowed []string
	for _, m := range []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete} {
		probe := r.Clone(r.Context())
		probe.Method = m
		if _, pattern := h.mux.Handler(probe); pattern != "" && pattern != "/" {
			allowed = append(allowed, m)
		}
	}
	if len(allowed) == 0 {
		writeJSONError(w, http.StatusNotFound, "resource not found")
		return
	}
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (h *Handler) requireJSON(w http.ResponseWriter, r *http.Request) bool {
	ctype, err := contenttype.GetMediaType(r)
	if err != nil || !ctype.Matches(jsonMediaType) {
		h.log.WarnContext(r.Context(), "content_type.unsupported")
		writeJSONError(w, http.StatusUnsupportedMediaType, "content-type must be application/json")
		return false
	}
	return true
}

func (h *Handler) storeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, drinks.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, "resource not found")
	case errors.Is(err, drinks.ErrInvalid):
		writeJSONError(w, http.StatusBadRequest, "Invalid body")
	case errors.Is(err, drinks.ErrConflict):
		writeJSONError(w, http.StatusUnprocessableEntity, "unprocessable")
	default:
		h.log.ErrorContext(r.Context(), "drinks.store.fail", slog.String("err", err.Error()))
		writeJSONError(w, http.StatusInternalServerError, "API Internal Error")
	}
}

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": status, "message": msg})
}

// statusWriter remembers the status code for request logging.
type statusWriter struct {
	http.ResponseWriter
	code  int
	wrote bool
}

func (s *statusWriter) WriteHeader(code int) {
	if !s.wrote {
		s.code = code
		s.wrote = true
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusWriter) Write(b []byte) (int, error) {
	if !s.wrote {
		s.WriteHeader(http.StatusOK)
	}
	return s.ResponseWriter.Write(b)
}

func (s *statusWriter) status() int {
	if !s.wrote {
		return http.StatusOK
	}
	return s.code
}

func (s *statusWriter) Unwrap() http.ResponseWriter { return s.ResponseWriter }
