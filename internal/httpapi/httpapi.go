package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	"dapurstok/backend/internal/domain"
	"dapurstok/backend/internal/report"
	"dapurstok/backend/internal/service"
	"dapurstok/backend/internal/store"
)

const (
	maxJSONBody     = 1 << 20
	maxWorkbookBody = 10 << 20
)

type API struct {
	service       *service.Service
	auth          *Authenticator
	metrics       http.Handler
	allowedOrigin string
	log           logrus.FieldLogger
}

func New(svc *service.Service, auth *Authenticator, metrics http.Handler, allowedOrigin string, log logrus.FieldLogger) *API {
	if metrics == nil {
		metrics = http.NotFoundHandler()
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &API{
		service:       svc,
		auth:          auth,
		metrics:       metrics,
		allowedOrigin: allowedOrigin,
		log:           log.WithField("component", "httpapi"),
	}
}

func (a *API) Handler() http.Handler {
	router := mux.NewRouter()
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, errors.New("route not found"))
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeMethodNotAllowed(w)
	})

	router.HandleFunc("/healthz", a.handleHealth).Methods(http.MethodGet)
	router.Handle("/metrics", a.metrics).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(a.requireAuth)
	api.HandleFunc("/products/{productID}/availability", a.handleProductAvailability).Methods(http.MethodGet)
	api.HandleFunc("/stores/{storeID}/sellable-products", a.handleSellableProducts).Methods(http.MethodGet)
	api.HandleFunc("/sales", a.handleSale).Methods(http.MethodPost)
	api.HandleFunc("/sales/{transactionID}/emergency-rollback", a.handleEmergencyRollback).Methods(http.MethodPost)
	api.HandleFunc("/templates/{templateID}", a.handleTemplateUpdate).Methods(http.MethodPut)
	api.HandleFunc("/templates/{templateID}/sync", a.handleTemplateSync).Methods(http.MethodPost)
	api.HandleFunc("/templates/{templateID}/deployments", a.handleTemplateDeploy).Methods(http.MethodPost)
	api.HandleFunc("/health-check", a.handleHealthCheck).Methods(http.MethodPost)
	api.HandleFunc("/ledger", a.handleLedger).Methods(http.MethodGet)
	api.HandleFunc("/ledger/export", a.handleLedgerExport).Methods(http.MethodGet)
	api.HandleFunc("/catalog/import", a.handleCatalogImport).Methods(http.MethodPost)
	api.HandleFunc("/audit-logs", a.handleAuditLogs).Methods(http.MethodGet)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins: []string{a.allowedOrigin},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})
	return corsHandler.Handler(a.withMiddleware(router))
}

// requireAuth resolves the bearer token into an actor. Any valid token is
// enough; the subject is only used for attribution.
func (a *API) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		actor, err := a.auth.ParseToken(strings.TrimSpace(authorization[len("Bearer "):]))
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(service.WithActor(r.Context(), actor)))
	})
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleProductAvailability(w http.ResponseWriter, r *http.Request) {
	availability, err := a.service.ValidateProductForPOS(r.Context(), mux.Vars(r)["productID"])
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, availability)
}

func (a *API) handleSellableProducts(w http.ResponseWriter, r *http.Request) {
	resp, err := a.service.GetSellableProducts(r.Context(), mux.Vars(r)["storeID"])
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleSale(w http.ResponseWriter, r *http.Request) {
	var req domain.SaleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	result, err := a.service.ProcessSale(r.Context(), req)
	if err != nil {
		status := statusFor(err)
		if status >= 500 {
			a.log.WithError(err).WithField("transaction_id", result.TransactionID).Error("sale failed")
		}
		writeJSON(w, status, map[string]any{"error": errorMessage(status, err), "result": result})
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (a *API) handleEmergencyRollback(w http.ResponseWriter, r *http.Request) {
	var req domain.EmergencyRollbackRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	req.TransactionID = mux.Vars(r)["transactionID"]

	result, err := a.service.EmergencyRollback(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, result)
}

func (a *API) handleTemplateUpdate(w http.ResponseWriter, r *http.Request) {
	var req domain.TemplateUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.service.UpdateTemplate(r.Context(), mux.Vars(r)["templateID"], req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleTemplateSync(w http.ResponseWriter, r *http.Request) {
	result, err := a.service.SyncTemplateToAllRecipes(r.Context(), mux.Vars(r)["templateID"])
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleTemplateDeploy(w http.ResponseWriter, r *http.Request) {
	var req domain.DeployRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.service.DeployTemplate(r.Context(), mux.Vars(r)["templateID"], req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	rep, err := a.service.RunHealthCheckAndRepair(r.Context(), r.URL.Query().Get("store_id"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func ledgerFilter(r *http.Request) domain.LedgerFilter {
	q := r.URL.Query()
	return domain.LedgerFilter{
		StoreID:       q.Get("store_id"),
		TransactionID: q.Get("transaction_id"),
		Limit:         parsePositiveLimit(q.Get("limit"), 100, 1000),
	}
}

func (a *API) handleLedger(w http.ResponseWriter, r *http.Request) {
	entries, err := a.service.ListLedger(r.Context(), ledgerFilter(r))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	logs, err := a.service.ListAuditLogs(r.Context(), q.Get("store_id"), q.Get("date"), parsePositiveLimit(q.Get("limit"), 100, 1000))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

func (a *API) handleLedgerExport(w http.ResponseWriter, r *http.Request) {
	// Rendered into memory first so a failure can still produce a JSON error.
	var buf bytes.Buffer
	if _, err := a.service.ExportLedger(r.Context(), &buf, ledgerFilter(r)); err != nil {
		a.writeServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", report.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=ledger-%s.xlsx", time.Now().UTC().Format("20060102-150405")))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (a *API) handleCatalogImport(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, maxWorkbookBody)
	resp, err := a.service.ImportCatalog(r.Context(), body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, errors.New("workbook too large"))
			return
		}
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		if (r.Method == http.MethodPost || r.Method == http.MethodPut) && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
		}

		startedAt := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		a.log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(startedAt).String(),
		}).Info("request served")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	var (
		validation *domain.ValidationError
		deduction  *domain.DeductionError
	)
	switch {
	case errors.As(err, &validation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, store.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrDuplicateTransaction),
		errors.Is(err, store.ErrInsufficientStock),
		errors.Is(err, store.ErrStaleWrite),
		errors.As(err, &deduction):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) writeServiceError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= 500 {
		a.log.WithError(err).Error("request failed")
	}
	writeError(w, status, err)
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

// errorMessage hides internals on 5xx responses. 4xx messages are user-facing.
func errorMessage(status int, err error) string {
	if status >= 500 {
		return "internal server error"
	}
	return err.Error()
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{
		"error": errorMessage(status, err),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
