package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"dapurstok/backend/internal/availability"
	"dapurstok/backend/internal/domain"
	"dapurstok/backend/internal/recipesync"
	"dapurstok/backend/internal/report"
	"dapurstok/backend/internal/saletx"
	"dapurstok/backend/internal/store"
	"dapurstok/backend/internal/xid"
)

const (
	defaultLedgerLimit = 100
	maxLedgerLimit     = 1000
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Deps struct {
	Repo           store.Repository
	Availability   *availability.Validator
	Sales          *saletx.Coordinator
	Sync           *recipesync.Engine
	DefaultStoreID string
	Log            logrus.FieldLogger
}

type Service struct {
	repo           store.Repository
	availability   *availability.Validator
	sales          *saletx.Coordinator
	sync           *recipesync.Engine
	requests       *validator.Validate
	defaultStoreID string
	log            logrus.FieldLogger
}

func New(d Deps) *Service {
	if d.DefaultStoreID == "" {
		d.DefaultStoreID = "main-store"
	}
	if d.Log == nil {
		d.Log = logrus.StandardLogger()
	}

	return &Service{
		repo:           d.Repo,
		availability:   d.Availability,
		sales:          d.Sales,
		sync:           d.Sync,
		requests:       validator.New(validator.WithRequiredStructEnabled()),
		defaultStoreID: d.DefaultStoreID,
		log:            d.Log.WithField("component", "service"),
	}
}

func (s *Service) DefaultStoreID() string {
	return s.defaultStoreID
}

func (s *Service) ValidateProductForPOS(ctx context.Context, productID string) (domain.ProductAvailability, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.ProductAvailability{}, store.ErrInvalidInput
	}
	return s.availability.ValidateProduct(ctx, productID)
}

// GetSellableProducts returns only the products that can be sold right now.
// The breakdown still covers every product in the store.
func (s *Service) GetSellableProducts(ctx context.Context, storeID string) (domain.SellableProductsResponse, error) {
	storeID = s.storeOrDefault(storeID)
	rep, err := s.availability.ValidateBatch(ctx, storeID, nil)
	if err != nil {
		return domain.SellableProductsResponse{}, err
	}

	sellable := make([]domain.ProductAvailability, 0, len(rep.Products))
	for _, p := range rep.Products {
		if p.CanSell {
			sellable = append(sellable, p)
		}
	}
	return domain.SellableProductsResponse{
		StoreID:   storeID,
		Products:  sellable,
		Breakdown: rep.Breakdown,
	}, nil
}

func (s *Service) ProcessSale(ctx context.Context, req domain.SaleRequest) (domain.SaleResult, error) {
	req.StoreID = s.storeOrDefault(req.StoreID)
	req.TransactionID = strings.TrimSpace(req.TransactionID)
	// An authenticated caller is always the actor; the body only names one
	// for callers without a token, such as the CLI.
	if actor, ok := ActorFromContext(ctx); ok {
		req.ActorID = actor.ID
	}
	if err := s.validate(req); err != nil {
		return domain.SaleResult{TransactionID: req.TransactionID, StoreID: req.StoreID, Phase: domain.PhasePreValidate, Errors: []string{err.Error()}}, err
	}
	return s.sales.ProcessSale(ctx, req)
}

func (s *Service) EmergencyRollback(ctx context.Context, req domain.EmergencyRollbackRequest) (domain.EmergencyRollbackResult, error) {
	req.TransactionID = strings.TrimSpace(req.TransactionID)
	req.Reason = strings.TrimSpace(req.Reason)
	if req.TransactionID == "" || req.Reason == "" {
		return domain.EmergencyRollbackResult{}, fmt.Errorf("%w: transaction id and reason are required", store.ErrInvalidInput)
	}
	req.StoreID = s.storeOrDefault(req.StoreID)
	return s.sales.EmergencyRollback(ctx, req, s.actorID(ctx))
}

func (s *Service) SyncTemplateToAllRecipes(ctx context.Context, templateID string) (domain.SyncResult, error) {
	templateID = strings.TrimSpace(templateID)
	if templateID == "" {
		return domain.SyncResult{}, store.ErrInvalidInput
	}
	result, err := s.sync.SyncTemplateToAllRecipes(ctx, templateID)
	if err != nil {
		return result, err
	}
	s.logAudit(ctx, "", "template_sync", "template", templateID, fmt.Sprintf("synced=%d,failed=%d,provisioned=%d", result.RecipesSynced, len(result.Failures), result.Provisioned))
	return result, nil
}

// UpdateTemplate saves the new template content and pushes it to every
// deployed recipe straight away.
func (s *Service) UpdateTemplate(ctx context.Context, templateID string, req domain.TemplateUpdateRequest) (domain.TemplateUpdateResponse, error) {
	templateID = strings.TrimSpace(templateID)
	if templateID == "" {
		return domain.TemplateUpdateResponse{}, store.ErrInvalidInput
	}
	if err := s.validate(req); err != nil {
		return domain.TemplateUpdateResponse{}, err
	}
	for _, ing := range req.Ingredients {
		if !ing.Quantity.IsPositive() {
			return domain.TemplateUpdateResponse{}, fmt.Errorf("%w: ingredient %q needs a positive quantity", store.ErrInvalidInput, ing.Name)
		}
	}

	existing, err := s.repo.GetTemplate(ctx, templateID)
	if err != nil {
		return domain.TemplateUpdateResponse{}, err
	}
	updated := *existing
	updated.Name = strings.TrimSpace(req.Name)
	if category := strings.TrimSpace(req.Category); category != "" {
		updated.Category = category
	}
	if req.YieldQuantity.IsPositive() {
		updated.YieldQuantity = req.YieldQuantity
	}
	updated.Ingredients = req.Ingredients
	if req.Active != nil {
		updated.Active = *req.Active
	}

	saved, err := s.repo.UpdateTemplate(ctx, updated)
	if err != nil {
		return domain.TemplateUpdateResponse{}, err
	}
	s.logAudit(ctx, "", "template_update", "template", saved.ID, fmt.Sprintf("ingredients=%d,active=%t", len(saved.Ingredients), saved.Active))

	resp := domain.TemplateUpdateResponse{Template: *saved, Sync: domain.SyncResult{TemplateID: saved.ID}}
	if !saved.Active {
		return resp, nil
	}
	resp.Sync, err = s.SyncTemplateToAllRecipes(ctx, saved.ID)
	if err != nil {
		return resp, err
	}
	return resp, nil
}

func (s *Service) DeployTemplate(ctx context.Context, templateID string, req domain.DeployRequest) (domain.DeployResponse, error) {
	req.TemplateID = strings.TrimSpace(templateID)
	req.StoreID = s.storeOrDefault(req.StoreID)
	if err := s.validate(req); err != nil {
		return domain.DeployResponse{}, err
	}
	resp, err := s.sync.Deploy(ctx, req)
	if err != nil {
		return resp, err
	}
	s.logAudit(ctx, req.StoreID, "template_deploy", "recipe", resp.Recipe.ID, fmt.Sprintf("template=%s,product=%s", req.TemplateID, resp.Product.ID))
	return resp, nil
}

func (s *Service) RunHealthCheckAndRepair(ctx context.Context, storeID string) (domain.HealthReport, error) {
	return s.sync.RunHealthCheckAndRepair(ctx, strings.TrimSpace(storeID))
}

func (s *Service) ListLedger(ctx context.Context, filter domain.LedgerFilter) ([]domain.LedgerEntry, error) {
	filter.TransactionID = strings.TrimSpace(filter.TransactionID)
	filter.StoreID = strings.TrimSpace(filter.StoreID)
	if filter.TransactionID == "" && filter.StoreID == "" {
		filter.StoreID = s.defaultStoreID
	}
	if filter.Limit < 1 {
		filter.Limit = defaultLedgerLimit
	}
	if filter.Limit > maxLedgerLimit {
		filter.Limit = maxLedgerLimit
	}
	return s.repo.ListLedgerEntries(ctx, filter)
}

// ListAuditLogs returns a store's audit rows for one UTC day (YYYY-MM-DD), or
// for the last 24 hours when date is blank.
func (s *Service) ListAuditLogs(ctx context.Context, storeID string, date string, limit int) ([]domain.AuditLog, error) {
	storeID = s.storeOrDefault(storeID)
	if limit < 1 {
		limit = defaultLedgerLimit
	}
	if limit > maxLedgerLimit {
		limit = maxLedgerLimit
	}

	var from time.Time
	if strings.TrimSpace(date) == "" {
		from = time.Now().UTC().Add(-24 * time.Hour)
	} else {
		parsed, err := time.Parse("2006-01-02", strings.TrimSpace(date))
		if err != nil {
			return nil, fmt.Errorf("%w: date must be YYYY-MM-DD", store.ErrInvalidInput)
		}
		from = parsed.UTC()
	}
	return s.repo.ListAuditLogs(ctx, storeID, from, from.Add(24*time.Hour), limit)
}

// ExportLedger writes the matching ledger rows as an XLSX workbook and
// returns how many rows it wrote.
func (s *Service) ExportLedger(ctx context.Context, w io.Writer, filter domain.LedgerFilter) (int, error) {
	entries, err := s.ListLedger(ctx, filter)
	if err != nil {
		return 0, err
	}
	if err := report.WriteLedger(w, entries); err != nil {
		return 0, fmt.Errorf("render ledger workbook: %w", err)
	}
	return len(entries), nil
}

func (s *Service) ImportCatalog(ctx context.Context, r io.Reader) (domain.CatalogImportResponse, error) {
	items, skipped, err := report.ReadCatalog(r)
	if err != nil {
		if errors.Is(err, report.ErrMissingColumn) {
			return domain.CatalogImportResponse{}, fmt.Errorf("%w: %v", store.ErrInvalidInput, err)
		}
		return domain.CatalogImportResponse{}, err
	}
	if skipped == nil {
		skipped = []domain.CatalogRowError{}
	}
	imported, err := s.repo.UpsertCatalogItems(ctx, items)
	if err != nil {
		return domain.CatalogImportResponse{}, err
	}
	s.logAudit(ctx, "", "catalog_import", "catalog", "central", fmt.Sprintf("imported=%d,skipped=%d", imported, len(skipped)))
	return domain.CatalogImportResponse{Imported: imported, Skipped: skipped}, nil
}

func (s *Service) validate(req interface{}) error {
	if err := s.requests.Struct(req); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidInput, err)
	}
	return nil
}

func (s *Service) storeOrDefault(storeID string) string {
	storeID = strings.TrimSpace(storeID)
	if storeID == "" {
		return s.defaultStoreID
	}
	return storeID
}

func (s *Service) actorID(ctx context.Context) string {
	if actor, ok := ActorFromContext(ctx); ok && actor.ID != "" {
		return actor.ID
	}
	return "system"
}

func (s *Service) logAudit(ctx context.Context, storeID string, action string, entityType string, entityID string, detail string) {
	if storeID == "" {
		storeID = s.defaultStoreID
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:         xid.New("audit"),
		StoreID:    storeID,
		ActorID:    s.actorID(ctx),
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Detail:     detail,
		CreatedAt:  time.Now().UTC(),
	}); err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{
			"action": action,
			"entity": entityType + "/" + entityID,
		}).Warn("failed to write audit log")
	}
}
