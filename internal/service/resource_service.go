package service

import (
	"context"

	"chargehive/internal/apperr"
	"chargehive/internal/models"
	"chargehive/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ResourceService manages the provider-side resource catalog.
type ResourceService struct {
	store  SettlementStore
	logger *zap.Logger
}

// NewResourceService creates a new resource service
func NewResourceService(store SettlementStore) *ResourceService {
	return &ResourceService{store: store, logger: util.GetLogger()}
}

// RegisterResourceRequest represents a provider listing a new resource
type RegisterResourceRequest struct {
	ProviderID   string          `json:"-"`
	ResourceType string          `json:"resource_type" binding:"required,oneof=charger parking"`
	HourlyRate   decimal.Decimal `json:"hourly_rate" binding:"required"`
	Address      string          `json:"address"`
	City         string          `json:"city"`
}

// Register lists a new bookable resource for a provider.
func (s *ResourceService) Register(ctx context.Context, req *RegisterResourceRequest) (*models.Resource, error) {
	if req.HourlyRate.IsNegative() || req.HourlyRate.IsZero() {
		return nil, apperr.New(apperr.KindValidation, "hourly rate must be positive")
	}

	provider, err := s.store.GetIdentityByID(ctx, req.ProviderID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to load provider", err)
	}
	if provider == nil || provider.Type != models.IdentityTypeProvider {
		return nil, apperr.New(apperr.KindValidation, "only providers can list resources")
	}

	resource := &models.Resource{
		ID:           uuid.New().String(),
		ProviderID:   req.ProviderID,
		ResourceType: req.ResourceType,
		Status:       models.ResourceStatusAvailable,
		HourlyRate:   req.HourlyRate.Round(2),
		Address:      req.Address,
		City:         req.City,
	}
	if err := s.store.CreateResource(ctx, resource); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to create resource", err)
	}

	s.logger.Info("Resource listed",
		zap.String("resource_id", resource.ID),
		zap.String("provider_id", req.ProviderID),
		zap.String("type", req.ResourceType))
	return resource, nil
}

// SetStatus changes a resource's lifecycle status. Only the owning
// provider may change it.
func (s *ResourceService) SetStatus(ctx context.Context, providerID, resourceID, status string) error {
	switch status {
	case models.ResourceStatusAvailable, models.ResourceStatusActive, models.ResourceStatusUnavailable:
	default:
		return apperr.Newf(apperr.KindValidation, "unknown resource status %q", status)
	}

	resource, err := s.store.GetResourceByID(ctx, resourceID)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, "failed to load resource", err)
	}
	if resource == nil {
		return apperr.New(apperr.KindNotFound, "resource not found")
	}
	if resource.ProviderID != providerID {
		return apperr.New(apperr.KindUnauthorized, "resource belongs to another provider")
	}

	if err := s.store.UpdateResourceStatus(ctx, resourceID, status); err != nil {
		return apperr.Wrap(apperr.KindInternal, "failed to update resource status", err)
	}
	return nil
}

// ListByProvider retrieves a provider's resources.
func (s *ResourceService) ListByProvider(ctx context.Context, providerID string) ([]models.Resource, error) {
	resources, err := s.store.GetResourcesByProvider(ctx, providerID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to list resources", err)
	}
	return resources, nil
}
