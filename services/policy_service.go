// services/policy_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gosimple/slug"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"cookie-claim-system/models"
)

const settingsID = 1

// PolicyService reads and writes the per-community claim policy.
type PolicyService struct {
	DB     *gorm.DB
	Access *AccessService
	logger *slog.Logger
}

func NewPolicyService(db *gorm.DB, access *AccessService) *PolicyService {
	return &PolicyService{
		DB:     db,
		Access: access,
		logger: slog.Default().With("component", "policy"),
	}
}

// NormalizeItemType maps user input such as "Disney Plus" to the catalog key.
func NormalizeItemType(s string) string {
	return slug.Make(strings.TrimSpace(s))
}

// DisplayName is the human label for a catalog entry.
func DisplayName(item *models.CookieType) string {
	if item.DisplayName != "" {
		return item.DisplayName
	}
	return cases.Title(language.English).String(strings.ReplaceAll(item.ItemType, "-", " "))
}

// GetCommunity loads a community with its catalog and role benefits.
func (s *PolicyService) GetCommunity(ctx context.Context, communityID string) (*models.Community, error) {
	var community models.Community
	err := s.DB.WithContext(ctx).
		Preload("Cookies").
		Preload("Roles").
		First(&community, "id = ?", communityID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: community %s has no cookie setup", ErrConfiguration, communityID)
	}
	if err != nil {
		return nil, fmt.Errorf("load community %s: %w", communityID, err)
	}
	return &community, nil
}

func (s *PolicyService) UpsertCommunity(ctx context.Context, c *models.Community) error {
	err := s.DB.WithContext(ctx).
		Omit("Cookies", "Roles").
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"name", "enabled", "role_based",
				"feedback_channel_id", "log_channel_id", "cookie_channel_id",
				"feedback_minutes", "blacklist_days", "updated_at",
			}),
		}).
		Create(c).Error
	if err != nil {
		return fmt.Errorf("upsert community %s: %w", c.ID, err)
	}
	s.invalidate(ctx, c.ID)
	return nil
}

func (s *PolicyService) UpsertCookieType(ctx context.Context, item *models.CookieType) error {
	item.ItemType = NormalizeItemType(item.ItemType)
	if item.ItemType == "" {
		return fmt.Errorf("%w: empty item type", ErrUnknownItem)
	}

	err := s.DB.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "community_id"}, {Name: "item_type"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"display_name", "cost", "cooldown_hours", "stock_source", "enabled", "updated_at",
			}),
		}).
		Create(item).Error
	if err != nil {
		return fmt.Errorf("upsert cookie %s/%s: %w", item.CommunityID, item.ItemType, err)
	}
	s.invalidate(ctx, item.CommunityID)
	return nil
}

func (s *PolicyService) UpsertRoleBenefit(ctx context.Context, rb *models.RoleBenefit) error {
	access := rb.CookieAccess.Data()
	normalized := make(map[string]models.CookieAccess, len(access))
	for k, v := range access {
		normalized[NormalizeItemType(k)] = v
	}
	rb.CookieAccess = datatypes.NewJSONType(normalized)

	err := s.DB.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "community_id"}, {Name: "role_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"name", "cost_override", "cooldown_override", "daily_limit", "cookie_access", "updated_at",
			}),
		}).
		Create(rb).Error
	if err != nil {
		return fmt.Errorf("upsert role benefit %s/%s: %w", rb.CommunityID, rb.RoleID, err)
	}
	s.invalidate(ctx, rb.CommunityID)
	return nil
}

func (s *PolicyService) invalidate(ctx context.Context, communityID string) {
	if s.Access == nil {
		return
	}
	if err := s.Access.InvalidateCommunity(ctx, communityID); err != nil {
		s.logger.Warn("failed to drop cached benefits", "community_id", communityID, "error", err)
	}
}

func (s *PolicyService) IsMaintenance(ctx context.Context) (bool, error) {
	var settings models.BotSettings
	err := s.DB.WithContext(ctx).First(&settings, settingsID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load settings: %w", err)
	}
	return settings.MaintenanceMode, nil
}

func (s *PolicyService) SetMaintenance(ctx context.Context, on bool) error {
	settings := models.BotSettings{ID: settingsID, MaintenanceMode: on}
	err := s.DB.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.Assignments(map[string]any{"maintenance_mode": on}),
		}).
		Create(&settings).Error
	if err != nil {
		return fmt.Errorf("set maintenance: %w", err)
	}
	s.logger.Info("maintenance mode changed", "enabled", on)
	return nil
}
