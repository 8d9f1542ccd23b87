// services/access_resolver.go
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"cookie-claim-system/cache"
	"cookie-claim-system/models"
)

// Unlimited is the daily limit when nothing restricts it.
const Unlimited = -1

// Access is a user's effective entitlement for one cookie type.
type Access struct {
	Enabled       bool    `json:"enabled"`
	Cost          float64 `json:"cost"`
	CooldownHours int     `json:"cooldown_hours"`
	DailyLimit    int     `json:"daily_limit"`
	RoleID        string  `json:"role_id,omitempty"`
	RoleName      string  `json:"role_name,omitempty"`
}

func (a Access) Cooldown() time.Duration {
	return time.Duration(a.CooldownHours) * time.Hour
}

// ResolveAccess picks the highest positioned role that has a benefit entry
// and merges its overrides over the catalog entry. Equal positions are
// ordered by role id so the result does not depend on input order.
func ResolveAccess(roles []models.MemberRole, community *models.Community, item *models.CookieType, benefits map[string]models.RoleBenefit) Access {
	defaults := Access{
		Enabled:       item.Enabled,
		Cost:          item.Cost,
		CooldownHours: item.CooldownHours,
		DailyLimit:    Unlimited,
	}
	if !community.RoleBased || len(benefits) == 0 {
		return defaults
	}

	role, ok := highestBenefitRole(roles, benefits)
	if !ok {
		return defaults
	}
	benefit := benefits[role.ID]

	entry, ok := benefit.CookieAccess.Data()[item.ItemType]
	if !ok {
		defaults.RoleID = benefit.RoleID
		defaults.RoleName = benefit.Name
		return defaults
	}

	access := Access{
		Enabled:       item.Enabled && entry.Enabled,
		Cost:          item.Cost,
		CooldownHours: item.CooldownHours,
		DailyLimit:    Unlimited,
		RoleID:        benefit.RoleID,
		RoleName:      benefit.Name,
	}

	switch {
	case entry.Cost != nil:
		access.Cost = *entry.Cost
	case benefit.CostOverride != nil:
		access.Cost = *benefit.CostOverride
	}

	switch {
	case entry.CooldownHours != nil:
		access.CooldownHours = *entry.CooldownHours
	case benefit.CooldownOverride != nil:
		access.CooldownHours = *benefit.CooldownOverride
	}

	switch {
	case entry.DailyLimit != nil:
		access.DailyLimit = *entry.DailyLimit
	case benefit.DailyLimit != nil:
		access.DailyLimit = *benefit.DailyLimit
	}

	return access
}

func highestBenefitRole(roles []models.MemberRole, benefits map[string]models.RoleBenefit) (models.MemberRole, bool) {
	candidates := make([]models.MemberRole, 0, len(roles))
	for _, r := range roles {
		if _, ok := benefits[r.ID]; ok {
			candidates = append(candidates, r)
		}
	}
	if len(candidates) == 0 {
		return models.MemberRole{}, false
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Position != candidates[j].Position {
			return candidates[i].Position > candidates[j].Position
		}
		return candidates[i].ID < candidates[j].ID
	})
	return candidates[0], true
}

// AccessService caches resolved access per (community, user).
type AccessService struct {
	cache  cache.Cache
	ttl    time.Duration
	logger *slog.Logger
}

func NewAccessService(c cache.Cache, ttl time.Duration) *AccessService {
	return &AccessService{
		cache:  c,
		ttl:    ttl,
		logger: slog.Default().With("component", "access"),
	}
}

func benefitScope(communityID, userID string) string {
	return "benefits:" + communityID + ":" + userID
}

// rolesKey identifies the role set inside a user's scope, so a stale role
// list never reads another list's entry.
func rolesKey(itemType string, roles []models.MemberRole) string {
	parts := make([]string, 0, len(roles))
	for _, r := range roles {
		parts = append(parts, r.ID+"@"+strconv.Itoa(r.Position))
	}
	sort.Strings(parts)
	return itemType + "|" + strings.Join(parts, ",")
}

// Resolve returns the cached entitlement or resolves and caches it. Cache
// failures fall back to resolving directly.
func (s *AccessService) Resolve(ctx context.Context, community *models.Community, userID string, roles []models.MemberRole, item *models.CookieType) Access {
	scope := benefitScope(community.ID, userID)
	key := rolesKey(item.ItemType, roles)

	if raw, ok, err := s.cache.Get(ctx, scope, key); err != nil {
		s.logger.Warn("benefit cache read failed", "error", err)
	} else if ok {
		var access Access
		if err := json.Unmarshal(raw, &access); err == nil {
			return access
		}
	}

	access := ResolveAccess(roles, community, item, community.Benefits())

	if raw, err := json.Marshal(access); err == nil {
		if err := s.cache.Set(ctx, scope, key, raw, s.ttl); err != nil {
			s.logger.Warn("benefit cache write failed", "error", err)
		}
	}
	return access
}

// Invalidate drops every cached entitlement of one user.
func (s *AccessService) Invalidate(ctx context.Context, communityID, userID string) error {
	if err := s.cache.Invalidate(ctx, benefitScope(communityID, userID)); err != nil {
		return fmt.Errorf("invalidate benefits: %w", err)
	}
	return nil
}

// InvalidateCommunity drops the cached entitlements of every user of a
// community.
func (s *AccessService) InvalidateCommunity(ctx context.Context, communityID string) error {
	if err := s.cache.InvalidatePrefix(ctx, benefitScope(communityID, "")); err != nil {
		return fmt.Errorf("invalidate community benefits: %w", err)
	}
	return nil
}
