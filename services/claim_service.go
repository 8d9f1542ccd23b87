// services/claim_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"cookie-claim-system/models"
	"cookie-claim-system/notify"
	"cookie-claim-system/stock"
)

// maxUnitSize bounds how much of a unit file is attached to a delivery.
const maxUnitSize = 1 << 20

type ClaimRequest struct {
	UserID      string
	Username    string
	CommunityID string
	ChannelID   string
	Roles       []models.MemberRole
	ItemType    string
}

type ClaimResult struct {
	ClaimID    string    `json:"claim_id"`
	ItemType   string    `json:"item_type"`
	UnitID     string    `json:"unit_id"`
	Cost       float64   `json:"cost"`
	Balance    float64   `json:"balance"`
	ClaimedAt  time.Time `json:"claimed_at"`
	Deadline   time.Time `json:"feedback_deadline"`
	DailyCount int       `json:"daily_count"`
	DailyLimit int       `json:"daily_limit"`
	Delivered  bool      `json:"delivered"`
}

type ClaimServiceConfig struct {
	OwnerID        string
	FeedbackWindow time.Duration
	Now            Clock
	// Pick chooses an index in [0, n). Defaults to math/rand.
	Pick func(n int) int
}

// ClaimService gates and executes cookie claims.
type ClaimService struct {
	DB         *gorm.DB
	Policy     *PolicyService
	Access     *AccessService
	Ledger     *Ledger
	Stock      stock.Source
	Locks      *ClaimLocks
	Dispatcher notify.Dispatcher

	ownerID        string
	feedbackWindow time.Duration
	now            Clock
	pick           func(n int) int
	logger         *slog.Logger
}

func NewClaimService(db *gorm.DB, policy *PolicyService, access *AccessService, ledger *Ledger, src stock.Source, locks *ClaimLocks, dispatcher notify.Dispatcher, cfg ClaimServiceConfig) *ClaimService {
	if cfg.Now == nil {
		cfg.Now = UTCNow
	}
	if cfg.Pick == nil {
		cfg.Pick = rand.IntN
	}
	if cfg.FeedbackWindow <= 0 {
		cfg.FeedbackWindow = 15 * time.Minute
	}
	return &ClaimService{
		DB:             db,
		Policy:         policy,
		Access:         access,
		Ledger:         ledger,
		Stock:          src,
		Locks:          locks,
		Dispatcher:     dispatcher,
		ownerID:        cfg.OwnerID,
		feedbackWindow: cfg.FeedbackWindow,
		now:            cfg.Now,
		pick:           cfg.Pick,
		logger:         slog.Default().With("component", "claims"),
	}
}

// Claim runs the ordered precondition checks and, when all pass, commits the
// claim and delivers the unit. A delivery failure is returned together with
// the committed result; the claim is not rolled back.
func (s *ClaimService) Claim(ctx context.Context, req ClaimRequest) (*ClaimResult, error) {
	release, ok := s.Locks.TryAcquire(req.UserID)
	if !ok {
		return nil, ErrClaimInProgress
	}
	defer release()

	now := s.now()
	itemType := NormalizeItemType(req.ItemType)

	maintenance, err := s.Policy.IsMaintenance(ctx)
	if err != nil {
		return nil, err
	}
	if maintenance && req.UserID != s.ownerID {
		return nil, ErrMaintenanceMode
	}

	community, err := s.Policy.GetCommunity(ctx, req.CommunityID)
	if err != nil {
		return nil, err
	}
	if !community.Enabled {
		return nil, ErrCommunityDisabled
	}
	if community.CookieChannelID != "" && req.ChannelID != "" && req.ChannelID != community.CookieChannelID {
		return nil, ErrWrongChannel
	}

	user, err := s.Ledger.EnsureUser(ctx, req.UserID, req.Username)
	if err != nil {
		return nil, err
	}

	if user.Blacklisted {
		if user.BlacklistExpires == nil || now.Before(*user.BlacklistExpires) {
			return nil, &BlacklistedError{Expires: user.BlacklistExpires}
		}
		if _, err := s.Ledger.ClearBlacklist(ctx, user.ID, now); err != nil {
			return nil, err
		}
		s.logger.Info("expired blacklist cleared", "user_id", user.ID)
	}

	item := community.Cookie(itemType)
	if item == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownItem, req.ItemType)
	}
	access := s.Access.Resolve(ctx, community, user.ID, req.Roles, item)
	if !access.Enabled {
		return nil, ErrAccessDenied
	}

	allowed, count, err := s.Ledger.CheckDailyLimit(ctx, user.ID, itemType, access.DailyLimit, now)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, &DailyLimitError{Count: count, Limit: access.DailyLimit}
	}

	// Only a repeat of the same type is subject to cooldown.
	last := user.LastClaim
	if last.ItemType == itemType && last.ClaimedAt != nil {
		if elapsed := now.Sub(*last.ClaimedAt); elapsed < access.Cooldown() {
			return nil, &CooldownError{Remaining: access.Cooldown() - elapsed}
		}
	}

	if user.Balance < access.Cost {
		return nil, &InsufficientBalanceError{Needed: access.Cost, Balance: user.Balance}
	}

	pool, err := s.Stock.PoolFor(item.StockSource)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	units, err := pool.List(ctx)
	if errors.Is(err, stock.ErrSourceNotConfigured) {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	if err != nil {
		return nil, fmt.Errorf("list stock for %s: %w", itemType, err)
	}
	if len(units) == 0 {
		return nil, ErrOutOfStock
	}
	unit := units[s.pick(len(units))]

	deadline := now.Add(community.FeedbackWindow(s.feedbackWindow))
	claim := models.LastClaim{
		ID:               uuid.NewString(),
		ItemType:         itemType,
		UnitID:           unit,
		CommunityID:      community.ID,
		ClaimedAt:        &now,
		FeedbackDeadline: &deadline,
	}

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ledger := s.Ledger.WithDB(tx)
		if access.Cost > 0 {
			if err := ledger.Debit(ctx, user.ID, access.Cost); err != nil {
				if errors.Is(err, ErrInsufficientFunds) {
					return &InsufficientBalanceError{Needed: access.Cost, Balance: user.Balance}
				}
				return err
			}
		}
		if err := ledger.IncrementDailyClaims(ctx, user.ID, itemType, now); err != nil {
			return fmt.Errorf("increment daily claims: %w", err)
		}
		if err := ledger.RecordClaim(ctx, user.ID, claim); err != nil {
			return err
		}
		return ledger.RecordClaimStats(ctx, community.ID, itemType)
	})
	if err != nil {
		return nil, err
	}

	result := &ClaimResult{
		ClaimID:    claim.ID,
		ItemType:   itemType,
		UnitID:     unit,
		Cost:       access.Cost,
		Balance:    user.Balance - access.Cost,
		ClaimedAt:  now,
		Deadline:   deadline,
		DailyCount: count + 1,
		DailyLimit: access.DailyLimit,
	}

	s.logger.Info("cookie claimed",
		"user_id", user.ID,
		"community_id", community.ID,
		"item_type", itemType,
		"claim_id", claim.ID,
		"cost", access.Cost,
	)
	s.logToCommunity(ctx, community.ID, fmt.Sprintf("<@%s> claimed a %s cookie (cost %.2f, daily %d)", user.ID, DisplayName(item), access.Cost, result.DailyCount))

	if err := s.deliver(ctx, pool, community, user.ID, result); err != nil {
		s.logger.Warn("claim delivery failed", "user_id", user.ID, "claim_id", claim.ID, "error", err)
		if !errors.Is(err, ErrDeliveryFailed) {
			err = fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
		}
		return result, err
	}
	result.Delivered = true
	return result, nil
}

func (s *ClaimService) deliver(ctx context.Context, pool stock.Pool, community *models.Community, userID string, res *ClaimResult) error {
	content, err := stock.ReadUnit(ctx, pool, res.UnitID, maxUnitSize)
	if err != nil {
		return fmt.Errorf("read unit %s: %w", res.UnitID, err)
	}
	return s.Dispatcher.DeliverClaim(ctx, notify.ClaimDelivery{
		UserID:            userID,
		CommunityID:       community.ID,
		ClaimID:           res.ClaimID,
		ItemType:          res.ItemType,
		Attachment:        notify.Attachment{Name: res.UnitID, Content: content},
		Cost:              res.Cost,
		Balance:           res.Balance,
		Deadline:          res.Deadline,
		FeedbackChannelID: community.FeedbackChannelID,
		Options:           notify.QuickResponseOptions(),
	})
}

func (s *ClaimService) logToCommunity(ctx context.Context, communityID, message string) {
	if err := s.Dispatcher.Log(ctx, communityID, message); err != nil {
		s.logger.Warn("community log failed", "community_id", communityID, "error", err)
	}
}

type StockQuery struct {
	UserID      string
	CommunityID string
	Roles       []models.MemberRole
	ItemType    string // empty lists every enabled type
}

// StockView is one row of the stock listing as seen by a user.
type StockView struct {
	ItemType      string  `json:"item_type"`
	DisplayName   string  `json:"display_name"`
	Available     int     `json:"available"`
	Status        string  `json:"status"`
	Cost          float64 `json:"cost"`
	CooldownHours int     `json:"cooldown_hours"`
	DailyLimit    int     `json:"daily_limit"`
	ClaimedToday  int     `json:"claimed_today"`
	RoleName      string  `json:"role_name,omitempty"`
}

// CheckStock lists the cookies the user can access with live stock counts.
func (s *ClaimService) CheckStock(ctx context.Context, q StockQuery) ([]StockView, error) {
	community, err := s.Policy.GetCommunity(ctx, q.CommunityID)
	if err != nil {
		return nil, err
	}

	items := community.Cookies
	if q.ItemType != "" {
		item := community.Cookie(NormalizeItemType(q.ItemType))
		if item == nil {
			return nil, fmt.Errorf("%w: %q", ErrUnknownItem, q.ItemType)
		}
		items = []models.CookieType{*item}
	}

	now := s.now()
	views := make([]StockView, 0, len(items))
	for i := range items {
		item := &items[i]
		access := s.Access.Resolve(ctx, community, q.UserID, q.Roles, item)
		if !access.Enabled {
			if q.ItemType != "" {
				return nil, ErrAccessDenied
			}
			continue
		}

		view := StockView{
			ItemType:      item.ItemType,
			DisplayName:   DisplayName(item),
			Status:        stock.StatusUnavailable,
			Cost:          access.Cost,
			CooldownHours: access.CooldownHours,
			DailyLimit:    access.DailyLimit,
			RoleName:      access.RoleName,
		}
		if pool, err := s.Stock.PoolFor(item.StockSource); err == nil {
			if units, err := pool.List(ctx); err == nil {
				view.Available = len(units)
				view.Status = stock.Status(len(units))
			} else {
				s.logger.Warn("stock listing failed", "community_id", community.ID, "item_type", item.ItemType, "error", err)
			}
		}
		if q.UserID != "" {
			if view.ClaimedToday, err = s.Ledger.DailyCount(ctx, q.UserID, item.ItemType, now); err != nil {
				return nil, err
			}
		}
		views = append(views, view)
	}
	return views, nil
}
