// services/ledger.go
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"cookie-claim-system/models"
)

// Clock returns the current time. Services take one so tests can move time.
type Clock func() time.Time

func UTCNow() time.Time { return time.Now().UTC() }

const dateLayout = "2006-01-02"

// Day is the UTC calendar day used by the daily counters.
func Day(t time.Time) string { return t.UTC().Format(dateLayout) }

// CreditBucket names the counter a credit is booked against.
type CreditBucket string

const (
	CreditEarned CreditBucket = "earned"
	CreditRefund CreditBucket = "refund"
	CreditAdmin  CreditBucket = "admin"
)

// Ledger applies delta updates to user rows. Every mutation is a single
// conditional UPDATE so concurrent writers never overwrite each other.
type Ledger struct {
	DB  *gorm.DB
	now Clock
}

func NewLedger(db *gorm.DB, now Clock) *Ledger {
	if now == nil {
		now = UTCNow
	}
	return &Ledger{DB: db, now: now}
}

// WithDB returns a ledger bound to tx.
func (l *Ledger) WithDB(tx *gorm.DB) *Ledger {
	return &Ledger{DB: tx, now: l.now}
}

// EnsureUser creates the user on first sight and touches last_active.
func (l *Ledger) EnsureUser(ctx context.Context, userID, username string) (*models.User, error) {
	now := l.now()
	user := models.User{
		ID:         userID,
		Username:   username,
		TrustScore: models.DefaultTrustScore,
		LastActive: &now,
	}

	updates := []string{"last_active"}
	if username != "" {
		updates = append(updates, "username")
	}

	err := l.DB.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns(updates),
		}).
		Create(&user).Error
	if err != nil {
		return nil, fmt.Errorf("ensure user %s: %w", userID, err)
	}
	return l.GetUser(ctx, userID)
}

func (l *Ledger) GetUser(ctx context.Context, userID string) (*models.User, error) {
	var user models.User
	err := l.DB.WithContext(ctx).First(&user, "id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load user %s: %w", userID, err)
	}
	return &user, nil
}

// Debit removes amount from the balance. It never takes the balance below
// zero.
func (l *Ledger) Debit(ctx context.Context, userID string, amount float64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	res := l.DB.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND balance >= ?", userID, amount).
		UpdateColumns(map[string]any{
			"balance":     gorm.Expr("balance - ?", amount),
			"total_spent": gorm.Expr("total_spent + ?", amount),
		})
	if res.Error != nil {
		return fmt.Errorf("debit %s: %w", userID, res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := l.GetUser(ctx, userID); err != nil {
			return err
		}
		return ErrInsufficientFunds
	}
	return nil
}

// Credit adds amount to the balance and books it against bucket.
func (l *Ledger) Credit(ctx context.Context, userID string, amount float64, bucket CreditBucket) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	updates := map[string]any{"balance": gorm.Expr("balance + ?", amount)}
	switch bucket {
	case CreditEarned, CreditAdmin:
		updates["total_earned"] = gorm.Expr("total_earned + ?", amount)
	case CreditRefund:
		updates["total_spent"] = gorm.Expr("CASE WHEN total_spent > ? THEN total_spent - ? ELSE 0 END", amount, amount)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownBucket, bucket)
	}

	res := l.DB.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).UpdateColumns(updates)
	if res.Error != nil {
		return fmt.Errorf("credit %s: %w", userID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// AdjustTrust adds delta to the trust score, clamped to 0..100.
func (l *Ledger) AdjustTrust(ctx context.Context, userID string, delta float64) error {
	res := l.DB.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		UpdateColumn("trust_score", clampedTrust(delta))
	if res.Error != nil {
		return fmt.Errorf("adjust trust %s: %w", userID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

func clampedTrust(delta float64) clause.Expr {
	return gorm.Expr(
		"CASE WHEN trust_score + ? < 0 THEN 0 WHEN trust_score + ? > 100 THEN 100 ELSE trust_score + ? END",
		delta, delta, delta,
	)
}

// CheckDailyLimit returns today's claim count for the item and whether one
// more claim fits under limit. A counter last written before today is reset
// to zero first.
func (l *Ledger) CheckDailyLimit(ctx context.Context, userID, itemType string, limit int, now time.Time) (bool, int, error) {
	today := Day(now)

	var counter models.DailyClaimCounter
	err := l.DB.WithContext(ctx).
		Where("user_id = ? AND item_type = ?", userID, itemType).
		Take(&counter).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		counter.Count = 0
	case err != nil:
		return false, 0, fmt.Errorf("load daily counter: %w", err)
	case counter.LastClaimDate < today && counter.Count != 0:
		err := l.DB.WithContext(ctx).Model(&models.DailyClaimCounter{}).
			Where("user_id = ? AND item_type = ? AND last_claim_date < ?", userID, itemType, today).
			UpdateColumn("claim_count", 0).Error
		if err != nil {
			return false, 0, fmt.Errorf("reset daily counter: %w", err)
		}
		counter.Count = 0
	}

	if limit == Unlimited {
		return true, counter.Count, nil
	}
	return counter.Count < limit, counter.Count, nil
}

// DailyCount reads today's count without writing.
func (l *Ledger) DailyCount(ctx context.Context, userID, itemType string, now time.Time) (int, error) {
	var counter models.DailyClaimCounter
	err := l.DB.WithContext(ctx).
		Where("user_id = ? AND item_type = ?", userID, itemType).
		Take(&counter).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load daily counter: %w", err)
	}
	if counter.LastClaimDate < Day(now) {
		return 0, nil
	}
	return counter.Count, nil
}

// IncrementDailyClaims books one claim for today.
func (l *Ledger) IncrementDailyClaims(ctx context.Context, userID, itemType string, now time.Time) error {
	today := Day(now)
	return l.incrementOrCreate(ctx,
		l.DB.WithContext(ctx).Model(&models.DailyClaimCounter{}).
			Where("user_id = ? AND item_type = ?", userID, itemType),
		map[string]any{
			"claim_count":     gorm.Expr("CASE WHEN last_claim_date < ? THEN 1 ELSE claim_count + 1 END", today),
			"last_claim_date": today,
			"lifetime":        gorm.Expr("lifetime + 1"),
		},
		&models.DailyClaimCounter{UserID: userID, ItemType: itemType, Count: 1, LastClaimDate: today, Lifetime: 1},
	)
}

// RecordClaim overwrites the user's last claim and bumps the claim counters.
func (l *Ledger) RecordClaim(ctx context.Context, userID string, claim models.LastClaim) error {
	res := l.DB.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		UpdateColumns(map[string]any{
			"last_claim_id":                   claim.ID,
			"last_claim_item_type":            claim.ItemType,
			"last_claim_unit_id":              claim.UnitID,
			"last_claim_community_id":         claim.CommunityID,
			"last_claim_claimed_at":           claim.ClaimedAt,
			"last_claim_feedback_deadline":    claim.FeedbackDeadline,
			"last_claim_rating":               nil,
			"last_claim_feedback_text":        "",
			"last_claim_screenshot":           false,
			"last_claim_feedback_given":       false,
			"last_claim_reminder_first_sent":  false,
			"last_claim_reminder_second_sent": false,
			"last_claim_final_prompt_sent_at": nil,
			"last_claim_sanctioned":           false,
			"weekly_claims":                   gorm.Expr("weekly_claims + 1"),
			"monthly_claims":                  gorm.Expr("monthly_claims + 1"),
			"total_claims":                    gorm.Expr("total_claims + 1"),
			"last_active":                     claim.ClaimedAt,
		})
	if res.Error != nil {
		return fmt.Errorf("record claim for %s: %w", userID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// RecordClaimStats bumps the community and global statistics.
func (l *Ledger) RecordClaimStats(ctx context.Context, communityID, itemType string) error {
	for _, key := range [][2]string{
		{communityID, itemType},
		{models.GlobalScope, itemType},
		{models.GlobalScope, models.AllItems},
	} {
		err := l.incrementOrCreate(ctx,
			l.DB.WithContext(ctx).Model(&models.ClaimStatistic{}).
				Where("scope = ? AND item_type = ?", key[0], key[1]),
			map[string]any{
				"weekly":   gorm.Expr("weekly + 1"),
				"monthly":  gorm.Expr("monthly + 1"),
				"lifetime": gorm.Expr("lifetime + 1"),
			},
			&models.ClaimStatistic{Scope: key[0], ItemType: key[1], Weekly: 1, Monthly: 1, Lifetime: 1},
		)
		if err != nil {
			return fmt.Errorf("record stats %s/%s: %w", key[0], key[1], err)
		}
	}
	return nil
}

// incrementOrCreate applies updates to the row matched by q, inserting row
// when none exists. If a concurrent insert wins, the update is retried.
func (l *Ledger) incrementOrCreate(ctx context.Context, q *gorm.DB, updates map[string]any, row any) error {
	res := q.Session(&gorm.Session{}).UpdateColumns(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}

	created := l.DB.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(row)
	if created.Error != nil {
		return created.Error
	}
	if created.RowsAffected > 0 {
		return nil
	}
	return q.Session(&gorm.Session{}).UpdateColumns(updates).Error
}

// ResetDailyCounters zeroes every counter not written today.
func (l *Ledger) ResetDailyCounters(ctx context.Context, now time.Time) (int64, error) {
	res := l.DB.WithContext(ctx).Model(&models.DailyClaimCounter{}).
		Where("last_claim_date < ? AND claim_count > 0", Day(now)).
		UpdateColumn("claim_count", 0)
	return res.RowsAffected, res.Error
}

func (l *Ledger) ResetWeekly(ctx context.Context) (int64, error) {
	return l.resetPeriod(ctx, "weekly_claims", "weekly")
}

func (l *Ledger) ResetMonthly(ctx context.Context) (int64, error) {
	return l.resetPeriod(ctx, "monthly_claims", "monthly")
}

func (l *Ledger) resetPeriod(ctx context.Context, userColumn, statColumn string) (int64, error) {
	var affected int64
	err := l.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.User{}).Where(userColumn+" > 0").UpdateColumn(userColumn, 0)
		if res.Error != nil {
			return res.Error
		}
		affected = res.RowsAffected
		return tx.Model(&models.ClaimStatistic{}).Where(statColumn+" > 0").UpdateColumn(statColumn, 0).Error
	})
	if err != nil {
		return 0, fmt.Errorf("reset %s: %w", userColumn, err)
	}
	return affected, nil
}

// ClearBlacklist lifts an expired blacklist. Permanent blacklists and ones
// still running are left alone.
func (l *Ledger) ClearBlacklist(ctx context.Context, userID string, now time.Time) (bool, error) {
	res := l.DB.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND blacklisted = ? AND blacklist_expires IS NOT NULL AND blacklist_expires <= ?", userID, true, now).
		UpdateColumns(map[string]any{"blacklisted": false, "blacklist_expires": nil})
	if res.Error != nil {
		return false, fmt.Errorf("clear blacklist %s: %w", userID, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// ClearExpiredBlacklists lifts every expired blacklist.
func (l *Ledger) ClearExpiredBlacklists(ctx context.Context, now time.Time) (int64, error) {
	res := l.DB.WithContext(ctx).Model(&models.User{}).
		Where("blacklisted = ? AND blacklist_expires IS NOT NULL AND blacklist_expires <= ?", true, now).
		UpdateColumns(map[string]any{"blacklisted": false, "blacklist_expires": nil})
	if res.Error != nil {
		return 0, fmt.Errorf("clear expired blacklists: %w", res.Error)
	}
	return res.RowsAffected, nil
}
