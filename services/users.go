// services/users.go
package services

import (
	"context"
	"fmt"
	"strings"

	"cookie-claim-system/models"
)

// UserSummary is the admin view of a user row.
type UserSummary struct {
	ID              string          `json:"id"`
	Username        string          `json:"username"`
	Balance         float64         `json:"balance"`
	TrustScore      float64         `json:"trust_score"`
	Blacklisted     bool            `json:"blacklisted"`
	TotalClaims     int64           `json:"total_claims"`
	FeedbackStreak  int64           `json:"feedback_streak"`
	LastClaimType   string          `json:"last_claim_type,omitempty"`
	ComplianceState ComplianceState `json:"compliance_state"`
}

// SearchUsers matches id or username, case-insensitively. limit is clamped
// to 1..100 with 50 as the default.
func (l *Ledger) SearchUsers(ctx context.Context, query string, limit int) ([]UserSummary, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	db := l.DB.WithContext(ctx).Model(&models.User{}).Order("id").Limit(limit)
	if query = strings.TrimSpace(query); query != "" {
		term := "%" + strings.ToLower(query) + "%"
		db = db.Where("LOWER(id) LIKE ? OR LOWER(username) LIKE ?", term, term)
	}

	var users []models.User
	if err := db.Find(&users).Error; err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}

	res := make([]UserSummary, len(users))
	for i, u := range users {
		res[i] = UserSummary{
			ID:              u.ID,
			Username:        u.Username,
			Balance:         u.Balance,
			TrustScore:      u.TrustScore,
			Blacklisted:     u.Blacklisted,
			TotalClaims:     u.TotalClaims,
			FeedbackStreak:  u.FeedbackStreak,
			LastClaimType:   u.LastClaim.ItemType,
			ComplianceState: ComplianceStateOf(u.LastClaim),
		}
	}
	return res, nil
}
