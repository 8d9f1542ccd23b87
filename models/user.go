// models/user.go
package models

import (
	"time"
)

// DefaultTrustScore is assigned to every user on first interaction.
const DefaultTrustScore = 50.0

// User is the durable per-user ledger row. It is created lazily on the first
// interaction and only ever changed through delta updates.
type User struct {
	ID       string `gorm:"primaryKey;size:64" json:"id"` // platform identity
	Username string `gorm:"size:128" json:"username"`

	Balance     float64 `gorm:"not null;default:0" json:"balance"`
	TotalEarned float64 `gorm:"not null;default:0" json:"total_earned"`
	TotalSpent  float64 `gorm:"not null;default:0" json:"total_spent"`
	TrustScore  float64 `gorm:"not null;default:50" json:"trust_score"` // 0..100

	Blacklisted      bool       `gorm:"not null;default:false;index" json:"blacklisted"`
	BlacklistExpires *time.Time `json:"blacklist_expires,omitempty"` // nil = permanent

	WeeklyClaims   int64 `gorm:"not null;default:0" json:"weekly_claims"`
	MonthlyClaims  int64 `gorm:"not null;default:0" json:"monthly_claims"`
	TotalClaims    int64 `gorm:"not null;default:0" json:"total_claims"`
	FeedbackStreak int64 `gorm:"not null;default:0" json:"feedback_streak"`
	PerfectRatings int64 `gorm:"not null;default:0" json:"perfect_ratings"`

	LastActive *time.Time `json:"last_active,omitempty"`

	// Only the most recent claim across every item type is kept.
	LastClaim LastClaim `gorm:"embedded;embeddedPrefix:last_claim_" json:"last_claim"`

	Timestamps
}

// LastClaim is the feedback-tracked record of a user's latest claim.
type LastClaim struct {
	ID               string     `gorm:"size:36;index" json:"id,omitempty"`
	ItemType         string     `gorm:"size:64" json:"item_type,omitempty"`
	UnitID           string     `gorm:"size:255" json:"unit_id,omitempty"`
	CommunityID      string     `gorm:"size:64" json:"community_id,omitempty"`
	ClaimedAt        *time.Time `json:"claimed_at,omitempty"`
	FeedbackDeadline *time.Time `json:"feedback_deadline,omitempty"`

	Rating        *int   `json:"rating,omitempty"`
	FeedbackText  string `gorm:"size:500" json:"feedback_text,omitempty"`
	Screenshot    bool   `gorm:"not null;default:false" json:"screenshot"`
	FeedbackGiven bool   `gorm:"not null;default:false" json:"feedback_given"` // rating and screenshot both present

	ReminderFirstSent  bool       `gorm:"not null;default:false" json:"reminder_first_sent"`
	ReminderSecondSent bool       `gorm:"not null;default:false" json:"reminder_second_sent"`
	FinalPromptSentAt  *time.Time `json:"final_prompt_sent_at,omitempty"`
	Sanctioned         bool       `gorm:"not null;default:false" json:"sanctioned"`
}

func (c LastClaim) Exists() bool {
	return c.ID != ""
}

// DailyClaimCounter is the per (user, item type) daily counter. The count is
// reset lazily once last_claim_date is before today (UTC).
type DailyClaimCounter struct {
	UserID        string    `gorm:"primaryKey;size:64" json:"user_id"`
	ItemType      string    `gorm:"primaryKey;size:64" json:"item_type"`
	Count         int       `gorm:"column:claim_count;not null;default:0" json:"count"`
	LastClaimDate string    `gorm:"size:10;not null" json:"last_claim_date"` // YYYY-MM-DD
	Lifetime      int64     `gorm:"not null;default:0" json:"lifetime"`
	UpdatedAt     time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// MemberRole is a platform role held by a user together with its position in
// the community's role hierarchy. Higher positions rank higher.
type MemberRole struct {
	ID       string `json:"id"`
	Position int    `json:"position"`
}

// Timestamps adds GORM auto-times
type Timestamps struct {
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}
