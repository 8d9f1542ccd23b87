// models/statistics.go
package models

import "time"

const (
	// GlobalScope is the statistics scope shared by every community.
	GlobalScope = "global"
	// AllItems aggregates every item type within a scope.
	AllItems = "*"
)

// ClaimStatistic counts claims per (scope, item type). Scope is a community
// id or GlobalScope.
type ClaimStatistic struct {
	Scope     string    `gorm:"primaryKey;size:64" json:"scope"`
	ItemType  string    `gorm:"primaryKey;size:64" json:"item_type"`
	Weekly    int64     `gorm:"not null;default:0" json:"weekly"`
	Monthly   int64     `gorm:"not null;default:0" json:"monthly"`
	Lifetime  int64     `gorm:"not null;default:0" json:"lifetime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// FeedbackEntry is an append-only log of submitted ratings.
type FeedbackEntry struct {
	ID            string    `gorm:"primaryKey;size:36" json:"id"`
	UserID        string    `gorm:"size:64;index;not null" json:"user_id"`
	CommunityID   string    `gorm:"size:64;index" json:"community_id"`
	ClaimID       string    `gorm:"size:36;index" json:"claim_id"`
	ItemType      string    `gorm:"size:64" json:"item_type"`
	UnitID        string    `gorm:"size:255" json:"unit_id"`
	Rating        int       `json:"rating"`
	Text          string    `gorm:"size:500" json:"text,omitempty"`
	HasScreenshot bool      `json:"has_screenshot"`
	CreatedAt     time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// BotSettings is a single row (ID 1) of process wide switches.
type BotSettings struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	MaintenanceMode bool      `gorm:"not null;default:false" json:"maintenance_mode"`
	UpdatedAt       time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// StockSnapshot is the last observed stock level of one catalog entry.
type StockSnapshot struct {
	CommunityID string    `gorm:"primaryKey;size:64" json:"community_id"`
	ItemType    string    `gorm:"primaryKey;size:64" json:"item_type"`
	Available   int       `gorm:"not null;default:0" json:"available"`
	Status      string    `gorm:"size:32" json:"status"`
	Error       string    `gorm:"size:255" json:"error,omitempty"`
	CheckedAt   time.Time `json:"checked_at"`
}

// All lists every model for AutoMigrate.
func All() []any {
	return []any{
		&User{},
		&DailyClaimCounter{},
		&Community{},
		&CookieType{},
		&RoleBenefit{},
		&ClaimStatistic{},
		&FeedbackEntry{},
		&BotSettings{},
		&StockSnapshot{},
	}
}
