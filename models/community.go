// models/community.go
package models

import (
	"time"

	"gorm.io/datatypes"
)

// Community holds the per-community claim policy. Cookies and Roles are
// preloaded by the policy service.
type Community struct {
	ID      string `gorm:"primaryKey;size:64" json:"id"`
	Name    string `gorm:"size:128" json:"name"`
	Enabled bool   `gorm:"not null" json:"enabled"`

	// RoleBased switches access resolution from catalog defaults to the
	// role benefit map.
	RoleBased bool `gorm:"not null;default:false" json:"role_based"`

	FeedbackChannelID string `gorm:"size:64" json:"feedback_channel_id,omitempty"`
	LogChannelID      string `gorm:"size:64" json:"log_channel_id,omitempty"`
	CookieChannelID   string `gorm:"size:64" json:"cookie_channel_id,omitempty"`

	FeedbackMinutes int `gorm:"not null;default:15" json:"feedback_minutes"`
	BlacklistDays   int `gorm:"not null;default:30" json:"blacklist_days"`

	Cookies []CookieType  `gorm:"foreignKey:CommunityID;references:ID" json:"cookies,omitempty"`
	Roles   []RoleBenefit `gorm:"foreignKey:CommunityID;references:ID" json:"roles,omitempty"`

	Timestamps
}

// FeedbackWindow returns the configured window, or fallback when unset.
func (c *Community) FeedbackWindow(fallback time.Duration) time.Duration {
	if c == nil || c.FeedbackMinutes <= 0 {
		return fallback
	}
	return time.Duration(c.FeedbackMinutes) * time.Minute
}

// BlacklistDuration returns the sanction length, or fallbackDays when unset.
func (c *Community) BlacklistDuration(fallbackDays int) time.Duration {
	days := fallbackDays
	if c != nil && c.BlacklistDays > 0 {
		days = c.BlacklistDays
	}
	return time.Duration(days) * 24 * time.Hour
}

// Cookie returns the catalog entry for itemType, or nil.
func (c *Community) Cookie(itemType string) *CookieType {
	for i := range c.Cookies {
		if c.Cookies[i].ItemType == itemType {
			return &c.Cookies[i]
		}
	}
	return nil
}

// Benefits indexes the role benefit rows by role id.
func (c *Community) Benefits() map[string]RoleBenefit {
	out := make(map[string]RoleBenefit, len(c.Roles))
	for _, r := range c.Roles {
		out[r.RoleID] = r
	}
	return out
}

// CookieType is one catalog entry of a community.
type CookieType struct {
	ID            uint    `gorm:"primaryKey" json:"id"`
	CommunityID   string  `gorm:"size:64;not null;uniqueIndex:idx_cookie_type_community" json:"community_id"`
	ItemType      string  `gorm:"size:64;not null;uniqueIndex:idx_cookie_type_community" json:"item_type"`
	DisplayName   string  `gorm:"size:128" json:"display_name,omitempty"`
	Cost          float64 `gorm:"not null;default:0" json:"cost"`
	CooldownHours int     `gorm:"not null;default:0" json:"cooldown_hours"`
	StockSource   string  `gorm:"size:512" json:"stock_source"` // dir:<path>, r2:<prefix>, s3://bucket/prefix
	Enabled       bool    `gorm:"not null" json:"enabled"`

	Timestamps
}

// CookieAccess is the per item override carried by a role. Nil fields fall
// back to the role level override and then to the catalog.
type CookieAccess struct {
	Enabled       bool     `json:"enabled"`
	Cost          *float64 `json:"cost,omitempty"`
	CooldownHours *int     `json:"cooldown,omitempty"`
	DailyLimit    *int     `json:"daily_limit,omitempty"`
}

// RoleBenefit maps a platform role to its claim benefits.
type RoleBenefit struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	CommunityID string `gorm:"size:64;not null;uniqueIndex:idx_role_benefit_community" json:"community_id"`
	RoleID      string `gorm:"size:64;not null;uniqueIndex:idx_role_benefit_community" json:"role_id"`
	Name        string `gorm:"size:128" json:"name"`

	CostOverride     *float64 `json:"cost_override,omitempty"`
	CooldownOverride *int     `json:"cooldown_override,omitempty"`
	DailyLimit       *int     `json:"daily_limit,omitempty"`

	CookieAccess datatypes.JSONType[map[string]CookieAccess] `json:"cookie_access"`

	Timestamps
}
