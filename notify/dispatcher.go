// notify/dispatcher.go

// Package notify delivers claims, prompts and log entries to the chat
// platform.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrDeliveryFailed means the platform refused the message, typically because
// the user does not accept private messages.
var ErrDeliveryFailed = errors.New("notification delivery failed")

type Option struct {
	ID       string `json:"id"`
	Label    string `json:"label"`
	Rating   int    `json:"rating,omitempty"`
	FreeText bool   `json:"free_text,omitempty"`
}

// QuickResponseOptions returns the one-click ratings 1..5 followed by the free
// text fallback. Platforms allow at most six buttons on a message.
func QuickResponseOptions() []Option {
	opts := make([]Option, 0, 6)
	for r := 5; r >= 1; r-- {
		opts = append(opts, Option{
			ID:     fmt.Sprintf("rate:%d", r),
			Label:  strings.Repeat("⭐", r),
			Rating: r,
		})
	}
	return append(opts, Option{ID: "rate:text", Label: "Write feedback", FreeText: true})
}

type Attachment struct {
	Name    string `json:"name"`
	Content []byte `json:"content"`
}

type ClaimDelivery struct {
	UserID            string     `json:"user_id"`
	CommunityID       string     `json:"community_id"`
	ClaimID           string     `json:"claim_id"`
	ItemType          string     `json:"item_type"`
	Attachment        Attachment `json:"attachment"`
	Cost              float64    `json:"cost"`
	Balance           float64    `json:"balance"`
	Deadline          time.Time  `json:"deadline"`
	FeedbackChannelID string     `json:"feedback_channel_id,omitempty"`
	Options           []Option   `json:"options"`
}

type PromptKind string

const (
	PromptReminder PromptKind = "reminder"
	PromptFinal    PromptKind = "final"
)

type Prompt struct {
	UserID      string     `json:"user_id"`
	CommunityID string     `json:"community_id"`
	ClaimID     string     `json:"claim_id"`
	ItemType    string     `json:"item_type"`
	Kind        PromptKind `json:"kind"`
	Deadline    time.Time  `json:"deadline"`
	Message     string     `json:"message"`
	Options     []Option   `json:"options,omitempty"`
}

type Notice struct {
	UserID      string `json:"user_id"`
	CommunityID string `json:"community_id,omitempty"`
	Title       string `json:"title"`
	Message     string `json:"message"`
}

// Dispatcher is the outbound side of the chat platform.
type Dispatcher interface {
	DeliverClaim(ctx context.Context, d ClaimDelivery) error
	Prompt(ctx context.Context, p Prompt) error
	Notify(ctx context.Context, n Notice) error
	Log(ctx context.Context, communityID, message string) error
}
