// services/feedback_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"cookie-claim-system/models"
	"cookie-claim-system/notify"
	"cookie-claim-system/utils"
)

type ComplianceState string

const (
	StateNone              ComplianceState = "NONE"
	StatePending           ComplianceState = "PENDING"
	StatePartialRating     ComplianceState = "PARTIAL_RATING"
	StatePartialScreenshot ComplianceState = "PARTIAL_SCREENSHOT"
	StateComplete          ComplianceState = "COMPLETE"
	StateSanctioned        ComplianceState = "SANCTIONED"
)

// ComplianceStateOf derives the state from the persisted claim flags.
func ComplianceStateOf(c models.LastClaim) ComplianceState {
	switch {
	case !c.Exists():
		return StateNone
	case c.FeedbackGiven || (c.Rating != nil && c.Screenshot):
		return StateComplete
	case c.Sanctioned:
		return StateSanctioned
	case c.Rating != nil:
		return StatePartialRating
	case c.Screenshot:
		return StatePartialScreenshot
	default:
		return StatePending
	}
}

type FeedbackSubmission struct {
	UserID   string
	ClaimID  string // optional, must match the latest claim when set
	ItemType string // optional, must match the latest claim when set
	Rating   int
	Text     string
}

// Evidence is a message posted in a community channel.
type Evidence struct {
	UserID      string
	CommunityID string
	ChannelID   string
	Attachments []string // file names
}

type EvidenceResult struct {
	Accepted bool            `json:"accepted"`
	Reason   string          `json:"reason,omitempty"`
	State    ComplianceState `json:"state"`
}

type FeedbackStatus struct {
	State         ComplianceState `json:"state"`
	ClaimID       string          `json:"claim_id,omitempty"`
	ItemType      string          `json:"item_type,omitempty"`
	Deadline      *time.Time      `json:"feedback_deadline,omitempty"`
	Remaining     string          `json:"remaining,omitempty"`
	HasRating     bool            `json:"has_rating"`
	HasScreenshot bool            `json:"has_screenshot"`
}

type FeedbackServiceConfig struct {
	RatingTrust     float64
	ScreenshotTrust float64
	Now             Clock
}

// FeedbackService records the two compliance signals for a user's latest
// claim. Both writes are conditional on the claim id and on the claim not
// being sanctioned.
type FeedbackService struct {
	DB         *gorm.DB
	Ledger     *Ledger
	Policy     *PolicyService
	Dispatcher notify.Dispatcher

	ratingTrust     float64
	screenshotTrust float64
	now             Clock
	logger          *slog.Logger
}

func NewFeedbackService(db *gorm.DB, ledger *Ledger, policy *PolicyService, dispatcher notify.Dispatcher, cfg FeedbackServiceConfig) *FeedbackService {
	if cfg.Now == nil {
		cfg.Now = UTCNow
	}
	return &FeedbackService{
		DB:              db,
		Ledger:          ledger,
		Policy:          policy,
		Dispatcher:      dispatcher,
		ratingTrust:     cfg.RatingTrust,
		screenshotTrust: cfg.ScreenshotTrust,
		now:             cfg.Now,
		logger:          slog.Default().With("component", "feedback"),
	}
}

func (s *FeedbackService) latestClaim(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.Ledger.GetUser(ctx, userID)
	if errors.Is(err, ErrUserNotFound) {
		return nil, ErrNoActiveClaim
	}
	if err != nil {
		return nil, err
	}
	if !user.LastClaim.Exists() {
		return nil, ErrNoActiveClaim
	}
	return user, nil
}

// SubmitRating records the rating signal.
func (s *FeedbackService) SubmitRating(ctx context.Context, sub FeedbackSubmission) (ComplianceState, error) {
	if sub.Rating < 1 || sub.Rating > 5 {
		return "", ErrInvalidRating
	}

	user, err := s.latestClaim(ctx, sub.UserID)
	if err != nil {
		return "", err
	}
	claim := user.LastClaim

	if sub.ClaimID != "" && sub.ClaimID != claim.ID {
		return "", ErrClaimMismatch
	}
	if sub.ItemType != "" && NormalizeItemType(sub.ItemType) != claim.ItemType {
		return "", ErrClaimMismatch
	}
	if claim.Rating != nil {
		return "", ErrAlreadyRated
	}
	if claim.Sanctioned {
		return "", ErrClaimSanctioned
	}

	perfect := 0
	if sub.Rating == 5 {
		perfect = 1
	}
	now := s.now()

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.User{}).
			Where("id = ? AND last_claim_id = ? AND last_claim_rating IS NULL AND last_claim_sanctioned = ?", user.ID, claim.ID, false).
			UpdateColumns(map[string]any{
				"last_claim_rating":         sub.Rating,
				"last_claim_feedback_text":  sub.Text,
				"last_claim_feedback_given": gorm.Expr("last_claim_screenshot"),
				"feedback_streak":           gorm.Expr("CASE WHEN last_claim_screenshot THEN feedback_streak ELSE feedback_streak + 1 END"),
				"perfect_ratings":           gorm.Expr("perfect_ratings + ?", perfect),
				"trust_score":               clampedTrust(s.ratingTrust),
				"last_active":               now,
			})
		if res.Error != nil {
			return fmt.Errorf("record rating: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return errSignalRaced
		}

		return tx.Create(&models.FeedbackEntry{
			ID:            uuid.NewString(),
			UserID:        user.ID,
			CommunityID:   claim.CommunityID,
			ClaimID:       claim.ID,
			ItemType:      claim.ItemType,
			UnitID:        claim.UnitID,
			Rating:        sub.Rating,
			Text:          sub.Text,
			HasScreenshot: claim.Screenshot,
		}).Error
	})
	if errors.Is(err, errSignalRaced) {
		return "", s.explainRace(ctx, user.ID, claim.ID)
	}
	if err != nil {
		return "", err
	}

	state, err := s.stateOf(ctx, user.ID)
	if err != nil {
		return "", err
	}

	s.logger.Info("rating recorded", "user_id", user.ID, "claim_id", claim.ID, "rating", sub.Rating, "state", state)
	s.log(ctx, claim.CommunityID, fmt.Sprintf("<@%s> rated their %s cookie %d/5 (%s)", user.ID, claim.ItemType, sub.Rating, state))
	return state, nil
}

var errSignalRaced = errors.New("claim changed while recording signal")

func (s *FeedbackService) explainRace(ctx context.Context, userID, claimID string) error {
	user, err := s.Ledger.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	claim := user.LastClaim
	switch {
	case claim.ID != claimID:
		return ErrClaimMismatch
	case claim.Rating != nil:
		return ErrAlreadyRated
	case claim.Sanctioned:
		return ErrClaimSanctioned
	default:
		return ErrNoActiveClaim
	}
}

// RecordScreenshot accepts an image posted in the community's feedback
// channel as the screenshot signal. Anything else is ignored, not rejected.
func (s *FeedbackService) RecordScreenshot(ctx context.Context, ev Evidence) (*EvidenceResult, error) {
	community, err := s.Policy.GetCommunity(ctx, ev.CommunityID)
	if err != nil {
		return nil, err
	}
	if community.FeedbackChannelID == "" || ev.ChannelID != community.FeedbackChannelID {
		return &EvidenceResult{Reason: "not_feedback_channel", State: StateNone}, nil
	}

	hasImage := false
	for _, name := range ev.Attachments {
		if utils.IsImageFile(name) {
			hasImage = true
			break
		}
	}
	if !hasImage {
		return &EvidenceResult{Reason: "no_image", State: StateNone}, nil
	}

	user, err := s.latestClaim(ctx, ev.UserID)
	if errors.Is(err, ErrNoActiveClaim) {
		return &EvidenceResult{Reason: "no_claim", State: StateNone}, nil
	}
	if err != nil {
		return nil, err
	}
	claim := user.LastClaim
	if claim.CommunityID != community.ID {
		return &EvidenceResult{Reason: "no_claim", State: StateNone}, nil
	}

	state := ComplianceStateOf(claim)
	switch {
	case claim.Screenshot:
		return &EvidenceResult{Reason: "duplicate", State: state}, nil
	case claim.Sanctioned:
		return &EvidenceResult{Reason: "sanctioned", State: state}, nil
	}

	res := s.DB.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND last_claim_id = ? AND last_claim_screenshot = ? AND last_claim_sanctioned = ?", user.ID, claim.ID, false, false).
		UpdateColumns(map[string]any{
			"last_claim_screenshot":     true,
			"last_claim_feedback_given": gorm.Expr("last_claim_rating IS NOT NULL"),
			"feedback_streak":           gorm.Expr("CASE WHEN last_claim_rating IS NULL THEN feedback_streak + 1 ELSE feedback_streak END"),
			"trust_score":               clampedTrust(s.screenshotTrust),
			"last_active":               s.now(),
		})
	if res.Error != nil {
		return nil, fmt.Errorf("record screenshot: %w", res.Error)
	}

	state, err = s.stateOf(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected == 0 {
		reason := "duplicate"
		if state == StateSanctioned {
			reason = "sanctioned"
		}
		return &EvidenceResult{Reason: reason, State: state}, nil
	}

	s.logger.Info("screenshot recorded", "user_id", user.ID, "claim_id", claim.ID, "state", state)
	s.log(ctx, community.ID, fmt.Sprintf("<@%s> posted a screenshot for their %s cookie (%s)", user.ID, claim.ItemType, state))

	message := "Screenshot received. Rate your cookie to complete your feedback."
	if state == StateComplete {
		message = "Screenshot received. Your feedback is complete, thank you!"
	}
	if err := s.Dispatcher.Notify(ctx, notify.Notice{
		UserID:      user.ID,
		CommunityID: community.ID,
		Title:       "Feedback",
		Message:     message,
	}); err != nil {
		s.logger.Debug("screenshot acknowledgement not delivered", "user_id", user.ID, "error", err)
	}

	return &EvidenceResult{Accepted: true, State: state}, nil
}

// Status reports the compliance state of the user's latest claim.
func (s *FeedbackService) Status(ctx context.Context, userID string) (*FeedbackStatus, error) {
	user, err := s.Ledger.GetUser(ctx, userID)
	if errors.Is(err, ErrUserNotFound) {
		return &FeedbackStatus{State: StateNone}, nil
	}
	if err != nil {
		return nil, err
	}

	claim := user.LastClaim
	status := &FeedbackStatus{
		State:         ComplianceStateOf(claim),
		ClaimID:       claim.ID,
		ItemType:      claim.ItemType,
		Deadline:      claim.FeedbackDeadline,
		HasRating:     claim.Rating != nil,
		HasScreenshot: claim.Screenshot,
	}
	if claim.FeedbackDeadline != nil && (status.State == StatePending || status.State == StatePartialRating || status.State == StatePartialScreenshot) {
		if left := claim.FeedbackDeadline.Sub(s.now()); left > 0 {
			status.Remaining = left.Round(time.Second).String()
		}
	}
	return status, nil
}

func (s *FeedbackService) stateOf(ctx context.Context, userID string) (ComplianceState, error) {
	user, err := s.Ledger.GetUser(ctx, userID)
	if err != nil {
		return "", err
	}
	return ComplianceStateOf(user.LastClaim), nil
}

func (s *FeedbackService) log(ctx context.Context, communityID, message string) {
	if err := s.Dispatcher.Log(ctx, communityID, message); err != nil {
		s.logger.Warn("community log failed", "community_id", communityID, "error", err)
	}
}
