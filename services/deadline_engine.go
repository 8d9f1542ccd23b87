// services/deadline_engine.go
package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"cookie-claim-system/models"
	"cookie-claim-system/notify"
)

type DeadlineConfig struct {
	FirstReminder        time.Duration // before the deadline
	SecondReminder       time.Duration // before the deadline
	GracePeriod          time.Duration // after the deadline
	FinalPromptWindow    time.Duration
	TrustPenalty         float64
	DefaultBlacklistDays int
	Concurrency          int
	Now                  Clock
	// Wait blocks for d or until ctx is done. Defaults to a timer.
	Wait func(ctx context.Context, d time.Duration) error
}

// DeadlineEngine runs the reminder and enforcement sweeps over open claims.
// Every transition is a compare-and-set on the user row, so overlapping
// sweeps never send twice or sanction a completed claim.
type DeadlineEngine struct {
	DB         *gorm.DB
	Policy     *PolicyService
	Dispatcher notify.Dispatcher

	cfg    DeadlineConfig
	now    Clock
	wait   func(ctx context.Context, d time.Duration) error
	logger *slog.Logger
}

func NewDeadlineEngine(db *gorm.DB, policy *PolicyService, dispatcher notify.Dispatcher, cfg DeadlineConfig) *DeadlineEngine {
	if cfg.Now == nil {
		cfg.Now = UTCNow
	}
	if cfg.Wait == nil {
		cfg.Wait = sleepCtx
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 10
	}
	if cfg.DefaultBlacklistDays <= 0 {
		cfg.DefaultBlacklistDays = 30
	}
	return &DeadlineEngine{
		DB:         db,
		Policy:     policy,
		Dispatcher: dispatcher,
		cfg:        cfg,
		now:        cfg.Now,
		wait:       cfg.Wait,
		logger:     slog.Default().With("component", "deadlines"),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// openClaims returns users whose latest claim still awaits feedback.
func (e *DeadlineEngine) openClaims(ctx context.Context) ([]models.User, error) {
	var users []models.User
	err := e.DB.WithContext(ctx).
		Where("last_claim_id <> '' AND last_claim_feedback_given = ? AND last_claim_sanctioned = ? AND blacklisted = ?", false, false, false).
		Find(&users).Error
	if err != nil {
		return nil, fmt.Errorf("load open claims: %w", err)
	}
	return users, nil
}

// RunReminders sends due reminders and returns how many were sent.
func (e *DeadlineEngine) RunReminders(ctx context.Context) (int, error) {
	users, err := e.openClaims(ctx)
	if err != nil {
		return 0, err
	}

	now := e.now()
	sent := 0
	for i := range users {
		ok, err := e.remindOne(ctx, &users[i], now)
		if err != nil {
			e.logger.Error("reminder failed", "user_id", users[i].ID, "error", err)
			continue
		}
		if ok {
			sent++
		}
	}
	return sent, nil
}

func (e *DeadlineEngine) remindOne(ctx context.Context, u *models.User, now time.Time) (sent bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	claim := u.LastClaim
	if claim.FeedbackDeadline == nil || !now.Before(*claim.FeedbackDeadline) {
		return false, nil
	}
	deadline := *claim.FeedbackDeadline

	var flag string
	updates := map[string]any{}
	switch {
	case !claim.ReminderSecondSent && !now.Before(deadline.Add(-e.cfg.SecondReminder)):
		// A missed first reminder is folded into the second one.
		flag = "last_claim_reminder_second_sent"
		updates[flag] = true
		updates["last_claim_reminder_first_sent"] = true
	case !claim.ReminderFirstSent && !claim.ReminderSecondSent && !now.Before(deadline.Add(-e.cfg.FirstReminder)):
		flag = "last_claim_reminder_first_sent"
		updates[flag] = true
	default:
		return false, nil
	}

	res := e.DB.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND last_claim_id = ? AND last_claim_feedback_given = ? AND last_claim_sanctioned = ? AND "+flag+" = ?",
			u.ID, claim.ID, false, false, false).
		UpdateColumns(updates)
	if res.Error != nil {
		return false, fmt.Errorf("flag reminder: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return false, nil
	}

	left := deadline.Sub(now).Round(time.Minute)
	if err := e.Dispatcher.Prompt(ctx, notify.Prompt{
		UserID:      u.ID,
		CommunityID: claim.CommunityID,
		ClaimID:     claim.ID,
		ItemType:    claim.ItemType,
		Kind:        notify.PromptReminder,
		Deadline:    deadline,
		Message:     fmt.Sprintf("%s left to finish feedback for your %s cookie. Still missing: %s.", left, claim.ItemType, missingSignals(claim)),
		Options:     ratingOptions(claim),
	}); err != nil {
		e.logger.Warn("reminder not delivered", "user_id", u.ID, "claim_id", claim.ID, "error", err)
	}
	return true, nil
}

// RunEnforcement handles claims past deadline plus grace and returns how many
// users were sanctioned.
func (e *DeadlineEngine) RunEnforcement(ctx context.Context) (int, error) {
	users, err := e.openClaims(ctx)
	if err != nil {
		return 0, err
	}

	now := e.now()
	var sanctioned atomic.Int64

	g := new(errgroup.Group)
	g.SetLimit(e.cfg.Concurrency)
	for i := range users {
		u := users[i]
		claim := u.LastClaim
		if claim.FeedbackDeadline == nil || !now.After(claim.FeedbackDeadline.Add(e.cfg.GracePeriod)) {
			continue
		}
		g.Go(func() error {
			ok, err := e.enforceOne(ctx, &u)
			if err != nil {
				e.logger.Error("enforcement failed", "user_id", u.ID, "claim_id", u.LastClaim.ID, "error", err)
				return nil
			}
			if ok {
				sanctioned.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	return int(sanctioned.Load()), nil
}

func (e *DeadlineEngine) enforceOne(ctx context.Context, u *models.User) (sanctioned bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	claim := u.LastClaim

	if claim.FinalPromptSentAt == nil {
		promptAt := e.now()
		res := e.DB.WithContext(ctx).Model(&models.User{}).
			Where("id = ? AND last_claim_id = ? AND last_claim_final_prompt_sent_at IS NULL AND last_claim_feedback_given = ? AND last_claim_sanctioned = ?",
				u.ID, claim.ID, false, false).
			UpdateColumn("last_claim_final_prompt_sent_at", promptAt)
		if res.Error != nil {
			return false, fmt.Errorf("flag final prompt: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return false, nil
		}

		if err := e.Dispatcher.Prompt(ctx, notify.Prompt{
			UserID:      u.ID,
			CommunityID: claim.CommunityID,
			ClaimID:     claim.ID,
			ItemType:    claim.ItemType,
			Kind:        notify.PromptFinal,
			Deadline:    promptAt.Add(e.cfg.FinalPromptWindow),
			Message:     fmt.Sprintf("Your feedback deadline has passed. Finish it within %s or you will be blacklisted. Still missing: %s.", e.cfg.FinalPromptWindow, missingSignals(claim)),
			Options:     ratingOptions(claim),
		}); err != nil {
			e.logger.Warn("final prompt not delivered", "user_id", u.ID, "claim_id", claim.ID, "error", err)
		}

		if err := e.wait(ctx, e.cfg.FinalPromptWindow); err != nil {
			return false, err
		}
	} else if e.now().Before(claim.FinalPromptSentAt.Add(e.cfg.FinalPromptWindow)) {
		// another sweep is still waiting on this claim
		return false, nil
	}

	return e.sanction(ctx, u.ID, claim)
}

func (e *DeadlineEngine) sanction(ctx context.Context, userID string, claim models.LastClaim) (bool, error) {
	community, err := e.Policy.GetCommunity(ctx, claim.CommunityID)
	if err != nil {
		e.logger.Warn("community lookup failed, using default blacklist length", "community_id", claim.CommunityID, "error", err)
	}

	now := e.now()
	expires := now.Add(community.BlacklistDuration(e.cfg.DefaultBlacklistDays))

	res := e.DB.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND last_claim_id = ? AND last_claim_feedback_given = ? AND last_claim_sanctioned = ?", userID, claim.ID, false, false).
		UpdateColumns(map[string]any{
			"blacklisted":           true,
			"blacklist_expires":     expires,
			"trust_score":           clampedTrust(-e.cfg.TrustPenalty),
			"feedback_streak":       0,
			"last_claim_sanctioned": true,
		})
	if res.Error != nil {
		return false, fmt.Errorf("sanction: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return false, nil
	}

	e.logger.Info("user sanctioned for missing feedback", "user_id", userID, "claim_id", claim.ID, "expires", expires)

	if err := e.Dispatcher.Notify(ctx, notify.Notice{
		UserID:      userID,
		CommunityID: claim.CommunityID,
		Title:       "Blacklisted",
		Message:     fmt.Sprintf("You did not complete feedback for your %s cookie. You are blacklisted until %s.", claim.ItemType, expires.Format(time.RFC1123)),
	}); err != nil {
		e.logger.Warn("sanction notice not delivered", "user_id", userID, "error", err)
	}
	if err := e.Dispatcher.Log(ctx, claim.CommunityID, fmt.Sprintf("<@%s> was blacklisted for missing feedback on a %s cookie", userID, claim.ItemType)); err != nil {
		e.logger.Warn("community log failed", "community_id", claim.CommunityID, "error", err)
	}
	return true, nil
}

func missingSignals(c models.LastClaim) string {
	var missing []string
	if c.Rating == nil {
		missing = append(missing, "rating")
	}
	if !c.Screenshot {
		missing = append(missing, "screenshot in the feedback channel")
	}
	return strings.Join(missing, " and ")
}

func ratingOptions(c models.LastClaim) []notify.Option {
	if c.Rating != nil {
		return nil
	}
	return notify.QuickResponseOptions()
}
