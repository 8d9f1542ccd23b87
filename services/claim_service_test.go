package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"cookie-claim-system/models"
)

func TestClaimSuccess(t *testing.T) {
	f := newFixture(t)
	f.user(t, "u1", 20)

	res, err := f.claim("u1", "Netflix")
	require.NoError(t, err)
	require.True(t, res.Delivered)
	require.Equal(t, "netflix", res.ItemType)
	require.Equal(t, "n1.txt", res.UnitID)
	require.Equal(t, 15.0, res.Balance)
	require.Equal(t, 1, res.DailyCount)
	require.Equal(t, Unlimited, res.DailyLimit)
	require.Equal(t, f.clock.Now().Add(15*time.Minute), res.Deadline)

	u := f.reload(t, "u1")
	require.Equal(t, 15.0, u.Balance)
	require.Equal(t, 5.0, u.TotalSpent)
	require.Equal(t, int64(1), u.TotalClaims)
	require.Equal(t, int64(1), u.WeeklyClaims)
	require.Equal(t, res.ClaimID, u.LastClaim.ID)
	require.Equal(t, "n1.txt", u.LastClaim.UnitID)
	require.Equal(t, testCommunity, u.LastClaim.CommunityID)
	require.Nil(t, u.LastClaim.Rating)
	require.False(t, u.LastClaim.Screenshot)
	require.Equal(t, StatePending, ComplianceStateOf(u.LastClaim))
	require.WithinDuration(t, res.Deadline, *u.LastClaim.FeedbackDeadline, time.Second)

	count, err := f.ledger.DailyCount(context.Background(), "u1", "netflix", f.clock.Now())
	require.NoError(t, err)
	require.Equal(t, 1, count)

	var stats []models.ClaimStatistic
	require.NoError(t, f.db.Order("scope, item_type").Find(&stats).Error)
	require.Len(t, stats, 3)
	for _, s := range stats {
		require.Equal(t, int64(1), s.Lifetime)
	}

	require.Len(t, f.dispatcher.deliveries, 1)
	d := f.dispatcher.deliveries[0]
	require.Equal(t, "u1", d.UserID)
	require.Equal(t, "account for n1.txt", string(d.Attachment.Content))
	require.Equal(t, feedbackChan, d.FeedbackChannelID)
	require.Len(t, d.Options, 6)
	require.Len(t, f.dispatcher.logs, 1)

	// the pool is read, never consumed
	require.Len(t, f.source["pool:netflix"].units, 3)
}

func TestClaimFreeCookieSkipsDebit(t *testing.T) {
	f := newFixture(t)
	f.addCookie(t, "sample", 0, 0, "pool:netflix")
	f.user(t, "u1", 0)

	res, err := f.claim("u1", "sample")
	require.NoError(t, err)
	require.Equal(t, 0.0, res.Balance)
}

func TestClaimMaintenance(t *testing.T) {
	f := newFixture(t)
	f.user(t, "u1", 20)
	f.user(t, testOwner, 20)
	require.NoError(t, f.policy.SetMaintenance(context.Background(), true))

	_, err := f.claim("u1", "netflix")
	require.ErrorIs(t, err, ErrMaintenanceMode)

	_, err = f.claim(testOwner, "netflix")
	require.NoError(t, err)
}

func TestClaimCommunityGates(t *testing.T) {
	f := newFixture(t)
	f.user(t, "u1", 20)
	ctx := context.Background()

	_, err := f.claims.Claim(ctx, ClaimRequest{UserID: "u1", CommunityID: "missing", ItemType: "netflix"})
	require.ErrorIs(t, err, ErrConfiguration)

	community, err := f.policy.GetCommunity(ctx, testCommunity)
	require.NoError(t, err)
	community.CookieChannelID = "cookies"
	require.NoError(t, f.policy.UpsertCommunity(ctx, community))

	_, err = f.claims.Claim(ctx, ClaimRequest{UserID: "u1", CommunityID: testCommunity, ChannelID: "general", ItemType: "netflix"})
	require.ErrorIs(t, err, ErrWrongChannel)

	community.Enabled = false
	require.NoError(t, f.policy.UpsertCommunity(ctx, community))
	_, err = f.claim("u1", "netflix")
	require.ErrorIs(t, err, ErrCommunityDisabled)
}

func TestClaimBlacklist(t *testing.T) {
	f := newFixture(t)
	f.user(t, "u1", 20)

	expires := f.clock.Now().Add(time.Hour)
	require.NoError(t, f.db.Model(&models.User{}).Where("id = ?", "u1").
		UpdateColumns(map[string]any{"blacklisted": true, "blacklist_expires": expires}).Error)

	_, err := f.claim("u1", "netflix")
	var blacklisted *BlacklistedError
	require.ErrorAs(t, err, &blacklisted)
	require.ErrorIs(t, err, ErrBlacklisted)
	require.WithinDuration(t, expires, *blacklisted.Expires, time.Second)

	// an expired blacklist is lifted on the next attempt
	f.clock.Advance(2 * time.Hour)
	_, err = f.claim("u1", "netflix")
	require.NoError(t, err)
	require.False(t, f.reload(t, "u1").Blacklisted)
}

func TestClaimPermanentBlacklist(t *testing.T) {
	f := newFixture(t)
	f.user(t, "u1", 20)
	require.NoError(t, f.db.Model(&models.User{}).Where("id = ?", "u1").UpdateColumn("blacklisted", true).Error)

	f.clock.Advance(365 * 24 * time.Hour)
	_, err := f.claim("u1", "netflix")
	require.ErrorIs(t, err, ErrBlacklisted)
}

func TestClaimUnknownAndDeniedItems(t *testing.T) {
	f := newFixture(t)
	f.user(t, "u1", 20)

	_, err := f.claim("u1", "hulu")
	require.ErrorIs(t, err, ErrUnknownItem)

	f.enableRoles(t, models.RoleBenefit{
		RoleID:       "member",
		CookieAccess: accessMap(map[string]models.CookieAccess{"netflix": {Enabled: false}}),
	})
	_, err = f.claim("u1", "netflix", models.MemberRole{ID: "member", Position: 1})
	require.ErrorIs(t, err, ErrAccessDenied)

	// nothing was charged
	require.Equal(t, 20.0, f.reload(t, "u1").Balance)
}

func TestClaimDailyLimit(t *testing.T) {
	f := newFixture(t)
	f.user(t, "u1", 10)
	f.enableRoles(t, models.RoleBenefit{
		RoleID:       "member",
		DailyLimit:   ptr(2),
		CookieAccess: accessMap(map[string]models.CookieAccess{"netflix": {Enabled: true}}),
	})
	member := models.MemberRole{ID: "member", Position: 1}

	res, err := f.claim("u1", "netflix", member)
	require.NoError(t, err)
	require.Equal(t, 2, res.DailyLimit)

	_, err = f.claim("u1", "netflix", member)
	require.NoError(t, err)
	require.Equal(t, 0.0, f.reload(t, "u1").Balance)

	_, err = f.claim("u1", "netflix", member)
	var limit *DailyLimitError
	require.ErrorAs(t, err, &limit)
	require.Equal(t, 2, limit.Count)
	require.Equal(t, 2, limit.Limit)

	// a new UTC day resets the counter
	require.NoError(t, f.ledger.Credit(context.Background(), "u1", 5, CreditAdmin))
	f.clock.Advance(24 * time.Hour)
	_, err = f.claim("u1", "netflix", member)
	require.NoError(t, err)
}

func TestClaimCooldownBlocksSecondClaim(t *testing.T) {
	f := newFixture(t)
	f.user(t, "u1", 10)

	_, err := f.claim("u1", "spotify")
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	_, err = f.claim("u1", "spotify")
	var cooldown *CooldownError
	require.ErrorAs(t, err, &cooldown)
	require.Equal(t, 23*time.Hour, cooldown.Remaining)

	f.clock.Advance(23 * time.Hour)
	_, err = f.claim("u1", "spotify")
	require.NoError(t, err)
}

func TestClaimCooldownOnlyTracksLastType(t *testing.T) {
	f := newFixture(t)
	f.user(t, "u1", 20)

	_, err := f.claim("u1", "spotify")
	require.NoError(t, err)
	_, err = f.claim("u1", "netflix")
	require.NoError(t, err)

	// the netflix claim replaced the last claim, so spotify is not cooling down
	_, err = f.claim("u1", "spotify")
	require.NoError(t, err)
}

func TestClaimInsufficientBalance(t *testing.T) {
	f := newFixture(t)
	f.user(t, "u1", 4)

	_, err := f.claim("u1", "netflix")
	var balance *InsufficientBalanceError
	require.ErrorAs(t, err, &balance)
	require.Equal(t, 5.0, balance.Needed)
	require.Equal(t, 4.0, balance.Balance)
	require.Equal(t, 4.0, f.reload(t, "u1").Balance)
}

func TestClaimStockFailures(t *testing.T) {
	f := newFixture(t)
	f.user(t, "u1", 20)

	f.addCookie(t, "empty", 1, 0, "pool:empty")
	_, err := f.claim("u1", "empty")
	require.ErrorIs(t, err, ErrOutOfStock)

	f.addCookie(t, "broken", 1, 0, "pool:missing")
	_, err = f.claim("u1", "broken")
	require.ErrorIs(t, err, ErrConfiguration)

	u := f.reload(t, "u1")
	require.Equal(t, 20.0, u.Balance)
	require.False(t, u.LastClaim.Exists())
}

func TestClaimSingleFlight(t *testing.T) {
	f := newFixture(t)
	f.user(t, "u1", 20)

	pool := f.source["pool:netflix"]
	pool.gate = make(chan struct{})
	pool.entered = make(chan struct{}, 1)

	var (
		wg     sync.WaitGroup
		first  *ClaimResult
		errOne error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		first, errOne = f.claim("u1", "netflix")
	}()

	<-pool.entered
	_, err := f.claim("u1", "netflix")
	require.ErrorIs(t, err, ErrClaimInProgress)

	close(pool.gate)
	wg.Wait()
	require.NoError(t, errOne)
	require.NotNil(t, first)
	require.Equal(t, 0, f.locks.Len())

	u := f.reload(t, "u1")
	require.Equal(t, 15.0, u.Balance)
	require.Equal(t, int64(1), u.TotalClaims)
}

func TestClaimDeliveryFailureKeepsClaim(t *testing.T) {
	f := newFixture(t)
	f.user(t, "u1", 20)
	f.dispatcher.deliverErr = errors.New("dms closed")

	res, err := f.claim("u1", "netflix")
	require.ErrorIs(t, err, ErrDeliveryFailed)
	require.NotNil(t, res)
	require.False(t, res.Delivered)

	u := f.reload(t, "u1")
	require.Equal(t, 15.0, u.Balance)
	require.Equal(t, res.ClaimID, u.LastClaim.ID)
}

func TestCheckStock(t *testing.T) {
	f := newFixture(t)
	f.user(t, "u1", 20)
	f.addCookie(t, "broken", 1, 0, "pool:missing")

	_, err := f.claim("u1", "netflix")
	require.NoError(t, err)

	views, err := f.claims.CheckStock(context.Background(), StockQuery{UserID: "u1", CommunityID: testCommunity})
	require.NoError(t, err)
	byType := map[string]StockView{}
	for _, v := range views {
		byType[v.ItemType] = v
	}
	require.Len(t, byType, 3)
	require.Equal(t, 3, byType["netflix"].Available)
	require.Equal(t, 1, byType["netflix"].ClaimedToday)
	require.Equal(t, "Netflix", byType["netflix"].DisplayName)
	require.Equal(t, 1, byType["spotify"].Available)
	require.Equal(t, "not_configured", byType["broken"].Status)

	_, err = f.claims.CheckStock(context.Background(), StockQuery{CommunityID: testCommunity, ItemType: "hulu"})
	require.ErrorIs(t, err, ErrUnknownItem)
}

func TestClaimDefaultPickIsUniform(t *testing.T) {
	f := newFixture(t)
	svc := NewClaimService(f.db, f.policy, f.access, f.ledger, f.source, f.locks, f.dispatcher, ClaimServiceConfig{
		OwnerID: testOwner,
		Now:     f.clock.Now,
	})

	for i := 0; i < 1000; i++ {
		n := svc.pick(3)
		require.GreaterOrEqual(t, n, 0)
		require.Less(t, n, 3)
	}

	seen := map[string]int{}
	for i := 0; i < 60; i++ {
		userID := fmt.Sprintf("u%d", i)
		f.user(t, userID, 5)
		res, err := svc.Claim(context.Background(), ClaimRequest{
			UserID:      userID,
			Username:    userID,
			CommunityID: testCommunity,
			ItemType:    "netflix",
		})
		require.NoError(t, err)
		require.Contains(t, []string{"n1.txt", "n2.txt", "n3.txt"}, res.UnitID)
		seen[res.UnitID]++
	}
	require.Greater(t, len(seen), 1)
}
