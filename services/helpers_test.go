package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"cookie-claim-system/cache"
	"cookie-claim-system/models"
	"cookie-claim-system/notify"
	"cookie-claim-system/stock"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(models.All()...))
	return db
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeDispatcher struct {
	mu         sync.Mutex
	deliveries []notify.ClaimDelivery
	prompts    []notify.Prompt
	notices    []notify.Notice
	logs       []string
	deliverErr error
}

func (f *fakeDispatcher) DeliverClaim(_ context.Context, d notify.ClaimDelivery) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deliverErr != nil {
		return f.deliverErr
	}
	f.deliveries = append(f.deliveries, d)
	return nil
}

func (f *fakeDispatcher) Prompt(_ context.Context, p notify.Prompt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, p)
	return nil
}

func (f *fakeDispatcher) Notify(_ context.Context, n notify.Notice) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notices = append(f.notices, n)
	return nil
}

func (f *fakeDispatcher) Log(_ context.Context, _ string, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, message)
	return nil
}

func (f *fakeDispatcher) promptKinds() []notify.PromptKind {
	f.mu.Lock()
	defer f.mu.Unlock()
	kinds := make([]notify.PromptKind, 0, len(f.prompts))
	for _, p := range f.prompts {
		kinds = append(kinds, p.Kind)
	}
	return kinds
}

// fakePool is an in-memory pool. When gate is set, List blocks until it is
// closed.
type fakePool struct {
	units   []string
	listErr error
	gate    chan struct{}
	entered chan struct{}
}

func (p *fakePool) List(ctx context.Context) ([]string, error) {
	if p.entered != nil {
		select {
		case p.entered <- struct{}{}:
		default:
		}
	}
	if p.gate != nil {
		select {
		case <-p.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.listErr != nil {
		return nil, p.listErr
	}
	return append([]string(nil), p.units...), nil
}

func (p *fakePool) Open(_ context.Context, unit string) (io.ReadCloser, error) {
	for _, u := range p.units {
		if u == unit {
			return io.NopCloser(strings.NewReader("account for " + unit)), nil
		}
	}
	return nil, errors.New("no such unit")
}

type fakeSource map[string]*fakePool

func (s fakeSource) PoolFor(source string) (stock.Pool, error) {
	p, ok := s[source]
	if !ok {
		return nil, fmt.Errorf("%w: %s", stock.ErrSourceNotConfigured, source)
	}
	return p, nil
}

type fixture struct {
	db         *gorm.DB
	clock      *testClock
	dispatcher *fakeDispatcher
	source     fakeSource
	ledger     *Ledger
	access     *AccessService
	policy     *PolicyService
	locks      *ClaimLocks
	claims     *ClaimService
	feedback   *FeedbackService
	deadlines  *DeadlineEngine
}

const (
	testOwner     = "owner"
	testCommunity = "g1"
	feedbackChan  = "feedback-chan"
)

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		db:         newTestDB(t),
		clock:      newTestClock(),
		dispatcher: &fakeDispatcher{},
		source: fakeSource{
			"pool:netflix": {units: []string{"n1.txt", "n2.txt", "n3.txt"}},
			"pool:spotify": {units: []string{"s1.txt"}},
			"pool:empty":   {},
		},
	}
	f.ledger = NewLedger(f.db, f.clock.Now)
	f.access = NewAccessService(cache.NewLocalWithClock(f.clock.Now), 5*time.Minute)
	f.policy = NewPolicyService(f.db, f.access)
	f.locks = NewClaimLocks(5*time.Minute, f.clock.Now)
	f.claims = NewClaimService(f.db, f.policy, f.access, f.ledger, f.source, f.locks, f.dispatcher, ClaimServiceConfig{
		OwnerID:        testOwner,
		FeedbackWindow: 15 * time.Minute,
		Now:            f.clock.Now,
		Pick:           func(int) int { return 0 },
	})
	f.feedback = NewFeedbackService(f.db, f.ledger, f.policy, f.dispatcher, FeedbackServiceConfig{
		RatingTrust:     0.25,
		ScreenshotTrust: 0.5,
		Now:             f.clock.Now,
	})
	f.deadlines = NewDeadlineEngine(f.db, f.policy, f.dispatcher, DeadlineConfig{
		FirstReminder:        10 * time.Minute,
		SecondReminder:       5 * time.Minute,
		GracePeriod:          2 * time.Minute,
		FinalPromptWindow:    30 * time.Second,
		TrustPenalty:         1,
		DefaultBlacklistDays: 30,
		Now:                  f.clock.Now,
		Wait: func(_ context.Context, d time.Duration) error {
			f.clock.Advance(d)
			return nil
		},
	})

	ctx := context.Background()
	require.NoError(t, f.policy.UpsertCommunity(ctx, &models.Community{
		ID:                testCommunity,
		Name:              "Test Community",
		Enabled:           true,
		FeedbackChannelID: feedbackChan,
		FeedbackMinutes:   15,
		BlacklistDays:     30,
	}))
	f.addCookie(t, "netflix", 5, 0, "pool:netflix")
	f.addCookie(t, "spotify", 3, 24, "pool:spotify")
	return f
}

func (f *fixture) addCookie(t *testing.T, itemType string, cost float64, cooldown int, source string) {
	t.Helper()
	require.NoError(t, f.policy.UpsertCookieType(context.Background(), &models.CookieType{
		CommunityID:   testCommunity,
		ItemType:      itemType,
		Cost:          cost,
		CooldownHours: cooldown,
		StockSource:   source,
		Enabled:       true,
	}))
}

func (f *fixture) enableRoles(t *testing.T, benefits ...models.RoleBenefit) {
	t.Helper()
	ctx := context.Background()
	community, err := f.policy.GetCommunity(ctx, testCommunity)
	require.NoError(t, err)
	community.RoleBased = true
	require.NoError(t, f.policy.UpsertCommunity(ctx, community))
	for i := range benefits {
		benefits[i].CommunityID = testCommunity
		require.NoError(t, f.policy.UpsertRoleBenefit(ctx, &benefits[i]))
	}
}

func (f *fixture) user(t *testing.T, id string, balance float64) *models.User {
	t.Helper()
	ctx := context.Background()
	_, err := f.ledger.EnsureUser(ctx, id, id)
	require.NoError(t, err)
	if balance > 0 {
		require.NoError(t, f.ledger.Credit(ctx, id, balance, CreditAdmin))
	}
	u, err := f.ledger.GetUser(ctx, id)
	require.NoError(t, err)
	return u
}

func (f *fixture) reload(t *testing.T, id string) *models.User {
	t.Helper()
	u, err := f.ledger.GetUser(context.Background(), id)
	require.NoError(t, err)
	return u
}

func (f *fixture) claim(userID, itemType string, roles ...models.MemberRole) (*ClaimResult, error) {
	return f.claims.Claim(context.Background(), ClaimRequest{
		UserID:      userID,
		Username:    userID,
		CommunityID: testCommunity,
		Roles:       roles,
		ItemType:    itemType,
	})
}

func accessMap(m map[string]models.CookieAccess) datatypes.JSONType[map[string]models.CookieAccess] {
	return datatypes.NewJSONType(m)
}

func ptr[T any](v T) *T { return &v }
