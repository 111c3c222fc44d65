package services

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/blogem/nms-gateway/audit"
	"github.com/blogem/nms-gateway/config"
	"github.com/blogem/nms-gateway/models"
	"github.com/blogem/nms-gateway/repositories/mocks"
	"github.com/blogem/nms-gateway/userctx"
)

func testAuditConfig() config.AuditConfig {
	return config.AuditConfig{
		BufferSize:       8,
		WriteTimeout:     time.Second,
		BreakerThreshold: 3,
		BreakerCooldown:  time.Minute,
	}
}

func withOrganization(name string) context.Context {
	return userctx.SetOrganization(context.Background(), func() (*models.Organization, error) {
		return &models.Organization{Name: name}, nil
	})
}

// RecordTestSuite is a test suite for the synchronous Record path
type RecordTestSuite struct {
	suite.Suite
	mockRepo *mocks.MockAuditRepository
	metrics  *AuditMetrics
	service  AuditService
}

// SetupTest sets up the test suite before each test
func (suite *RecordTestSuite) SetupTest() {
	suite.mockRepo = mocks.NewMockAuditRepository(suite.T())
	suite.metrics = NewAuditMetrics(nil)
	suite.service = NewAuditService(suite.mockRepo, audit.MustRuleset(audit.DefaultRules()), testAuditConfig(), suite.metrics)
}

// TestRecord_ReadIsNotAudited tests that GET requests never reach the store
func (suite *RecordTestSuite) TestRecord_ReadIsNotAudited() {
	suite.service.Record(withOrganization("acme"), &ProxiedRequest{
		Method: "GET",
		Path:   "/magma/v1/networks/net1/gateways/gw1",
	}, 200)

	assert.Zero(suite.T(), testutil.ToFloat64(suite.metrics.Skipped.WithLabelValues(SkipNoMatch)))
}

// TestRecord_UnmatchedPathIsSkipped tests that a mutation on an unknown path is not written
func (suite *RecordTestSuite) TestRecord_UnmatchedPathIsSkipped() {
	suite.service.Record(withOrganization("acme"), &ProxiedRequest{
		Method: "POST",
		Path:   "/magma/v1/about/version",
	}, 200)

	assert.Equal(suite.T(), 1.0, testutil.ToFloat64(suite.metrics.Skipped.WithLabelValues(SkipNoMatch)))
}

// TestRecord_ResolverErrorIsSkipped tests that a malformed body is logged and skipped
func (suite *RecordTestSuite) TestRecord_ResolverErrorIsSkipped() {
	suite.service.Record(withOrganization("acme"), &ProxiedRequest{
		Method: "POST",
		Path:   "/magma/v1/networks/net1/rules/policies",
		Body:   []byte(`{not json`),
	}, 201)

	assert.Equal(suite.T(), 1.0, testutil.ToFloat64(suite.metrics.Skipped.WithLabelValues(SkipResolverError)))
}

// TestRecord_CreatePolicy tests the full entry written for a policy create
func (suite *RecordTestSuite) TestRecord_CreatePolicy() {
	var written *models.AuditLogEntry
	suite.mockRepo.EXPECT().Create(mock.Anything, mock.AnythingOfType("*models.AuditLogEntry")).
		Run(func(ctx context.Context, entry *models.AuditLogEntry) { written = entry }).
		Return(nil)

	body := []byte(`{"id":"policy-42","priority":5}`)
	suite.service.Record(withOrganization("acme"), &ProxiedRequest{
		Method:    "POST",
		URL:       "/nms/apicontroller/magma/v1/networks/net1/rules/policies",
		Path:      "/magma/v1/networks/net1/rules/policies",
		Body:      body,
		IPAddress: "10.1.2.3",
		RequestID: "req-1",
		UserID:    "u-7",
		UserEmail: "ops@acme.example",
	}, 201)

	require.NotNil(suite.T(), written)
	assert.Equal(suite.T(), models.MutationCreate, written.MutationType)
	assert.Equal(suite.T(), "policy-42", written.ObjectID)
	assert.Equal(suite.T(), "policy", written.ObjectType)
	assert.Equal(suite.T(), "policy-42", written.ObjectDisplayName)
	assert.Equal(suite.T(), string(body), written.MutationData)
	assert.Equal(suite.T(), "/nms/apicontroller/magma/v1/networks/net1/rules/policies", written.URL)
	assert.Equal(suite.T(), "acme", written.Organization)
	assert.Equal(suite.T(), "u-7", written.ActingUserID)
	assert.Equal(suite.T(), "ops@acme.example", written.ActingUserEmail)
	assert.Equal(suite.T(), "10.1.2.3", written.IPAddress)
	assert.Equal(suite.T(), "req-1", written.RequestID)
	assert.Equal(suite.T(), models.StatusSuccess, written.Status)
	assert.Equal(suite.T(), 201, written.StatusCode)
	assert.False(suite.T(), written.CreatedAt.IsZero())
	assert.Equal(suite.T(), 1.0, testutil.ToFloat64(suite.metrics.Records.WithLabelValues("SUCCESS")))
}

// TestRecord_FailedDelete tests that a 5xx upstream status is recorded as FAILURE
func (suite *RecordTestSuite) TestRecord_FailedDelete() {
	var written *models.AuditLogEntry
	suite.mockRepo.EXPECT().Create(mock.Anything, mock.Anything).
		Run(func(ctx context.Context, entry *models.AuditLogEntry) { written = entry }).
		Return(nil)

	suite.service.Record(withOrganization("acme"), &ProxiedRequest{
		Method: "DELETE",
		Path:   "/magma/networks/net1/gateways/gw7",
	}, 500)

	require.NotNil(suite.T(), written)
	assert.Equal(suite.T(), models.MutationDelete, written.MutationType)
	assert.Equal(suite.T(), "gw7", written.ObjectID)
	assert.Equal(suite.T(), "gateway", written.ObjectType)
	assert.Equal(suite.T(), models.StatusFailure, written.Status)
	assert.Equal(suite.T(), 500, written.StatusCode)
}

// TestRecord_StatusBoundary tests the SUCCESS/FAILURE boundary at 300
func (suite *RecordTestSuite) TestRecord_StatusBoundary() {
	var statuses []models.AuditStatus
	suite.mockRepo.EXPECT().Create(mock.Anything, mock.Anything).
		Run(func(ctx context.Context, entry *models.AuditLogEntry) { statuses = append(statuses, entry.Status) }).
		Return(nil).Times(2)

	req := &ProxiedRequest{Method: "PUT", Path: "/magma/v1/networks/net1/tiers/t1"}
	suite.service.Record(withOrganization("acme"), req, 299)
	suite.service.Record(withOrganization("acme"), req, 300)

	assert.Equal(suite.T(), []models.AuditStatus{models.StatusSuccess, models.StatusFailure}, statuses)
}

// TestRecord_OrganizationErrorLeavesEmpty tests that a failing organization lookup still writes
func (suite *RecordTestSuite) TestRecord_OrganizationErrorLeavesEmpty() {
	var written *models.AuditLogEntry
	suite.mockRepo.EXPECT().Create(mock.Anything, mock.Anything).
		Run(func(ctx context.Context, entry *models.AuditLogEntry) { written = entry }).
		Return(nil)

	ctx := userctx.SetOrganization(context.Background(), func() (*models.Organization, error) {
		return nil, errors.New("organization lookup failed")
	})
	suite.service.Record(ctx, &ProxiedRequest{Method: "PUT", Path: "/magma/v1/networks/net1/tiers/t1"}, 200)

	require.NotNil(suite.T(), written)
	assert.Empty(suite.T(), written.Organization)
}

// TestRecord_NoOrganizationAccessor tests a request context without an organization accessor
func (suite *RecordTestSuite) TestRecord_NoOrganizationAccessor() {
	var written *models.AuditLogEntry
	suite.mockRepo.EXPECT().Create(mock.Anything, mock.Anything).
		Run(func(ctx context.Context, entry *models.AuditLogEntry) { written = entry }).
		Return(nil)

	suite.service.Record(context.Background(), &ProxiedRequest{Method: "PUT", Path: "/magma/v1/networks/net1/tiers/t1"}, 200)

	require.NotNil(suite.T(), written)
	assert.Empty(suite.T(), written.Organization)
}

// TestRecord_StoreErrorIsSwallowed tests that store failures are counted and not propagated
func (suite *RecordTestSuite) TestRecord_StoreErrorIsSwallowed() {
	suite.mockRepo.EXPECT().Create(mock.Anything, mock.Anything).Return(errors.New("disk full"))

	assert.NotPanics(suite.T(), func() {
		suite.service.Record(withOrganization("acme"), &ProxiedRequest{
			Method: "DELETE",
			Path:   "/magma/v1/networks/net1/gateways/gw1",
		}, 204)
	})

	assert.Equal(suite.T(), 1.0, testutil.ToFloat64(suite.metrics.WriteFailures))
	assert.Zero(suite.T(), testutil.ToFloat64(suite.metrics.Records.WithLabelValues("SUCCESS")))
}

// TestRecord_BreakerOpensAfterThreshold tests that a failing store is short-circuited
func (suite *RecordTestSuite) TestRecord_BreakerOpensAfterThreshold() {
	suite.mockRepo.EXPECT().Create(mock.Anything, mock.Anything).Return(errors.New("database is locked")).Times(3)

	req := &ProxiedRequest{Method: "DELETE", Path: "/magma/v1/networks/net1/gateways/gw1"}
	for range 5 {
		suite.service.Record(withOrganization("acme"), req, 204)
	}

	assert.Equal(suite.T(), 3.0, testutil.ToFloat64(suite.metrics.WriteFailures))
	assert.Equal(suite.T(), 2.0, testutil.ToFloat64(suite.metrics.Dropped.WithLabelValues(DropBreakerOpen)))
}

// TestRecord_WriteSurvivesClientCancel tests that the write context is detached from the request
func (suite *RecordTestSuite) TestRecord_WriteSurvivesClientCancel() {
	var writeErr error
	var hasDeadline bool
	suite.mockRepo.EXPECT().Create(mock.Anything, mock.Anything).
		Run(func(ctx context.Context, entry *models.AuditLogEntry) {
			writeErr = ctx.Err()
			_, hasDeadline = ctx.Deadline()
		}).
		Return(nil)

	ctx, cancel := context.WithCancel(withOrganization("acme"))
	cancel()
	suite.service.Record(ctx, &ProxiedRequest{Method: "POST", Path: "/magma/v1/networks/net1/tiers", Body: []byte(`{"id":"t2"}`)}, 201)

	assert.NoError(suite.T(), writeErr)
	assert.True(suite.T(), hasDeadline)
}

// TestRecordTestSuite runs the Record test suite
func TestRecordTestSuite(t *testing.T) {
	suite.Run(t, new(RecordTestSuite))
}

func TestRecord_Async(t *testing.T) {
	repo := mocks.NewMockAuditRepository(t)
	cfg := testAuditConfig()
	cfg.Async = true

	var mu sync.Mutex
	var ids []string
	repo.EXPECT().Create(mock.Anything, mock.Anything).
		Run(func(ctx context.Context, entry *models.AuditLogEntry) {
			mu.Lock()
			ids = append(ids, entry.ObjectID)
			mu.Unlock()
		}).
		Return(nil).Times(2)

	service := NewAuditService(repo, audit.MustRuleset(audit.DefaultRules()), cfg, NewAuditMetrics(nil))
	service.Record(context.Background(), &ProxiedRequest{Method: "DELETE", Path: "/magma/v1/networks/net1/gateways/gw1"}, 204)
	service.Record(context.Background(), &ProxiedRequest{Method: "DELETE", Path: "/magma/v1/networks/net1/gateways/gw2"}, 204)
	service.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{"gw1", "gw2"}, ids)
}

func TestAuditDispatcher_DropsWhenFull(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	var mu sync.Mutex
	var written []string

	d := newAuditDispatcher(1, func(entry *models.AuditLogEntry) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		mu.Lock()
		written = append(written, entry.ObjectID)
		mu.Unlock()
	})

	ok, _ := d.Enqueue(&models.AuditLogEntry{ObjectID: "a"})
	require.True(t, ok)
	<-started

	ok, _ = d.Enqueue(&models.AuditLogEntry{ObjectID: "b"})
	require.True(t, ok)

	ok, reason := d.Enqueue(&models.AuditLogEntry{ObjectID: "c"})
	assert.False(t, ok)
	assert.Equal(t, DropBufferFull, reason)

	close(release)
	d.Close()

	mu.Lock()
	assert.Equal(t, []string{"a", "b"}, written)
	mu.Unlock()

	ok, reason = d.Enqueue(&models.AuditLogEntry{ObjectID: "d"})
	assert.False(t, ok)
	assert.Equal(t, DropClosed, reason)
}

func TestAuditList(t *testing.T) {
	repo := mocks.NewMockAuditRepository(t)
	service := NewAuditService(repo, audit.MustRuleset(audit.DefaultRules()), testAuditConfig(), nil)

	expectedFilter := models.AuditLogFilter{Organization: "acme", Limit: models.DefaultAuditPageSize}
	entries := []models.AuditLogEntry{{ID: 2, ObjectID: "gw1"}, {ID: 1, ObjectID: "gw0"}}
	repo.EXPECT().List(mock.Anything, expectedFilter).Return(entries, nil)
	repo.EXPECT().Count(mock.Anything, expectedFilter).Return(7, nil)

	page, err := service.List(context.Background(), models.AuditLogFilter{Organization: "acme"})
	require.NoError(t, err)
	assert.Equal(t, entries, page.Entries)
	assert.Equal(t, 7, page.Total)
	assert.Equal(t, models.DefaultAuditPageSize, page.Limit)
}

func TestAuditList_Error(t *testing.T) {
	repo := mocks.NewMockAuditRepository(t)
	service := NewAuditService(repo, audit.MustRuleset(audit.DefaultRules()), testAuditConfig(), nil)

	boom := errors.New("no such table: audit_log")
	repo.EXPECT().List(mock.Anything, mock.Anything).Return(nil, boom)
	repo.EXPECT().Count(mock.Anything, mock.Anything).Return(0, nil).Maybe()

	_, err := service.List(context.Background(), models.AuditLogFilter{})
	assert.ErrorIs(t, err, boom)
}

func TestAuditDispatcher_AcceptedEntriesSurviveClose(t *testing.T) {
	var written atomic.Int64
	d := newAuditDispatcher(8, func(*models.AuditLogEntry) {
		written.Add(1)
	})

	var accepted atomic.Int64
	var wg sync.WaitGroup
	start := make(chan struct{})
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			for range 200 {
				if ok, _ := d.Enqueue(&models.AuditLogEntry{ObjectID: "gw"}); ok {
					accepted.Add(1)
				}
			}
		}()
	}

	close(start)
	d.Close()
	wg.Wait()

	// whatever Enqueue reported as accepted has been written by the time
	// Close returned, and nothing is accepted afterwards
	assert.Equal(t, accepted.Load(), written.Load())
}

func TestProxiedRequestQuery(t *testing.T) {
	repo := mocks.NewMockAuditRepository(t)
	service := NewAuditService(repo, audit.MustRuleset(audit.DefaultRules()), testAuditConfig(), nil)

	var written *models.AuditLogEntry
	repo.EXPECT().Create(mock.Anything, mock.Anything).
		Run(func(ctx context.Context, entry *models.AuditLogEntry) { written = entry }).
		Return(nil)

	service.Record(context.Background(), &ProxiedRequest{
		Method: "DELETE",
		Path:   "/magma/v1/networks/net1/prometheus/alert_receiver",
		Query:  url.Values{"receiver": []string{"slack-ops"}},
	}, 200)

	require.NotNil(t, written)
	assert.Equal(t, "slack-ops", written.ObjectID)
	assert.Equal(t, "alert_receiver", written.ObjectType)
}
