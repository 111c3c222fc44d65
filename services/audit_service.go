package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/sync/errgroup"

	"github.com/blogem/nms-gateway/audit"
	"github.com/blogem/nms-gateway/config"
	"github.com/blogem/nms-gateway/logging"
	"github.com/blogem/nms-gateway/models"
	"github.com/blogem/nms-gateway/repositories"
	"github.com/blogem/nms-gateway/userctx"
)

// ProxiedRequest is the inbound request as captured before it was
// forwarded to the orchestrator.
type ProxiedRequest struct {
	Method string
	// URL is the request URL as the client sent it.
	URL string
	// Path is the orchestrator API path, e.g. /magma/v1/networks/n1.
	Path      string
	Query     url.Values
	Body      []byte
	IPAddress string
	RequestID string
	UserID    string
	UserEmail string
}

// AuditLogPage is one page of the audit log.
type AuditLogPage struct {
	Entries []models.AuditLogEntry `json:"entries"`
	Total   int                    `json:"total"`
	Limit   int                    `json:"limit"`
	Offset  int                    `json:"offset"`
}

// AuditService interface defines audit logging business logic
type AuditService interface {
	// Record audits a proxied request once its upstream status is known.
	// It never fails the request; problems are logged and counted.
	Record(ctx context.Context, req *ProxiedRequest, statusCode int)
	List(ctx context.Context, filter models.AuditLogFilter) (*AuditLogPage, error)
	// Close drains pending asynchronous writes.
	Close()
}

// auditService implements AuditService interface
type auditService struct {
	repo         repositories.AuditRepository
	rules        *audit.Ruleset
	metrics      *AuditMetrics
	breaker      *gobreaker.CircuitBreaker[any]
	writeTimeout time.Duration
	dispatcher   *auditDispatcher
}

// NewAuditService creates a new audit service. With cfg.Async the store is
// written from a background worker, otherwise Record waits for the write.
func NewAuditService(repo repositories.AuditRepository, rules *audit.Ruleset, cfg config.AuditConfig, metrics *AuditMetrics) AuditService {
	if metrics == nil {
		metrics = NewAuditMetrics(nil)
	}

	s := &auditService{
		repo:         repo,
		rules:        rules,
		metrics:      metrics,
		breaker:      newStoreBreaker(cfg),
		writeTimeout: cfg.WriteTimeout,
	}
	if cfg.Async {
		s.dispatcher = newAuditDispatcher(cfg.BufferSize, func(entry *models.AuditLogEntry) {
			s.persist(context.Background(), entry)
		})
	}
	return s
}

func newStoreBreaker(cfg config.AuditConfig) *gobreaker.CircuitBreaker[any] {
	threshold := cfg.BreakerThreshold
	if threshold == 0 {
		threshold = 1
	}

	return gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:    "audit-store",
		Timeout: cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("audit store circuit breaker changed state")
		},
	})
}

// Record classifies and resolves req, then persists the entry.
func (s *auditService) Record(ctx context.Context, req *ProxiedRequest, statusCode int) {
	mutation, ok := audit.Classify(req.Method)
	if !ok {
		return
	}

	target, matched, err := s.rules.Resolve(&audit.Request{
		Method: req.Method,
		Path:   req.Path,
		Query:  req.Query,
		Body:   req.Body,
	})
	if err != nil {
		s.metrics.Skipped.WithLabelValues(SkipResolverError).Inc()
		logging.Ctx(ctx).Warn().Err(err).Str("path", req.Path).Msg("could not resolve audit target")
		return
	}
	if !matched {
		s.metrics.Skipped.WithLabelValues(SkipNoMatch).Inc()
		logging.Ctx(ctx).Debug().Str("method", req.Method).Str("path", req.Path).Msg("no audit rule matched")
		return
	}

	entry := &models.AuditLogEntry{
		CreatedAt:         time.Now().UTC(),
		RequestID:         req.RequestID,
		ActingUserID:      req.UserID,
		ActingUserEmail:   req.UserEmail,
		Organization:      organizationName(ctx),
		MutationType:      mutation,
		ObjectID:          target.ObjectID,
		ObjectType:        target.ObjectType,
		ObjectDisplayName: target.ObjectID,
		MutationData:      string(req.Body),
		URL:               req.URL,
		IPAddress:         req.IPAddress,
		Status:            models.StatusFromCode(statusCode),
		StatusCode:        statusCode,
	}

	if s.dispatcher != nil {
		if accepted, reason := s.dispatcher.Enqueue(entry); !accepted {
			s.metrics.Dropped.WithLabelValues(reason).Inc()
			logging.Ctx(ctx).Error().
				Str("reason", reason).
				Str("object_type", entry.ObjectType).
				Str("object_id", entry.ObjectID).
				Msg("audit record dropped")
		}
		return
	}

	// The client may hang up before the write finishes; the record is kept.
	s.persist(context.WithoutCancel(ctx), entry)
}

func organizationName(ctx context.Context) string {
	org, err := userctx.GetOrganization(ctx)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("could not resolve organization for audit record")
		return ""
	}
	if org == nil {
		return ""
	}
	return org.Name
}

func (s *auditService) persist(ctx context.Context, entry *models.AuditLogEntry) {
	if s.writeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.writeTimeout)
		defer cancel()
	}

	start := time.Now()
	_, err := s.breaker.Execute(func() (any, error) {
		return nil, s.repo.Create(ctx, entry)
	})
	s.metrics.WriteDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			s.metrics.Dropped.WithLabelValues(DropBreakerOpen).Inc()
		} else {
			s.metrics.WriteFailures.Inc()
		}
		logging.Error().
			Err(err).
			Str("request_id", entry.RequestID).
			Str("mutation_type", string(entry.MutationType)).
			Str("object_type", entry.ObjectType).
			Str("object_id", entry.ObjectID).
			Msg("failed to write audit record")
		return
	}

	s.metrics.Records.WithLabelValues(string(entry.Status)).Inc()
}

// List returns one page of the audit log together with the total count.
func (s *auditService) List(ctx context.Context, filter models.AuditLogFilter) (*AuditLogPage, error) {
	filter.Normalize()

	page := &AuditLogPage{Limit: filter.Limit, Offset: filter.Offset}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		entries, err := s.repo.List(gctx, filter)
		if err != nil {
			return fmt.Errorf("failed to list audit log: %w", err)
		}
		page.Entries = entries
		return nil
	})
	g.Go(func() error {
		total, err := s.repo.Count(gctx, filter)
		if err != nil {
			return fmt.Errorf("failed to count audit log: %w", err)
		}
		page.Total = total
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return page, nil
}

// Close drains pending asynchronous writes.
func (s *auditService) Close() {
	if s.dispatcher != nil {
		s.dispatcher.Close()
	}
}
