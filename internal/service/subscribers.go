package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/damoang/angple-contrib/internal/domain"
	"github.com/damoang/angple-contrib/internal/event"
	"github.com/damoang/angple-contrib/internal/ws"
	"github.com/damoang/angple-contrib/pkg/cache"
	pkglogger "github.com/damoang/angple-contrib/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var contributionEventsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "contribution_events_total",
		Help: "Total number of contribution lifecycle events",
	},
	[]string{"topic", "entity_type"},
)

// AuditWriter stores audit entries
type AuditWriter interface {
	Create(ctx context.Context, entry *domain.AuditLog) error
}

// RegisterAuditSubscriber records every lifecycle event in the audit log.
// Writes are asynchronous; failures are logged and dropped.
func RegisterAuditSubscriber(bus *event.Bus, audit AuditWriter) {
	bus.SubscribeAll("audit", func(e event.Event) {
		go writeAudit(audit, e)
	})
}

func writeAudit(audit AuditWriter, e event.Event) {
	details := ""
	if len(e.Payload) > 0 {
		if b, err := json.Marshal(e.Payload); err == nil {
			details = string(b)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	entry := &domain.AuditLog{
		ActorID:    e.ActorID,
		Action:     e.Topic,
		Resource:   "contribution",
		ResourceID: e.ContributionID,
		Details:    details,
		RequestID:  e.RequestID,
		CreatedAt:  e.Timestamp,
	}
	if err := audit.Create(ctx, entry); err != nil {
		pkglogger.GetLogger().Error().Err(err).
			Str("topic", e.Topic).
			Str("contribution_id", e.ContributionID).
			Msg("failed to write audit log")
	}
}

// RegisterCacheSubscriber drops cached stats on every status change
func RegisterCacheSubscriber(bus *event.Bus, c cache.Service) {
	bus.SubscribeAll("stats-cache", func(e event.Event) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := c.InvalidateStats(ctx); err != nil {
			pkglogger.GetLogger().Warn().Err(err).Str("topic", e.Topic).Msg("cache warning: failed to invalidate stats")
		}
	})
}

// RegisterMetricsSubscriber counts lifecycle events per topic
func RegisterMetricsSubscriber(bus *event.Bus) {
	bus.SubscribeAll("metrics", func(e event.Event) {
		contributionEventsTotal.WithLabelValues(e.Topic, e.EntityType).Inc()
	})
}

// FeedPublisher pushes messages to connected clients
type FeedPublisher interface {
	Publish(room string, msg *ws.Message)
}

// RegisterFeedSubscriber forwards lifecycle events to the live feed. Reviewers
// see every event; a contributor sees review outcomes of their own records.
func RegisterFeedSubscriber(bus *event.Bus, feed FeedPublisher) {
	bus.SubscribeAll("feed", func(e event.Event) {
		msg := &ws.Message{Type: e.Topic, Payload: e}
		feed.Publish(ws.ReviewerRoom, msg)
		if e.Topic != event.TopicSubmitted && e.ContributorID != "" && e.ContributorID != e.ActorID {
			feed.Publish(ws.UserRoom(e.ContributorID), msg)
		}
	})
}
