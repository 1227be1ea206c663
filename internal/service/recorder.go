package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"accounts-service/internal/client"
	"accounts-service/internal/models"
	"accounts-service/internal/util"
)

// Recorder fans operation outcomes out to Kafka, the ClickHouse audit trail
// and the Elasticsearch account index. Every sink is best-effort: a flaky
// broker slows nothing down and never fails the operation that triggered it.
type Recorder struct {
	producer    *client.KafkaProducer
	audit       *client.ClickHouseClient
	search      *client.ESClient
	sinkTimeout time.Duration
}

func NewRecorder(producer *client.KafkaProducer, audit *client.ClickHouseClient, search *client.ESClient) *Recorder {
	return &Recorder{
		producer:    producer,
		audit:       audit,
		search:      search,
		sinkTimeout: 5 * time.Second,
	}
}

func (r *Recorder) PublishAccountEvent(eventType, accountID string, attrs map[string]string) {
	if r == nil || r.producer == nil {
		return
	}
	r.publish(r.producer.AccountEventsTopic(), eventType, accountID, attrs)
}

func (r *Recorder) PublishLedgerEvent(eventType, accountID string, attrs map[string]string) {
	if r == nil || r.producer == nil {
		return
	}
	r.publish(r.producer.LedgerEventsTopic(), eventType, accountID, attrs)
}

func (r *Recorder) publish(topic, eventType, accountID string, attrs map[string]string) {
	ctx, cancel := context.WithTimeout(context.Background(), r.sinkTimeout)
	defer cancel()

	event := &models.DomainEvent{
		EventID:    uuid.New().String(),
		EventType:  eventType,
		AccountID:  accountID,
		OccurredAt: time.Now().UTC(),
		Attributes: attrs,
	}

	if err := r.producer.PublishEvent(ctx, topic, event); err != nil {
		util.Warn("Failed to publish domain event",
			zap.String("event_type", eventType),
			zap.String("account_id", accountID),
			zap.Error(err))
	}
}

func (r *Recorder) Audit(accountID, operation, outcome, detail string) {
	if r == nil || r.audit == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.sinkTimeout)
	defer cancel()

	event := &models.AuditEvent{
		EventID:    uuid.New().String(),
		AccountID:  accountID,
		Operation:  operation,
		Outcome:    outcome,
		Detail:     detail,
		OccurredAt: time.Now().UTC(),
	}

	if err := r.audit.WriteAuditEvent(ctx, event); err != nil {
		util.Warn("Failed to write audit event",
			zap.String("operation", operation),
			zap.String("account_id", accountID),
			zap.Error(err))
	}
}

func (r *Recorder) IndexAccount(account *models.Account) {
	if r == nil || r.search == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.sinkTimeout)
	defer cancel()

	doc := &models.AccountDocument{
		AccountID:  account.AccountID,
		Handle:     account.Handle,
		Name:       account.Name,
		Email:      account.Email,
		IsVerified: account.IsVerified,
		CreatedAt:  account.CreatedAt,
	}

	if err := r.search.IndexAccount(ctx, doc); err != nil {
		util.Warn("Failed to index account document",
			zap.String("account_id", account.AccountID),
			zap.Error(err))
	}
}

func (r *Recorder) RemoveAccountIndex(accountID string) {
	if r == nil || r.search == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.sinkTimeout)
	defer cancel()

	if err := r.search.DeleteAccount(ctx, accountID); err != nil {
		util.Warn("Failed to remove account document",
			zap.String("account_id", accountID),
			zap.Error(err))
	}
}
