package client

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"sync"
	"time"

	ch "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"accounts-service/internal/config"
	"accounts-service/internal/models"
	"accounts-service/internal/util"
)

// ClickHouseClient is the append-only audit sink. Every core operation writes
// one row; nothing in the request path ever reads it back.
type ClickHouseClient struct {
	conn   driver.Conn
	config *config.ClickhouseConfig
	mu     sync.RWMutex
}

func NewClickHouseClient(cfg *config.Config, logger *zap.Logger) (*ClickHouseClient, error) {
	chConfig := cfg.Clickhouse

	opts := &ch.Options{
		Addr: []string{extractHostPort(chConfig.URL)},
		Auth: ch.Auth{
			Username: chConfig.Username,
			Password: chConfig.Password,
			Database: chConfig.Database,
		},
		DialTimeout:     10 * time.Second,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
		Compression: &ch.Compression{
			Method: ch.CompressionLZ4,
		},
	}

	if strings.HasPrefix(chConfig.URL, "clickhouses://") {
		opts.TLS = &tls.Config{
			InsecureSkipVerify: cfg.IsDevelopment(),
			MinVersion:         tls.VersionTLS12,
		}
	}

	conn, err := ch.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open clickhouse connection: %w", err)
	}

	client := &ClickHouseClient{
		conn:   conn,
		config: &chConfig,
	}

	util.Info("ClickHouse client initialized",
		zap.String("database", chConfig.Database),
		zap.String("audit_table", chConfig.AuditTable),
	)

	return client, nil
}

func (c *ClickHouseClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *ClickHouseClient) HealthCheck(ctx context.Context) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := c.conn.Ping(ctx); err != nil {
		return fmt.Errorf("clickhouse ping failed: %w", err)
	}
	return nil
}

// WriteAuditEvent appends one audit row.
func (c *ClickHouseClient) WriteAuditEvent(ctx context.Context, event *models.AuditEvent) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	query := fmt.Sprintf(`
		INSERT INTO %s (event_id, account_id, operation, outcome, detail, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?)`, c.config.AuditTable)

	err := c.conn.Exec(ctx, query,
		event.EventID,
		event.AccountID,
		event.Operation,
		event.Outcome,
		event.Detail,
		event.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("failed to write audit event: %w", err)
	}
	return nil
}

// WriteAuditEventsBatch appends audit rows with a single batch insert.
func (c *ClickHouseClient) WriteAuditEventsBatch(ctx context.Context, events []*models.AuditEvent) error {
	if len(events) == 0 {
		return nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	query := fmt.Sprintf(`
		INSERT INTO %s (event_id, account_id, operation, outcome, detail, occurred_at)`,
		c.config.AuditTable)

	batch, err := c.conn.PrepareBatch(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare audit batch: %w", err)
	}

	for _, event := range events {
		if err := batch.Append(
			event.EventID,
			event.AccountID,
			event.Operation,
			event.Outcome,
			event.Detail,
			event.OccurredAt,
		); err != nil {
			return fmt.Errorf("failed to append audit event: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send audit batch: %w", err)
	}
	return nil
}

func extractHostPort(url string) string {
	trimmed := url
	for _, prefix := range []string{"clickhouses://", "clickhouse://", "tcp://"} {
		trimmed = strings.TrimPrefix(trimmed, prefix)
	}
	if idx := strings.Index(trimmed, "/"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	if idx := strings.Index(trimmed, "?"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return trimmed
}
