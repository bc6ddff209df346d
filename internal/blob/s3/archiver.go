package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/tradekeeper/internal/domain"
)

const (
	jsonlContentType = "application/x-ndjson"
	// multipartThreshold switches uploads to the multipart manager.
	multipartThreshold = 8 << 20
)

// OrderArchiveStore is the slice of domain.OrderStore the archiver reads.
type OrderArchiveStore interface {
	ListTerminalBefore(ctx context.Context, before time.Time) ([]domain.ConditionalOrder, error)
}

// AlertArchiveStore is the slice of domain.AlertStore the archiver reads.
type AlertArchiveStore interface {
	ListInactiveBefore(ctx context.Context, before time.Time) ([]domain.PriceAlert, error)
}

// Archiver implements domain.Archiver: resolved orders and inactive alerts
// older than the cutoff are written as JSONL and the run is audited. Rows
// stay in Postgres; pruning them is a separate, manual step.
type Archiver struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	orders OrderArchiveStore
	alerts AlertArchiveStore
	audit  domain.AuditStore
	now    func() time.Time
}

var _ domain.Archiver = (*Archiver)(nil)

// NewArchiver wires the archiver. reader is used to avoid overwriting an
// earlier run's file for the same day and may be nil.
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader, orders OrderArchiveStore, alerts AlertArchiveStore, audit domain.AuditStore) *Archiver {
	return &Archiver{
		writer: writer,
		reader: reader,
		orders: orders,
		alerts: alerts,
		audit:  audit,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (a *Archiver) ArchiveOrders(ctx context.Context, before time.Time) (int64, error) {
	orders, err := a.orders.ListTerminalBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive orders query: %w", err)
	}
	return archive(ctx, a, "orders", before, orders)
}

func (a *Archiver) ArchiveAlerts(ctx context.Context, before time.Time) (int64, error) {
	alerts, err := a.alerts.ListInactiveBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive alerts query: %w", err)
	}
	return archive(ctx, a, "alerts", before, alerts)
}

func archive[T any](ctx context.Context, a *Archiver, kind string, before time.Time, records []T) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}
	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
	}

	path, err := a.freePath(ctx, kind, before)
	if err != nil {
		return 0, err
	}
	if len(buf) >= multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), 0)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
	}

	count := int64(len(records))
	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive."+kind, map[string]any{
			"path":   path,
			"count":  count,
			"before": before.Format(time.RFC3339),
		}); err != nil {
			return count, fmt.Errorf("s3blob: archive %s audit log: %w", kind, err)
		}
	}
	return count, nil
}

// freePath returns archive/<kind>/<YYYY-MM-DD>.jsonl, adding the run time
// when that key already exists.
func (a *Archiver) freePath(ctx context.Context, kind string, before time.Time) (string, error) {
	path := archivePath(kind, before)
	if a.reader == nil {
		return path, nil
	}
	exists, err := a.reader.Exists(ctx, path)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive %s: %w", kind, err)
	}
	if !exists {
		return path, nil
	}
	return fmt.Sprintf("archive/%s/%s-%s.jsonl", kind, before.Format("2006-01-02"), a.now().Format("150405")), nil
}

func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.UTC().Format("2006-01-02"))
}

// marshalJSONL writes one compact JSON document per line.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
