package store

import (
	"database/sql"
	"fmt"
	"time"
)

// HasDeliveryBeenProcessed reports whether a webhook delivery ID has
// already been recorded, the idempotency check the gateway runs before
// dispatching an event.
func (s *Store) HasDeliveryBeenProcessed(deliveryID string) (bool, error) {
	var seenAt string
	err := s.db.QueryRow(`SELECT seen_at FROM webhook_deliveries WHERE delivery_id = ?`, deliveryID).Scan(&seenAt)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check delivery: %w", err)
	}
	return true, nil
}

// MarkDeliveryProcessed records a webhook delivery ID as seen. A delivery
// already present is left untouched.
func (s *Store) MarkDeliveryProcessed(deliveryID string) error {
	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO webhook_deliveries (delivery_id, seen_at) VALUES (?, ?)
	`, deliveryID, nowRFC3339())
	if err != nil {
		return fmt.Errorf("mark delivery processed: %w", err)
	}
	return nil
}

// SweepDeliveriesOlderThan deletes idempotency-cache entries older than
// the given age, keeping the table from growing without bound.
func (s *Store) SweepDeliveriesOlderThan(age time.Duration) (int64, error) {
	cutoff := timeNow().Add(-age)
	res, err := s.db.Exec(`DELETE FROM webhook_deliveries WHERE seen_at < ?`, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("sweep deliveries: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
