package storage

import (
	"context"
	"fmt"
	"time"
)

// ServiceStatus is one row of the heartbeat table the Worker Coordinator
// writes to on every heartbeat interval, and once more with status
// "stopped" when its loop ends.
type ServiceStatus struct {
	ServiceType     string
	Hostname        string
	Status          string
	LastHeartbeatAt time.Time
	Metadata        []byte
}

// Heartbeat upserts a service's liveness row. It is the TTL-free analogue
// of a scheduler lock: staleness is judged by comparing LastHeartbeatAt to
// a caller-supplied threshold rather than by an expiring row.
func (db *DB) Heartbeat(ctx context.Context, serviceType, hostname, status string, metadata []byte) error {
	const q = `
		INSERT INTO service_status (service_type, hostname, status, last_heartbeat_at, metadata)
		VALUES ($1, $2, $3, now(), COALESCE($4, '{}'))
		ON CONFLICT (service_type, hostname) DO UPDATE SET
			status = EXCLUDED.status,
			last_heartbeat_at = now(),
			metadata = EXCLUDED.metadata
	`

	if _, err := db.Pool.Exec(ctx, q, serviceType, hostname, status, metadata); err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}

	return nil
}

// StaleServices returns service_status rows whose heartbeat is older than
// staleThreshold. The stale-claim sweep does not call it:
// ReclaimStaleClaims judges a crawl claim stale by its fetched_at alone.
func (db *DB) StaleServices(ctx context.Context, serviceType string, staleThreshold time.Duration) ([]ServiceStatus, error) {
	const q = `
		SELECT service_type, hostname, status, last_heartbeat_at, metadata
		FROM service_status
		WHERE service_type = $1 AND last_heartbeat_at < now() - $2::interval
	`

	rows, err := db.Pool.Query(ctx, q, serviceType, staleThreshold.String())
	if err != nil {
		return nil, fmt.Errorf("stale services: %w", err)
	}
	defer rows.Close()

	var out []ServiceStatus

	for rows.Next() {
		var s ServiceStatus
		if err := rows.Scan(&s.ServiceType, &s.Hostname, &s.Status, &s.LastHeartbeatAt, &s.Metadata); err != nil {
			return nil, fmt.Errorf("scan service status: %w", err)
		}

		out = append(out, s)
	}

	return out, rows.Err()
}
