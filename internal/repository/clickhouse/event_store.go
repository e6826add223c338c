package clickhouse

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"riskauth-service/internal/client"
	"riskauth-service/internal/model"
	"riskauth-service/internal/util"
)

// EventStore is the append-only ledger of session, login and API-call
// events. Inserts are synchronous, so an event is visible to every
// aggregation issued after AppendEvent returns; the login pipeline depends
// on that read-after-write ordering.
type EventStore struct {
	client *client.ClickHouseClient
}

var _ model.EventStore = (*EventStore)(nil)

func NewEventStore(ch *client.ClickHouseClient, logger *zap.Logger) *EventStore {
	return &EventStore{
		client: ch,
	}
}

// EnsureSchema creates the ledger table if missing.
func (s *EventStore) EnsureSchema(ctx context.Context) error {
	ddl := `
        CREATE TABLE IF NOT EXISTS session_events (
            event_bucket Int32,
            user_id      String,
            session_id   String,
            device_id    String,
            event_type   LowCardinality(String),
            event_time   DateTime64(3, 'UTC'),
            received_at  DateTime64(3, 'UTC'),
            latitude     Nullable(Float64),
            longitude    Nullable(Float64)
        ) ENGINE = MergeTree
        PARTITION BY toYYYYMM(received_at)
        ORDER BY (user_id, received_at)`

	if err := s.client.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create session_events table: %w", err)
	}
	return nil
}

func (s *EventStore) AppendEvent(ctx context.Context, event *model.SessionEvent) error {
	err := s.client.Exec(ctx, `
        INSERT INTO session_events
            (event_bucket, user_id, session_id, device_id, event_type,
             event_time, received_at, latitude, longitude)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		int32(event.EventBucket), event.UserID, event.SessionID,
		event.DeviceID, event.EventType, event.EventTime, event.ReceivedAt,
		event.Latitude, event.Longitude)
	if err != nil {
		util.Error("Failed to append session event",
			zap.String("user_id", event.UserID),
			zap.String("event_type", event.EventType),
			zap.Error(err))
		return fmt.Errorf("failed to append session event: %w", err)
	}

	util.Debug("Session event appended",
		zap.String("user_id", event.UserID),
		zap.String("session_id", event.SessionID),
		zap.String("event_type", event.EventType))

	return nil
}

// DeviceCount counts distinct device identifiers ever seen for a user.
func (s *EventStore) DeviceCount(ctx context.Context, userID string) (uint64, error) {
	var count uint64
	row := s.client.QueryRow(ctx, `
        SELECT uniqExact(device_id)
        FROM session_events
        WHERE user_id = ?`, userID)
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("device count query failed: %w", err)
	}
	return count, nil
}

// SessionDuration is max-min event time for one session, in seconds.
// Zero when the session has fewer than two distinct timestamps.
func (s *EventStore) SessionDuration(ctx context.Context, sessionID string) (float64, error) {
	var duration float64
	row := s.client.QueryRow(ctx, `
        SELECT if(uniqExact(event_time) < 2, 0.,
                  toFloat64(dateDiff('second', min(event_time), max(event_time))))
        FROM session_events
        WHERE session_id = ?`, sessionID)
	if err := row.Scan(&duration); err != nil {
		return 0, fmt.Errorf("session duration query failed: %w", err)
	}
	return duration, nil
}

// AvgSessionDuration averages per-session durations across all sessions of
// all users. Zero when no sessions exist.
func (s *EventStore) AvgSessionDuration(ctx context.Context) (float64, error) {
	var avg float64
	row := s.client.QueryRow(ctx, `
        SELECT coalesce(avgOrNull(dur), 0.)
        FROM (
            SELECT toFloat64(dateDiff('second', min(event_time), max(event_time))) AS dur
            FROM session_events
            GROUP BY session_id
        )`)
	if err := row.Scan(&avg); err != nil {
		return 0, fmt.Errorf("avg session duration query failed: %w", err)
	}
	return avg, nil
}

// LoginCount counts login attempts (success + failure) for a user within
// the trailing window, anchored at the server clock.
func (s *EventStore) LoginCount(ctx context.Context, userID string, window time.Duration) (uint64, error) {
	var count uint64
	row := s.client.QueryRow(ctx, `
        SELECT count()
        FROM session_events
        WHERE user_id = ?
          AND event_type IN ('login_success', 'login_failed')
          AND received_at >= subtractSeconds(now64(3), ?)`,
		userID, int64(window.Seconds()))
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("login count query failed: %w", err)
	}
	return count, nil
}

// FailedAndTotalLogins returns failed and total login attempts within the
// trailing window in one scan.
func (s *EventStore) FailedAndTotalLogins(ctx context.Context, userID string, window time.Duration) (uint64, uint64, error) {
	var failed, total uint64
	row := s.client.QueryRow(ctx, `
        SELECT countIf(event_type = 'login_failed'), count()
        FROM session_events
        WHERE user_id = ?
          AND event_type IN ('login_success', 'login_failed')
          AND received_at >= subtractSeconds(now64(3), ?)`,
		userID, int64(window.Seconds()))
	if err := row.Scan(&failed, &total); err != nil {
		return 0, 0, fmt.Errorf("failed login query failed: %w", err)
	}
	return failed, total, nil
}

// RecentGeoEvents lists the user's most recent geolocated events, newest
// first.
func (s *EventStore) RecentGeoEvents(ctx context.Context, userID string, limit int) ([]model.GeoPoint, error) {
	rows, err := s.client.QueryRows(ctx, `
        SELECT latitude, longitude
        FROM session_events
        WHERE user_id = ?
          AND latitude IS NOT NULL
          AND longitude IS NOT NULL
        ORDER BY received_at DESC
        LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent geo events query failed: %w", err)
	}
	defer rows.Close()

	var points []model.GeoPoint
	for rows.Next() {
		var lat, lon *float64
		if err := rows.Scan(&lat, &lon); err != nil {
			return nil, fmt.Errorf("failed to scan geo event: %w", err)
		}
		if lat == nil || lon == nil {
			continue
		}
		points = append(points, model.GeoPoint{Latitude: *lat, Longitude: *lon})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("recent geo events iteration failed: %w", err)
	}

	return points, nil
}

// APICallCount counts api_call events for a user within the trailing window.
func (s *EventStore) APICallCount(ctx context.Context, userID string, window time.Duration) (uint64, error) {
	var count uint64
	row := s.client.QueryRow(ctx, `
        SELECT count()
        FROM session_events
        WHERE user_id = ?
          AND event_type = 'api_call'
          AND received_at >= subtractSeconds(now64(3), ?)`,
		userID, int64(window.Seconds()))
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("api call count query failed: %w", err)
	}
	return count, nil
}
