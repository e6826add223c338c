package model

import (
	"context"
	"time"
)

// Session event types recorded in the event ledger.
const (
	EventLoginSuccess = "login_success"
	EventLoginFailed  = "login_failed"
	EventAPICall      = "api_call"
)

// -------------------- USER MODEL --------------------

// User is one registered account. The sequence id is allocated by the user
// store; the display id ("P-U" + zero-padded sequence) is what callers see.
type User struct {
	UserBucket     int       `json:"user_bucket" db:"user_bucket"`
	SeqID          int64     `json:"seq_id" db:"seq_id"`
	DisplayID      string    `json:"display_id" db:"display_id"`
	EmailHash      string    `json:"email_hash" db:"email_hash"`           // SHA256 of normalized email, for uniqueness
	EmailEncrypted string    `json:"-" db:"email_encrypted"`               // envelope-encrypted email, never serialized
	EmailKeyID     string    `json:"-" db:"email_key_id"`                  // DEK key id for the encrypted email
	CredentialHash string    `json:"-" db:"credential_hash"`               // argon2id digest
	CredentialSalt string    `json:"-" db:"credential_salt"`
	PepperVersion  int       `json:"-" db:"pepper_version"`
	HashAlgorithm  string    `json:"-" db:"hash_algorithm"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	EmailSent      bool      `json:"email_sent" db:"email_sent"`
}

// -------------------- SESSION EVENT MODEL --------------------

// SessionEvent is one append-only fact in the event ledger. EventTime is the
// client-supplied logical time (millisecond resolution); ReceivedAt is the
// server wall clock and anchors every trailing window.
type SessionEvent struct {
	EventBucket int        `json:"event_bucket" db:"event_bucket"`
	UserID      string     `json:"user_id" db:"user_id"` // display id
	SessionID   string     `json:"session_id" db:"session_id"`
	DeviceID    string     `json:"device_id" db:"device_id"`
	EventType   string     `json:"event_type" db:"event_type"`
	EventTime   time.Time  `json:"event_time" db:"event_time"`
	ReceivedAt  time.Time  `json:"received_at" db:"received_at"`
	Latitude    *float64   `json:"latitude,omitempty" db:"latitude"`
	Longitude   *float64   `json:"longitude,omitempty" db:"longitude"`
}

// GeoPoint is a recorded event location, most recent first when listed.
type GeoPoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// -------------------- FEATURE VECTOR MODEL --------------------

// FeatureVector is the per-login snapshot of the eight behavioral risk
// statistics, computed after the login event is durably recorded.
type FeatureVector struct {
	UserID             string    `json:"user_id" db:"user_id"`
	SessionID          string    `json:"session_id" db:"session_id"`
	DeviceCount        uint64    `json:"device_count" db:"device_count"`
	AvgSessionDuration float64   `json:"avg_session_duration" db:"avg_session_duration"`
	SessionDuration    float64   `json:"session_duration" db:"session_duration"`
	Last24hLogins      uint64    `json:"last_24h_logins" db:"last_24h_logins"`
	FailedLoginRatio   float64   `json:"failed_login_ratio" db:"failed_login_ratio"`
	GeoJumpKM          float64   `json:"geo_jump_km" db:"geo_jump_km"`
	APIRate1Min        uint64    `json:"api_rate_1min" db:"api_rate_1min"`
	APIRate7dAvg       float64   `json:"api_rate_7d_avg" db:"api_rate_7d_avg"`
	CalculatedAt       time.Time `json:"calculated_at" db:"calculated_at"`
}

// Flat returns the eight statistics as the flat name→number mapping the
// login response carries.
func (fv *FeatureVector) Flat() map[string]float64 {
	return map[string]float64{
		"device_count":         float64(fv.DeviceCount),
		"avg_session_duration": fv.AvgSessionDuration,
		"session_duration":     fv.SessionDuration,
		"last_24h_logins":      float64(fv.Last24hLogins),
		"failed_login_ratio":   fv.FailedLoginRatio,
		"geo_jump_km":          fv.GeoJumpKM,
		"api_rate_1min":        float64(fv.APIRate1Min),
		"api_rate_7d_avg":      fv.APIRate7dAvg,
	}
}

// -------------------- REPOSITORY INTERFACES --------------------

// UserRepository defines the interface for user persistence.
type UserRepository interface {
	// NextSequence atomically allocates the next user sequence number.
	NextSequence(ctx context.Context) (int64, error)
	// InsertUser persists a user whose display id is already assigned.
	InsertUser(ctx context.Context, user *User) error
	GetUserByDisplayID(ctx context.Context, displayID string) (*User, error)
	MarkEmailSent(ctx context.Context, user *User) error
	HealthCheck(ctx context.Context) error
}

// EventStore defines the append side and the windowed aggregations over the
// session event ledger. Every count defaults to zero when no rows match.
type EventStore interface {
	// AppendEvent must be durable before it returns: the aggregations that
	// follow a login are defined to include the just-recorded event.
	AppendEvent(ctx context.Context, event *SessionEvent) error

	DeviceCount(ctx context.Context, userID string) (uint64, error)
	SessionDuration(ctx context.Context, sessionID string) (float64, error)
	AvgSessionDuration(ctx context.Context) (float64, error)
	LoginCount(ctx context.Context, userID string, window time.Duration) (uint64, error)
	FailedAndTotalLogins(ctx context.Context, userID string, window time.Duration) (failed, total uint64, err error)
	RecentGeoEvents(ctx context.Context, userID string, limit int) ([]GeoPoint, error)
	APICallCount(ctx context.Context, userID string, window time.Duration) (uint64, error)
}

// FeatureSink persists computed feature vectors, one row per login.
type FeatureSink interface {
	// SinkFeatures must be durable before it returns; login success is only
	// reported once the vector is sunk.
	SinkFeatures(ctx context.Context, features *FeatureVector) error
	LatestFeatures(ctx context.Context, userID string) (*FeatureVector, error)
}

// SessionCache tracks the active session per user. Cache failures never
// fail a login.
type SessionCache interface {
	SetActiveSession(ctx context.Context, userID, sessionID string, ttl time.Duration) error
	GetActiveSession(ctx context.Context, userID string) (string, error)
	InvalidateSession(ctx context.Context, userID string) error
}

// FeaturePublisher fans a sunk feature vector out to downstream consumers.
type FeaturePublisher interface {
	Publish(ctx context.Context, features *FeatureVector) error
}
