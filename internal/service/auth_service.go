package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"riskauth-service/internal/bucketing"
	"riskauth-service/internal/encryption"
	"riskauth-service/internal/features"
	"riskauth-service/internal/hashing"
	"riskauth-service/internal/model"
	"riskauth-service/internal/repository/scylla"
	"riskauth-service/internal/util"
)

const (
	ActionRegister = "register"
	ActionLogin    = "login"

	displayIDPrefix = "P-U"
	defaultDeviceID = "unknown"
)

var (
	ErrInvalidAction = errors.New("unsupported auth action")
	ErrInvalidInput  = errors.New("invalid input")
)

// AuthRequest is the decoded body of POST /auth.
type AuthRequest struct {
	Action    string   `json:"action"`
	Email     string   `json:"email,omitempty"`
	UserID    string   `json:"userId,omitempty"`
	Password  string   `json:"password"`
	SessionID string   `json:"session_id,omitempty"`
	DeviceID  string   `json:"device_id,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

// EventRequest is the decoded body of POST /events. EventTimeMs is the
// client's logical clock in Unix milliseconds; zero means server time.
type EventRequest struct {
	UserID      string   `json:"userId"`
	SessionID   string   `json:"session_id,omitempty"`
	DeviceID    string   `json:"device_id,omitempty"`
	EventTimeMs int64    `json:"event_time_ms,omitempty"`
	Latitude    *float64 `json:"latitude,omitempty"`
	Longitude   *float64 `json:"longitude,omitempty"`
}

// AuthResponse is the caller-facing result of either auth action. Failures
// carry success=false and nothing else; causes go to the log only.
type AuthResponse struct {
	Success   bool               `json:"success"`
	UserID    string             `json:"user_id,omitempty"`
	SessionID string             `json:"session_id,omitempty"`
	Features  map[string]float64 `json:"features,omitempty"`
}

// AuthService orchestrates registration, login and the risk-feature
// pipeline that runs on every successful login.
type AuthService struct {
	users      model.UserRepository
	events     model.EventStore
	sink       model.FeatureSink
	sessions   model.SessionCache
	publisher  model.FeaturePublisher
	aggregator *features.Aggregator
	hasher     *hashing.Hasher
	encryptor  *encryption.EncryptionManager
	buckets    *bucketing.BucketingManager
	sessionTTL time.Duration
}

func NewAuthService(
	users model.UserRepository,
	events model.EventStore,
	sink model.FeatureSink,
	sessions model.SessionCache,
	publisher model.FeaturePublisher,
	aggregator *features.Aggregator,
	hasher *hashing.Hasher,
	encryptor *encryption.EncryptionManager,
	buckets *bucketing.BucketingManager,
	sessionTTL time.Duration,
) *AuthService {
	return &AuthService{
		users:      users,
		events:     events,
		sink:       sink,
		sessions:   sessions,
		publisher:  publisher,
		aggregator: aggregator,
		hasher:     hasher,
		encryptor:  encryptor,
		buckets:    buckets,
		sessionTTL: sessionTTL,
	}
}

// FormatDisplayID renders a store sequence number as the human-facing user
// id: the fixed prefix plus the sequence zero-padded to four digits. Wider
// sequences keep all their digits.
func FormatDisplayID(seq int64) string {
	return fmt.Sprintf("%s%04d", displayIDPrefix, seq)
}

// Handle dispatches one auth request by action.
func (s *AuthService) Handle(ctx context.Context, req *AuthRequest) (*AuthResponse, error) {
	switch req.Action {
	case ActionRegister:
		return s.Register(ctx, req)
	case ActionLogin:
		return s.Login(ctx, req)
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidAction, req.Action)
	}
}

// Register creates a user. Validation failures surface to the caller; store
// failures are logged in full and collapsed to {success:false}.
func (s *AuthService) Register(ctx context.Context, req *AuthRequest) (*AuthResponse, error) {
	email := strings.ToLower(util.SanitizeInput(req.Email))
	if email == "" {
		return nil, fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	if req.Password == "" {
		return nil, fmt.Errorf("%w: password is required", ErrInvalidInput)
	}

	credential, err := s.hasher.HashCredential(req.Password)
	if err != nil {
		util.Error("Failed to hash credential during registration", zap.Error(err))
		return &AuthResponse{Success: false}, nil
	}

	emailEnvelope, err := s.encryptor.EncryptField(ctx, email)
	if err != nil {
		util.Error("Failed to encrypt email during registration", zap.Error(err))
		return &AuthResponse{Success: false}, nil
	}
	envelope, err := emailEnvelope.Marshal()
	if err != nil {
		util.Error("Failed to marshal email envelope", zap.Error(err))
		return &AuthResponse{Success: false}, nil
	}

	seq, err := s.users.NextSequence(ctx)
	if err != nil {
		util.Error("Failed to allocate user sequence", zap.Error(err))
		return &AuthResponse{Success: false}, nil
	}

	displayID := FormatDisplayID(seq)
	user := &model.User{
		UserBucket:     s.buckets.UserBucket(displayID),
		SeqID:          seq,
		DisplayID:      displayID,
		EmailHash:      hashEmail(email),
		EmailEncrypted: envelope,
		EmailKeyID:     emailEnvelope.KeyID,
		CredentialHash: credential.Hash,
		CredentialSalt: credential.Salt,
		PepperVersion:  credential.PepperVersion,
		HashAlgorithm:  credential.Algorithm,
		CreatedAt:      time.Now().UTC(),
	}

	if err := s.users.InsertUser(ctx, user); err != nil {
		util.Error("Failed to insert user",
			zap.String("display_id", displayID),
			zap.Error(err))
		return &AuthResponse{Success: false}, nil
	}

	util.Info("User registered", zap.String("display_id", displayID))

	return &AuthResponse{Success: true, UserID: displayID}, nil
}

// Login authenticates a user and, on success, records the login event,
// computes the feature vector over the updated ledger, sinks it, and only
// then reports success. A credential mismatch performs no writes at all.
func (s *AuthService) Login(ctx context.Context, req *AuthRequest) (*AuthResponse, error) {
	userID := util.SanitizeInput(req.UserID)
	if userID == "" {
		return nil, fmt.Errorf("%w: userId is required", ErrInvalidInput)
	}
	if req.Password == "" {
		return nil, fmt.Errorf("%w: password is required", ErrInvalidInput)
	}

	user, err := s.users.GetUserByDisplayID(ctx, userID)
	if err != nil {
		if !errors.Is(err, scylla.ErrUserNotFound) {
			util.Error("User lookup failed during login",
				zap.String("user_id", userID),
				zap.Error(err))
		}
		// Unknown user and credential mismatch are indistinguishable.
		return &AuthResponse{Success: false}, nil
	}

	ok, err := s.hasher.VerifyCredential(req.Password, &hashing.HashResult{
		Hash:          user.CredentialHash,
		Salt:          user.CredentialSalt,
		PepperVersion: user.PepperVersion,
		Algorithm:     user.HashAlgorithm,
	})
	if err != nil {
		util.Error("Credential verification failed",
			zap.String("user_id", userID),
			zap.Error(err))
		return &AuthResponse{Success: false}, nil
	}
	if !ok {
		return &AuthResponse{Success: false}, nil
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	deviceID := req.DeviceID
	if deviceID == "" {
		deviceID = defaultDeviceID
	}

	now := time.Now().UTC()
	event := &model.SessionEvent{
		EventBucket: s.buckets.EventBucket(userID),
		UserID:      userID,
		SessionID:   sessionID,
		DeviceID:    deviceID,
		EventType:   model.EventLoginSuccess,
		EventTime:   now,
		ReceivedAt:  now,
		Latitude:    req.Latitude,
		Longitude:   req.Longitude,
	}

	// The event must be durably recorded before the aggregations run: the
	// statistics are defined over the ledger including this login.
	if err := s.events.AppendEvent(ctx, event); err != nil {
		return nil, fmt.Errorf("failed to record login event: %w", err)
	}

	fv, err := s.aggregator.Compute(ctx, userID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("feature aggregation failed: %w", err)
	}

	if err := s.sink.SinkFeatures(ctx, fv); err != nil {
		return nil, fmt.Errorf("failed to sink feature vector: %w", err)
	}

	// Everything past the sink is best-effort.
	if s.sessions != nil {
		if err := s.sessions.SetActiveSession(ctx, userID, sessionID, s.sessionTTL); err != nil {
			util.Warn("Failed to cache active session",
				zap.String("user_id", userID),
				zap.Error(err))
		}
	}
	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, fv); err != nil {
			util.Warn("Feature vector publication failed",
				zap.String("user_id", userID),
				zap.Error(err))
		}
	}

	util.Info("Login succeeded",
		zap.String("user_id", userID),
		zap.String("session_id", sessionID))

	return &AuthResponse{
		Success:   true,
		SessionID: sessionID,
		Features:  fv.Flat(),
	}, nil
}

// RecordAPICall appends an api_call event to the ledger. These events feed
// the api_rate_1min and api_rate_7d_avg statistics on later logins.
func (s *AuthService) RecordAPICall(ctx context.Context, req *EventRequest) error {
	userID := util.SanitizeInput(req.UserID)
	if userID == "" {
		return fmt.Errorf("%w: userId is required", ErrInvalidInput)
	}

	now := time.Now().UTC()
	eventTime := now
	if req.EventTimeMs > 0 {
		eventTime = time.UnixMilli(req.EventTimeMs).UTC()
	}
	deviceID := req.DeviceID
	if deviceID == "" {
		deviceID = defaultDeviceID
	}

	event := &model.SessionEvent{
		EventBucket: s.buckets.EventBucket(userID),
		UserID:      userID,
		SessionID:   req.SessionID,
		DeviceID:    deviceID,
		EventType:   model.EventAPICall,
		EventTime:   eventTime,
		ReceivedAt:  now,
		Latitude:    req.Latitude,
		Longitude:   req.Longitude,
	}

	return s.events.AppendEvent(ctx, event)
}

// LatestFeatures returns the most recent persisted feature vector for a
// user.
func (s *AuthService) LatestFeatures(ctx context.Context, displayID string) (*model.FeatureVector, error) {
	displayID = util.SanitizeInput(displayID)
	if displayID == "" {
		return nil, fmt.Errorf("%w: display id is required", ErrInvalidInput)
	}
	return s.sink.LatestFeatures(ctx, displayID)
}

func hashEmail(email string) string {
	sum := sha256.Sum256([]byte(email))
	return hex.EncodeToString(sum[:])
}
