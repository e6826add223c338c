package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"riskauth-service/internal/bucketing"
	"riskauth-service/internal/config"
	"riskauth-service/internal/encryption"
	"riskauth-service/internal/features"
	"riskauth-service/internal/hashing"
	"riskauth-service/internal/model"
	"riskauth-service/internal/repository/scylla"
)

func testConfig() *config.Config {
	return &config.Config{
		Environment: "development",
		Hashing: config.HashingConfig{
			Argon2MemoryCost:  8 * 1024,
			Argon2TimeCost:    1,
			Argon2Parallelism: 1,
			Peppers:           []string{"test-pepper-v1"},
		},
		Bucketing: config.BucketingConfig{
			UserBuckets:  64,
			EventBuckets: 16,
		},
		Session: config.SessionConfig{TTL: time.Hour},
	}
}

// fakeUserRepo holds users by display id and hands out sequence numbers.
type fakeUserRepo struct {
	nextSeq   int64
	seqErr    error
	insertErr error
	users     map[string]*model.User
	calls     *[]string
}

func (r *fakeUserRepo) NextSequence(ctx context.Context) (int64, error) {
	*r.calls = append(*r.calls, "next_sequence")
	if r.seqErr != nil {
		return 0, r.seqErr
	}
	r.nextSeq++
	return r.nextSeq, nil
}

func (r *fakeUserRepo) InsertUser(ctx context.Context, user *model.User) error {
	*r.calls = append(*r.calls, "insert_user")
	if r.insertErr != nil {
		return r.insertErr
	}
	r.users[user.DisplayID] = user
	return nil
}

func (r *fakeUserRepo) GetUserByDisplayID(ctx context.Context, displayID string) (*model.User, error) {
	user, ok := r.users[displayID]
	if !ok {
		return nil, scylla.ErrUserNotFound
	}
	return user, nil
}

func (r *fakeUserRepo) MarkEmailSent(ctx context.Context, user *model.User) error { return nil }
func (r *fakeUserRepo) HealthCheck(ctx context.Context) error                     { return nil }

// fakeEventStore records appends and serves empty aggregations.
type fakeEventStore struct {
	appendErr error
	events    []*model.SessionEvent
	calls     *[]string
}

func (s *fakeEventStore) AppendEvent(ctx context.Context, event *model.SessionEvent) error {
	*s.calls = append(*s.calls, "append_event")
	if s.appendErr != nil {
		return s.appendErr
	}
	s.events = append(s.events, event)
	return nil
}

func (s *fakeEventStore) DeviceCount(ctx context.Context, userID string) (uint64, error) {
	*s.calls = append(*s.calls, "device_count")
	devices := map[string]bool{}
	for _, e := range s.events {
		if e.UserID == userID {
			devices[e.DeviceID] = true
		}
	}
	return uint64(len(devices)), nil
}

func (s *fakeEventStore) SessionDuration(ctx context.Context, sessionID string) (float64, error) {
	return 0, nil
}
func (s *fakeEventStore) AvgSessionDuration(ctx context.Context) (float64, error) { return 0, nil }
func (s *fakeEventStore) LoginCount(ctx context.Context, userID string, window time.Duration) (uint64, error) {
	return 0, nil
}
func (s *fakeEventStore) FailedAndTotalLogins(ctx context.Context, userID string, window time.Duration) (uint64, uint64, error) {
	return 0, 0, nil
}
func (s *fakeEventStore) RecentGeoEvents(ctx context.Context, userID string, limit int) ([]model.GeoPoint, error) {
	return nil, nil
}
func (s *fakeEventStore) APICallCount(ctx context.Context, userID string, window time.Duration) (uint64, error) {
	return 0, nil
}

type fakeSink struct {
	sinkErr error
	sunk    []*model.FeatureVector
	calls   *[]string
}

func (s *fakeSink) SinkFeatures(ctx context.Context, fv *model.FeatureVector) error {
	*s.calls = append(*s.calls, "sink_features")
	if s.sinkErr != nil {
		return s.sinkErr
	}
	s.sunk = append(s.sunk, fv)
	return nil
}

func (s *fakeSink) LatestFeatures(ctx context.Context, userID string) (*model.FeatureVector, error) {
	if len(s.sunk) == 0 {
		return nil, errors.New("empty sink")
	}
	return s.sunk[len(s.sunk)-1], nil
}

type harness struct {
	svc    *AuthService
	users  *fakeUserRepo
	events *fakeEventStore
	sink   *fakeSink
	calls  []string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := testConfig()

	h := &harness{}
	h.users = &fakeUserRepo{users: map[string]*model.User{}, calls: &h.calls}
	h.events = &fakeEventStore{calls: &h.calls}
	h.sink = &fakeSink{calls: &h.calls}

	h.svc = NewAuthService(
		h.users,
		h.events,
		h.sink,
		nil,
		nil,
		features.NewAggregator(h.events),
		hashing.NewHasher(cfg),
		encryption.NewEncryptionManager(cfg, nil),
		bucketing.NewBucketingManager(cfg),
		cfg.Session.TTL,
	)
	return h
}

func TestFormatDisplayID(t *testing.T) {
	cases := []struct {
		seq  int64
		want string
	}{
		{1, "P-U0001"},
		{7, "P-U0007"},
		{42, "P-U0042"},
		{9999, "P-U9999"},
		{12345, "P-U12345"},
	}
	for _, tc := range cases {
		if got := FormatDisplayID(tc.seq); got != tc.want {
			t.Errorf("FormatDisplayID(%d) = %q, want %q", tc.seq, got, tc.want)
		}
	}
}

func TestHandleRejectsUnknownAction(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.Handle(context.Background(), &AuthRequest{Action: "delete"})
	if !errors.Is(err, ErrInvalidAction) {
		t.Fatalf("expected ErrInvalidAction, got %v", err)
	}
}

func TestRegisterAssignsSequentialDisplayID(t *testing.T) {
	h := newHarness(t)

	resp, err := h.svc.Register(context.Background(), &AuthRequest{
		Action:   ActionRegister,
		Email:    "a@x.com",
		Password: "secret",
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if !resp.Success {
		t.Fatal("expected success")
	}
	if resp.UserID != "P-U0001" {
		t.Errorf("user_id = %q, want P-U0001", resp.UserID)
	}

	stored := h.users.users["P-U0001"]
	if stored == nil {
		t.Fatal("user not persisted")
	}
	if stored.SeqID != 1 {
		t.Errorf("seq = %d, want 1", stored.SeqID)
	}
	if stored.CredentialHash == "" || stored.CredentialHash == "secret" {
		t.Error("credential not hashed")
	}
	if stored.EmailEncrypted == "" {
		t.Error("email not encrypted")
	}
}

func TestRegisterEmptyEmailFailsBeforeAnyWrite(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.Register(context.Background(), &AuthRequest{
		Action:   ActionRegister,
		Password: "secret",
	})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if len(h.calls) != 0 {
		t.Errorf("expected no store calls, got %v", h.calls)
	}
}

func TestRegisterStoreFailureIsFailSoft(t *testing.T) {
	h := newHarness(t)
	h.users.seqErr = errors.New("scylla down")

	resp, err := h.svc.Register(context.Background(), &AuthRequest{
		Action:   ActionRegister,
		Email:    "a@x.com",
		Password: "secret",
	})
	if err != nil {
		t.Fatalf("store failure must not surface an error, got %v", err)
	}
	if resp.Success {
		t.Error("expected success=false")
	}
	if resp.UserID != "" {
		t.Errorf("failed register must not leak a user id, got %q", resp.UserID)
	}
}

func register(t *testing.T, h *harness, email, password string) string {
	t.Helper()
	resp, err := h.svc.Register(context.Background(), &AuthRequest{
		Action:   ActionRegister,
		Email:    email,
		Password: password,
	})
	if err != nil || !resp.Success {
		t.Fatalf("register failed: %v %+v", err, resp)
	}
	return resp.UserID
}

func TestLoginSuccessRecordsEventBeforeAggregation(t *testing.T) {
	h := newHarness(t)
	userID := register(t, h, "a@x.com", "secret")
	h.calls = nil

	resp, err := h.svc.Login(context.Background(), &AuthRequest{
		Action:   ActionLogin,
		UserID:   userID,
		Password: "secret",
		DeviceID: "laptop-1",
	})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if !resp.Success {
		t.Fatal("expected success")
	}
	if resp.SessionID == "" {
		t.Error("expected a generated session id")
	}
	if len(resp.Features) != 8 {
		t.Errorf("features has %d entries, want 8", len(resp.Features))
	}
	if resp.Features["device_count"] < 1 {
		t.Errorf("device_count = %f, want >= 1 (must include this login)", resp.Features["device_count"])
	}

	if len(h.calls) == 0 || h.calls[0] != "append_event" {
		t.Fatalf("login event must be appended first, calls = %v", h.calls)
	}
	if h.calls[len(h.calls)-1] != "sink_features" {
		t.Fatalf("sink must be the final store call, calls = %v", h.calls)
	}
	if len(h.sink.sunk) != 1 {
		t.Fatalf("expected exactly one sunk vector, got %d", len(h.sink.sunk))
	}
}

func TestLoginKeepsClientSessionID(t *testing.T) {
	h := newHarness(t)
	userID := register(t, h, "a@x.com", "secret")

	resp, err := h.svc.Login(context.Background(), &AuthRequest{
		Action:    ActionLogin,
		UserID:    userID,
		Password:  "secret",
		SessionID: "client-sess",
	})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if resp.SessionID != "client-sess" {
		t.Errorf("session_id = %q, want client-sess", resp.SessionID)
	}
}

func TestLoginWrongCredentialHasNoSideEffects(t *testing.T) {
	h := newHarness(t)
	userID := register(t, h, "a@x.com", "secret")
	h.calls = nil

	resp, err := h.svc.Login(context.Background(), &AuthRequest{
		Action:   ActionLogin,
		UserID:   userID,
		Password: "wrong",
	})
	if err != nil {
		t.Fatalf("Login returned error: %v", err)
	}
	if resp.Success {
		t.Error("expected success=false")
	}
	if len(h.calls) != 0 {
		t.Errorf("mismatch must perform no writes, calls = %v", h.calls)
	}
	if len(h.events.events) != 0 {
		t.Errorf("mismatch must not record events, got %d", len(h.events.events))
	}
}

func TestLoginUnknownUserIndistinguishable(t *testing.T) {
	h := newHarness(t)

	resp, err := h.svc.Login(context.Background(), &AuthRequest{
		Action:   ActionLogin,
		UserID:   "P-U9999",
		Password: "whatever",
	})
	if err != nil {
		t.Fatalf("Login returned error: %v", err)
	}
	if resp.Success {
		t.Error("expected success=false")
	}
	if resp.UserID != "" || resp.SessionID != "" || resp.Features != nil {
		t.Errorf("failure response must carry nothing but success=false, got %+v", resp)
	}
}

func TestLoginSinkFailurePropagates(t *testing.T) {
	h := newHarness(t)
	userID := register(t, h, "a@x.com", "secret")
	h.sink.sinkErr = errors.New("clickhouse down")

	if _, err := h.svc.Login(context.Background(), &AuthRequest{
		Action:   ActionLogin,
		UserID:   userID,
		Password: "secret",
	}); err == nil {
		t.Fatal("expected sink failure to fail the login")
	}
}

func TestRecordAPICallValidatesUser(t *testing.T) {
	h := newHarness(t)

	if err := h.svc.RecordAPICall(context.Background(), &EventRequest{}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}

	if err := h.svc.RecordAPICall(context.Background(), &EventRequest{UserID: "P-U0001"}); err != nil {
		t.Fatalf("RecordAPICall failed: %v", err)
	}
	if len(h.events.events) != 1 || h.events.events[0].EventType != model.EventAPICall {
		t.Fatalf("expected one api_call event, got %+v", h.events.events)
	}
}
