package features

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"riskauth-service/internal/model"
)

// stubEventStore returns canned aggregation results and records call order.
type stubEventStore struct {
	deviceCount     uint64
	sessionDuration float64
	avgDuration     float64
	loginCount      uint64
	failed, total   uint64
	geoPoints       []model.GeoPoint
	apiCounts       map[time.Duration]uint64

	failOn string
	calls  []string
}

var errStub = errors.New("stub failure")

func (s *stubEventStore) AppendEvent(ctx context.Context, event *model.SessionEvent) error {
	s.calls = append(s.calls, "append")
	return nil
}

func (s *stubEventStore) DeviceCount(ctx context.Context, userID string) (uint64, error) {
	s.calls = append(s.calls, "device_count")
	if s.failOn == "device_count" {
		return 0, errStub
	}
	return s.deviceCount, nil
}

func (s *stubEventStore) SessionDuration(ctx context.Context, sessionID string) (float64, error) {
	s.calls = append(s.calls, "session_duration")
	return s.sessionDuration, nil
}

func (s *stubEventStore) AvgSessionDuration(ctx context.Context) (float64, error) {
	s.calls = append(s.calls, "avg_session_duration")
	return s.avgDuration, nil
}

func (s *stubEventStore) LoginCount(ctx context.Context, userID string, window time.Duration) (uint64, error) {
	s.calls = append(s.calls, "login_count")
	return s.loginCount, nil
}

func (s *stubEventStore) FailedAndTotalLogins(ctx context.Context, userID string, window time.Duration) (uint64, uint64, error) {
	s.calls = append(s.calls, "failed_and_total")
	return s.failed, s.total, nil
}

func (s *stubEventStore) RecentGeoEvents(ctx context.Context, userID string, limit int) ([]model.GeoPoint, error) {
	s.calls = append(s.calls, "recent_geo")
	if len(s.geoPoints) > limit {
		return s.geoPoints[:limit], nil
	}
	return s.geoPoints, nil
}

func (s *stubEventStore) APICallCount(ctx context.Context, userID string, window time.Duration) (uint64, error) {
	s.calls = append(s.calls, "api_call_count")
	return s.apiCounts[window], nil
}

func TestComputeBuildsFullVector(t *testing.T) {
	store := &stubEventStore{
		deviceCount:     3,
		sessionDuration: 42.5,
		avgDuration:     100.25,
		loginCount:      7,
		failed:          1,
		total:           4,
		geoPoints: []model.GeoPoint{
			{Latitude: 0, Longitude: 1},
			{Latitude: 0, Longitude: 0},
		},
		apiCounts: map[time.Duration]uint64{
			time.Minute:        5,
			7 * 24 * time.Hour: 14,
		},
	}

	fv, err := NewAggregator(store).Compute(context.Background(), "P-U0001", "sess-1")
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}

	if fv.UserID != "P-U0001" || fv.SessionID != "sess-1" {
		t.Errorf("vector identity wrong: %q %q", fv.UserID, fv.SessionID)
	}
	if fv.DeviceCount != 3 {
		t.Errorf("device_count = %d, want 3", fv.DeviceCount)
	}
	if fv.SessionDuration != 42.5 {
		t.Errorf("session_duration = %f, want 42.5", fv.SessionDuration)
	}
	if fv.AvgSessionDuration != 100.25 {
		t.Errorf("avg_session_duration = %f, want 100.25", fv.AvgSessionDuration)
	}
	if fv.Last24hLogins != 7 {
		t.Errorf("last_24h_logins = %d, want 7", fv.Last24hLogins)
	}
	if math.Abs(fv.FailedLoginRatio-0.25) > 1e-9 {
		t.Errorf("failed_login_ratio = %f, want 0.25", fv.FailedLoginRatio)
	}
	if math.Abs(fv.GeoJumpKM-111.19) > 0.1 {
		t.Errorf("geo_jump_km = %f, want ~111.19", fv.GeoJumpKM)
	}
	if fv.APIRate1Min != 5 {
		t.Errorf("api_rate_1min = %d, want 5", fv.APIRate1Min)
	}
	if math.Abs(fv.APIRate7dAvg-2.0) > 1e-9 {
		t.Errorf("api_rate_7d_avg = %f, want 2.0", fv.APIRate7dAvg)
	}
	if fv.CalculatedAt.IsZero() {
		t.Error("calculated_at not set")
	}
}

func TestComputeZeroDefaults(t *testing.T) {
	store := &stubEventStore{apiCounts: map[time.Duration]uint64{}}

	fv, err := NewAggregator(store).Compute(context.Background(), "P-U0002", "sess-2")
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}

	for name, value := range fv.Flat() {
		if value != 0 {
			t.Errorf("%s = %f, want 0 with empty ledger", name, value)
		}
	}
}

func TestComputeRatioGuardsZeroDenominator(t *testing.T) {
	store := &stubEventStore{failed: 0, total: 0, apiCounts: map[time.Duration]uint64{}}

	fv, err := NewAggregator(store).Compute(context.Background(), "P-U0003", "sess-3")
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	if fv.FailedLoginRatio != 0 {
		t.Errorf("failed_login_ratio = %f, want 0 for empty denominator", fv.FailedLoginRatio)
	}
}

func TestComputeGeoJumpNeedsTwoPoints(t *testing.T) {
	store := &stubEventStore{
		geoPoints: []model.GeoPoint{{Latitude: 10, Longitude: 10}},
		apiCounts: map[time.Duration]uint64{},
	}

	fv, err := NewAggregator(store).Compute(context.Background(), "P-U0004", "sess-4")
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	if fv.GeoJumpKM != 0 {
		t.Errorf("geo_jump_km = %f, want 0 with a single geolocated event", fv.GeoJumpKM)
	}
}

func TestComputeQueryFailureAborts(t *testing.T) {
	store := &stubEventStore{failOn: "device_count", apiCounts: map[time.Duration]uint64{}}

	if _, err := NewAggregator(store).Compute(context.Background(), "P-U0005", "sess-5"); !errors.Is(err, errStub) {
		t.Fatalf("expected stub failure to propagate, got %v", err)
	}
}

func TestComputeRunsQueriesSequentially(t *testing.T) {
	store := &stubEventStore{apiCounts: map[time.Duration]uint64{}}

	if _, err := NewAggregator(store).Compute(context.Background(), "P-U0006", "sess-6"); err != nil {
		t.Fatalf("Compute failed: %v", err)
	}

	want := []string{
		"device_count", "session_duration", "avg_session_duration",
		"login_count", "failed_and_total", "recent_geo",
		"api_call_count", "api_call_count",
	}
	if len(store.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", store.calls, want)
	}
	for i, name := range want {
		if store.calls[i] != name {
			t.Errorf("call %d = %s, want %s", i, store.calls[i], name)
		}
	}
}
