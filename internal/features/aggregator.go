package features

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"riskauth-service/internal/model"
	"riskauth-service/internal/util"
)

// Trailing windows the statistics are computed over, all anchored at the
// server receipt clock.
const (
	loginWindow       = 24 * time.Hour
	failedRatioWindow = time.Hour
	apiRateWindow     = time.Minute
	apiAvgWindow      = 7 * 24 * time.Hour
	apiAvgDays        = 7.0
)

// Aggregator computes the eight behavioral statistics for one (user,
// session) pair. The queries run one after another; the caller must have
// durably appended the current login event first, since several statistics
// are defined to include it.
type Aggregator struct {
	store model.EventStore
}

func NewAggregator(store model.EventStore) *Aggregator {
	return &Aggregator{
		store: store,
	}
}

// Compute builds the feature vector for a user's just-recorded login. Any
// query error aborts the whole computation.
func (a *Aggregator) Compute(ctx context.Context, userID, sessionID string) (*model.FeatureVector, error) {
	started := time.Now()

	deviceCount, err := a.store.DeviceCount(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("device_count: %w", err)
	}

	sessionDuration, err := a.store.SessionDuration(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("session_duration: %w", err)
	}

	// Global across all users' sessions, not scoped to this user.
	avgSessionDuration, err := a.store.AvgSessionDuration(ctx)
	if err != nil {
		return nil, fmt.Errorf("avg_session_duration: %w", err)
	}

	last24hLogins, err := a.store.LoginCount(ctx, userID, loginWindow)
	if err != nil {
		return nil, fmt.Errorf("last_24h_logins: %w", err)
	}

	failed, total, err := a.store.FailedAndTotalLogins(ctx, userID, failedRatioWindow)
	if err != nil {
		return nil, fmt.Errorf("failed_login_ratio: %w", err)
	}
	var failedRatio float64
	if total > 0 {
		failedRatio = float64(failed) / float64(total)
	}

	geoJumpKM, err := a.geoJump(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("geo_jump_km: %w", err)
	}

	apiRate1Min, err := a.store.APICallCount(ctx, userID, apiRateWindow)
	if err != nil {
		return nil, fmt.Errorf("api_rate_1min: %w", err)
	}

	apiCalls7d, err := a.store.APICallCount(ctx, userID, apiAvgWindow)
	if err != nil {
		return nil, fmt.Errorf("api_rate_7d_avg: %w", err)
	}
	apiRate7dAvg := float64(apiCalls7d) / apiAvgDays

	fv := &model.FeatureVector{
		UserID:             userID,
		SessionID:          sessionID,
		DeviceCount:        deviceCount,
		AvgSessionDuration: avgSessionDuration,
		SessionDuration:    sessionDuration,
		Last24hLogins:      last24hLogins,
		FailedLoginRatio:   failedRatio,
		GeoJumpKM:          geoJumpKM,
		APIRate1Min:        apiRate1Min,
		APIRate7dAvg:       apiRate7dAvg,
		CalculatedAt:       time.Now().UTC(),
	}

	util.Debug("Feature vector computed",
		zap.String("user_id", userID),
		zap.String("session_id", sessionID),
		zap.Duration("elapsed", time.Since(started)))

	return fv, nil
}

// geoJump is the haversine distance between the user's two most recent
// geolocated events. Zero when fewer than two exist.
func (a *Aggregator) geoJump(ctx context.Context, userID string) (float64, error) {
	points, err := a.store.RecentGeoEvents(ctx, userID, 2)
	if err != nil {
		return 0, err
	}
	if len(points) < 2 {
		return 0, nil
	}
	return Haversine(points[0].Latitude, points[0].Longitude,
		points[1].Latitude, points[1].Longitude), nil
}
