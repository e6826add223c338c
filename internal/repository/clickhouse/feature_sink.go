package clickhouse

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"riskauth-service/internal/client"
	"riskauth-service/internal/model"
	"riskauth-service/internal/util"
)

var ErrNoFeatures = errors.New("no feature vector recorded for user")

// FeatureSink persists computed feature vectors. The insert is synchronous:
// login does not report success until SinkFeatures returns nil.
type FeatureSink struct {
	client *client.ClickHouseClient
}

var _ model.FeatureSink = (*FeatureSink)(nil)

func NewFeatureSink(ch *client.ClickHouseClient) *FeatureSink {
	return &FeatureSink{
		client: ch,
	}
}

func (s *FeatureSink) EnsureSchema(ctx context.Context) error {
	ddl := `
        CREATE TABLE IF NOT EXISTS risk_features (
            user_id              String,
            session_id           String,
            device_count         UInt64,
            avg_session_duration Float64,
            session_duration     Float64,
            last_24h_logins      UInt64,
            failed_login_ratio   Float64,
            geo_jump_km          Float64,
            api_rate_1min        UInt64,
            api_rate_7d_avg      Float64,
            calculated_at        DateTime64(3, 'UTC')
        ) ENGINE = MergeTree
        ORDER BY (user_id, calculated_at)`

	if err := s.client.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create risk_features table: %w", err)
	}
	return nil
}

func (s *FeatureSink) SinkFeatures(ctx context.Context, fv *model.FeatureVector) error {
	err := s.client.Exec(ctx, `
        INSERT INTO risk_features
            (user_id, session_id, device_count, avg_session_duration,
             session_duration, last_24h_logins, failed_login_ratio,
             geo_jump_km, api_rate_1min, api_rate_7d_avg, calculated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		fv.UserID, fv.SessionID, fv.DeviceCount, fv.AvgSessionDuration,
		fv.SessionDuration, fv.Last24hLogins, fv.FailedLoginRatio,
		fv.GeoJumpKM, fv.APIRate1Min, fv.APIRate7dAvg, fv.CalculatedAt)
	if err != nil {
		util.Error("Failed to sink feature vector",
			zap.String("user_id", fv.UserID),
			zap.String("session_id", fv.SessionID),
			zap.Error(err))
		return fmt.Errorf("failed to sink feature vector: %w", err)
	}

	util.Info("Feature vector sunk",
		zap.String("user_id", fv.UserID),
		zap.String("session_id", fv.SessionID))

	return nil
}

// LatestFeatures returns the most recently calculated vector for a user.
func (s *FeatureSink) LatestFeatures(ctx context.Context, userID string) (*model.FeatureVector, error) {
	row := s.client.QueryRow(ctx, `
        SELECT user_id, session_id, device_count, avg_session_duration,
               session_duration, last_24h_logins, failed_login_ratio,
               geo_jump_km, api_rate_1min, api_rate_7d_avg, calculated_at
        FROM risk_features
        WHERE user_id = ?
        ORDER BY calculated_at DESC
        LIMIT 1`, userID)

	var fv model.FeatureVector
	err := row.Scan(&fv.UserID, &fv.SessionID, &fv.DeviceCount,
		&fv.AvgSessionDuration, &fv.SessionDuration, &fv.Last24hLogins,
		&fv.FailedLoginRatio, &fv.GeoJumpKM, &fv.APIRate1Min,
		&fv.APIRate7dAvg, &fv.CalculatedAt)
	if err != nil {
		if errors.Is(err, client.ErrNoRows) {
			return nil, ErrNoFeatures
		}
		return nil, fmt.Errorf("latest features query failed: %w", err)
	}

	return &fv, nil
}
