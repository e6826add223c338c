package scylla

import (
	"context"
	"errors"
	"fmt"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"riskauth-service/internal/model"
	"riskauth-service/internal/util"
)

var (
	ErrUserNotFound  = errors.New("user not found")
	ErrEmailTaken    = errors.New("email already registered")
	ErrSeqContention = errors.New("sequence allocation contention")
)

const (
	userSequenceName = "users"
	maxSeqAttempts   = 10
)

// UserRepository persists users in Scylla. The register path allocates a
// sequence number with LWT and then performs a single logged-batch insert
// that already carries the display id, so there is no window in which a
// user row exists without its display id.
type UserRepository struct {
	client *ScyllaClient
}

var _ model.UserRepository = (*UserRepository)(nil)

func NewUserRepository(client *ScyllaClient, logger *zap.Logger) *UserRepository {
	return &UserRepository{
		client: client,
	}
}

// NextSequence atomically claims the next user sequence number via a
// compare-and-set loop on the id_sequences row.
func (r *UserRepository) NextSequence(ctx context.Context) (int64, error) {
	for attempt := 0; attempt < maxSeqAttempts; attempt++ {
		var current int64
		err := r.client.Session.Query(
			`SELECT next_id FROM id_sequences WHERE name = ?`, userSequenceName,
		).WithContext(ctx).Scan(&current)

		if err == gocql.ErrNotFound {
			applied, err := r.client.Session.Query(
				`INSERT INTO id_sequences (name, next_id) VALUES (?, ?) IF NOT EXISTS`,
				userSequenceName, int64(2),
			).WithContext(ctx).MapScanCAS(map[string]interface{}{})
			if err != nil {
				return 0, fmt.Errorf("failed to seed user sequence: %w", err)
			}
			if applied {
				return 1, nil
			}
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("failed to read user sequence: %w", err)
		}

		applied, err := r.client.Session.Query(
			`UPDATE id_sequences SET next_id = ? WHERE name = ? IF next_id = ?`,
			current+1, userSequenceName, current,
		).WithContext(ctx).MapScanCAS(map[string]interface{}{})
		if err != nil {
			return 0, fmt.Errorf("failed to advance user sequence: %w", err)
		}
		if applied {
			return current, nil
		}
	}

	return 0, ErrSeqContention
}

func (r *UserRepository) InsertUser(ctx context.Context, user *model.User) error {
	// Claim the email first; losing the race means a duplicate registration.
	applied, err := r.client.Session.Query(
		`INSERT INTO email_to_user (email_hash, display_id) VALUES (?, ?) IF NOT EXISTS`,
		user.EmailHash, user.DisplayID,
	).WithContext(ctx).MapScanCAS(map[string]interface{}{})
	if err != nil {
		return fmt.Errorf("failed to claim email: %w", err)
	}
	if !applied {
		return ErrEmailTaken
	}

	batch := r.client.Session.NewBatch(gocql.LoggedBatch).WithContext(ctx)

	batch.Query(r.client.Prepared.CreateUser.Statement(),
		user.UserBucket, user.DisplayID, user.SeqID, user.EmailHash,
		user.EmailEncrypted, user.EmailKeyID, user.CredentialHash,
		user.CredentialSalt, user.PepperVersion, user.HashAlgorithm,
		user.CreatedAt, user.EmailSent)

	batch.Query(r.client.Prepared.CreateUserByDisplay.Statement(),
		user.DisplayID, user.UserBucket)

	if err := r.client.ExecuteBatch(batch); err != nil {
		util.Error("Failed to insert user",
			zap.String("display_id", user.DisplayID),
			zap.Int64("seq_id", user.SeqID),
			zap.Error(err))
		return fmt.Errorf("failed to insert user: %w", err)
	}

	util.Info("User created",
		zap.String("display_id", user.DisplayID),
		zap.Int64("seq_id", user.SeqID),
		zap.Int("user_bucket", user.UserBucket))

	return nil
}

func (r *UserRepository) GetUserByDisplayID(ctx context.Context, displayID string) (*model.User, error) {
	var bucket int
	err := r.client.ScanWithRetry(
		r.client.Prepared.GetUserBucket.Bind(displayID).WithContext(ctx),
		&bucket)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to resolve user bucket: %w", err)
	}

	user := &model.User{}
	err = r.client.ScanWithRetry(
		r.client.Prepared.GetUser.Bind(bucket, displayID).WithContext(ctx),
		&user.UserBucket, &user.DisplayID, &user.SeqID, &user.EmailHash,
		&user.EmailEncrypted, &user.EmailKeyID, &user.CredentialHash,
		&user.CredentialSalt, &user.PepperVersion, &user.HashAlgorithm,
		&user.CreatedAt, &user.EmailSent)
	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, ErrUserNotFound
		}
		util.Error("Failed to get user",
			zap.String("display_id", displayID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return user, nil
}

func (r *UserRepository) MarkEmailSent(ctx context.Context, user *model.User) error {
	err := r.client.Prepared.MarkEmailSent.
		Bind(user.UserBucket, user.DisplayID).
		WithContext(ctx).
		Exec()
	if err != nil {
		return fmt.Errorf("failed to mark email sent: %w", err)
	}
	return nil
}

func (r *UserRepository) HealthCheck(ctx context.Context) error {
	return r.client.HealthCheck()
}
