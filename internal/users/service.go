package users

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/northcove/compass/backend/internal/auth"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrInvalidProfile indicates the claims did not contain a usable identifier.
var ErrInvalidProfile = errors.New("users: invalid profile")

// ServiceConfig describes the dependencies for the profile store.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Service keeps participant profiles current. Writes are throttled through a
// per-user cache so a chatty client does not turn every request into an
// UPDATE.
type Service struct {
	db       *gorm.DB
	now      func() time.Time
	lastSeen sync.Map
}

// Profiles refresh at most once per interval per user.
const refreshInterval = time.Minute

// NewService constructs the profile service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		db:  cfg.Database,
		now: clock,
	}, nil
}

// Refresh records the participant's latest display details and last-seen
// time from validated session claims.
func (s *Service) Refresh(ctx context.Context, claims auth.SessionClaims) error {
	userID := normalize(claims.UserID)
	if userID == "" {
		return ErrInvalidProfile
	}

	now := s.now().UTC()
	if seenAt, ok := s.lastSeen.Load(userID); ok {
		if previous, ok := seenAt.(time.Time); ok && now.Sub(previous) < refreshInterval {
			return nil
		}
	}

	record := Profile{
		UserID:            userID,
		Email:             normalize(claims.UserEmail),
		DisplayName:       normalize(claims.UserDisplayName),
		LastSeenAtSeconds: now.Unix(),
		CreatedAtSeconds:  now.Unix(),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"email", "display_name", "last_seen_at_s",
		}),
	}).Create(&record).Error
	if err != nil {
		return err
	}

	s.lastSeen.Store(userID, now)
	return nil
}

// Get loads one profile. A missing profile is not an error; callers fall
// back to the bare user id.
func (s *Service) Get(ctx context.Context, userID string) (Profile, bool, error) {
	var record Profile
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Profile{}, false, nil
	}
	if err != nil {
		return Profile{}, false, err
	}
	return record, true, nil
}

// DisplayNameFor resolves the friendliest available name for a user.
func (s *Service) DisplayNameFor(ctx context.Context, userID string) string {
	record, found, err := s.Get(ctx, userID)
	if err != nil || !found || record.DisplayName == "" {
		return userID
	}
	return record.DisplayName
}
