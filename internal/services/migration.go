package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/yungbote/verdant-edge/internal/kvstore"
	"github.com/yungbote/verdant-edge/internal/platform/logger"
)

const (
	MigrationStatusKey = "migration_status"
	// LegacyBookmarksKey held every user's bookmarks in one array before
	// bookmarks were keyed per user.
	LegacyBookmarksKey = "bookmarks"
	BookmarksMigration = "2024-06-per-user-bookmarks"
)

type MigrationStatus struct {
	Completed bool      `json:"completed"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
}

type MigrationFunc func(ctx context.Context, store kvstore.Store) error

type MigrationService interface {
	Status(ctx context.Context) (*MigrationStatus, error)
	// RunOnce runs fn unless version is already recorded as completed. It
	// reports whether fn ran.
	RunOnce(ctx context.Context, version string, fn MigrationFunc) (bool, error)
	MigrateBookmarks(ctx context.Context) (bool, error)
}

type migrationService struct {
	log   *logger.Logger
	store kvstore.Store
	now   func() time.Time
	mu    sync.Mutex
}

func NewMigrationService(store kvstore.Store, baseLog *logger.Logger) MigrationService {
	return &migrationService{
		log:   baseLog.With("service", "MigrationService"),
		store: store,
		now:   time.Now,
	}
}

func (s *migrationService) Status(ctx context.Context) (*MigrationStatus, error) {
	var st MigrationStatus
	if _, err := kvstore.GetJSON(ctx, s.store, MigrationStatusKey, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *migrationService) RunOnce(ctx context.Context, version string, fn MigrationFunc) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.Status(ctx)
	if err != nil {
		return false, err
	}
	if st.Completed && st.Version == version {
		return false, nil
	}
	if err := fn(ctx, s.store); err != nil {
		return false, fmt.Errorf("migration %s: %w", version, err)
	}
	done := MigrationStatus{Completed: true, Timestamp: s.now().UTC(), Version: version}
	if err := kvstore.SetJSON(ctx, s.store, MigrationStatusKey, done); err != nil {
		return true, err
	}
	s.log.Info("Migration completed", "version", version)
	return true, nil
}

// MigrateBookmarks moves the legacy global bookmark array into per-user keys,
// merging with anything already stored for each user.
func (s *migrationService) MigrateBookmarks(ctx context.Context) (bool, error) {
	return s.RunOnce(ctx, BookmarksMigration, func(ctx context.Context, store kvstore.Store) error {
		var legacy []Bookmark
		found, err := kvstore.GetJSON(ctx, store, LegacyBookmarksKey, &legacy)
		if err != nil || !found {
			return err
		}
		byUser := map[string][]Bookmark{}
		var order []string
		for _, b := range legacy {
			if b.UserID == "" {
				continue
			}
			if _, seen := byUser[b.UserID]; !seen {
				order = append(order, b.UserID)
			}
			byUser[b.UserID] = append(byUser[b.UserID], b)
		}
		for _, uid := range order {
			var existing []Bookmark
			if _, err := kvstore.GetJSON(ctx, store, BookmarkKey(uid), &existing); err != nil {
				return err
			}
			ids := map[string]bool{}
			for _, b := range existing {
				ids[b.ID] = true
			}
			for _, b := range byUser[uid] {
				if !ids[b.ID] {
					existing = append(existing, b)
				}
			}
			if err := kvstore.SetJSON(ctx, store, BookmarkKey(uid), existing); err != nil {
				return err
			}
		}
		return store.Delete(ctx, LegacyBookmarksKey)
	})
}
