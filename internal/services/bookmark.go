// Package services holds the persistence-backed services the front end calls
// before a platform backend exists: bookmarks, media uploads, the email log,
// one-time migrations and lesson lookup.
package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/verdant-edge/internal/kvstore"
	"github.com/yungbote/verdant-edge/internal/platform/logger"
)

// BookmarkWindow is how close (in video seconds) two bookmarks on the same
// lesson must be to count as the same bookmark.
const BookmarkWindow = 2.0

var ErrInvalidBookmark = errors.New("invalid bookmark")

type Bookmark struct {
	ID       string  `json:"id"`
	UserID   string  `json:"userId"`
	LessonID string  `json:"lessonId"`
	CourseID string  `json:"courseId,omitempty"`
	// Time is the offset into the lesson video, in seconds.
	Time      float64   `json:"time"`
	Note      string    `json:"note"`
	Timestamp time.Time `json:"timestamp"`
}

type BookmarkInput struct {
	LessonID string  `json:"lessonId"`
	CourseID string  `json:"courseId"`
	Time     float64 `json:"time"`
	Note     string  `json:"note"`
}

type BookmarkService interface {
	Add(ctx context.Context, userID string, in BookmarkInput) (*Bookmark, error)
	Remove(ctx context.Context, userID, lessonID string, t float64) (int, error)
	List(ctx context.Context, userID, lessonID string) ([]Bookmark, error)
	Clear(ctx context.Context, userID string) error
}

type bookmarkService struct {
	log   *logger.Logger
	store kvstore.Store
	now   func() time.Time
	mu    sync.Mutex
}

func NewBookmarkService(store kvstore.Store, baseLog *logger.Logger) BookmarkService {
	return &bookmarkService{
		log:   baseLog.With("service", "BookmarkService"),
		store: store,
		now:   time.Now,
	}
}

func BookmarkKey(userID string) string { return "bookmarks_" + userID }

func near(a, b float64) bool { return math.Abs(a-b) < BookmarkWindow }

// Add stores a bookmark. A bookmark already within BookmarkWindow seconds on
// the same lesson gets the new note and timestamp instead of a duplicate.
func (s *bookmarkService) Add(ctx context.Context, userID string, in BookmarkInput) (*Bookmark, error) {
	userID = strings.TrimSpace(userID)
	in.LessonID = strings.TrimSpace(in.LessonID)
	if userID == "" || in.LessonID == "" {
		return nil, fmt.Errorf("%w: user and lesson are required", ErrInvalidBookmark)
	}
	if in.Time < 0 || math.IsNaN(in.Time) || math.IsInf(in.Time, 0) {
		return nil, fmt.Errorf("%w: time must be a non-negative number of seconds", ErrInvalidBookmark)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	for i := range all {
		b := &all[i]
		if b.LessonID == in.LessonID && near(b.Time, in.Time) {
			b.Note = in.Note
			b.Timestamp = now
			if in.CourseID != "" {
				b.CourseID = in.CourseID
			}
			if err := s.save(ctx, userID, all); err != nil {
				return nil, err
			}
			out := *b
			return &out, nil
		}
	}

	b := Bookmark{
		ID:        uuid.NewString(),
		UserID:    userID,
		LessonID:  in.LessonID,
		CourseID:  in.CourseID,
		Time:      in.Time,
		Note:      in.Note,
		Timestamp: now,
	}
	all = append(all, b)
	if err := s.save(ctx, userID, all); err != nil {
		return nil, err
	}
	s.log.Debug("Bookmark added", "user_id", userID, "lesson_id", in.LessonID)
	return &b, nil
}

// Remove deletes every bookmark on lessonID within BookmarkWindow seconds of
// t and reports how many were removed.
func (s *bookmarkService) Remove(ctx context.Context, userID, lessonID string, t float64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.load(ctx, userID)
	if err != nil {
		return 0, err
	}
	kept := all[:0]
	removed := 0
	for _, b := range all {
		if b.LessonID == lessonID && near(b.Time, t) {
			removed++
			continue
		}
		kept = append(kept, b)
	}
	if removed == 0 {
		return 0, nil
	}
	return removed, s.save(ctx, userID, kept)
}

// List returns the user's bookmarks ordered by video time. An empty lessonID
// lists every lesson.
func (s *bookmarkService) List(ctx context.Context, userID, lessonID string) ([]Bookmark, error) {
	all, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]Bookmark, 0, len(all))
	for _, b := range all {
		if lessonID == "" || b.LessonID == lessonID {
			out = append(out, b)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].LessonID != out[j].LessonID {
			return out[i].LessonID < out[j].LessonID
		}
		return out[i].Time < out[j].Time
	})
	return out, nil
}

func (s *bookmarkService) Clear(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Delete(ctx, BookmarkKey(userID))
}

func (s *bookmarkService) load(ctx context.Context, userID string) ([]Bookmark, error) {
	var all []Bookmark
	if _, err := kvstore.GetJSON(ctx, s.store, BookmarkKey(userID), &all); err != nil {
		return nil, err
	}
	return all, nil
}

func (s *bookmarkService) save(ctx context.Context, userID string, all []Bookmark) error {
	if all == nil {
		all = []Bookmark{}
	}
	return kvstore.SetJSON(ctx, s.store, BookmarkKey(userID), all)
}
