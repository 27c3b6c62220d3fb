package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/yungbote/verdant-edge/internal/apiclient"
	"github.com/yungbote/verdant-edge/internal/platform/logger"
)

// LessonView is a lesson as the video player needs it: the platform's lesson
// record plus the viewer's bookmarks.
type LessonView struct {
	Lesson    json.RawMessage `json:"lesson"`
	Bookmarks []Bookmark      `json:"bookmarks"`
}

type LessonService interface {
	// Get fetches lessonID for userID. token, when set, is forwarded to the
	// platform as the caller's bearer token.
	Get(ctx context.Context, userID, token, lessonID string) (*LessonView, error)
}

type lessonService struct {
	log        *logger.Logger
	api        *apiclient.Client
	bookmarks  BookmarkService
	retries    int
	retryDelay time.Duration
}

// NewLessonService reads lessons with up to retries extra attempts spaced
// linearly by retryDelay.
func NewLessonService(api *apiclient.Client, bookmarks BookmarkService, retries int, retryDelay time.Duration, baseLog *logger.Logger) LessonService {
	if retries < 0 {
		retries = 0
	}
	return &lessonService{
		log:        baseLog.With("service", "LessonService"),
		api:        api,
		bookmarks:  bookmarks,
		retries:    retries,
		retryDelay: retryDelay,
	}
}

func (s *lessonService) Get(ctx context.Context, userID, token, lessonID string) (*LessonView, error) {
	endpoint, err := apiclient.Path(apiclient.LessonsByID, lessonID)
	if err != nil {
		return nil, err
	}
	cfg := apiclient.RequestConfig{Retries: s.retries, RetryDelay: s.retryDelay, Scope: userID}
	if token != "" {
		cfg.Headers = map[string]string{"Authorization": "Bearer " + token}
	}
	resp, err := s.api.Request(ctx, endpoint, cfg)
	if err != nil {
		return nil, err
	}
	var body struct {
		Lesson json.RawMessage `json:"lesson"`
	}
	if err := resp.Decode(&body); err != nil {
		return nil, fmt.Errorf("decode lesson: %w", err)
	}
	if len(body.Lesson) == 0 {
		body.Lesson = json.RawMessage(resp.Body)
	}
	marks, err := s.bookmarks.List(ctx, userID, lessonID)
	if err != nil {
		return nil, err
	}
	return &LessonView{Lesson: body.Lesson, Bookmarks: marks}, nil
}
