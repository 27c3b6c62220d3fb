package apiclient

import (
	"fmt"
	"net/url"
	"strings"
)

// REST path templates of the platform backend. Segments starting with ':'
// are parameters; see Expand.
const (
	AuthLogin          = "/auth/login"
	AuthRegister       = "/auth/register"
	AuthLogout         = "/auth/logout"
	AuthRefresh        = "/auth/refresh"
	AuthMe             = "/auth/me"
	AuthForgotPassword = "/auth/forgot-password"
	AuthResetPassword  = "/auth/reset-password"
	AuthVerifyEmail    = "/auth/verify-email"

	UsersProfile      = "/users/profile"
	UsersByID         = "/users/:id"
	UsersProgress     = "/users/:id/progress"
	UsersAchievements = "/users/:id/achievements"
	UsersPreferences  = "/users/preferences"

	CoursesList     = "/courses"
	CoursesByID     = "/courses/:id"
	CoursesEnroll   = "/courses/:id/enroll"
	CoursesProgress = "/courses/:id/progress"
	CoursesLessons  = "/courses/:id/lessons"
	CoursesReviews  = "/courses/:id/reviews"
	CoursesFeatured = "/courses/featured"

	LessonsByID       = "/lessons/:id"
	LessonsComplete   = "/lessons/:id/complete"
	LessonsNotes      = "/lessons/:id/notes"
	LessonsTranscript = "/lessons/:id/transcript"

	QuizzesByID    = "/quizzes/:id"
	QuizzesSubmit  = "/quizzes/:id/submit"
	QuizzesResults = "/quizzes/:id/results"

	BlogPosts      = "/blog/posts"
	BlogPostBySlug = "/blog/posts/:slug"
	BlogCategories = "/blog/categories"

	ForumThreads    = "/forum/threads"
	ForumThreadByID = "/forum/threads/:id"
	ForumReplies    = "/forum/threads/:id/replies"

	AdminUsers     = "/admin/users"
	AdminCourses   = "/admin/courses"
	AdminAnalytics = "/admin/analytics"

	NotificationsList     = "/notifications"
	NotificationsMarkRead = "/notifications/:id/read"
	NotificationsReadAll  = "/notifications/read-all"
	NotificationsSettings = "/notifications/settings"

	SearchGlobal  = "/search"
	SearchCourses = "/search/courses"

	MediaUpload = "/media/upload"
	MediaByID   = "/media/:id"
)

// Expand substitutes ':name' segments of template with path-escaped values.
// A parameter without a value is an error rather than a literal ':name' in the
// outgoing URL.
func Expand(template string, params map[string]string) (string, error) {
	segs := strings.Split(template, "/")
	for i, seg := range segs {
		if !strings.HasPrefix(seg, ":") {
			continue
		}
		name := seg[1:]
		v, ok := params[name]
		if !ok || strings.TrimSpace(v) == "" {
			return "", fmt.Errorf("apiclient: missing path parameter %q for %s", name, template)
		}
		segs[i] = url.PathEscape(v)
	}
	return strings.Join(segs, "/"), nil
}

// MustExpand is Expand for call sites whose parameters are known to be set.
func MustExpand(template string, params map[string]string) string {
	out, err := Expand(template, params)
	if err != nil {
		panic(err)
	}
	return out
}

// Path expands a template with a single ':id' parameter.
func Path(template, id string) (string, error) {
	return Expand(template, map[string]string{"id": id})
}
