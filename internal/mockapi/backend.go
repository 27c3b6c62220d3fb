package mockapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/mail"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/yungbote/verdant-edge/internal/apiclient"
)

type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

type Course struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Summary     string   `json:"summary"`
	Category    string   `json:"category"`
	Level       string   `json:"level"`
	Featured    bool     `json:"featured"`
	LessonIDs   []string `json:"lessonIds"`
	DurationMin int      `json:"durationMinutes"`
}

type Lesson struct {
	ID          string `json:"id"`
	CourseID    string `json:"courseId"`
	Title       string `json:"title"`
	VideoURL    string `json:"videoUrl"`
	DurationSec int    `json:"durationSeconds"`
	Order       int    `json:"order"`
}

type Notification struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	URL       string    `json:"url"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"createdAt"`
}

// Backend holds the mock platform data. Completions and read flags are kept
// in memory for the life of the process.
type Backend struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time

	courses []Course
	lessons map[string]Lesson

	mu            sync.Mutex
	users         map[string]User
	completed     map[string]map[string]bool
	notifications []Notification
}

func NewBackend(secret string, ttl time.Duration) *Backend {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	b := &Backend{
		secret:    []byte(secret),
		ttl:       ttl,
		now:       time.Now,
		lessons:   map[string]Lesson{},
		users:     map[string]User{},
		completed: map[string]map[string]bool{},
	}
	b.seed()
	return b
}

// Router registers the mock endpoints. Literal routes go before parameter
// routes that share a prefix.
func (b *Backend) Router() *Router {
	r := NewRouter()
	r.Handle(http.MethodPost, apiclient.AuthLogin, b.login)
	r.Handle(http.MethodPost, apiclient.AuthRegister, b.register)
	r.Handle(http.MethodPost, apiclient.AuthLogout, func(*Request) *Reply { return &Reply{Status: http.StatusNoContent} })
	r.Handle(http.MethodGet, apiclient.AuthMe, b.me)

	r.Handle(http.MethodGet, apiclient.CoursesList, b.listCourses)
	r.Handle(http.MethodGet, apiclient.CoursesFeatured, b.featuredCourses)
	r.Handle(http.MethodGet, apiclient.CoursesByID, b.getCourse)
	r.Handle(http.MethodGet, apiclient.CoursesLessons, b.courseLessons)

	r.Handle(http.MethodGet, apiclient.LessonsByID, b.getLesson)
	r.Handle(http.MethodPost, apiclient.LessonsComplete, b.completeLesson)

	r.Handle(http.MethodGet, apiclient.SearchGlobal, b.search)
	r.Handle(http.MethodGet, apiclient.SearchCourses, b.search)

	r.Handle(http.MethodGet, apiclient.NotificationsList, b.listNotifications)
	r.Handle(http.MethodPost, apiclient.NotificationsReadAll, b.readAllNotifications)
	r.Handle(http.MethodPost, apiclient.NotificationsMarkRead, b.markNotificationRead)
	return r
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type sessionClaims struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	jwt.RegisteredClaims
}

func (b *Backend) login(req *Request) *Reply {
	var in credentials
	if reply := decode(req, &in); reply != nil {
		return reply
	}
	if reply := validateCredentials(in); reply != nil {
		return reply
	}
	user := b.userFor(in.Email, in.Name)
	return b.session(http.StatusOK, user)
}

func (b *Backend) register(req *Request) *Reply {
	var in credentials
	if reply := decode(req, &in); reply != nil {
		return reply
	}
	if reply := validateCredentials(in); reply != nil {
		return reply
	}
	if strings.TrimSpace(in.Name) == "" {
		return errorReply(http.StatusUnprocessableEntity, "name is required")
	}
	user := b.userFor(in.Email, in.Name)
	return b.session(http.StatusCreated, user)
}

func (b *Backend) me(req *Request) *Reply {
	user, reply := b.authenticate(req)
	if reply != nil {
		return reply
	}
	return &Reply{Body: map[string]any{"user": user}}
}

func (b *Backend) listCourses(req *Request) *Reply {
	category := strings.TrimSpace(req.Query.Get("category"))
	out := make([]Course, 0, len(b.courses))
	for _, c := range b.courses {
		if category != "" && !strings.EqualFold(c.Category, category) {
			continue
		}
		out = append(out, c)
	}
	return &Reply{Body: map[string]any{"courses": out, "total": len(out)}}
}

func (b *Backend) featuredCourses(*Request) *Reply {
	out := []Course{}
	for _, c := range b.courses {
		if c.Featured {
			out = append(out, c)
		}
	}
	return &Reply{Body: map[string]any{"courses": out}}
}

func (b *Backend) getCourse(req *Request) *Reply {
	c, ok := b.course(req.Params["id"])
	if !ok {
		return errorReply(http.StatusNotFound, "course not found")
	}
	return &Reply{Body: map[string]any{"course": c}}
}

func (b *Backend) courseLessons(req *Request) *Reply {
	c, ok := b.course(req.Params["id"])
	if !ok {
		return errorReply(http.StatusNotFound, "course not found")
	}
	out := make([]Lesson, 0, len(c.LessonIDs))
	for _, id := range c.LessonIDs {
		out = append(out, b.lessons[id])
	}
	return &Reply{Body: map[string]any{"lessons": out}}
}

func (b *Backend) getLesson(req *Request) *Reply {
	l, ok := b.lessons[req.Params["id"]]
	if !ok {
		return errorReply(http.StatusNotFound, "lesson not found")
	}
	return &Reply{Body: map[string]any{"lesson": l}}
}

func (b *Backend) completeLesson(req *Request) *Reply {
	user, reply := b.authenticate(req)
	if reply != nil {
		return reply
	}
	id := req.Params["id"]
	if _, ok := b.lessons[id]; !ok {
		return errorReply(http.StatusNotFound, "lesson not found")
	}
	b.mu.Lock()
	done := b.completed[user.ID]
	if done == nil {
		done = map[string]bool{}
		b.completed[user.ID] = done
	}
	done[id] = true
	count := len(done)
	b.mu.Unlock()
	return &Reply{Body: map[string]any{"lessonId": id, "completed": true, "completedCount": count}}
}

func (b *Backend) search(req *Request) *Reply {
	q := strings.ToLower(strings.TrimSpace(req.Query.Get("q")))
	if q == "" {
		return errorReply(http.StatusUnprocessableEntity, "query parameter q is required")
	}
	out := []Course{}
	for _, c := range b.courses {
		if strings.Contains(strings.ToLower(c.Title), q) || strings.Contains(strings.ToLower(c.Summary), q) {
			out = append(out, c)
		}
	}
	return &Reply{Body: map[string]any{"query": req.Query.Get("q"), "results": out}}
}

func (b *Backend) listNotifications(*Request) *Reply {
	b.mu.Lock()
	out := append([]Notification(nil), b.notifications...)
	b.mu.Unlock()
	unread := 0
	for _, n := range out {
		if !n.Read {
			unread++
		}
	}
	return &Reply{Body: map[string]any{"notifications": out, "unread": unread}}
}

func (b *Backend) markNotificationRead(req *Request) *Reply {
	id := req.Params["id"]
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.notifications {
		if b.notifications[i].ID == id {
			b.notifications[i].Read = true
			return &Reply{Body: map[string]any{"notification": b.notifications[i]}}
		}
	}
	return errorReply(http.StatusNotFound, "notification not found")
}

func (b *Backend) readAllNotifications(*Request) *Reply {
	b.mu.Lock()
	for i := range b.notifications {
		b.notifications[i].Read = true
	}
	b.mu.Unlock()
	return &Reply{Status: http.StatusNoContent}
}

func (b *Backend) session(status int, user User) *Reply {
	now := b.now()
	claims := sessionClaims{
		Email: user.Email,
		Name:  user.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(b.ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(b.secret)
	if err != nil {
		return errorReply(http.StatusInternalServerError, "could not sign token")
	}
	return &Reply{Status: status, Body: map[string]any{"token": token, "user": user}}
}

func (b *Backend) authenticate(req *Request) (User, *Reply) {
	raw := strings.TrimSpace(req.Header.Get("Authorization"))
	if len(raw) < 7 || !strings.EqualFold(raw[:7], "bearer ") {
		return User{}, errorReply(http.StatusUnauthorized, "missing bearer token")
	}
	claims := &sessionClaims{}
	_, err := jwt.ParseWithClaims(strings.TrimSpace(raw[7:]), claims, func(t *jwt.Token) (any, error) {
		return b.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(b.now))
	if err != nil {
		return User{}, errorReply(http.StatusUnauthorized, "invalid token")
	}
	b.mu.Lock()
	user, ok := b.users[claims.Subject]
	b.mu.Unlock()
	if !ok {
		user = User{ID: claims.Subject, Email: claims.Email, Name: claims.Name, Role: "learner"}
	}
	return user, nil
}

func (b *Backend) userFor(email, name string) User {
	email = strings.ToLower(strings.TrimSpace(email))
	id := uuid.NewSHA1(uuid.NameSpaceURL, []byte("mailto:"+email)).String()
	b.mu.Lock()
	defer b.mu.Unlock()
	if u, ok := b.users[id]; ok {
		return u
	}
	if strings.TrimSpace(name) == "" {
		name = strings.SplitN(email, "@", 2)[0]
	}
	u := User{ID: id, Email: email, Name: strings.TrimSpace(name), Role: "learner"}
	b.users[id] = u
	return u
}

func (b *Backend) course(id string) (Course, bool) {
	for _, c := range b.courses {
		if c.ID == id {
			return c, true
		}
	}
	return Course{}, false
}

func validateCredentials(in credentials) *Reply {
	if _, err := mail.ParseAddress(strings.TrimSpace(in.Email)); err != nil {
		return errorReply(http.StatusUnprocessableEntity, "a valid email is required")
	}
	if len(in.Password) < 6 {
		return errorReply(http.StatusUnprocessableEntity, "password must be at least 6 characters")
	}
	return nil
}

func decode(req *Request, out any) *Reply {
	if len(req.Body) == 0 {
		return errorReply(http.StatusBadRequest, "request body required")
	}
	if err := json.Unmarshal(req.Body, out); err != nil {
		var syn *json.SyntaxError
		if errors.As(err, &syn) {
			return errorReply(http.StatusBadRequest, "malformed JSON body")
		}
		return errorReply(http.StatusUnprocessableEntity, err.Error())
	}
	return nil
}

func (b *Backend) seed() {
	b.courses = []Course{
		{
			ID: "climate-foundations", Title: "Climate Science Foundations", Category: "climate", Level: "beginner",
			Summary:   "How the carbon cycle, feedback loops and emissions pathways shape a warming planet.",
			Featured:  true,
			LessonIDs: []string{"cf-1", "cf-2", "cf-3"},
		},
		{
			ID: "renewable-energy", Title: "Renewable Energy Systems", Category: "energy", Level: "intermediate",
			Summary:   "Solar, wind and storage from the physics up to grid integration.",
			Featured:  true,
			LessonIDs: []string{"re-1", "re-2"},
		},
		{
			ID: "circular-economy", Title: "Circular Economy in Practice", Category: "economy", Level: "beginner",
			Summary:   "Designing products and supply chains that keep materials in use.",
			LessonIDs: []string{"ce-1", "ce-2"},
		},
		{
			ID: "regenerative-food", Title: "Regenerative Food Systems", Category: "food", Level: "advanced",
			Summary:   "Soil health, biodiversity and the economics of regenerative agriculture.",
			LessonIDs: []string{"rf-1"},
		},
	}
	titles := map[string][]string{
		"climate-foundations": {"The Carbon Cycle", "Feedback Loops", "Emissions Pathways"},
		"renewable-energy":    {"Photovoltaics 101", "Balancing the Grid"},
		"circular-economy":    {"Linear vs Circular", "Design for Disassembly"},
		"regenerative-food":   {"Living Soil"},
	}
	for ci := range b.courses {
		c := &b.courses[ci]
		total := 0
		for i, id := range c.LessonIDs {
			d := 420 + 90*i
			b.lessons[id] = Lesson{
				ID:          id,
				CourseID:    c.ID,
				Title:       titles[c.ID][i],
				VideoURL:    "https://media.verdant.example/video/" + id + ".mp4",
				DurationSec: d,
				Order:       i + 1,
			}
			total += d
		}
		c.DurationMin = total / 60
	}
	created := time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)
	b.notifications = []Notification{
		{ID: "n-1", Title: "Welcome to early access", Body: "Your first course is ready.", URL: "/dashboard", CreatedAt: created},
		{ID: "n-2", Title: "New course", Body: "Regenerative Food Systems just launched.", URL: "/courses/regenerative-food", CreatedAt: created.Add(48 * time.Hour)},
	}
	sort.Slice(b.notifications, func(i, j int) bool {
		return b.notifications[i].CreatedAt.After(b.notifications[j].CreatedAt)
	})
}
