package app

import (
	"context"
	"testing"

	"github.com/yungbote/verdant-edge/internal/config"
	"github.com/yungbote/verdant-edge/internal/platform/logger"
)

func TestApiBasePath(t *testing.T) {
	cases := map[string]string{
		"http://localhost:8080/api": "/api",
		"https://api.verdant.earth": "/",
		"https://edge.test/v2/api/": "/v2/api/",
	}
	for in, want := range cases {
		if got := apiBasePath(in); got != want {
			t.Fatalf("apiBasePath(%q)=%q want %q", in, got, want)
		}
	}
}

func TestWireServicesDevMode(t *testing.T) {
	cfg := config.Default()
	cfg.DevMode = true
	cfg.API.MockLatency = config.Duration{}
	cfg.Cache.PrecacheName = "verdant-precache-test"
	cfg.Cache.RuntimeName = "verdant-runtime-test"
	log := logger.Nop()

	st, err := resolveStorage(context.Background(), log, cfg)
	if err != nil {
		t.Fatalf("resolveStorage: %v", err)
	}
	defer st.Close()

	svc, err := wireServices(log, cfg, st)
	if err != nil {
		t.Fatalf("wireServices: %v", err)
	}
	view, err := svc.Lessons.Get(context.Background(), "u1", "", "re-1")
	if err != nil {
		t.Fatalf("Lessons.Get through mock backend: %v", err)
	}
	if len(view.Lesson) == 0 {
		t.Fatalf("empty lesson payload")
	}
	if got := svc.Worker.PrecacheName(); got != cfg.Cache.PrecacheName {
		t.Fatalf("precache name: %q", got)
	}
}
