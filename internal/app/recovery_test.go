package app

import (
	"context"
	"strings"
	"testing"

	"github.com/angelmondragon/kitchenshare-backend/internal/notifications"
	"github.com/angelmondragon/kitchenshare-backend/internal/recovery"
	"github.com/angelmondragon/kitchenshare-backend/pkg/config"
	"github.com/angelmondragon/kitchenshare-backend/pkg/db"
	"github.com/angelmondragon/kitchenshare-backend/pkg/logger"
)

func TestBuildNotifierFallsBackToLog(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "app-test"})
	cfg := &config.Config{}

	for _, disabled := range []bool{false, true} {
		cfg.FeatureFlags.DisableDispatching = disabled
		notifier, err := buildNotifier(cfg, logg, nil)
		if err != nil {
			t.Fatalf("buildNotifier: %v", err)
		}
		if _, ok := notifier.(*notifications.LogDispatcher); !ok {
			t.Fatalf("expected log dispatcher, got %T", notifier)
		}
	}
}

func TestBuildLeaser(t *testing.T) {
	cfg := &config.Config{}
	cfg.FeatureFlags.UseLocalLease = true
	leaser, err := buildLeaser(cfg, nil)
	if err != nil {
		t.Fatalf("buildLeaser: %v", err)
	}
	if _, ok := leaser.(*recovery.LocalLeaser); !ok {
		t.Fatalf("expected local leaser, got %T", leaser)
	}

	cfg.FeatureFlags.UseLocalLease = false
	if _, err := buildLeaser(cfg, nil); err == nil {
		t.Fatalf("expected error without redis")
	}
}

func TestBuildRecoveryValidatesInputs(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "app-test"})
	ctx := context.Background()

	cases := []struct {
		name   string
		params RecoveryParams
		want   string
	}{
		{name: "missing config", params: RecoveryParams{Logger: logg}},
		{name: "missing db", params: RecoveryParams{Config: &config.Config{}, Logger: logg}},
		// square credentials are checked before anything touches the network
		{name: "missing square credentials", params: RecoveryParams{Config: &config.Config{}, Logger: logg, DB: &db.Client{}}, want: "square client"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := BuildRecovery(ctx, tc.params)
			if err == nil {
				t.Fatalf("expected error")
			}
			if tc.want != "" && !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected %q in %v", tc.want, err)
			}
		})
	}
}
