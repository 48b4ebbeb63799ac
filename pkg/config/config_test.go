package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("TRANSITION_ROLLOVER_MONTH", "13")
	t.Setenv("ARCHIVES_SIGNED_URL_TTL", "not-a-duration")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "/api/v1", cfg.APIPrefix)
	require.Equal(t, "CONFIRMER", cfg.Transition.ConfirmationToken)
	require.Equal(t, 9, cfg.Transition.RolloverMonth)
	require.Equal(t, 30*time.Minute, cfg.Archives.SignedURLTTL)
	require.Equal(t, "memoire:notifications", cfg.Notifications.Channel)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("TRANSITION_CONFIRMATION_TOKEN", "CONFIRM")
	t.Setenv("TRANSITION_LOCK_TTL", "5m")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, ,https://b.example")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "CONFIRM", cfg.Transition.ConfirmationToken)
	require.Equal(t, 5*time.Minute, cfg.Transition.LockTTL)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORS.AllowedOrigins)
}
