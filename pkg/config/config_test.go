package config

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "3001", cfg.Server.Port)
	assert.Equal(t, DefaultPort, cfg.Server.Port)
	assert.Equal(t, "http://localhost:5173", cfg.Server.FrontendURL)
	assert.Equal(t, 7*24*time.Hour, cfg.JWT.ExpiresIn)
	assert.Equal(t, time.Hour, cfg.Auth.ResetTokenTTL)
	assert.Equal(t, bcrypt.DefaultCost, cfg.Auth.BcryptCost)
	assert.Equal(t, DriverMemory, cfg.Store.Driver)
	assert.Equal(t, 587, cfg.SMTP.Port)
	assert.False(t, cfg.SMTP.EmailConfigured())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("FRONTEND_URL", "https://crm.example.com/")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("JWT_EXPIRES_IN", "12h")
	t.Setenv("BCRYPT_COST", "2")
	t.Setenv("SMTP_HOST", "smtp.example.com")
	t.Setenv("SMTP_PORT", "465")
	t.Setenv("SMTP_SECURE", "true")
	t.Setenv("SMTP_USER", "mailer@example.com")
	t.Setenv("SMTP_PASS", "hunter2")
	t.Setenv("STORE_DRIVER", "POSTGRES")

	cfg, err := Load()
	require.NoError(t, err)

	want := SMTPConfig{
		Host:        "smtp.example.com",
		Port:        465,
		Secure:      true,
		User:        "mailer@example.com",
		Pass:        "hunter2",
		FromName:    "CRM",
		FromAddress: "mailer@example.com",
		Timeout:     15 * time.Second,
	}
	assert.Empty(t, cmp.Diff(want, cfg.SMTP))

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "https://crm.example.com", cfg.Server.FrontendURL)
	assert.Equal(t, "s3cret", cfg.JWT.Secret)
	assert.Equal(t, 12*time.Hour, cfg.JWT.ExpiresIn)
	assert.Equal(t, bcrypt.MinCost, cfg.Auth.BcryptCost)
	assert.Equal(t, DriverPostgres, cfg.Store.Driver)
	assert.True(t, cfg.SMTP.EmailConfigured())
}

func TestLoad_RejectsBadValues(t *testing.T) {
	t.Run("jwt expiry", func(t *testing.T) {
		t.Setenv("JWT_EXPIRES_IN", "soon")
		_, err := Load()
		require.Error(t, err)
	})
	t.Run("store driver", func(t *testing.T) {
		t.Setenv("STORE_DRIVER", "mongo")
		_, err := Load()
		require.Error(t, err)
	})
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{in: "7d", want: 7 * 24 * time.Hour},
		{in: "1d", want: 24 * time.Hour},
		{in: "90m", want: 90 * time.Minute},
		{in: " 1h ", want: time.Hour},
		{in: "0d", wantErr: true},
		{in: "-1h", wantErr: true},
		{in: "xd", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseDuration(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEmailConfigured_Placeholders(t *testing.T) {
	tests := []struct {
		name string
		cfg  SMTPConfig
		want bool
	}{
		{name: "empty", cfg: SMTPConfig{Host: "smtp"}, want: false},
		{name: "placeholder user", cfg: SMTPConfig{Host: "smtp", User: "your-email@gmail.com", Pass: "x"}, want: false},
		{name: "placeholder pass", cfg: SMTPConfig{Host: "smtp", User: "a@b.com", Pass: "your-app-password"}, want: false},
		{name: "no host", cfg: SMTPConfig{User: "a@b.com", Pass: "x"}, want: false},
		{name: "real", cfg: SMTPConfig{Host: "smtp", User: "a@b.com", Pass: "x"}, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.EmailConfigured())
		})
	}
}
