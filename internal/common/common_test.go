package common

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestLoadConfig_DefaultsAndEnv(t *testing.T) {
	t.Setenv("DB_DRIVER", "SQLite")
	t.Setenv("DB_URL", "file:test.db")
	t.Setenv("PIPELINE_WORKERS", "7")
	t.Setenv("OCR_TIMEOUT", "15s")
	t.Setenv("EMAIL_APPROVED_SENDERS", "a@example.com, B@example.com;;")

	cfg := loadFrom(viper.New())

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "file:test.db", cfg.Database.DSN)
	assert.Equal(t, 7, cfg.Pipeline.Workers)
	assert.Equal(t, 15*time.Second, cfg.OCR.Timeout)
	assert.Equal(t, []string{"a@example.com", "B@example.com"}, cfg.Email.ApprovedSenders)
	assert.Equal(t, 0.35, cfg.Pipeline.DiscardThreshold)
	assert.Equal(t, 25*1024*1024, cfg.Email.MaxAttachmentBytes)
	assert.Equal(t, 200, cfg.Scrape.MinStaticChars)
	assert.Equal(t, "memory", cfg.Cache.Backend)
	require.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	base := func() *Config {
		return loadFrom(viper.New())
	}

	cfg := base()
	cfg.Database.Driver = "postgres"
	cfg.Database.DSN = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidInput)

	cfg = base()
	cfg.Database.Driver = "memory"
	require.NoError(t, cfg.Validate())

	cfg.Email.IMAPAddr = "imap.example.com:993"
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Database.Driver = "memory"
	cfg.Cache.Backend = "memcached"
	assert.Error(t, cfg.Validate())
}

func TestToStatus(t *testing.T) {
	tests := []struct {
		err  error
		code codes.Code
	}{
		{fmt.Errorf("job: %w", ErrNotFound), codes.NotFound},
		{NewAppError("BAD", "nope", ErrInvalidInput), codes.InvalidArgument},
		{ErrInvalidTransition, codes.FailedPrecondition},
		{context.DeadlineExceeded, codes.DeadlineExceeded},
		{errors.New("boom"), codes.Internal},
		{NotFoundError("already a status"), codes.NotFound},
	}
	for _, tt := range tests {
		st, ok := status.FromError(ToStatus(tt.err))
		require.True(t, ok)
		assert.Equal(t, tt.code, st.Code(), tt.err.Error())
	}
	assert.NoError(t, ToStatus(nil))
}

func TestValidator(t *testing.T) {
	v := NewValidator().
		Field("url", "ftp://example.com", HTTPURL).
		Field("kind", "video", OneOf("image", "url", "text")).
		Field("user_id", "not-a-uuid", UUID).
		Field("name", "ok", Required, MaxLength(5))

	require.True(t, v.HasErrors())
	assert.Len(t, v.Errors(), 3)
	assert.ErrorIs(t, v.Error(), ErrValidation)

	st, ok := status.FromError(ValidateAndReturnError(v))
	require.True(t, ok)
	assert.Equal(t, codes.InvalidArgument, st.Code())

	assert.Nil(t, HTTPURL("url", "https://example.com/recipe"))
	assert.NotNil(t, Required("images", []string{}))
}

func TestContextIDs(t *testing.T) {
	ctx := WithJobID(WithRequestID(context.Background(), "r1"), "j1")
	assert.Equal(t, "r1", RequestIDFromContext(ctx))
	assert.Equal(t, "j1", JobIDFromContext(ctx))
	assert.NotNil(t, LoggerFrom(ctx, nil))
	assert.Equal(t, "", JobIDFromContext(context.Background()))
}
