package logsvc

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/trezcool/examinator/core"
	"github.com/trezcool/examinator/core/user"
)

func TestZapLogger(t *testing.T) {
	obsCore, logs := observer.New(zapcore.InfoLevel)
	logger := NewZapLoggerFrom(zap.New(obsCore))

	logger.Debug("hidden")
	logger.Info("licenses recomputed", "org_id", "o1", "nodes", 4)
	logger.Error("license sweep failed", "org_id", "o2", "error", errors.New("boom"))

	entries := logs.AllUntimed()
	if assert.Len(t, entries, 2) {
		assert.Equal(t, "licenses recomputed", entries[0].Message)
		assert.Equal(t, map[string]interface{}{"org_id": "o1", "nodes": int64(4)}, entries[0].ContextMap())
		assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
		assert.Equal(t, "boom", entries[1].ContextMap()["error"])
	}
}

func TestNewZapLogger(t *testing.T) {
	_, err := NewZapLogger("api", &core.Config{Debug: true, LogLevel: "warn"})
	assert.NoError(t, err)

	_, err = NewZapLogger("api", &core.Config{LogLevel: "chatty"})
	assert.Error(t, err)
}

func Test_rollbarArgs(t *testing.T) {
	boom := errors.New("boom")
	usr := user.User{ID: "u1", Username: "awe"}

	tests := []struct {
		name     string
		args     []interface{}
		want     []interface{}
		wantUser *user.User
	}{
		{name: "message only", want: []interface{}{"msg"}},
		{
			name: "extras",
			args: []interface{}{"org_id", "o1", "nodes", 4},
			want: []interface{}{"msg", map[string]interface{}{"org_id": "o1", "nodes": 4}},
		},
		{
			name: "error",
			args: []interface{}{"org_id", "o1", "error", boom},
			want: []interface{}{"msg", boom, map[string]interface{}{"org_id": "o1", "error": "boom"}},
		},
		{
			name:     "user",
			args:     []interface{}{"user", usr},
			want:     []interface{}{"msg"},
			wantUser: &usr,
		},
		{
			name: "dangling key",
			args: []interface{}{"org_id"},
			want: []interface{}{"msg", map[string]interface{}{"!BADKEY": "org_id"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, gotUser := rollbarArgs("msg", tt.args)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantUser, gotUser)
		})
	}
}
