package version

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsNewerVersion(t *testing.T) {
	tests := []struct {
		latest, current string
		newer           bool
	}{
		{"3.0.0", "2.9.9", true},
		{"2.10.0", "2.9.0", true},
		{"2.9.0", "2.10.0", false},
		{"1.0.0", "1.0.0", false},
		{"1.0.1", "1.0", true},
		{"1.0", "1.0.1", false},
		{"2.0.0-beta", "1.9.0", true},
		{"1.0.0", "1.0.0-rc1", false},
	}

	for _, tt := range tests {
		t.Run(tt.latest+">"+tt.current, func(t *testing.T) {
			assert.Equal(t, tt.newer, isNewerVersion(tt.latest, tt.current))
		})
	}
}

func TestNormalizeVersion(t *testing.T) {
	assert.Equal(t, "1.2.3", normalizeVersion(" v1.2.3 "))
	assert.Equal(t, "1.2.3", normalizeVersion("V1.2.3"))
	assert.Equal(t, "dev", normalizeVersion("dev"))
}

func releaseServer(t *testing.T, status int, body string) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/Licoy/fetch-github-hosts/releases/latest", r.URL.Path)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestChecker_Check(t *testing.T) {
	ctx := context.Background()
	base := releaseServer(t, http.StatusOK, `{"tag_name":"v3.1.0","html_url":"https://github.com/Licoy/fetch-github-hosts/releases/v3.1.0","name":"3.1.0"}`)

	t.Run("outdated", func(t *testing.T) {
		info, err := NewChecker("v3.0.2").WithAPIBase(base).Check(ctx)
		require.NoError(t, err)
		require.NotNil(t, info)
		assert.Equal(t, "3.1.0", info.LatestVersion)
		assert.Equal(t, "3.0.2", info.CurrentVersion)
		assert.Contains(t, info.String(), "v3.1.0 is available")
	})

	t.Run("current", func(t *testing.T) {
		info, err := NewChecker("3.1.0").WithAPIBase(base).Check(ctx)
		require.NoError(t, err)
		assert.Nil(t, info)
	})

	t.Run("dev build", func(t *testing.T) {
		info, err := NewChecker("dev").WithAPIBase(base).Check(ctx)
		require.NoError(t, err)
		assert.Nil(t, info)
	})
}

func TestChecker_Check_Errors(t *testing.T) {
	ctx := context.Background()

	_, err := NewChecker("1.0.0").WithAPIBase(releaseServer(t, http.StatusForbidden, `{}`)).Check(ctx)
	assert.ErrorContains(t, err, "status 403")

	_, err = NewChecker("1.0.0").WithAPIBase(releaseServer(t, http.StatusOK, `not json`)).Check(ctx)
	assert.ErrorContains(t, err, "decode")

	_, err = NewChecker("1.0.0").WithAPIBase(releaseServer(t, http.StatusOK, `{}`)).Check(ctx)
	assert.ErrorContains(t, err, "no tag")
}
