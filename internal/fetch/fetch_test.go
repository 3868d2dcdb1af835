package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fetch-github-hosts/fgh/internal/event"
	"github.com/fetch-github-hosts/fgh/internal/failure"
	"github.com/fetch-github-hosts/fgh/internal/hosts"
)

var fetchTime = time.Date(2024, 2, 3, 4, 5, 6, 0, time.Local)

type countingFlusher struct {
	calls int
	err   error
}

func (f *countingFlusher) Flush(context.Context) error {
	f.calls++
	return f.err
}

func serve(t *testing.T, status int, body string) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv.URL + "/hosts.txt"
}

func newEditor(t *testing.T, content string) (*hosts.Editor, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hosts")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return hosts.NewEditor(hosts.Options{Path: path, Newline: "\n"}), path
}

func TestFetchAndInstall_ScenarioB(t *testing.T) {
	url := serve(t, http.StatusOK, "1.2.3.4 example.com\n# comment\n\n5.6.7.8 other.com\n")
	editor, path := newEditor(t, "")
	flusher := &countingFlusher{}
	client := NewClient(editor, WithFlusher(flusher), WithClock(clockwork.NewFakeClockAt(fetchTime)))

	entries, err := client.FetchAndInstall(context.Background(), url)
	require.NoError(t, err)

	expected := []hosts.Entry{{IP: "1.2.3.4", Domain: "example.com"}, {IP: "5.6.7.8", Domain: "other.com"}}
	assert.Equal(t, expected, entries)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, hosts.RenderBlock(expected, fetchTime, "\n"), string(content))
	assert.Equal(t, 1, flusher.calls)
}

func TestFetchAndInstall_PreservesForeign(t *testing.T) {
	published := hosts.RenderBlock([]hosts.Entry{{IP: "140.82.112.3", Domain: "github.com"}}, fetchTime, "\n")
	url := serve(t, http.StatusOK, published)
	foreign := "127.0.0.1\tlocalhost\n10.0.0.2 nas.lan\n"
	editor, path := newEditor(t, foreign+hosts.RenderBlock([]hosts.Entry{{IP: "9.9.9.9", Domain: "github.com"}}, fetchTime, "\n"))
	client := NewClient(editor, WithClock(clockwork.NewFakeClockAt(fetchTime)))

	_, err := client.FetchAndInstall(context.Background(), url)
	require.NoError(t, err)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, foreign+published, string(content))
}

func TestFetchAndInstall_Failures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		kind   failure.Kind
	}{
		{"not found", http.StatusNotFound, "nope", failure.KindHTTPStatus},
		{"server error", http.StatusInternalServerError, "", failure.KindHTTPStatus},
		{"html page", http.StatusOK, "<html><body>hi</body></html>", failure.KindParse},
		{"only comments", http.StatusOK, "# nothing\n\n", failure.KindParse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			url := serve(t, tt.status, tt.body)
			editor, path := newEditor(t, "keep\n")
			flusher := &countingFlusher{}

			_, err := NewClient(editor, WithFlusher(flusher)).FetchAndInstall(context.Background(), url)
			require.Error(t, err)
			assert.Equal(t, tt.kind, failure.KindOf(err))
			assert.Zero(t, flusher.calls)

			content, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.Equal(t, "keep\n", string(content))
		})
	}
}

func TestFetchAndInstall_NetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	editor, _ := newEditor(t, "")
	_, err := NewClient(editor).FetchAndInstall(context.Background(), url)
	require.Error(t, err)
	assert.True(t, failure.Is(err, failure.KindNetwork))
}

func TestFetchAndInstall_FlushFailureIsNotFatal(t *testing.T) {
	url := serve(t, http.StatusOK, "1.2.3.4 example.com\n")
	editor, _ := newEditor(t, "")
	rec := event.NewRecorder()
	client := NewClient(editor, WithFlusher(&countingFlusher{err: errors.New("no resolvectl")}), WithSink(rec))

	_, err := client.FetchAndInstall(context.Background(), url)
	require.NoError(t, err)
	assert.Equal(t, []string{event.KeyFlushDNSFail}, rec.Keys())
}

func TestParseEntries(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		expected []hosts.Entry
		wantErr  bool
	}{
		{
			name:     "aliases and inline comments",
			body:     "1.1.1.1 a.com b.com # both\n",
			expected: []hosts.Entry{{IP: "1.1.1.1", Domain: "a.com"}, {IP: "1.1.1.1", Domain: "b.com"}},
		},
		{
			name:     "crlf and tabs",
			body:     "2.2.2.2\tc.com\r\n\r\n",
			expected: []hosts.Entry{{IP: "2.2.2.2", Domain: "c.com"}},
		},
		{
			name:     "ipv6 address",
			body:     "::1 localhost\n",
			expected: []hosts.Entry{{IP: "::1", Domain: "localhost"}},
		},
		{
			name: "underscore and trailing dot",
			body: "1.2.3.4 github.com\n10.0.0.5 my_nas.lan\n10.0.0.6 Printer_1.LAN.\n",
			expected: []hosts.Entry{
				{IP: "1.2.3.4", Domain: "github.com"},
				{IP: "10.0.0.5", Domain: "my_nas.lan"},
				{IP: "10.0.0.6", Domain: "printer_1.lan"},
			},
		},
		{name: "missing domain", body: "1.1.1.1\n", wantErr: true},
		{name: "bad address", body: "github.com 1.1.1.1\n", wantErr: true},
		{name: "empty", body: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseEntries(tt.body)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, failure.Is(err, failure.KindParse))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestURLFor(t *testing.T) {
	tests := []struct {
		method, origin, custom string
		expected               string
		wantErr                bool
	}{
		{"official", "FetchGithubHosts", "", "https://hosts.gitcdn.top/hosts.txt", false},
		{"official", "Github520", "", "https://raw.hellogithub.com/hosts", false},
		{"", "", "", "https://hosts.gitcdn.top/hosts.txt", false},
		{"official", "Nope", "", "", true},
		{"custom", "", "http://10.0.0.1:9898/hosts.txt", "http://10.0.0.1:9898/hosts.txt", false},
		{"custom", "", " ", "", true},
		{"magic", "", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.method+"/"+tt.origin, func(t *testing.T) {
			got, err := URLFor(tt.method, tt.origin, tt.custom)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}
