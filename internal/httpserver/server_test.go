package httpserver

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fetch-github-hosts/fgh/internal/artifact"
	"github.com/fetch-github-hosts/fgh/internal/failure"
	"github.com/fetch-github-hosts/fgh/internal/hosts"
	"github.com/fetch-github-hosts/fgh/internal/metrics"
)

var pageTime = time.Date(2024, 1, 1, 12, 0, 0, 0, time.Local)

func startServer(t *testing.T) (*Server, *artifact.Store, string) {
	t.Helper()
	store := artifact.NewStore(t.TempDir())
	page := &artifact.Page{Version: "v9.9.9", Store: store}
	srv := New(0, store, page, WithClock(clockwork.NewFakeClockAt(pageTime)), WithMetrics(metrics.New()))
	require.NoError(t, srv.Start())
	t.Cleanup(func() { srv.Shutdown(3 * time.Second) })

	_, port, err := net.SplitHostPort(srv.Addr().String())
	require.NoError(t, err)
	return srv, store, "127.0.0.1:" + port
}

func get(t *testing.T, addr, path string) *http.Response {
	t.Helper()
	resp, err := http.Get("http://" + addr + path)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func body(t *testing.T, resp *http.Response) string {
	t.Helper()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(data)
}

func TestServer_ScenarioC(t *testing.T) {
	_, _, addr := startServer(t)

	resp := get(t, addr, "/nope")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/html; charset=utf-8", resp.Header.Get("Content-Type"))
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	page := body(t, resp)
	assert.NotContains(t, page, "{{")
	assert.Contains(t, page, "v9.9.9")
	assert.Contains(t, page, "2024-01-01 12:00:00")
}

func TestServer_Placeholders(t *testing.T) {
	_, _, addr := startServer(t)

	txt := get(t, addr, "/hosts.txt")
	assert.Equal(t, "text/plain", txt.Header.Get("Content-Type"))
	assert.Equal(t, artifact.TextPlaceholder, body(t, txt))

	js := get(t, addr, "/hosts.json")
	assert.Equal(t, "application/json", js.Header.Get("Content-Type"))
	assert.Equal(t, "*", js.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "[]", body(t, js))
}

func TestServer_ArtifactsConsistent(t *testing.T) {
	_, store, addr := startServer(t)

	entries := []hosts.Entry{
		{IP: "140.82.112.3", Domain: "github.com"},
		{IP: "185.199.108.133", Domain: "raw.githubusercontent.com"},
		{IP: "140.82.112.6", Domain: "api.github.com"},
	}
	a, err := artifact.Build(entries, pageTime)
	require.NoError(t, err)
	require.NoError(t, store.Write(a))

	var pairs []hosts.Entry
	require.NoError(t, json.Unmarshal([]byte(body(t, get(t, addr, "/hosts.json"))), &pairs))

	block, ok := hosts.ParseManagedBlock(body(t, get(t, addr, "/hosts.txt?cache=1")))
	require.True(t, ok)

	assert.Equal(t, entries, pairs)
	assert.Equal(t, pairs, block.Entries)
}

func TestServer_RawRequests(t *testing.T) {
	_, _, addr := startServer(t)

	for _, raw := range []string{
		"garbage\r\n\r\n",
		"GET\r\n\r\n",
		"POST /hosts.json HTTP/1.0\r\nContent-Length: 3\r\n\r\nabc",
	} {
		t.Run(strings.Fields(raw)[0], func(t *testing.T) {
			conn, err := net.DialTimeout("tcp", addr, time.Second)
			require.NoError(t, err)
			defer conn.Close()

			_, err = conn.Write([]byte(raw))
			require.NoError(t, err)

			status, err := bufio.NewReader(conn).ReadString('\n')
			require.NoError(t, err)
			assert.Equal(t, "HTTP/1.1 200 OK\r\n", status)
		})
	}
}

func TestServer_ShutdownReleasesPort(t *testing.T) {
	srv, _, addr := startServer(t)

	assert.True(t, srv.Shutdown(3*time.Second))
	select {
	case <-srv.Done():
	default:
		t.Fatal("done not closed after shutdown")
	}

	_, port, _ := net.SplitHostPort(addr)
	ln, err := net.Listen("tcp", ":"+port)
	require.NoError(t, err)
	ln.Close()

	// Second shutdown is a no-op.
	assert.True(t, srv.Shutdown(time.Second))
}

func TestServer_BindFailure(t *testing.T) {
	ln, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	defer ln.Close()

	port := ln.Addr().(*net.TCPAddr).Port
	srv := New(port, artifact.NewStore(t.TempDir()), &artifact.Page{})

	err = srv.Start()
	require.Error(t, err)
	assert.True(t, failure.Is(err, failure.KindBind))
	assert.Contains(t, err.Error(), fmt.Sprintf("port %d", port))
	assert.True(t, srv.Shutdown(time.Second))
}

func TestParsePath(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"GET /hosts.txt HTTP/1.1\r\nHost: x\r\n\r\n", "/hosts.txt"},
		{"GET /hosts.json?t=1 HTTP/1.1\r\n", "/hosts.json"},
		{"GET / HTTP/1.1\r\n", "/"},
		{"GET /a/b#frag HTTP/1.1\r\n", "/a/b"},
		{"GET ?x HTTP/1.1\r\n", "/"},
		{"GET\r\n", "/"},
		{"", "/"},
		{"HEAD    /hosts.txt    HTTP/1.0", "/hosts.txt"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, parsePath([]byte(tt.input)))
		})
	}
}
