package hosts

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedTime = time.Date(2024, 3, 9, 8, 7, 6, 0, time.Local)

func TestEntry_String(t *testing.T) {
	e := Entry{IP: "140.82.112.4", Domain: "github.com"}
	line := e.String()

	assert.Equal(t, "140.82.112.4", strings.TrimSpace(line[:28]))
	assert.Equal(t, "github.com", line[28:])
	assert.Len(t, line, 28+len("github.com"))
}

func TestEntry_JSON(t *testing.T) {
	data, err := json.Marshal([]Entry{{IP: "1.2.3.4", Domain: "a.com"}})
	require.NoError(t, err)
	assert.JSONEq(t, `[["1.2.3.4","a.com"]]`, string(data))

	var pairs []Entry
	require.NoError(t, json.Unmarshal([]byte(`[["5.6.7.8","b.com"],{"ip":"9.9.9.9","domain":"c.com"}]`), &pairs))
	assert.Equal(t, []Entry{{IP: "5.6.7.8", Domain: "b.com"}, {IP: "9.9.9.9", Domain: "c.com"}}, pairs)

	var bad Entry
	assert.Error(t, json.Unmarshal([]byte(`["only-one"]`), &bad))
}

func TestRenderBlock(t *testing.T) {
	block := RenderBlock([]Entry{
		{IP: "1.1.1.1", Domain: "a.com"},
		{IP: "2.2.2.2", Domain: "b.com"},
	}, fixedTime, "\n")

	lines := strings.Split(strings.TrimSuffix(block, "\n"), "\n")
	require.Len(t, lines, 6)
	assert.Equal(t, BeginMarker, lines[0])
	assert.Equal(t, Entry{IP: "1.1.1.1", Domain: "a.com"}.String(), lines[1])
	assert.Equal(t, "# last fetch time: 2024-03-09 08:07:06", lines[3])
	assert.Equal(t, "# update url: "+DefaultUpdateURL, lines[4])
	assert.Equal(t, EndMarker, lines[5])
}

func TestRenderBlock_CRLF(t *testing.T) {
	block := RenderBlock([]Entry{{IP: "1.1.1.1", Domain: "a.com"}}, fixedTime, "\r\n")
	assert.Equal(t, 5, strings.Count(block, "\r\n"))
	assert.True(t, strings.HasSuffix(block, EndMarker+"\r\n"))
}

func TestStripManagedBlocks(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "empty",
			input:    "",
			expected: "",
		},
		{
			name:     "no block",
			input:    "127.0.0.1\tlocalhost\n::1\tlocalhost\n",
			expected: "127.0.0.1\tlocalhost\n::1\tlocalhost\n",
		},
		{
			name:     "missing trailing newline is added",
			input:    "127.0.0.1\tlocalhost",
			expected: "127.0.0.1\tlocalhost\n",
		},
		{
			name: "block in the middle",
			input: "127.0.0.1 localhost\n" +
				BeginMarker + "\n1.1.1.1 a.com\n" + EndMarker + "\n" +
				"10.0.0.1 nas\n",
			expected: "127.0.0.1 localhost\n10.0.0.1 nas\n",
		},
		{
			name: "end marker with suffix",
			input: "a\n" + BeginMarker + "\nx\n" + EndMarker + " (edited)\nb\n",
			expected: "a\nb\n",
		},
		{
			name:     "unterminated block discards to eof",
			input:    "a\n" + BeginMarker + "\n1.1.1.1 a.com\nkept-by-user\n",
			expected: "a\n",
		},
		{
			name:     "crlf input",
			input:    "a\r\n" + BeginMarker + "\r\nx\r\n" + EndMarker + "\r\nb\r\n",
			expected: "a\nb\n",
		},
		{
			name:     "blank lines are preserved",
			input:    "a\n\nb\n",
			expected: "a\n\nb\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, StripManagedBlocks(tt.input, "\n"))
		})
	}
}

func TestStripManagedBlocks_RoundTrip(t *testing.T) {
	foreign := "127.0.0.1\tlocalhost\n# my comment\n\n192.168.1.2 printer\n"
	block := RenderBlock([]Entry{{IP: "1.1.1.1", Domain: "a.com"}}, fixedTime, "\n")

	assert.Equal(t, foreign, StripManagedBlocks(foreign+block, "\n"))
	assert.Equal(t, foreign, StripManagedBlocks(StripManagedBlocks(foreign+block, "\n"), "\n"))
}

func TestParseManagedBlock(t *testing.T) {
	entries := []Entry{{IP: "1.1.1.1", Domain: "a.com"}, {IP: "2.2.2.2", Domain: "b.com"}}
	content := "127.0.0.1 localhost\n" + RenderBlock(entries, fixedTime, "\n")

	block, ok := ParseManagedBlock(content)
	require.True(t, ok)
	assert.Equal(t, entries, block.Entries)
	assert.True(t, fixedTime.Equal(block.FetchedAt))

	_, ok = ParseManagedBlock("127.0.0.1 localhost\n")
	assert.False(t, ok)
}
