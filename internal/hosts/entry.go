package hosts

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	// BeginMarker opens the block owned by this tool.
	BeginMarker = "# fetch-github-hosts begin"
	// EndMarker closes it; any line starting with it ends the block.
	EndMarker = "# fetch-github-hosts end"
	// DefaultUpdateURL is advertised in every rendered block.
	DefaultUpdateURL = "https://hosts.gitcdn.top/hosts.txt"
	// TimeLayout is the layout of the last-fetch comment.
	TimeLayout = "2006-01-02 15:04:05"

	ipColumnWidth = 28
)

// Entry is one resolved (ip, domain) pair.
type Entry struct {
	IP     string
	Domain string
}

// String renders the entry the way it appears inside the managed block.
func (e Entry) String() string {
	return fmt.Sprintf("%-*s%s", ipColumnWidth, e.IP, e.Domain)
}

// MarshalJSON encodes the entry as a two-element array, ["ip", "domain"].
func (e Entry) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{e.IP, e.Domain})
}

// UnmarshalJSON accepts either ["ip", "domain"] or {"ip": ..., "domain": ...}.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var pair []string
	if err := json.Unmarshal(data, &pair); err == nil {
		if len(pair) != 2 {
			return fmt.Errorf("host pair must have 2 elements, got %d", len(pair))
		}
		e.IP, e.Domain = pair[0], pair[1]
		return nil
	}

	var obj struct {
		IP     string `json:"ip"`
		Domain string `json:"domain"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("invalid host entry: %w", err)
	}
	e.IP, e.Domain = obj.IP, obj.Domain
	return nil
}

// RenderBlock renders a complete managed block, markers included, each line
// terminated by newline.
func RenderBlock(entries []Entry, now time.Time, newline string) string {
	var sb strings.Builder
	sb.WriteString(BeginMarker)
	sb.WriteString(newline)

	for _, e := range entries {
		sb.WriteString(e.String())
		sb.WriteString(newline)
	}

	sb.WriteString("# last fetch time: ")
	sb.WriteString(now.Format(TimeLayout))
	sb.WriteString(newline)
	sb.WriteString("# update url: ")
	sb.WriteString(DefaultUpdateURL)
	sb.WriteString(newline)
	sb.WriteString(EndMarker)
	sb.WriteString(newline)

	return sb.String()
}

// StripManagedBlocks removes the managed block from content and returns the
// remaining lines, each terminated by newline. A begin marker without a
// matching end marker discards everything up to the end of content.
func StripManagedBlocks(content, newline string) string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	if content == "" {
		return ""
	}

	lines := strings.Split(content, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}

	var sb strings.Builder
	inBlock := false

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if !inBlock && trimmed == BeginMarker {
			inBlock = true
			continue
		}
		if inBlock {
			if strings.HasPrefix(trimmed, EndMarker) {
				inBlock = false
			}
			continue
		}
		sb.WriteString(line)
		sb.WriteString(newline)
	}

	return sb.String()
}

// ManagedBlock is the parsed content of an installed block.
type ManagedBlock struct {
	Entries   []Entry
	FetchedAt time.Time // zero when the comment is missing or malformed
}

// ParseManagedBlock extracts the first managed block from content.
func ParseManagedBlock(content string) (ManagedBlock, bool) {
	var block ManagedBlock
	found, inBlock := false, false

	for _, line := range strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n") {
		trimmed := strings.TrimSpace(line)
		if !inBlock {
			if trimmed == BeginMarker {
				inBlock, found = true, true
			}
			continue
		}
		if strings.HasPrefix(trimmed, EndMarker) {
			break
		}
		if ts, ok := strings.CutPrefix(trimmed, "# last fetch time: "); ok {
			if t, err := time.ParseInLocation(TimeLayout, ts, time.Local); err == nil {
				block.FetchedAt = t
			}
			continue
		}
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		fields := strings.Fields(trimmed)
		if len(fields) < 2 {
			continue
		}
		block.Entries = append(block.Entries, Entry{IP: fields[0], Domain: fields[1]})
	}

	return block, found
}
