// Package version reports the build version and checks GitHub for newer releases.
package version

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Version is set at build time via -ldflags "-X .../internal/version.Version=v1.2.3".
var Version = "dev"

// Release repository queried by the update check.
const (
	Owner = "Licoy"
	Repo  = "fetch-github-hosts"
)

const (
	defaultAPIBase = "https://api.github.com"
	requestTimeout = 5 * time.Second
)

// ReleaseInfo contains information about a GitHub release
type ReleaseInfo struct {
	TagName string `json:"tag_name"`
	HTMLURL string `json:"html_url"`
	Name    string `json:"name"`
}

// UpdateInfo contains information about an available update
type UpdateInfo struct {
	CurrentVersion string
	LatestVersion  string
	ReleaseURL     string
	ReleaseName    string
}

// Checker checks for new versions on GitHub
type Checker struct {
	apiBase string
	owner   string
	repo    string
	current string
	client  *http.Client
}

// NewChecker creates a checker for this project's releases.
func NewChecker(current string) *Checker {
	return &Checker{
		apiBase: defaultAPIBase,
		owner:   Owner,
		repo:    Repo,
		current: normalizeVersion(current),
		client:  &http.Client{Timeout: requestTimeout},
	}
}

// WithAPIBase points the checker at another GitHub API root.
func (c *Checker) WithAPIBase(base string) *Checker {
	c.apiBase = strings.TrimRight(base, "/")
	return c
}

// Check returns update information when a newer release exists, nil when
// the running version is current. Development builds never report updates.
func (c *Checker) Check(ctx context.Context) (*UpdateInfo, error) {
	release, err := c.latestRelease(ctx)
	if err != nil {
		return nil, err
	}

	if c.current == "dev" || c.current == "" {
		return nil, nil
	}

	latest := normalizeVersion(release.TagName)
	if !isNewerVersion(latest, c.current) {
		return nil, nil
	}

	return &UpdateInfo{
		CurrentVersion: c.current,
		LatestVersion:  latest,
		ReleaseURL:     release.HTMLURL,
		ReleaseName:    release.Name,
	}, nil
}

func (c *Checker) latestRelease(ctx context.Context) (*ReleaseInfo, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/releases/latest", c.apiBase, c.owner, c.repo)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("User-Agent", "fetch-github-hosts-update-check")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to query releases: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GitHub API returned status %d", resp.StatusCode)
	}

	var release ReleaseInfo
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return nil, fmt.Errorf("failed to decode release: %w", err)
	}
	if release.TagName == "" {
		return nil, fmt.Errorf("release has no tag")
	}

	return &release, nil
}

func normalizeVersion(v string) string {
	v = strings.TrimSpace(v)
	v = strings.TrimPrefix(v, "v")
	v = strings.TrimPrefix(v, "V")
	return v
}

// isNewerVersion reports whether latest is newer than current. Pre-release
// suffixes are ignored.
func isNewerVersion(latest, current string) bool {
	l, c := parseVersion(latest), parseVersion(current)

	for i := 0; i < len(l) && i < len(c); i++ {
		if l[i] != c[i] {
			return l[i] > c[i]
		}
	}
	return len(l) > len(c)
}

func parseVersion(v string) []int {
	if idx := strings.IndexAny(v, "-+"); idx != -1 {
		v = v[:idx]
	}

	parts := strings.Split(v, ".")
	result := make([]int, 0, len(parts))
	for _, p := range parts {
		n, _ := strconv.Atoi(p)
		result = append(result, n)
	}
	return result
}

// String formats the notice printed by the CLI.
func (u *UpdateInfo) String() string {
	return fmt.Sprintf("v%s is available (running v%s): %s", u.LatestVersion, u.CurrentVersion, u.ReleaseURL)
}
