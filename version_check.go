//go:build windows

package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/mod/semver"
)

const (
	githubRepo          = "reccapture/recc"
	releaseCheckTimeout = 10 * time.Second
	releaseRecheck      = time.Hour // a session rarely lives this long
)

// VersionInfo is the version block of the monitor status payload.
type VersionInfo struct {
	Current     string `json:"current"`
	Latest      string `json:"latest,omitempty"`
	Commit      string `json:"commit"`
	BuildTime   string `json:"build_time"`
	UpdateAvail bool   `json:"update_available,omitempty"`
}

// releaseChecker answers "is a newer recc published?" for monitor clients.
// A capture session is short-lived, so there is no polling loop: the first
// status push triggers one fetch in the background and later pushes reuse
// the answer, refreshing only if the session outlives it. A failed fetch is
// logged and retried on the next stale push; capture never waits on it.
type releaseChecker struct {
	mu       sync.Mutex
	checking bool
	checked  time.Time
	latest   string
}

func newReleaseChecker() *releaseChecker {
	return &releaseChecker{}
}

// Info returns the version block for one status push, kicking off a
// background refresh when the cached answer has gone stale.
func (rc *releaseChecker) Info() VersionInfo {
	rc.mu.Lock()
	if !rc.checking && time.Since(rc.checked) > releaseRecheck {
		rc.checking = true
		go rc.refresh()
	}
	latest := rc.latest
	rc.mu.Unlock()

	current := normalizeVersion(Version)
	info := VersionInfo{
		Current:   current,
		Latest:    latest,
		Commit:    Commit,
		BuildTime: BuildTime,
	}
	if latest != "" && current != "dev" && current != "unknown" {
		info.UpdateAvail = isNewerVersion(latest, current)
	}
	return info
}

func (rc *releaseChecker) refresh() {
	latest, err := fetchLatestRelease()

	rc.mu.Lock()
	rc.checking = false
	rc.checked = time.Now()
	if latest != "" {
		rc.latest = latest
	}
	rc.mu.Unlock()

	if err != nil {
		slog.Debug("release check failed", "error", err)
	}
}

// githubRelease represents the GitHub API response for a release.
type githubRelease struct {
	TagName    string `json:"tag_name"`
	Draft      bool   `json:"draft"`
	Prerelease bool   `json:"prerelease"`
}

// fetchLatestRelease asks GitHub for the newest published release tag. It
// returns an empty tag when there is nothing usable (no releases yet, or
// only drafts and prereleases).
func fetchLatestRelease() (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseCheckTimeout)
	defer cancel()

	url := "https://api.github.com/repos/" + githubRepo + "/releases/latest"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("User-Agent", "recc/"+Version)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = resp.Body.Close() //nolint:errcheck
	}()

	if resp.StatusCode != http.StatusOK {
		// Not-found just means no releases yet; anything else is left for
		// the next stale status push to retry.
		return "", nil
	}

	var release githubRelease
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return "", err
	}
	if release.Draft || release.Prerelease {
		return "", nil
	}
	return normalizeVersion(release.TagName), nil
}

// normalizeVersion removes 'v' prefix and trims whitespace.
func normalizeVersion(v string) string {
	return strings.TrimPrefix(strings.TrimSpace(v), "v")
}

// isNewerVersion returns true if latest is newer than current using semver
// comparison; both sides are canonicalized with the 'v' prefix first.
func isNewerVersion(latest, current string) bool {
	return semver.Compare("v"+normalizeVersion(latest), "v"+normalizeVersion(current)) > 0
}
