// Package update checks GitHub for a newer docql release.
package update

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/pthm/docql/internal/version"
)

const (
	releasesURL = "https://api.github.com/repos/pthm/docql/releases/latest"
	cacheTTL    = 24 * time.Hour
	cacheFile   = "update-check.json"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Info contains update check results
type Info struct {
	LatestVersion   string    `json:"latest_version"`
	CurrentVersion  string    `json:"current_version"`
	ReleaseURL      string    `json:"release_url,omitempty"`
	CheckedAt       time.Time `json:"checked_at"`
	UpdateAvailable bool      `json:"update_available"`
}

type githubRelease struct {
	TagName string `json:"tag_name"`
	HTMLURL string `json:"html_url"`
}

// Checker fetches the latest release. The zero value is not usable; use
// NewChecker.
type Checker struct {
	URL      string
	Client   *http.Client
	CacheDir string // empty disables the cache
	Now      func() time.Time
}

// NewChecker returns a checker for the docql releases with the cache in the
// user cache directory.
func NewChecker() *Checker {
	dir, _ := cacheDir()
	return &Checker{
		URL:      releasesURL,
		Client:   &http.Client{Timeout: 5 * time.Second},
		CacheDir: dir,
		Now:      time.Now,
	}
}

// CheckWithCache checks for updates using the default checker.
func CheckWithCache(ctx context.Context) (*Info, error) {
	return NewChecker().Check(ctx)
}

// Check returns the cached result when it is younger than a day, otherwise
// asks GitHub and refreshes the cache.
func (c *Checker) Check(ctx context.Context) (*Info, error) {
	if info, err := c.loadCache(); err == nil && c.Now().Sub(info.CheckedAt) < cacheTTL {
		info.CurrentVersion = version.Current().Version
		info.UpdateAvailable = compareVersions(info.CurrentVersion, info.LatestVersion) < 0
		return info, nil
	}

	info, err := c.fetch(ctx)
	if err != nil {
		return nil, err
	}
	_ = c.saveCache(info)
	return info, nil
}

func (c *Checker) fetch(ctx context.Context) (*Info, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL, http.NoBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("User-Agent", "docql/"+version.Current().Version)

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GitHub API returned status %d", resp.StatusCode)
	}

	var release githubRelease
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return nil, err
	}

	latest := strings.TrimPrefix(release.TagName, "v")
	return &Info{
		LatestVersion:   latest,
		CurrentVersion:  version.Current().Version,
		ReleaseURL:      release.HTMLURL,
		CheckedAt:       c.Now(),
		UpdateAvailable: compareVersions(version.Current().Version, latest) < 0,
	}, nil
}

// cacheDir returns $XDG_CACHE_HOME/docql, falling back to ~/.cache/docql.
func cacheDir() (string, error) {
	cacheHome := os.Getenv("XDG_CACHE_HOME")
	if cacheHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		cacheHome = filepath.Join(home, ".cache")
	}
	return filepath.Join(cacheHome, "docql"), nil
}

func (c *Checker) loadCache() (*Info, error) {
	if c.CacheDir == "" {
		return nil, os.ErrNotExist
	}
	data, err := os.ReadFile(filepath.Join(c.CacheDir, cacheFile))
	if err != nil {
		return nil, err
	}
	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *Checker) saveCache(info *Info) error {
	if c.CacheDir == "" {
		return nil
	}
	if err := os.MkdirAll(c.CacheDir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(c.CacheDir, cacheFile), data, 0o644)
}

// compareVersions compares two semver strings
// Returns -1 if a < b, 0 if a == b, 1 if a > b
func compareVersions(a, b string) int {
	a = strings.TrimPrefix(a, "v")
	b = strings.TrimPrefix(b, "v")

	// dev builds are always the latest
	if a == "dev" {
		return 1
	}
	if b == "dev" {
		return -1
	}

	partsA := strings.Split(a, ".")
	partsB := strings.Split(b, ".")
	for i := range max(len(partsA), len(partsB)) {
		numA, numB := versionPart(partsA, i), versionPart(partsB, i)
		switch {
		case numA < numB:
			return -1
		case numA > numB:
			return 1
		}
	}
	return 0
}

// versionPart reads the numeric part i, ignoring pre-release suffixes.
func versionPart(parts []string, i int) int {
	if i >= len(parts) {
		return 0
	}
	base, _, _ := strings.Cut(parts[i], "-")
	n, _ := strconv.Atoi(base)
	return n
}
