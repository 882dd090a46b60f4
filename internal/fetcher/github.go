package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"secbrief/internal/config"
	"secbrief/internal/core"
	"secbrief/internal/logger"
	"secbrief/internal/store"
)

const githubAPIBase = "https://api.github.com"

// RepoStateStore is the persistence the GitHub adapter needs: the tracked
// repository map survives process restarts through it.
type RepoStateStore interface {
	RepoStates() (map[string]store.RepoState, error)
	SaveRepoState(state store.RepoState) error
}

// GitHubFetcher watches repository search queries and emits an item only
// when a repo is first seen, publishes a new release tag, or grows its
// star count by at least star_growth_ratio.
type GitHubFetcher struct {
	cfg   config.GitHubSource
	state RepoStateStore
	base  string
}

// NewGitHubFetcher builds the adapter; state must be non-nil.
func NewGitHubFetcher(cfg config.GitHubSource, state RepoStateStore) *GitHubFetcher {
	return &GitHubFetcher{cfg: cfg, state: state, base: githubAPIBase}
}

func (f *GitHubFetcher) Name() string                { return "GitHub Trending" }
func (f *GitHubFetcher) SourceType() core.SourceType { return core.SourceGitHub }
func (f *GitHubFetcher) Enabled() bool               { return f.cfg.Enabled && len(f.cfg.Queries) > 0 }

// githubSearchResponse mirrors the repository search API.
type githubSearchResponse struct {
	Items []struct {
		FullName    string `json:"full_name"`
		HTMLURL     string `json:"html_url"`
		Description string `json:"description"`
		Stars       int    `json:"stargazers_count"`
		PushedAt    string `json:"pushed_at"`
		Language    string `json:"language"`
	} `json:"items"`
}

// githubRelease mirrors the latest-release API.
type githubRelease struct {
	TagName string `json:"tag_name"`
}

// Fetch runs each configured search query and diffs results against the
// persisted repository state.
func (f *GitHubFetcher) Fetch(ctx context.Context) core.FetchResult {
	client := newClient(config.Duration(f.cfg.Timeout, 30*time.Second))

	states, err := f.state.RepoStates()
	if err != nil {
		return failure(f.Name(), core.SourceGitHub, fmt.Errorf("failed to load repo states: %w", err))
	}

	growthRatio := f.cfg.StarGrowthRatio
	if growthRatio <= 0 {
		growthRatio = 0.2
	}

	headers := map[string]string{"Accept": "application/vnd.github+json"}
	if f.cfg.Token != "" {
		headers["Authorization"] = "Bearer " + f.cfg.Token
	}

	var items []core.Article
	var errs []string
	seen := make(map[string]bool)

	for _, searchQuery := range f.cfg.Queries {
		query := url.Values{}
		query.Set("q", searchQuery)
		query.Set("sort", "stars")
		query.Set("order", "desc")
		query.Set("per_page", fmt.Sprintf("%d", f.maxResults()))

		var resp githubSearchResponse
		searchURL := f.base + "/search/repositories?" + query.Encode()
		if err := getJSON(ctx, client, searchURL, headers, &resp); err != nil {
			errs = append(errs, fmt.Sprintf("query %q: %v", searchQuery, err))
			continue
		}

		for _, repo := range resp.Items {
			if repo.FullName == "" || seen[repo.FullName] {
				continue
			}
			seen[repo.FullName] = true

			releaseTag := f.latestReleaseTag(ctx, client, headers, repo.FullName)
			prev, known := states[repo.FullName]

			emit, reason := shouldEmit(known, prev, repo.Stars, releaseTag, growthRatio)

			next := store.RepoState{
				FullName:   repo.FullName,
				Stars:      repo.Stars,
				ReleaseTag: releaseTag,
				PushedAt:   repo.PushedAt,
			}
			if err := f.state.SaveRepoState(next); err != nil {
				logger.Warn("Failed to persist repo state", "repo", repo.FullName, "error", err.Error())
			}
			states[repo.FullName] = next

			if !emit {
				continue
			}

			items = append(items, core.Article{
				Title:      repo.FullName,
				URL:        repo.HTMLURL,
				Source:     "GitHub",
				SourceType: core.SourceGitHub,
				Content:    repo.Description,
				Extras: map[string]string{
					"github_stars": fmt.Sprintf("%d", repo.Stars),
					"release_tag":  releaseTag,
					"language":     repo.Language,
					"emit_reason":  reason,
				},
			})
		}
	}

	result := success(f.Name(), core.SourceGitHub, items)
	if len(errs) > 0 {
		result.Error = strings.Join(errs, "; ")
	}
	return result
}

// shouldEmit applies the first-seen / release-changed / star-growth rule.
func shouldEmit(known bool, prev store.RepoState, stars int, releaseTag string, growthRatio float64) (bool, string) {
	if !known {
		return true, "first_seen"
	}
	if releaseTag != "" && releaseTag != prev.ReleaseTag {
		return true, "release_changed"
	}
	if prev.Stars > 0 && float64(stars) >= float64(prev.Stars)*(1+growthRatio) {
		return true, "star_growth"
	}
	return false, ""
}

// latestReleaseTag fetches the newest release tag; repositories without
// releases simply yield an empty tag.
func (f *GitHubFetcher) latestReleaseTag(ctx context.Context, client *http.Client, headers map[string]string, fullName string) string {
	var release githubRelease
	releaseURL := fmt.Sprintf("%s/repos/%s/releases/latest", f.base, fullName)
	if err := getJSON(ctx, client, releaseURL, headers, &release); err != nil {
		return ""
	}
	return release.TagName
}

func (f *GitHubFetcher) maxResults() int {
	if f.cfg.MaxResults > 0 {
		return f.cfg.MaxResults
	}
	return 20
}
