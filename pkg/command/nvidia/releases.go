package nvidia

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	gh "github.com/google/go-github/v60/github"
	"golang.org/x/sync/singleflight"

	"github.com/cgast/dispatchd/pkg/command"
)

const (
	defaultReleaseLimit = 5
	maxReleaseLimit     = 20
	releaseFetchTimeout = 30 * time.Second
)

// Release is one driver release as reported to callers.
type Release struct {
	Tag         string `json:"tag"`
	Name        string `json:"name"`
	PublishedAt string `json:"published_at"`
	Prerelease  bool   `json:"prerelease"`
	URL         string `json:"url"`
}

// ReleaseLister fetches recent releases for a repository.
type ReleaseLister interface {
	ListReleases(ctx context.Context, owner, name string, limit int) ([]Release, error)
}

// GitHubReleases lists releases through the GitHub API. An empty token
// falls back to unauthenticated requests, which public driver repos
// allow at a lower rate limit.
type GitHubReleases struct {
	client *gh.Client
}

// NewGitHubReleases creates a lister, authenticated when token is set.
func NewGitHubReleases(token string) *GitHubReleases {
	if token == "" {
		return &GitHubReleases{client: gh.NewClient(nil)}
	}
	httpClient := &http.Client{
		Transport: &tokenTransport{token: token},
	}
	return &GitHubReleases{client: gh.NewClient(httpClient)}
}

// tokenTransport adds Bearer token auth to HTTP requests.
type tokenTransport struct {
	token string
}

func (t *tokenTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("Authorization", "Bearer "+t.token)
	return http.DefaultTransport.RoundTrip(req)
}

func (g *GitHubReleases) ListReleases(ctx context.Context, owner, name string, limit int) ([]Release, error) {
	rels, _, err := g.client.Repositories.ListReleases(ctx, owner, name, &gh.ListOptions{PerPage: limit})
	if err != nil {
		return nil, fmt.Errorf("list releases for %s/%s: %w", owner, name, err)
	}
	out := make([]Release, 0, len(rels))
	for _, r := range rels {
		out = append(out, Release{
			Tag:         r.GetTagName(),
			Name:        r.GetName(),
			PublishedAt: r.GetPublishedAt().Format(time.RFC3339),
			Prerelease:  r.GetPrerelease(),
			URL:         r.GetHTMLURL(),
		})
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// ReleasesCommand returns the nvidia_releases command, listing recent
// driver releases from repo ("owner/name"). Only the admin and system
// groups may run it.
func ReleasesCommand(lister ReleaseLister, repo string) command.Descriptor {
	return command.Descriptor{
		Name:        "nvidia_releases",
		Description: "List recent NVIDIA driver releases",
		Policy:      command.AccessPolicy{AllowedGroups: []string{"admin", "system"}},
		Schema: command.Schema{
			{Name: "limit", Type: command.TypeInteger, Description: "How many releases to list"},
		},
		Handler: releasesHandler(lister, repo),
	}
}

func releasesHandler(lister ReleaseLister, repo string) command.Handler {
	var group singleflight.Group
	return func(ctx context.Context, inv command.Invocation, em *command.Emitter) error {
		limit := inv.Int("limit")
		if limit <= 0 {
			limit = defaultReleaseLimit
		}
		if limit > maxReleaseLimit {
			limit = maxReleaseLimit
		}

		owner, name, err := splitRepo(repo)
		if err != nil {
			return err
		}

		if err := em.Progress(0.3, fmt.Sprintf("Querying releases for %s...", repo), map[string]any{"step": "query"}); err != nil {
			return err
		}

		// Identical lookups in flight share one API call. The shared fetch
		// is detached from the leading caller's context so its disconnect
		// does not fail the coalesced followers; a timeout bounds it instead.
		key := fmt.Sprintf("%s@%d", repo, limit)
		v, err, _ := group.Do(key, func() (any, error) {
			fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseFetchTimeout)
			defer cancel()
			return lister.ListReleases(fetchCtx, owner, name, limit)
		})
		if err != nil {
			return err
		}
		releases := v.([]Release)

		if err := em.Progress(0.8, "Collating releases...", map[string]any{"step": "collate"}); err != nil {
			return err
		}

		data := map[string]any{
			"repository": repo,
			"count":      len(releases),
			"releases":   releases,
		}
		if len(releases) > 0 {
			data["latest"] = releases[0].Tag
		}
		return em.Success(fmt.Sprintf("Found %d releases for %s", len(releases), repo), data)
	}
}

func splitRepo(repo string) (string, string, error) {
	owner, name, ok := strings.Cut(repo, "/")
	if !ok || owner == "" || name == "" {
		return "", "", fmt.Errorf("invalid repository %q: expected owner/name", repo)
	}
	return owner, name, nil
}
