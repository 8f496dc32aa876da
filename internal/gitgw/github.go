package gitgw

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/go-github/v75/github"
	"golang.org/x/oauth2"

	"github.com/devos-ai/orchestrator/internal/scrub"
)

// GitHub is a thin token-scoped client over google/go-github, covering the
// narrow PR create/list/merge/review surface the executors need
// (spec.md §4.1 "out of scope: individual third-party API clients" except
// this gateway's own contract).
type GitHub struct {
	client *github.Client
	owner  string
	repo   string
}

// NewGitHub builds a client authenticated with token, scoped to
// owner/repo. The token lives only in the oauth2.StaticTokenSource held by
// this client; it is never logged (every error returned by this type is
// passed through scrub.Error).
func NewGitHub(ctx context.Context, token, owner, repo string) *GitHub {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	httpClient := oauth2.NewClient(ctx, ts)
	return &GitHub{client: github.NewClient(httpClient), owner: owner, repo: repo}
}

// CreatePR opens a pull request for head -> base. Idempotent: on a 422
// "already exists" conflict, queries open PRs for head and returns the
// existing one instead of failing (spec.md §4.6.1).
func (g *GitHub) CreatePR(ctx context.Context, title, head, base, body string) (prURL string, prNumber int, err error) {
	pr, _, err := g.client.PullRequests.Create(ctx, g.owner, g.repo, &github.NewPullRequest{
		Title: &title,
		Head:  &head,
		Base:  &base,
		Body:  &body,
	})
	if err == nil {
		return pr.GetHTMLURL(), pr.GetNumber(), nil
	}
	if !looksLikeDuplicatePR(err) {
		return "", 0, scrub.Error(fmt.Errorf("creating PR: %w", err))
	}

	existing, listErr := g.findOpenPR(ctx, head)
	if listErr != nil || existing == nil {
		return "", 0, scrub.Error(fmt.Errorf("PR already exists for %s but could not be resolved: %w", head, err))
	}
	return existing.GetHTMLURL(), existing.GetNumber(), nil
}

func (g *GitHub) findOpenPR(ctx context.Context, head string) (*github.PullRequest, error) {
	opts := &github.PullRequestListOptions{
		State: "open",
		Head:  g.owner + ":" + head,
	}
	prs, _, err := g.client.PullRequests.List(ctx, g.owner, g.repo, opts)
	if err != nil {
		return nil, err
	}
	if len(prs) == 0 {
		return nil, nil
	}
	return prs[0], nil
}

func looksLikeDuplicatePR(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already exists") || strings.Contains(msg, "422")
}

// AddLabels applies labels to a PR. Failure is logged by the caller but is
// never fatal (spec.md §4.6.1: "labels are best-effort").
func (g *GitHub) AddLabels(ctx context.Context, prNumber int, labels []string) error {
	if len(labels) == 0 {
		return nil
	}
	_, _, err := g.client.Issues.AddLabelsToIssue(ctx, g.owner, g.repo, prNumber, labels)
	return scrub.Error(err)
}

// SubmitReview posts a PR review with a verdict-derived event
// (spec.md §4.6.2: "QA never merges the PR", only reviews).
func (g *GitHub) SubmitReview(ctx context.Context, prNumber int, event, body string) error {
	_, _, err := g.client.PullRequests.CreateReview(ctx, g.owner, g.repo, prNumber, &github.PullRequestReviewRequest{
		Event: &event,
		Body:  &body,
	})
	return scrub.Error(err)
}

// MergeMethod is the PR merge strategy (spec.md §4.6.4: default squash).
type MergeMethod string

const (
	MergeSquash MergeMethod = "squash"
	MergeMerge  MergeMethod = "merge"
	MergeRebase MergeMethod = "rebase"
)

// MergeError classifies a failed merge per spec.md §4.6.4: 409 ->
// MergeConflict, 403/422 -> BranchProtectionViolation.
type MergeError struct {
	Conflict                bool
	BranchProtectionViolation bool
	Err                     error
}

func (e *MergeError) Error() string { return e.Err.Error() }

// MergePR merges a PR with the given method, returning the merge commit
// SHA on success.
func (g *GitHub) MergePR(ctx context.Context, prNumber int, method MergeMethod) (mergeCommitSHA string, err error) {
	result, resp, err := g.client.PullRequests.Merge(ctx, g.owner, g.repo, prNumber, "", &github.PullRequestOptions{
		MergeMethod: string(method),
	})
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		return "", &MergeError{
			Conflict:                  status == 409,
			BranchProtectionViolation: status == 403 || status == 422,
			Err:                       scrub.Error(err),
		}
	}
	return result.GetSHA(), nil
}
