// Package gitgw is the Git/GitHub Gateway (spec.md §4.6 contracts, §9):
// token-authenticated clone/branch/commit/push against a real repository,
// plus PR create/merge through google/go-github and changed-file diffs
// rendered locally with sergi/go-diff. The retrying command runner and
// rebase helpers are kept from the prior internal/git.Repo; everything
// token-related is new.
package gitgw

import (
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/devos-ai/orchestrator/internal/scrub"
)

// Retry constants for transient git errors, kept from precedent.
const (
	retryInitialDelay = 200 * time.Millisecond
	retryMaxAttempts  = 6
	retryMultiplier   = 2
)

// transientPatterns are error substrings that indicate a retryable git failure.
var transientPatterns = []string{
	"index file open failed",
	"index.lock",
	"cannot lock ref",
	"could not read Username",
	"connection reset by peer",
}

func isTransient(errMsg string) bool {
	for _, p := range transientPatterns {
		if strings.Contains(errMsg, p) {
			return true
		}
	}
	return false
}

// Repo wraps git operations for a single workspace-local clone.
type Repo struct {
	Dir string
	Env []string
}

// NewRepo creates a Repo for the given directory. env, if non-nil, is used
// as the whole environment of every invocation (it replaces the process
// environment rather than adding to it), so credentials can be passed
// without ever writing them to .git/config, per the Git credentials
// invariant in spec.md §4.1.
func NewRepo(dir string, env []string) *Repo {
	return &Repo{Dir: dir, Env: env}
}

// sleepFunc is replaced in tests to avoid real delays.
var sleepFunc = time.Sleep

// run executes a git command in the repo directory. Transient errors
// (index locks, ref locks, reset connections) are retried with exponential
// backoff, kept from the prior internal/git.Repo.run.
func (r *Repo) run(args ...string) (string, error) {
	delay := retryInitialDelay
	for attempt := 0; attempt < retryMaxAttempts; attempt++ {
		cmd := exec.Command("git", args...)
		cmd.Dir = r.Dir
		if r.Env != nil {
			cmd.Env = r.Env
		}
		out, err := cmd.CombinedOutput()
		if err == nil {
			return strings.TrimSpace(string(out)), nil
		}
		errMsg := strings.TrimSpace(string(out))
		if !isTransient(errMsg) || attempt == retryMaxAttempts-1 {
			return "", scrub.Error(fmt.Errorf("git %s: %s: %w", strings.Join(args, " "), errMsg, err))
		}
		sleepFunc(delay)
		delay *= retryMultiplier
	}
	return "", nil // unreachable — loop always returns
}

// HeadCommit returns the commit hash at HEAD for a given branch.
func (r *Repo) HeadCommit(branch string) (string, error) {
	return r.run("rev-parse", branch)
}

// BranchExists checks if a branch exists.
func (r *Repo) BranchExists(branch string) bool {
	_, err := r.run("rev-parse", "--verify", branch)
	return err == nil
}

// CreateBranch creates a new branch from a starting point.
func (r *Repo) CreateBranch(name, from string) error {
	_, err := r.run("branch", name, from)
	return err
}

// Checkout switches the working tree to branch.
func (r *Repo) Checkout(branch string) error {
	_, err := r.run("checkout", branch)
	return err
}

// CommitsBetween returns commit hashes between two refs (exclusive of from,
// inclusive of to). If from is empty, returns all commits up to `to`.
func (r *Repo) CommitsBetween(from, to string) ([]string, error) {
	var rangeSpec string
	if from == "" {
		rangeSpec = to
	} else {
		rangeSpec = from + ".." + to
	}
	out, err := r.run("rev-list", rangeSpec)
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// CommitMessage returns the full commit message for a given hash.
func (r *Repo) CommitMessage(hash string) (string, error) {
	return r.run("log", "-1", "--format=%B", hash)
}

// DiffForCommit returns the unified diff for a single commit.
func (r *Repo) DiffForCommit(hash string) (string, error) {
	return r.run("show", "--format=", hash)
}

// FilesChangedInCommit returns the list of file paths changed in a single
// commit. Uses diff-tree, which works correctly for root commits.
func (r *Repo) FilesChangedInCommit(hash string) ([]string, error) {
	out, err := r.run("diff-tree", "--no-commit-id", "-r", "--name-only", hash)
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// FilesChangedSince returns the files changed between two refs, deduped.
func (r *Repo) FilesChangedSince(from, to string) ([]string, error) {
	out, err := r.run("diff", "--name-only", from, to)
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// HasChanges checks if there are any uncommitted changes in the worktree.
func (r *Repo) HasChanges() (bool, error) {
	out, err := r.run("status", "--porcelain")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) != "", nil
}

// StageAll stages all changes (including untracked files) in the worktree.
func (r *Repo) StageAll() error {
	_, err := r.run("add", "-A")
	return err
}

// Commit creates a commit with the given message. Uses --no-verify to skip
// pre-commit hooks since the agent has already exited by the time this
// runs — no agent is available to fix a hook failure (kept from the
// prior Repo.Commit).
func (r *Repo) Commit(message string) error {
	_, err := r.run("commit", "--no-verify", "-m", message)
	return err
}

// EnsureIdentity sets user.name and user.email in the repo's local config
// if not already resolvable, preventing "Author identity unknown" errors.
func (r *Repo) EnsureIdentity(name, email string) {
	if _, err := r.run("config", "user.name"); err != nil {
		_, _ = r.run("config", "user.name", name)
	}
	if _, err := r.run("config", "user.email"); err != nil {
		_, _ = r.run("config", "user.email", email)
	}
}

func (r *Repo) abortRebase() {
	_, _ = r.run("rebase", "--abort") // ignore error — fails if no rebase in progress
}

// Rebase rebases the current branch onto targetBranch. On conflict, aborts
// and hard-resets to targetBranch so the agent regenerates from a clean
// base (kept from the prior Repo.Rebase).
func (r *Repo) Rebase(targetBranch string) error {
	r.abortRebase()
	_, err := r.run("rebase", targetBranch)
	if err != nil {
		r.abortRebase()
		_, resetErr := r.run("reset", "--hard", targetBranch)
		if resetErr != nil {
			return fmt.Errorf("git rebase %s failed and reset also failed: %w", targetBranch, resetErr)
		}
	}
	return nil
}

// branchNamePattern is the shell/path-injection guard named in spec.md
// §4.6.1 and §9: every branch component must match this before it is ever
// interpolated into a git command or filesystem path.
var branchNamePattern = regexp.MustCompile(`^[A-Za-z0-9._\-/]+$`)

// ValidateBranchName rejects shell metacharacters in a proposed branch name.
func ValidateBranchName(name string) error {
	if name == "" || !branchNamePattern.MatchString(name) {
		return fmt.Errorf("invalid branch name %q", name)
	}
	return nil
}

// DevBranchName builds the feature branch name for a story, per spec.md §4.6.1.
func DevBranchName(storyID string) (string, error) {
	name := "devos/dev/" + storyID
	if err := ValidateBranchName(name); err != nil {
		return "", err
	}
	return name, nil
}
