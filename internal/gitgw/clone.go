package gitgw

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/devos-ai/orchestrator/internal/scrub"
)

// CredentialEnv builds the process environment for a git invocation that
// authenticates with a GitHub token purely through the environment, never
// through .git/config or any file on disk (spec.md §4.1 Git credentials
// invariant). It returns a copy of baseEnv with GIT_TOKEN set to the token
// and GIT_TERMINAL_PROMPT=0, so git fails rather than prompting; no
// GIT_ASKPASS helper is configured.
func CredentialEnv(baseEnv []string, token string) []string {
	env := append([]string{}, baseEnv...)
	env = append(env,
		"GIT_TOKEN="+token,
		"GIT_TERMINAL_PROMPT=0",
	)
	return env
}

// CloneURL returns repoURL rewritten with an embedded x-access-token
// credential, suitable for a one-shot `git clone`/`git push` invocation
// (spec.md §4.1). The token never touches disk: it lives only in this
// in-memory string for the duration of the command.
func CloneURL(repoURL, token string) string {
	return scrub.EmbedToken(repoURL, token)
}

// Prepare ensures workspaceDir exists and contains a clone of repoURL on
// baseBranch, per the Workspace contract in spec.md §4.1: "Before spawn,
// the directory must exist and contain a Git clone of gitRepoUrl on the
// configured base branch."
func Prepare(workspaceDir, repoURL, token, baseBranch string) (*Repo, error) {
	if _, err := os.Stat(workspaceDir); os.IsNotExist(err) {
		if err := cloneInto(workspaceDir, repoURL, token, baseBranch); err != nil {
			return nil, fmt.Errorf("workspace prep failed: %w", scrub.Error(err))
		}
	}
	repo := NewRepo(workspaceDir, nil)
	return repo, nil
}

func cloneInto(workspaceDir, repoURL, token, baseBranch string) error {
	authURL := CloneURL(repoURL, token)
	args := []string{"clone", "--branch", baseBranch, authURL, workspaceDir}
	cmd := exec.Command("git", args...)
	cmd.Env = CredentialEnv(os.Environ(), token)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("git clone: %s: %w", strings.TrimSpace(string(out)), err)
	}
	return nil
}

// Push pushes the current branch to origin using a token-embedded remote
// URL, retrying once with a `pull --rebase` on rejection (spec.md §4.6.1:
// "on rejection, performs pull --rebase once and retries push exactly
// once; subsequent failure is fatal").
func (r *Repo) Push(repoURL, token, branch string) error {
	authURL := CloneURL(repoURL, token)
	if err := r.pushOnce(authURL, branch); err == nil {
		return nil
	} else if !isRejection(err) {
		return err
	}

	if _, rebaseErr := r.run("pull", "--rebase", authURL, branch); rebaseErr != nil {
		return fmt.Errorf("push rejected and pull --rebase failed: %w", rebaseErr)
	}
	return r.pushOnce(authURL, branch)
}

func (r *Repo) pushOnce(authURL, branch string) error {
	_, err := r.run("push", authURL, branch)
	return err
}

func isRejection(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "rejected") || strings.Contains(msg, "non-fast-forward") || strings.Contains(msg, "fetch first")
}
