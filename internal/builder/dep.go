package builder

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v6"
	"github.com/go-git/go-git/v6/plumbing"
	"github.com/msln-build/msln/internal/msg"
)

var depShortcuts = map[string]string{
	"gh:": "https://github.com/",
	"gl:": "https://gitlab.com/",
	"bb:": "https://bitbucket.org/",
	"sr:": "https://sr.ht/",
	"cb:": "https://codeberg.org/",
}

const gitPrefix = "git:"

var (
	errIllegalDep = errors.New("empty or illegal dependency string")
)

// depSpec is a [dependencies] entry plus the directory of the manifest that
// declared it, for resolving relative local paths.
type depSpec struct {
	source  string
	basedir string
}

func isRemoteDep(dep string) bool {
	if strings.HasPrefix(dep, gitPrefix) {
		return true
	}
	for shortcut := range depShortcuts {
		if strings.HasPrefix(dep, shortcut) {
			return true
		}
	}
	return false
}

// resolveDependency returns the directory holding the dependency's manifest.
// Remote sources are cloned into cacheDir once and reused afterwards; local
// paths resolve relative to the declaring manifest and are used in place.
func resolveDependency(spec depSpec, cacheDir string) (string, error) {
	if spec.source == "" {
		return "", errIllegalDep
	}

	if isRemoteDep(spec.source) {
		if _, err := os.Stat(filepath.Join(cacheDir, ManifestFilename)); err == nil {
			return cacheDir, nil
		}
		return fetchDependency(spec.source, cacheDir)
	}

	path := spec.source
	if !filepath.IsAbs(path) {
		path = filepath.Join(spec.basedir, path)
	}
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("dependency path %s: %w", path, err)
	}
	return path, nil
}

// fetchDependency materializes a remote [dependencies] source into toWhere.
// The fetched directory must carry its own Msln.toml; its library projects
// join the consuming solution.
func fetchDependency(dep string, toWhere string) (string, error) {
	// check for `git:` prefix, e.g. git:https://github.com/msln-build/libgreeter.git
	if strings.HasPrefix(dep, gitPrefix) {
		return cloneGitRepo(dep[len(gitPrefix):], toWhere)
	}

	// check for shortcut prefix, e.g. gh:msln-build/libgreeter
	for shortcut, url := range depShortcuts {
		if strings.HasPrefix(dep, shortcut) {
			return cloneGitRepo(url+dep[len(shortcut):], toWhere)
		}
	}

	return "", fmt.Errorf("%w: %q", errIllegalDep, dep)
}

type gitURL struct {
	cleanURL    string
	branch      string
	commitOrTag string
}

// someone/something@master#0.1.0
// someone/something@feature-branch#12345abc
// someone/something#12345abc
func parseGitURL(rawURL string) (res gitURL) {
	parts := strings.SplitN(rawURL, "#", 2)
	baseURL := parts[0]
	if len(parts) == 2 {
		res.commitOrTag = parts[1]
	}

	parts = strings.SplitN(baseURL, "@", 2)
	res.cleanURL = parts[0]
	if len(parts) == 2 {
		res.branch = parts[1]
	}

	if !strings.HasSuffix(res.cleanURL, ".git") {
		res.cleanURL += ".git"
	}

	return
}

// cloneGitRepo clones a Git remote into the specified directory
func cloneGitRepo(url, toWhere string) (string, error) {
	parsedURL := parseGitURL(url)

	meter := msg.NewTransferMeter(4, os.Stdout)
	cloneOptions := &git.CloneOptions{
		URL:               parsedURL.cleanURL,
		Progress:          meter,
		RecurseSubmodules: git.DefaultSubmoduleRecursionDepth,
	}

	if parsedURL.commitOrTag == "" {
		cloneOptions.Depth = 1 // we can do a shallow clone of the latest commit
	}

	if parsedURL.branch != "" {
		cloneOptions.ReferenceName = plumbing.NewBranchReferenceName(parsedURL.branch)
		cloneOptions.SingleBranch = true
	}

	repo, err := git.PlainClone(toWhere, cloneOptions)
	meter.Finish()
	if err != nil {
		return toWhere, err
	}

	if parsedURL.commitOrTag != "" {
		w, err := repo.Worktree()
		if err != nil {
			return toWhere, fmt.Errorf("could not get worktree: %w", err)
		}

		revision := parsedURL.commitOrTag
		hash, err := repo.ResolveRevision(plumbing.Revision(revision))
		if err != nil {
			return toWhere, fmt.Errorf("could not resolve revision `%s`: %w", revision, err)
		}

		err = w.Checkout(&git.CheckoutOptions{
			Hash:  *hash,
			Force: true,
		})
		if err != nil {
			return toWhere, fmt.Errorf("failed to checkout `%s`: %w", revision, err)
		}
	}

	return toWhere, nil
}
