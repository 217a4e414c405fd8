// Package github reads repository trees through the GitHub REST API.
package github

import "regexp"

var repoURLPattern = regexp.MustCompile(`^https?://github\.com/([^/]+)/([^/]+?)(?:\.git)?(?:/tree/([^/]+)(/(.*))?)?$`)

// Repo identifies a repository and optionally a branch and subdirectory.
type Repo struct {
	Owner string
	Name  string

	// Branch is empty when the URL did not name one. The importer then uses
	// the repository's default branch.
	Branch string

	// Path is the subdirectory to import, empty for the repository root.
	Path string
}

// ParseURL parses https://github.com/{owner}/{repo}[.git][/tree/{branch}[/{path}]].
func ParseURL(raw string) (Repo, bool) {
	m := repoURLPattern.FindStringSubmatch(raw)
	if m == nil {
		return Repo{}, false
	}
	return Repo{
		Owner:  m[1],
		Name:   m[2],
		Branch: m[3],
		Path:   m[5],
	}, true
}
