package githubsync

import "github.com/pr-cybr/notionsync/internal/notionsync"

func pullRequestTitle(pr map[string]any) string {
	if title := stringField(pr, "title"); title != "" {
		return title
	}
	return "Untitled Pull Request"
}

func pullRequestProperties(pr map[string]any, repo string) map[string]*notionsync.Property {
	number, hasNumber := numberField(pr, "number")
	return map[string]*notionsync.Property{
		"GitHub URL":   notionsync.URL(stringField(pr, "html_url")),
		"State":        notionsync.Select(stringField(pr, "state")),
		"Repository":   notionsync.RichText(repo),
		"Author":       notionsync.RichText(nestedString(pr, "user", "login")),
		"Draft":        notionsync.Select(choose(truthy(pr["draft"]), "Draft", "Ready")),
		"Merged":       notionsync.Select(choose(truthy(pr["merged"]), "Merged", "Unmerged")),
		"Head Branch":  notionsync.RichText(nestedString(pr, "head", "ref")),
		"Base Branch":  notionsync.RichText(nestedString(pr, "base", "ref")),
		"Reviewers":    notionsync.MultiSelect(names(pr, "requested_reviewers", "login")),
		"Last Updated": notionsync.Date(stringField(pr, "updated_at")),
		"Merged At":    notionsync.Date(stringField(pr, "merged_at")),
		"Number":       notionsync.Number(number, hasNumber),
	}
}
