package githubsync

import "github.com/pr-cybr/notionsync/internal/notionsync"

func issueTitle(issue map[string]any) string {
	if title := stringField(issue, "title"); title != "" {
		return title
	}
	return "Untitled Issue"
}

func issueProperties(issue map[string]any, repo string) map[string]*notionsync.Property {
	number, hasNumber := numberField(issue, "number")
	return map[string]*notionsync.Property{
		"GitHub URL":   notionsync.URL(stringField(issue, "html_url")),
		"State":        notionsync.Select(stringField(issue, "state")),
		"Repository":   notionsync.RichText(repo),
		"Author":       notionsync.RichText(nestedString(issue, "user", "login")),
		"Labels":       notionsync.MultiSelect(names(issue, "labels", "name")),
		"Assignees":    notionsync.MultiSelect(names(issue, "assignees", "login")),
		"Last Updated": notionsync.Date(stringField(issue, "updated_at")),
		"Number":       notionsync.Number(number, hasNumber),
	}
}
