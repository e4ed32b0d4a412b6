package githubsync

import "github.com/pr-cybr/notionsync/internal/notionsync"

func discussionTitle(discussion map[string]any) string {
	if title := stringField(discussion, "title"); title != "" {
		return title
	}
	return "Untitled Discussion"
}

func discussionProperties(discussion map[string]any, repo string) map[string]*notionsync.Property {
	number, hasNumber := numberField(discussion, "number")
	author := nestedString(discussion, "user", "login")
	if !truthy(discussion["user"]) {
		author = nestedString(discussion, "author", "login")
	}
	answerURL := stringField(discussion, "answer_html_url")
	return map[string]*notionsync.Property{
		"GitHub URL":   notionsync.URL(stringField(discussion, "html_url")),
		"Repository":   notionsync.RichText(repo),
		"Author":       notionsync.RichText(author),
		"Category":     notionsync.Select(nestedString(discussion, "category", "name")),
		"Answer URL":   notionsync.URL(answerURL),
		"Answered":     notionsync.Select(choose(answerURL != "", "Answered", "Unanswered")),
		"Locked":       notionsync.Select(choose(truthy(discussion["locked"]), "Locked", "Open")),
		"State":        notionsync.Select(stringField(discussion, "state")),
		"Last Updated": notionsync.Date(stringField(discussion, "updated_at")),
		"Number":       notionsync.Number(number, hasNumber),
	}
}
