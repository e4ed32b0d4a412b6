package githubsync

import "github.com/pr-cybr/notionsync/internal/notionsync"

func projectTitle(project map[string]any) string {
	if name := stringField(project, "name"); name != "" {
		return name
	}
	return "Untitled Project"
}

func projectProperties(project map[string]any, repo string) map[string]*notionsync.Property {
	number, hasNumber := numberField(project, "number")
	return map[string]*notionsync.Property{
		"GitHub URL":     notionsync.URL(stringField(project, "html_url")),
		"State":          notionsync.Select(stringField(project, "state")),
		"Body":           notionsync.RichText(stringField(project, "body")),
		"Creator":        notionsync.RichText(nestedString(project, "creator", "login")),
		"Repository":     notionsync.RichText(repo),
		"Last Updated":   notionsync.Date(stringField(project, "updated_at")),
		"Project Number": notionsync.Number(number, hasNumber),
		"Type":           notionsync.Select("Project"),
	}
}

// Cards carry no title of their own; the note or content URL stands in.
func projectCardTitle(card map[string]any) string {
	if note := stringField(card, "note"); note != "" {
		return note
	}
	if contentURL := stringField(card, "content_url"); contentURL != "" {
		return contentURL
	}
	return "Project Card"
}

func projectCardProperties(card map[string]any) map[string]*notionsync.Property {
	column, hasColumn := numberField(card, "column_id")
	projectID, hasProjectID := numberField(card, "project_id")
	link := stringField(card, "url")
	if link == "" {
		link = stringField(card, "content_url")
	}
	return map[string]*notionsync.Property{
		"Note":         notionsync.RichText(stringField(card, "note")),
		"Creator":      notionsync.RichText(nestedString(card, "creator", "login")),
		"Column ID":    notionsync.Number(column, hasColumn),
		"Project ID":   notionsync.Number(projectID, hasProjectID),
		"GitHub URL":   notionsync.URL(link),
		"Type":         notionsync.Select("Project Card"),
		"Last Updated": notionsync.Date(stringField(card, "updated_at")),
	}
}
