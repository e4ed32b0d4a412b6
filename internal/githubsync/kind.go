package githubsync

import (
	"fmt"
	"strings"

	"github.com/pr-cybr/notionsync/internal/notionsync"
)

// Kind names a mirrored collection. It doubles as the configuration key.
type Kind string

const (
	KindIssues       Kind = "issues"
	KindPullRequests Kind = "pull_requests"
	KindDiscussions  Kind = "discussions"
	KindProjects     Kind = "projects"
)

// Kinds lists every kind in dispatch order.
var Kinds = []Kind{KindIssues, KindPullRequests, KindDiscussions, KindProjects}

func ParseKind(raw string) (Kind, error) {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(raw)), "-", "_")
	for _, kind := range Kinds {
		if string(kind) == normalized {
			return kind, nil
		}
	}
	return "", fmt.Errorf("%w: unknown kind %q", notionsync.ErrInvalidInput, raw)
}

// EnvName is the upper-case form used in environment variable names.
func (k Kind) EnvName() string {
	return strings.ToUpper(string(k))
}

// Extract pulls every record of this kind out of a payload, singular key
// first. The projects kind yields both project and project card records.
func (k Kind) Extract(payload map[string]any) []Record {
	switch k {
	case KindIssues:
		return collect(payload, RecordIssue, "issue", "issues")
	case KindPullRequests:
		return collect(payload, RecordPullRequest, "pull_request", "pull_requests")
	case KindDiscussions:
		return collect(payload, RecordDiscussion, "discussion", "discussions")
	case KindProjects:
		records := collect(payload, RecordProject, "project", "projects")
		return append(records, collect(payload, RecordProjectCard, "project_card", "project_cards")...)
	default:
		return nil
	}
}

// Entity is a record mapped onto page properties.
type Entity struct {
	ExternalID string
	Title      string
	Properties map[string]*notionsync.Property
}

// BuildEntity maps a record. ok is false when the record has no usable
// identifier.
func BuildEntity(record Record, repo string) (entity Entity, ok bool) {
	id, ok := externalID(record.Data)
	if !ok {
		return Entity{}, false
	}
	entity = Entity{ExternalID: id}
	switch record.Type {
	case RecordIssue:
		entity.Title, entity.Properties = issueTitle(record.Data), issueProperties(record.Data, repo)
	case RecordPullRequest:
		entity.Title, entity.Properties = pullRequestTitle(record.Data), pullRequestProperties(record.Data, repo)
	case RecordDiscussion:
		entity.Title, entity.Properties = discussionTitle(record.Data), discussionProperties(record.Data, repo)
	case RecordProject:
		entity.Title, entity.Properties = projectTitle(record.Data), projectProperties(record.Data, repo)
	case RecordProjectCard:
		entity.Title, entity.Properties = projectCardTitle(record.Data), projectCardProperties(record.Data)
	default:
		return Entity{}, false
	}
	return entity, true
}
