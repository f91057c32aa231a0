package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedPayload is returned when a webhook body cannot be parsed into
// the typed payload for its event, or required fields are missing.
var ErrMalformedPayload = errors.New("malformed webhook payload")

// EventType is the closed set of GitHub events the service understands.
// Anything else parses to EventUnknown and is acknowledged without action.
type EventType string

const (
	EventIssues      EventType = "issues"
	EventPullRequest EventType = "pull_request"
	EventPush        EventType = "push"
	EventRepository  EventType = "repository"
	EventUnknown     EventType = ""
)

// ParseEventType maps the event header to the enum; unrecognised values yield
// EventUnknown rather than an error, per GitHub's acknowledge-everything contract.
func ParseEventType(header string) EventType {
	switch EventType(header) {
	case EventIssues, EventPullRequest, EventPush, EventRepository:
		return EventType(header)
	default:
		return EventUnknown
	}
}

type Repository struct {
	Name        string `json:"name"`
	FullName    string `json:"full_name"`
	HTMLURL     string `json:"html_url"`
	Description string `json:"description"`
	Language    string `json:"language"`
	Private     bool   `json:"private"`
	CreatedAt   string `json:"created_at"`
}

type User struct {
	Login string `json:"login"`
}

type Label struct {
	Name string `json:"name"`
}

type Issue struct {
	Number    int     `json:"number"`
	Title     string  `json:"title"`
	Body      string  `json:"body"`
	State     string  `json:"state"`
	HTMLURL   string  `json:"html_url"`
	User      User    `json:"user"`
	Labels    []Label `json:"labels"`
	CreatedAt string  `json:"created_at"`
}

type BranchRef struct {
	Ref string `json:"ref"`
}

type PullRequest struct {
	Number    int       `json:"number"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	State     string    `json:"state"`
	HTMLURL   string    `json:"html_url"`
	User      User      `json:"user"`
	Base      BranchRef `json:"base"`
	Head      BranchRef `json:"head"`
	Draft     bool      `json:"draft"`
	CreatedAt string    `json:"created_at"`
}

type CommitAuthor struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

type Commit struct {
	ID        string       `json:"id"`
	Message   string       `json:"message"`
	URL       string       `json:"url"`
	Timestamp string       `json:"timestamp"`
	Author    CommitAuthor `json:"author"`
	Added     []string     `json:"added"`
	Modified  []string     `json:"modified"`
	Removed   []string     `json:"removed"`
}

type IssuesEvent struct {
	Action     string     `json:"action"`
	Issue      Issue      `json:"issue"`
	Repository Repository `json:"repository"`
}

type PullRequestEvent struct {
	Action      string      `json:"action"`
	PullRequest PullRequest `json:"pull_request"`
	Repository  Repository  `json:"repository"`
}

type PushEvent struct {
	Ref        string     `json:"ref"`
	Commits    []Commit   `json:"commits"`
	Repository Repository `json:"repository"`
}

type RepositoryEvent struct {
	Action     string     `json:"action"`
	Repository Repository `json:"repository"`
}

// ParseEvent decodes the raw body into the typed payload for the given event.
// Shape mismatches surface ErrMalformedPayload here, at the router boundary,
// rather than deep inside the sync engine. Unknown events return (nil, nil).
func ParseEvent(event EventType, body []byte) (any, error) {
	switch event {
	case EventIssues:
		var p IssuesEvent
		if err := decode(body, &p); err != nil {
			return nil, err
		}
		if p.Action == "" || p.Issue.HTMLURL == "" || p.Repository.Name == "" {
			return nil, fmt.Errorf("%w: issues event missing action, issue url, or repository", ErrMalformedPayload)
		}
		return &p, nil
	case EventPullRequest:
		var p PullRequestEvent
		if err := decode(body, &p); err != nil {
			return nil, err
		}
		if p.Action == "" || p.PullRequest.HTMLURL == "" || p.Repository.Name == "" {
			return nil, fmt.Errorf("%w: pull_request event missing action, pr url, or repository", ErrMalformedPayload)
		}
		return &p, nil
	case EventPush:
		var p PushEvent
		if err := decode(body, &p); err != nil {
			return nil, err
		}
		if p.Ref == "" || p.Repository.Name == "" {
			return nil, fmt.Errorf("%w: push event missing ref or repository", ErrMalformedPayload)
		}
		return &p, nil
	case EventRepository:
		var p RepositoryEvent
		if err := decode(body, &p); err != nil {
			return nil, err
		}
		if p.Action == "" || p.Repository.Name == "" {
			return nil, fmt.Errorf("%w: repository event missing action or repository", ErrMalformedPayload)
		}
		return &p, nil
	default:
		return nil, nil
	}
}

func decode(body []byte, out any) error {
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return nil
}
