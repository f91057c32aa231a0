package boardsync

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nicedev/wekan-github-sync/integrations"
	"github.com/nicedev/wekan-github-sync/internal/models"
	"go.uber.org/zap"
)

// ErrSyncFailed wraps downstream board-service failures after the retry
// policy is exhausted. The webhook endpoint maps it to a 502.
var ErrSyncFailed = errors.New("board sync failed")

// Standard lists provisioned on every board the engine creates, in order.
var standardLists = []string{"Backlog", "To Do", "In Progress", "Done"}

const (
	listToDo = "To Do"
	listDone = "Done"
)

// Push events create cards for at most this many of the newest commits.
const maxPushCards = 5

// BoardService is the slice of the WeKan client the engine needs. Injected so
// tests can substitute a fake and no package-level client exists.
type BoardService interface {
	GetOrCreateBoard(ctx context.Context, title string) (*integrations.Board, error)
	EnsureList(ctx context.Context, boardID, name string) (*integrations.List, error)
	FindCardByReference(ctx context.Context, boardID, reference string) (*integrations.Card, error)
	CreateCard(ctx context.Context, boardID, listID, title, description string) (*integrations.Card, error)
	MoveCard(ctx context.Context, boardID, listID, cardID, targetListID string) error
	UpdateCard(ctx context.Context, boardID, listID, cardID, title, description string) error
}

// Engine maps GitHub events onto board mutations. All idempotency comes from
// find-before-write against the board service, keyed by the external
// reference embedded in each card description.
type Engine struct {
	boards BoardService
	log    *zap.Logger
}

func New(boards BoardService, log *zap.Logger) *Engine {
	return &Engine{boards: boards, log: log}
}

func IssuesBoardName(repo string) string  { return "GitHub Issues - " + repo }
func PRBoardName(repo string) string      { return "GitHub PRs - " + repo }
func CommitsBoardName(repo string) string { return "GitHub Commits - " + repo }
func ProjectBoardName(repo string) string { return "Project - " + repo }

// HandleIssues processes opened/reopened/edited/closed issue actions.
// Anything else is acknowledged without mutation.
func (e *Engine) HandleIssues(ctx context.Context, ev *models.IssuesEvent) error {
	ref := ev.Issue.HTMLURL
	title := fmt.Sprintf("Issue #%d: %s", ev.Issue.Number, ev.Issue.Title)
	desc := issueDescription(ev.Issue, ref)

	switch ev.Action {
	case "opened", "reopened":
		return e.upsertCard(ctx, IssuesBoardName(ev.Repository.Name), listToDo, title, desc, ref)
	case "edited":
		// An edit for an unseen reference (out-of-order delivery) is treated
		// as opened: create rather than drop.
		return e.updateCard(ctx, IssuesBoardName(ev.Repository.Name), listToDo, title, desc, ref)
	case "closed":
		return e.closeCard(ctx, IssuesBoardName(ev.Repository.Name), title, desc, ref)
	default:
		e.log.Info("ignoring issue action",
			zap.String("action", ev.Action),
			zap.Int("issue", ev.Issue.Number))
		return nil
	}
}

// HandlePullRequest mirrors issue handling on the PR board.
func (e *Engine) HandlePullRequest(ctx context.Context, ev *models.PullRequestEvent) error {
	ref := ev.PullRequest.HTMLURL
	title := fmt.Sprintf("PR #%d: %s", ev.PullRequest.Number, ev.PullRequest.Title)
	desc := prDescription(ev.PullRequest, ref)

	switch ev.Action {
	case "opened", "reopened":
		return e.upsertCard(ctx, PRBoardName(ev.Repository.Name), listToDo, title, desc, ref)
	case "edited":
		return e.updateCard(ctx, PRBoardName(ev.Repository.Name), listToDo, title, desc, ref)
	case "closed":
		return e.closeCard(ctx, PRBoardName(ev.Repository.Name), title, desc, ref)
	default:
		e.log.Info("ignoring pull_request action",
			zap.String("action", ev.Action),
			zap.Int("pr", ev.PullRequest.Number))
		return nil
	}
}

// HandlePush creates cards in Done for the newest commits pushed to the
// default branch. A failing commit is logged and the rest still processed;
// the delivery maps to a single outcome.
func (e *Engine) HandlePush(ctx context.Context, ev *models.PushEvent) error {
	if ev.Ref != "refs/heads/main" && ev.Ref != "refs/heads/master" {
		e.log.Info("ignoring push outside default branch", zap.String("ref", ev.Ref))
		return nil
	}
	if len(ev.Commits) == 0 {
		return nil
	}

	commits := ev.Commits
	if len(commits) > maxPushCards {
		e.log.Info("push exceeds commit card cap, skipping oldest",
			zap.Int("total", len(commits)),
			zap.Int("skipped", len(commits)-maxPushCards))
		commits = commits[len(commits)-maxPushCards:]
	}

	board, done, err := e.ensureBoard(ctx, CommitsBoardName(ev.Repository.Name), listDone)
	if err != nil {
		return err
	}

	for _, commit := range commits {
		ref := commit.ID
		existing, err := e.boards.FindCardByReference(ctx, board.ID, ref)
		if err != nil {
			e.log.Error("commit card lookup failed", zap.String("sha", commit.ID), zap.Error(err))
			continue
		}
		if existing != nil {
			continue
		}
		title := "Commit: " + firstLine(commit.Message)
		if _, err := e.boards.CreateCard(ctx, board.ID, done.ID, title, commitDescription(commit)); err != nil {
			e.log.Error("commit card creation failed", zap.String("sha", commit.ID), zap.Error(err))
		}
	}
	return nil
}

// HandleRepository provisions a project board with the standard lists and a
// setup card when a repository is created.
func (e *Engine) HandleRepository(ctx context.Context, ev *models.RepositoryEvent) error {
	if ev.Action != "created" {
		e.log.Info("ignoring repository action", zap.String("action", ev.Action))
		return nil
	}

	ref := ev.Repository.HTMLURL
	if ref == "" {
		ref = ev.Repository.Name
	}
	return e.upsertCard(ctx, ProjectBoardName(ev.Repository.Name), listToDo,
		"Repository Setup", repoDescription(ev.Repository, ref), ref)
}

// ensureBoard get-or-creates the board, provisions the standard lists, and
// returns the board plus the named target list.
func (e *Engine) ensureBoard(ctx context.Context, boardTitle, targetList string) (*integrations.Board, *integrations.List, error) {
	board, err := e.boards.GetOrCreateBoard(ctx, boardTitle)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: board %q: %v", ErrSyncFailed, boardTitle, err)
	}

	var target *integrations.List
	for _, name := range standardLists {
		list, err := e.boards.EnsureList(ctx, board.ID, name)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: list %q on board %q: %v", ErrSyncFailed, name, boardTitle, err)
		}
		if name == targetList {
			target = list
		}
	}
	if target == nil {
		list, err := e.boards.EnsureList(ctx, board.ID, targetList)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: list %q on board %q: %v", ErrSyncFailed, targetList, boardTitle, err)
		}
		target = list
	}
	return board, target, nil
}

// upsertCard creates the card unless its reference already exists, in which
// case the existing card is refreshed in place. Redelivery therefore never
// duplicates.
func (e *Engine) upsertCard(ctx context.Context, boardTitle, listName, title, desc, ref string) error {
	board, list, err := e.ensureBoard(ctx, boardTitle, listName)
	if err != nil {
		return err
	}

	existing, err := e.boards.FindCardByReference(ctx, board.ID, ref)
	if err != nil {
		return fmt.Errorf("%w: card lookup %q: %v", ErrSyncFailed, ref, err)
	}
	if existing != nil {
		e.log.Info("card already exists, refreshing", zap.String("ref", ref), zap.String("card_id", existing.ID))
		if err := e.boards.UpdateCard(ctx, board.ID, existing.ListID, existing.ID, title, desc); err != nil {
			return fmt.Errorf("%w: card refresh %q: %v", ErrSyncFailed, ref, err)
		}
		return nil
	}

	if _, err := e.boards.CreateCard(ctx, board.ID, list.ID, title, desc); err != nil {
		return fmt.Errorf("%w: card creation %q: %v", ErrSyncFailed, ref, err)
	}
	e.log.Info("card created", zap.String("board", boardTitle), zap.String("list", listName), zap.String("ref", ref))
	return nil
}

// updateCard rewrites an existing card in place, creating it when the
// reference has never been seen.
func (e *Engine) updateCard(ctx context.Context, boardTitle, fallbackList, title, desc, ref string) error {
	board, list, err := e.ensureBoard(ctx, boardTitle, fallbackList)
	if err != nil {
		return err
	}

	existing, err := e.boards.FindCardByReference(ctx, board.ID, ref)
	if err != nil {
		return fmt.Errorf("%w: card lookup %q: %v", ErrSyncFailed, ref, err)
	}
	if existing == nil {
		e.log.Info("edited event for unseen reference, creating card", zap.String("ref", ref))
		if _, err := e.boards.CreateCard(ctx, board.ID, list.ID, title, desc); err != nil {
			return fmt.Errorf("%w: card creation %q: %v", ErrSyncFailed, ref, err)
		}
		return nil
	}

	if err := e.boards.UpdateCard(ctx, board.ID, existing.ListID, existing.ID, title, desc); err != nil {
		return fmt.Errorf("%w: card update %q: %v", ErrSyncFailed, ref, err)
	}
	return nil
}

// closeCard moves the referenced card to Done; a close for an unseen
// reference converges by creating the card directly in Done.
func (e *Engine) closeCard(ctx context.Context, boardTitle, title, desc, ref string) error {
	board, done, err := e.ensureBoard(ctx, boardTitle, listDone)
	if err != nil {
		return err
	}

	existing, err := e.boards.FindCardByReference(ctx, board.ID, ref)
	if err != nil {
		return fmt.Errorf("%w: card lookup %q: %v", ErrSyncFailed, ref, err)
	}
	if existing == nil {
		e.log.Info("closed event for unseen reference, creating card in Done", zap.String("ref", ref))
		if _, err := e.boards.CreateCard(ctx, board.ID, done.ID, title, desc); err != nil {
			return fmt.Errorf("%w: card creation %q: %v", ErrSyncFailed, ref, err)
		}
		return nil
	}
	if existing.ListID == done.ID {
		return nil
	}

	if err := e.boards.MoveCard(ctx, board.ID, existing.ListID, existing.ID, done.ID); err != nil {
		return fmt.Errorf("%w: card move %q: %v", ErrSyncFailed, ref, err)
	}
	e.log.Info("card moved to Done", zap.String("ref", ref), zap.String("card_id", existing.ID))
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func issueDescription(issue models.Issue, ref string) string {
	labels := make([]string, 0, len(issue.Labels))
	for _, l := range issue.Labels {
		labels = append(labels, l.Name)
	}
	body := issue.Body
	if body == "" {
		body = "No description provided"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "**GitHub Issue**: %s\n", issue.HTMLURL)
	fmt.Fprintf(&b, "**Author**: %s\n", issue.User.Login)
	fmt.Fprintf(&b, "**State**: %s\n", issue.State)
	fmt.Fprintf(&b, "**Created**: %s\n\n", issue.CreatedAt)
	fmt.Fprintf(&b, "**Description**:\n%s\n\n", body)
	fmt.Fprintf(&b, "**Labels**: %s\n\n", strings.Join(labels, ", "))
	fmt.Fprintf(&b, "Ref: %s", ref)
	return b.String()
}

func prDescription(pr models.PullRequest, ref string) string {
	body := pr.Body
	if body == "" {
		body = "No description provided"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "**GitHub Pull Request**: %s\n", pr.HTMLURL)
	fmt.Fprintf(&b, "**Author**: %s\n", pr.User.Login)
	fmt.Fprintf(&b, "**State**: %s\n", pr.State)
	fmt.Fprintf(&b, "**Base Branch**: %s\n", pr.Base.Ref)
	fmt.Fprintf(&b, "**Head Branch**: %s\n", pr.Head.Ref)
	fmt.Fprintf(&b, "**Created**: %s\n\n", pr.CreatedAt)
	fmt.Fprintf(&b, "**Description**:\n%s\n\n", body)
	fmt.Fprintf(&b, "**Draft**: %t\n\n", pr.Draft)
	fmt.Fprintf(&b, "Ref: %s", ref)
	return b.String()
}

func commitDescription(c models.Commit) string {
	sha := c.ID
	if len(sha) > 8 {
		sha = sha[:8]
	}
	var b strings.Builder
	fmt.Fprintf(&b, "**GitHub Commit**: %s\n", c.URL)
	fmt.Fprintf(&b, "**Author**: %s <%s>\n", c.Author.Name, c.Author.Email)
	fmt.Fprintf(&b, "**Timestamp**: %s\n", c.Timestamp)
	fmt.Fprintf(&b, "**SHA**: %s\n\n", sha)
	fmt.Fprintf(&b, "**Full Message**:\n%s\n\n", c.Message)
	fmt.Fprintf(&b, "**Modified Files**: %d\n", len(c.Modified))
	fmt.Fprintf(&b, "**Added Files**: %d\n", len(c.Added))
	fmt.Fprintf(&b, "**Removed Files**: %d\n\n", len(c.Removed))
	fmt.Fprintf(&b, "Ref: %s", c.ID)
	return b.String()
}

func repoDescription(repo models.Repository, ref string) string {
	desc := repo.Description
	if desc == "" {
		desc = "No description"
	}
	lang := repo.Language
	if lang == "" {
		lang = "Unknown"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "**Repository**: %s\n", repo.HTMLURL)
	fmt.Fprintf(&b, "**Description**: %s\n", desc)
	fmt.Fprintf(&b, "**Language**: %s\n", lang)
	fmt.Fprintf(&b, "**Private**: %t\n", repo.Private)
	fmt.Fprintf(&b, "**Created**: %s\n\n", repo.CreatedAt)
	fmt.Fprintf(&b, "Initial setup tasks for the new repository.\n\n")
	fmt.Fprintf(&b, "Ref: %s", ref)
	return b.String()
}
