package boardsync

import (
	"context"
	"fmt"
	"testing"

	"github.com/nicedev/wekan-github-sync/integrations"
	"github.com/nicedev/wekan-github-sync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeBoards is an in-memory BoardService with the same find-or-create
// semantics as the real client.
type fakeBoards struct {
	seq    int
	boards map[string]*integrations.Board   // title -> board
	lists  map[string][]*integrations.List  // board id -> lists
	cards  map[string][]*integrations.Card  // board id -> cards

	createCardErr error
	lookupErr     error
}

func newFakeBoards() *fakeBoards {
	return &fakeBoards{
		boards: map[string]*integrations.Board{},
		lists:  map[string][]*integrations.List{},
		cards:  map[string][]*integrations.Card{},
	}
}

func (f *fakeBoards) nextID(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s-%d", prefix, f.seq)
}

func (f *fakeBoards) GetOrCreateBoard(_ context.Context, title string) (*integrations.Board, error) {
	if b, ok := f.boards[title]; ok {
		return b, nil
	}
	b := &integrations.Board{ID: f.nextID("board"), Title: title}
	f.boards[title] = b
	return b, nil
}

func (f *fakeBoards) EnsureList(_ context.Context, boardID, name string) (*integrations.List, error) {
	for _, l := range f.lists[boardID] {
		if l.Title == name {
			return l, nil
		}
	}
	l := &integrations.List{ID: f.nextID("list"), Title: name}
	f.lists[boardID] = append(f.lists[boardID], l)
	return l, nil
}

func (f *fakeBoards) FindCardByReference(_ context.Context, boardID, ref string) (*integrations.Card, error) {
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	for _, c := range f.cards[boardID] {
		if integrations.HasReference(c.Description, ref) {
			return c, nil
		}
	}
	return nil, nil
}

func (f *fakeBoards) CreateCard(_ context.Context, boardID, listID, title, description string) (*integrations.Card, error) {
	if f.createCardErr != nil {
		return nil, f.createCardErr
	}
	c := &integrations.Card{ID: f.nextID("card"), ListID: listID, Title: title, Description: description}
	f.cards[boardID] = append(f.cards[boardID], c)
	return c, nil
}

func (f *fakeBoards) MoveCard(_ context.Context, boardID, listID, cardID, targetListID string) error {
	for _, c := range f.cards[boardID] {
		if c.ID == cardID {
			c.ListID = targetListID
			return nil
		}
	}
	return fmt.Errorf("card %s not found", cardID)
}

func (f *fakeBoards) UpdateCard(_ context.Context, boardID, listID, cardID, title, description string) error {
	for _, c := range f.cards[boardID] {
		if c.ID == cardID {
			c.Title = title
			c.Description = description
			return nil
		}
	}
	return fmt.Errorf("card %s not found", cardID)
}

func (f *fakeBoards) listByName(boardID, name string) *integrations.List {
	for _, l := range f.lists[boardID] {
		if l.Title == name {
			return l
		}
	}
	return nil
}

func (f *fakeBoards) cardsIn(boardID, listID string) []*integrations.Card {
	var out []*integrations.Card
	for _, c := range f.cards[boardID] {
		if c.ListID == listID {
			out = append(out, c)
		}
	}
	return out
}

func issueEvent(action string) *models.IssuesEvent {
	return &models.IssuesEvent{
		Action: action,
		Issue: models.Issue{
			Number:  123,
			Title:   "Bug",
			HTMLURL: "https://github.com/acme/demo/issues/123",
			User:    models.User{Login: "alice"},
			State:   "open",
		},
		Repository: models.Repository{Name: "demo"},
	}
}

func TestIssueOpenedCreatesCardInToDo(t *testing.T) {
	f := newFakeBoards()
	e := New(f, zap.NewNop())

	require.NoError(t, e.HandleIssues(context.Background(), issueEvent("opened")))

	board := f.boards["GitHub Issues - demo"]
	require.NotNil(t, board, "board created from repository name")

	for _, name := range []string{"Backlog", "To Do", "In Progress", "Done"} {
		assert.NotNil(t, f.listByName(board.ID, name), "standard list %q provisioned", name)
	}

	todo := f.listByName(board.ID, "To Do")
	cards := f.cardsIn(board.ID, todo.ID)
	require.Len(t, cards, 1)
	assert.Equal(t, "Issue #123: Bug", cards[0].Title)
	assert.Contains(t, cards[0].Description, "https://github.com/acme/demo/issues/123")
}

func TestIssueOpenedRedeliveryIsIdempotent(t *testing.T) {
	f := newFakeBoards()
	e := New(f, zap.NewNop())

	require.NoError(t, e.HandleIssues(context.Background(), issueEvent("opened")))
	require.NoError(t, e.HandleIssues(context.Background(), issueEvent("opened")))

	board := f.boards["GitHub Issues - demo"]
	assert.Len(t, f.cards[board.ID], 1, "redelivery must not duplicate the card")
}

func TestIssuesWithPrefixedNumbersGetDistinctCards(t *testing.T) {
	f := newFakeBoards()
	e := New(f, zap.NewNop())

	second := issueEvent("opened")
	second.Issue.Number = 12
	second.Issue.HTMLURL = "https://github.com/acme/demo/issues/12"
	require.NoError(t, e.HandleIssues(context.Background(), second))

	first := issueEvent("opened")
	first.Issue.Number = 1
	first.Issue.HTMLURL = "https://github.com/acme/demo/issues/1"
	require.NoError(t, e.HandleIssues(context.Background(), first))

	board := f.boards["GitHub Issues - demo"]
	require.Len(t, f.cards[board.ID], 2, "issue #1 must not claim issue #12's card")

	// Closing #1 must leave #12 in To Do.
	first.Action = "closed"
	require.NoError(t, e.HandleIssues(context.Background(), first))
	done := f.listByName(board.ID, "Done")
	cards := f.cardsIn(board.ID, done.ID)
	require.Len(t, cards, 1)
	assert.Equal(t, "Issue #1: Bug", cards[0].Title)
}

func TestIssueClosedMovesCardToDone(t *testing.T) {
	f := newFakeBoards()
	e := New(f, zap.NewNop())

	require.NoError(t, e.HandleIssues(context.Background(), issueEvent("opened")))
	require.NoError(t, e.HandleIssues(context.Background(), issueEvent("closed")))

	board := f.boards["GitHub Issues - demo"]
	todo := f.listByName(board.ID, "To Do")
	done := f.listByName(board.ID, "Done")

	assert.Len(t, f.cardsIn(board.ID, todo.ID), 0)
	assert.Len(t, f.cardsIn(board.ID, done.ID), 1)
	assert.Len(t, f.cards[board.ID], 1, "total card count unchanged by the move")
}

func TestIssueClosedTwiceStaysPut(t *testing.T) {
	f := newFakeBoards()
	e := New(f, zap.NewNop())

	require.NoError(t, e.HandleIssues(context.Background(), issueEvent("opened")))
	require.NoError(t, e.HandleIssues(context.Background(), issueEvent("closed")))
	require.NoError(t, e.HandleIssues(context.Background(), issueEvent("closed")))

	board := f.boards["GitHub Issues - demo"]
	assert.Len(t, f.cards[board.ID], 1)
}

func TestIssueEditedUpdatesInPlace(t *testing.T) {
	f := newFakeBoards()
	e := New(f, zap.NewNop())

	require.NoError(t, e.HandleIssues(context.Background(), issueEvent("opened")))

	edited := issueEvent("edited")
	edited.Issue.Title = "Bug (revised)"
	require.NoError(t, e.HandleIssues(context.Background(), edited))

	board := f.boards["GitHub Issues - demo"]
	require.Len(t, f.cards[board.ID], 1)
	assert.Equal(t, "Issue #123: Bug (revised)", f.cards[board.ID][0].Title)
}

func TestIssueEditedBeforeOpenedCreates(t *testing.T) {
	f := newFakeBoards()
	e := New(f, zap.NewNop())

	require.NoError(t, e.HandleIssues(context.Background(), issueEvent("edited")))

	board := f.boards["GitHub Issues - demo"]
	require.Len(t, f.cards[board.ID], 1, "out-of-order edit treated as opened")
}

func TestIssueClosedBeforeOpenedCreatesInDone(t *testing.T) {
	f := newFakeBoards()
	e := New(f, zap.NewNop())

	require.NoError(t, e.HandleIssues(context.Background(), issueEvent("closed")))

	board := f.boards["GitHub Issues - demo"]
	done := f.listByName(board.ID, "Done")
	assert.Len(t, f.cardsIn(board.ID, done.ID), 1)
}

func TestIssueUnhandledActionNoMutation(t *testing.T) {
	f := newFakeBoards()
	e := New(f, zap.NewNop())

	require.NoError(t, e.HandleIssues(context.Background(), issueEvent("labeled")))
	assert.Empty(t, f.boards)
}

func TestPullRequestOpened(t *testing.T) {
	f := newFakeBoards()
	e := New(f, zap.NewNop())

	ev := &models.PullRequestEvent{
		Action: "opened",
		PullRequest: models.PullRequest{
			Number:  42,
			Title:   "Add feature",
			HTMLURL: "https://github.com/acme/demo/pull/42",
			User:    models.User{Login: "bob"},
			Base:    models.BranchRef{Ref: "main"},
			Head:    models.BranchRef{Ref: "feature"},
		},
		Repository: models.Repository{Name: "demo"},
	}
	require.NoError(t, e.HandlePullRequest(context.Background(), ev))

	board := f.boards["GitHub PRs - demo"]
	require.NotNil(t, board)
	todo := f.listByName(board.ID, "To Do")
	cards := f.cardsIn(board.ID, todo.ID)
	require.Len(t, cards, 1)
	assert.Equal(t, "PR #42: Add feature", cards[0].Title)
}

func pushEvent(ref string, count int) *models.PushEvent {
	ev := &models.PushEvent{Ref: ref, Repository: models.Repository{Name: "demo"}}
	for i := 0; i < count; i++ {
		ev.Commits = append(ev.Commits, models.Commit{
			ID:      fmt.Sprintf("sha-%02d", i),
			Message: fmt.Sprintf("commit %d\n\nbody", i),
			URL:     fmt.Sprintf("https://github.com/acme/demo/commit/sha-%02d", i),
			Author:  models.CommitAuthor{Name: "Alice", Email: "a@example.com"},
		})
	}
	return ev
}

func TestPushCreatesCommitCardsInDone(t *testing.T) {
	f := newFakeBoards()
	e := New(f, zap.NewNop())

	require.NoError(t, e.HandlePush(context.Background(), pushEvent("refs/heads/main", 3)))

	board := f.boards["GitHub Commits - demo"]
	require.NotNil(t, board)
	done := f.listByName(board.ID, "Done")
	assert.Len(t, f.cardsIn(board.ID, done.ID), 3)
}

func TestPushCapsAtFiveNewestCommits(t *testing.T) {
	f := newFakeBoards()
	e := New(f, zap.NewNop())

	require.NoError(t, e.HandlePush(context.Background(), pushEvent("refs/heads/main", 8)))

	board := f.boards["GitHub Commits - demo"]
	cards := f.cards[board.ID]
	require.Len(t, cards, 5)
	// Newest commits kept: sha-03..sha-07 survive the cap.
	for _, c := range cards {
		assert.NotContains(t, c.Description, "Ref: sha-00")
		assert.NotContains(t, c.Description, "Ref: sha-01")
		assert.NotContains(t, c.Description, "Ref: sha-02")
	}
}

func TestPushRedeliverySkipsExistingCommits(t *testing.T) {
	f := newFakeBoards()
	e := New(f, zap.NewNop())

	require.NoError(t, e.HandlePush(context.Background(), pushEvent("refs/heads/main", 2)))
	require.NoError(t, e.HandlePush(context.Background(), pushEvent("refs/heads/main", 2)))

	board := f.boards["GitHub Commits - demo"]
	assert.Len(t, f.cards[board.ID], 2)
}

func TestPushToFeatureBranchIgnored(t *testing.T) {
	f := newFakeBoards()
	e := New(f, zap.NewNop())

	require.NoError(t, e.HandlePush(context.Background(), pushEvent("refs/heads/feature", 2)))
	assert.Empty(t, f.boards)
}

func TestPushPartialFailureContinues(t *testing.T) {
	f := newFakeBoards()
	e := New(f, zap.NewNop())

	f.createCardErr = fmt.Errorf("boom")
	require.NoError(t, e.HandlePush(context.Background(), pushEvent("refs/heads/main", 3)),
		"per-commit failures are logged, not surfaced")

	board := f.boards["GitHub Commits - demo"]
	assert.Empty(t, f.cards[board.ID])
}

func TestRepositoryCreatedProvisionsProjectBoard(t *testing.T) {
	f := newFakeBoards()
	e := New(f, zap.NewNop())

	ev := &models.RepositoryEvent{
		Action: "created",
		Repository: models.Repository{
			Name:    "demo",
			HTMLURL: "https://github.com/acme/demo",
			Private: true,
		},
	}
	require.NoError(t, e.HandleRepository(context.Background(), ev))

	board := f.boards["Project - demo"]
	require.NotNil(t, board)
	todo := f.listByName(board.ID, "To Do")
	cards := f.cardsIn(board.ID, todo.ID)
	require.Len(t, cards, 1)
	assert.Equal(t, "Repository Setup", cards[0].Title)
}

func TestRepositoryCreatedRaceYieldsOneBoard(t *testing.T) {
	f := newFakeBoards()
	e := New(f, zap.NewNop())

	ev := &models.RepositoryEvent{
		Action:     "created",
		Repository: models.Repository{Name: "demo", HTMLURL: "https://github.com/acme/demo"},
	}
	require.NoError(t, e.HandleRepository(context.Background(), ev))
	require.NoError(t, e.HandleRepository(context.Background(), ev))

	assert.Len(t, f.boards, 1)
	board := f.boards["Project - demo"]
	assert.Len(t, f.cards[board.ID], 1)
}

func TestDownstreamFailureWrapsSyncFailed(t *testing.T) {
	f := newFakeBoards()
	f.lookupErr = fmt.Errorf("wekan transient error: status=503")
	e := New(f, zap.NewNop())

	err := e.HandleIssues(context.Background(), issueEvent("opened"))
	require.ErrorIs(t, err, ErrSyncFailed)
}
