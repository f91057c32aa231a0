package integrations

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

type Board struct {
	ID    string `json:"_id"`
	Title string `json:"title"`
}

type List struct {
	ID    string `json:"_id"`
	Title string `json:"title"`
}

type Card struct {
	ID          string `json:"_id"`
	ListID      string `json:"-"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

type Swimlane struct {
	ID string `json:"_id"`
}

// WekanClient wraps the WeKan REST API with idempotent find-or-create
// operations. Every call goes through the shared retry policy; a 401 gets one
// session refresh and one further try before surfacing an AuthError.
type WekanClient struct {
	baseURL    string
	session    *Session
	http       *http.Client
	retry      RetryPolicy
	log        *zap.Logger
	color      string
	permission string
}

func NewWekanClient(baseURL string, session *Session, retry RetryPolicy, timeout time.Duration, color, permission string, log *zap.Logger) *WekanClient {
	return &WekanClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		session:    session,
		http:       &http.Client{Timeout: timeout},
		retry:      retry,
		log:        log,
		color:      color,
		permission: permission,
	}
}

// doJSON performs one API call under the retry policy. The re-authentication
// budget is one per call, shared across retry attempts.
func (c *WekanClient) doJSON(ctx context.Context, method, path string, body any, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
	}

	reauthed := false
	attempt := func() error {
		resp, err := c.send(ctx, method, path, payload)
		if err != nil {
			return err
		}

		if resp.StatusCode == http.StatusUnauthorized && !reauthed {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			reauthed = true
			c.session.Invalidate()
			c.log.Warn("wekan returned 401, refreshing session", zap.String("path", path))
			resp, err = c.send(ctx, method, path, payload)
			if err != nil {
				return err
			}
		}

		defer resp.Body.Close()
		raw, _ := io.ReadAll(resp.Body)
		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
			return classifyStatus(resp.StatusCode, strings.TrimSpace(string(raw)))
		}
		if out != nil && len(raw) > 0 {
			if err := json.Unmarshal(raw, out); err != nil {
				return fmt.Errorf("decoding %s %s response: %w", method, path, err)
			}
		}
		return nil
	}

	return c.retry.Do(ctx, attempt)
}

func (c *WekanClient) send(ctx context.Context, method, path string, payload []byte) (*http.Response, error) {
	token, err := c.session.Token(ctx)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/api"+path, body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransientError{Err: fmt.Errorf("%s %s: %w", method, path, err)}
	}
	return resp, nil
}

// FindBoardByTitle scans the authenticated user's boards. Returns nil when no
// board carries the title.
func (c *WekanClient) FindBoardByTitle(ctx context.Context, title string) (*Board, error) {
	userID, err := c.session.UserID(ctx)
	if err != nil {
		return nil, err
	}

	var boards []Board
	if err := c.doJSON(ctx, http.MethodGet, "/users/"+url.PathEscape(userID)+"/boards", nil, &boards); err != nil {
		return nil, err
	}
	for i := range boards {
		if boards[i].Title == title {
			return &boards[i], nil
		}
	}
	return nil, nil
}

func (c *WekanClient) CreateBoard(ctx context.Context, title string) (*Board, error) {
	userID, err := c.session.UserID(ctx)
	if err != nil {
		return nil, err
	}

	req := map[string]any{
		"title":      title,
		"owner":      userID,
		"permission": c.permission,
		"color":      c.color,
	}
	var board Board
	if err := c.doJSON(ctx, http.MethodPost, "/boards", req, &board); err != nil {
		return nil, err
	}
	board.Title = title
	c.log.Info("created wekan board", zap.String("board_id", board.ID), zap.String("title", title))
	return &board, nil
}

// GetOrCreateBoard finds first and creates only if absent. A conflict on
// create means a concurrent caller won the race; it is resolved by a second
// find rather than surfaced.
func (c *WekanClient) GetOrCreateBoard(ctx context.Context, title string) (*Board, error) {
	board, err := c.FindBoardByTitle(ctx, title)
	if err != nil {
		return nil, err
	}
	if board != nil {
		return board, nil
	}

	board, err = c.CreateBoard(ctx, title)
	var conflict *ConflictError
	if errors.As(err, &conflict) {
		c.log.Info("board already exists, re-resolving", zap.String("title", title))
		board, err = c.FindBoardByTitle(ctx, title)
		if err != nil {
			return nil, err
		}
		if board == nil {
			return nil, conflict
		}
		return board, nil
	}
	if err != nil {
		return nil, err
	}
	return board, nil
}

func (c *WekanClient) Lists(ctx context.Context, boardID string) ([]List, error) {
	var lists []List
	if err := c.doJSON(ctx, http.MethodGet, "/boards/"+url.PathEscape(boardID)+"/lists", nil, &lists); err != nil {
		return nil, err
	}
	return lists, nil
}

func (c *WekanClient) FindListByName(ctx context.Context, boardID, name string) (*List, error) {
	lists, err := c.Lists(ctx, boardID)
	if err != nil {
		return nil, err
	}
	for i := range lists {
		if lists[i].Title == name {
			return &lists[i], nil
		}
	}
	return nil, nil
}

func (c *WekanClient) CreateList(ctx context.Context, boardID, name string) (*List, error) {
	var list List
	if err := c.doJSON(ctx, http.MethodPost, "/boards/"+url.PathEscape(boardID)+"/lists", map[string]string{"title": name}, &list); err != nil {
		return nil, err
	}
	list.Title = name
	return &list, nil
}

// EnsureList is find-or-create for lists, with the same conflict re-resolve
// semantics as GetOrCreateBoard.
func (c *WekanClient) EnsureList(ctx context.Context, boardID, name string) (*List, error) {
	list, err := c.FindListByName(ctx, boardID, name)
	if err != nil {
		return nil, err
	}
	if list != nil {
		return list, nil
	}

	list, err = c.CreateList(ctx, boardID, name)
	var conflict *ConflictError
	if errors.As(err, &conflict) {
		list, err = c.FindListByName(ctx, boardID, name)
		if err != nil {
			return nil, err
		}
		if list == nil {
			return nil, conflict
		}
		return list, nil
	}
	if err != nil {
		return nil, err
	}
	return list, nil
}

func (c *WekanClient) defaultSwimlane(ctx context.Context, boardID string) (string, error) {
	var lanes []Swimlane
	if err := c.doJSON(ctx, http.MethodGet, "/boards/"+url.PathEscape(boardID)+"/swimlanes", nil, &lanes); err != nil {
		return "", err
	}
	if len(lanes) == 0 {
		return "", &APIError{Status: http.StatusNotFound, Body: "board has no swimlanes"}
	}
	return lanes[0].ID, nil
}

func (c *WekanClient) CreateCard(ctx context.Context, boardID, listID, title, description string) (*Card, error) {
	userID, err := c.session.UserID(ctx)
	if err != nil {
		return nil, err
	}
	swimlaneID, err := c.defaultSwimlane(ctx, boardID)
	if err != nil {
		return nil, err
	}

	req := map[string]any{
		"title":       title,
		"description": description,
		"authorId":    userID,
		"swimlaneId":  swimlaneID,
	}
	var card Card
	path := "/boards/" + url.PathEscape(boardID) + "/lists/" + url.PathEscape(listID) + "/cards"
	if err := c.doJSON(ctx, http.MethodPost, path, req, &card); err != nil {
		return nil, err
	}
	card.ListID = listID
	card.Title = title
	card.Description = description
	return &card, nil
}

func (c *WekanClient) Cards(ctx context.Context, boardID, listID string) ([]Card, error) {
	var cards []Card
	path := "/boards/" + url.PathEscape(boardID) + "/lists/" + url.PathEscape(listID) + "/cards"
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &cards); err != nil {
		return nil, err
	}
	for i := range cards {
		cards[i].ListID = listID
	}
	return cards, nil
}

// FindCardByReference scans every list on the board for the card whose
// description's trailing "Ref:" line carries exactly this reference. The
// reference is the idempotency key that makes redelivered events safe, so the
// match must be exact: issue URLs are prefixes of each other (/issues/1 vs
// /issues/12) and references can appear verbatim inside a card's body text.
func (c *WekanClient) FindCardByReference(ctx context.Context, boardID, reference string) (*Card, error) {
	lists, err := c.Lists(ctx, boardID)
	if err != nil {
		return nil, err
	}
	for _, list := range lists {
		cards, err := c.Cards(ctx, boardID, list.ID)
		if err != nil {
			return nil, err
		}
		for i := range cards {
			if HasReference(cards[i].Description, reference) {
				return &cards[i], nil
			}
		}
	}
	return nil, nil
}

// HasReference reports whether the description's final "Ref:" line equals the
// reference.
func HasReference(description, reference string) bool {
	line := "Ref: " + reference
	return description == line || strings.HasSuffix(description, "\n"+line)
}

// MoveCard relocates a card to another list. WeKan edits cards through a PUT
// addressed by the card's current list; the move itself rides in newListId.
func (c *WekanClient) MoveCard(ctx context.Context, boardID, listID, cardID, targetListID string) error {
	req := map[string]string{
		"newListId": targetListID,
	}
	path := "/boards/" + url.PathEscape(boardID) + "/lists/" + url.PathEscape(listID) + "/cards/" + url.PathEscape(cardID)
	return c.doJSON(ctx, http.MethodPut, path, req, nil)
}

// UpdateCard rewrites a card's title and description in place.
func (c *WekanClient) UpdateCard(ctx context.Context, boardID, listID, cardID, title, description string) error {
	req := map[string]string{
		"title":       title,
		"description": description,
	}
	path := "/boards/" + url.PathEscape(boardID) + "/lists/" + url.PathEscape(listID) + "/cards/" + url.PathEscape(cardID)
	return c.doJSON(ctx, http.MethodPut, path, req, nil)
}
