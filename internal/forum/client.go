// Package forum is a small Discourse API client covering the calls the review
// workflow needs: topic and post writes, user lookups and reaction lists.
package forum

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const maxResponseSize = 4 * 1024 * 1024

// Config holds the settings for a Client.
type Config struct {
	// BaseURL is the forum root, e.g. "https://talk.codea.io".
	BaseURL string

	APIKey   string
	Username string

	// CategoryID is assigned to new topics.
	CategoryID int

	// WriteInterval spaces topic/post writes. Defaults to 5s.
	WriteInterval time.Duration

	// HTTPClient defaults to a client with a 30s timeout.
	HTTPClient *http.Client

	// Clock drives the rate limiter. Defaults to RealClock().
	Clock Clock

	// AllowInsecure permits an http:// BaseURL. Only tests set it.
	AllowInsecure bool
}

// Client talks to one forum. Write calls share one RateLimiter.
type Client struct {
	baseURL    string
	apiKey     string
	username   string
	categoryID int
	httpClient *http.Client
	limiter    *RateLimiter
}

func NewClient(config Config) (*Client, error) {
	baseURL := strings.TrimRight(config.BaseURL, "/")
	if baseURL == "" {
		return nil, fmt.Errorf("forum: base URL is required")
	}
	if !strings.HasPrefix(baseURL, "https://") && !config.AllowInsecure {
		return nil, fmt.Errorf("forum: API client requires HTTPS (got %q)", baseURL)
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     config.APIKey,
		username:   config.Username,
		categoryID: config.CategoryID,
		httpClient: httpClient,
		limiter:    NewRateLimiter(config.WriteInterval, config.Clock),
	}, nil
}

// BaseURL returns the forum root used for topic links.
func (c *Client) BaseURL() string {
	return c.baseURL
}

type postResponse struct {
	ID      int64 `json:"id"`
	TopicID int64 `json:"topic_id"`
}

// CreateTopic opens a new topic in the configured category and returns the
// topic id and the id of its first post.
func (c *Client) CreateTopic(ctx context.Context, title, body string) (int64, int64, error) {
	payload := map[string]any{
		"title":    EscapeNonASCII(title),
		"raw":      EscapeNonASCII(body),
		"category": c.categoryID,
	}
	var response postResponse
	if err := c.do(ctx, http.MethodPost, "/posts.json", payload, true, &response); err != nil {
		return 0, 0, fmt.Errorf("create topic: %w", err)
	}
	return response.TopicID, response.ID, nil
}

// CreatePost replies in an existing topic.
func (c *Client) CreatePost(ctx context.Context, topicID int64, body string) (int64, error) {
	payload := map[string]any{
		"raw":      EscapeNonASCII(body),
		"topic_id": topicID,
	}
	var response postResponse
	if err := c.do(ctx, http.MethodPost, "/posts.json", payload, true, &response); err != nil {
		return 0, fmt.Errorf("create post in topic %d: %w", topicID, err)
	}
	return response.ID, nil
}

// EditPost replaces a post's body.
func (c *Client) EditPost(ctx context.Context, postID int64, body string) error {
	payload := map[string]any{
		"post": map[string]any{
			"raw":         EscapeNonASCII(body),
			"edit_reason": "Submission revised.",
		},
	}
	if err := c.do(ctx, http.MethodPut, fmt.Sprintf("/posts/%d.json", postID), payload, true, nil); err != nil {
		return fmt.Errorf("edit post %d: %w", postID, err)
	}
	return nil
}

// Group is a forum group membership.
type Group struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// AdminUser is the admin view of a user, which includes group membership.
type AdminUser struct {
	ID       int64   `json:"id"`
	Username string  `json:"username"`
	Groups   []Group `json:"groups"`
}

// GroupNames lists the user's group names.
func (u AdminUser) GroupNames() []string {
	names := make([]string, 0, len(u.Groups))
	for _, group := range u.Groups {
		names = append(names, group.Name)
	}
	return names
}

// GetUserInfo fetches a user by numeric id through the admin endpoint.
func (c *Client) GetUserInfo(ctx context.Context, userID int64) (AdminUser, error) {
	var user AdminUser
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/admin/users/%d.json", userID), nil, false, &user); err != nil {
		return AdminUser{}, fmt.Errorf("get user %d: %w", userID, err)
	}
	return user, nil
}

// UserProfile is the public profile of a user.
type UserProfile struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
}

// GetUserInfoByName looks a user up by username. The boolean is false when
// the forum has no such user.
func (c *Client) GetUserInfoByName(ctx context.Context, username string) (UserProfile, bool, error) {
	var response struct {
		User *UserProfile `json:"user"`
	}
	err := c.do(ctx, http.MethodGet, "/u/"+url.PathEscape(username)+".json", nil, false, &response)
	if IsNotFound(err) {
		return UserProfile{}, false, nil
	}
	if err != nil {
		return UserProfile{}, false, fmt.Errorf("get user %q: %w", username, err)
	}
	if response.User == nil {
		return UserProfile{}, false, nil
	}
	return *response.User, true, nil
}

// ReactionUser is one user listed under a reaction.
type ReactionUser struct {
	Username string `json:"username"`
	Name     string `json:"name"`
}

// ReactionUsers groups the users who added one emoji reaction.
type ReactionUsers struct {
	ID    string         `json:"id"`
	Count int            `json:"count"`
	Users []ReactionUser `json:"users"`
}

// GetReactionUsers lists every reaction on a post with the users behind it.
func (c *Client) GetReactionUsers(ctx context.Context, postID int64) ([]ReactionUsers, error) {
	var response struct {
		ReactionUsers []ReactionUsers `json:"reaction_users"`
	}
	path := fmt.Sprintf("/discourse-reactions/posts/%d/reactions-users.json", postID)
	if err := c.do(ctx, http.MethodGet, path, nil, false, &response); err != nil {
		return nil, fmt.Errorf("get reactions for post %d: %w", postID, err)
	}
	return response.ReactionUsers, nil
}

// do performs one API request. Write requests wait on the rate limiter
// first. target may be nil when the response body is not needed.
func (c *Client) do(ctx context.Context, method, path string, payload any, write bool, target any) error {
	if write {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("forum: rate limit wait: %w", err)
		}
	}

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("forum: encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("forum: build request: %w", err)
	}
	request.Header.Set("Api-Key", c.apiKey)
	request.Header.Set("Api-Username", c.username)
	request.Header.Set("Accept", "application/json")
	if payload != nil {
		request.Header.Set("Content-Type", "application/json")
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("forum: %s %s: %w", method, path, err)
	}
	defer response.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(response.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("forum: read response: %w", err)
	}

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		var decoded errorBody
		message := http.StatusText(response.StatusCode)
		if json.Unmarshal(raw, &decoded) == nil && decoded.message() != "" {
			message = decoded.message()
		}
		return &APIError{StatusCode: response.StatusCode, Message: message}
	}

	if target == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("forum: decode response: %w", err)
	}
	return nil
}
