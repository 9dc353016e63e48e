package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/html"

	"github.com/xsentiment/sentiment-bot/internal/metrics"
	"github.com/xsentiment/sentiment-bot/internal/models"
	"github.com/xsentiment/sentiment-bot/internal/storage"
)

// DefaultBaseURL is the X API v2 root
const DefaultBaseURL = "https://api.twitter.com/2"

const (
	minResults = 10
	maxResults = 100
)

// Config holds X API collection settings
type Config struct {
	BaseURL     string
	BearerToken string
	MaxResults  int           // per page, clamped to [10, 100]
	MaxPages    int           // pages followed per topic, at least 1
	TopicDelay  time.Duration // pause between topic searches
}

// Collector searches X for each topic and stores posts, authors and engagement
type Collector struct {
	repo   storage.Repository
	client *resty.Client
	clock  clockwork.Clock
	config Config
}

type searchResponse struct {
	Data     []xTweet `json:"data"`
	Includes struct {
		Users []xUser `json:"users"`
	} `json:"includes"`
	Meta struct {
		ResultCount int    `json:"result_count"`
		NextToken   string `json:"next_token"`
	} `json:"meta"`
}

type xTweet struct {
	ID            string `json:"id"`
	Text          string `json:"text"`
	AuthorID      string `json:"author_id"`
	CreatedAt     string `json:"created_at"`
	Lang          string `json:"lang"`
	PublicMetrics struct {
		RetweetCount int `json:"retweet_count"`
		LikeCount    int `json:"like_count"`
		ReplyCount   int `json:"reply_count"`
		QuoteCount   int `json:"quote_count"`
	} `json:"public_metrics"`
	ReferencedTweets []struct {
		Type string `json:"type"`
		ID   string `json:"id"`
	} `json:"referenced_tweets"`
}

type xUser struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	Name          string `json:"name"`
	Description   string `json:"description"`
	Verified      bool   `json:"verified"`
	CreatedAt     string `json:"created_at"`
	PublicMetrics struct {
		FollowersCount int `json:"followers_count"`
		FollowingCount int `json:"following_count"`
	} `json:"public_metrics"`
}

// TopicResult counts what one topic search produced
type TopicResult struct {
	Topic       models.Topic `json:"topic"`
	Fetched     int          `json:"fetched"`
	Stored      int          `json:"stored"`
	Duplicates  int          `json:"duplicates"`
	Skipped     int          `json:"skipped"`
	RateLimited bool         `json:"rate_limited"`
}

// Summary is the outcome of collecting every topic
type Summary struct {
	Topics  []TopicResult `json:"topics"`
	Fetched int           `json:"fetched"`
	Stored  int           `json:"stored"`
	Errors  []string      `json:"errors,omitempty"`
}

// New creates an X collector
func New(repo storage.Repository, cfg Config, clock clockwork.Clock) *Collector {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.MaxResults < minResults {
		cfg.MaxResults = minResults
	}
	if cfg.MaxResults > maxResults {
		cfg.MaxResults = maxResults
	}
	if cfg.MaxPages < 1 {
		cfg.MaxPages = 1
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &Collector{
		repo:   repo,
		clock:  clock,
		config: cfg,
		client: resty.New().
			SetBaseURL(cfg.BaseURL).
			SetTimeout(30*time.Second).
			SetAuthToken(cfg.BearerToken).
			SetHeader("User-Agent", "Sentiment-Bot/1.0"),
	}
}

// IsEnabled reports whether a bearer token is configured
func (c *Collector) IsEnabled() bool {
	return c.config.BearerToken != ""
}

// Collect searches every topic for posts created after since. A failing topic is logged and
// recorded; the others still run.
func (c *Collector) Collect(ctx context.Context, topics []models.Topic, since time.Time, batchJobID string) (*Summary, error) {
	summary := &Summary{}
	if !c.IsEnabled() {
		logrus.Debug("X collector disabled - missing bearer token")
		return summary, nil
	}

	for i, topic := range topics {
		if i > 0 && c.config.TopicDelay > 0 {
			logrus.Debugf("Waiting %s before searching %s to avoid X rate limits", c.config.TopicDelay, topic)
			select {
			case <-ctx.Done():
				return summary, ctx.Err()
			case <-c.clock.After(c.config.TopicDelay):
			}
		}

		result, err := c.CollectTopic(ctx, topic, since, batchJobID)
		if err != nil {
			if ctx.Err() != nil {
				return summary, ctx.Err()
			}
			logrus.WithField("topic", topic).Errorf("Failed to collect posts: %v", err)
			summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %v", topic, err))
			continue
		}

		summary.Topics = append(summary.Topics, *result)
		summary.Fetched += result.Fetched
		summary.Stored += result.Stored
	}

	logrus.Infof("Collection finished: %d fetched, %d new posts stored", summary.Fetched, summary.Stored)
	return summary, nil
}

// CollectTopic runs the topic's search query and stores the results
func (c *Collector) CollectTopic(ctx context.Context, topic models.Topic, since time.Time, batchJobID string) (*TopicResult, error) {
	result := &TopicResult{Topic: topic}
	logger := logrus.WithField("topic", topic)

	nextToken := ""
	for page := 0; page < c.config.MaxPages; page++ {
		resp, err := c.search(ctx, topic.SearchQuery(), since, nextToken)
		if errors.Is(err, errRateLimited) {
			// Keep what was stored so far; the next run picks up the rest
			logger.Warn("X API rate limit hit, skipping the rest of this topic")
			result.RateLimited = true
			break
		}
		if err != nil {
			return result, err
		}

		c.store(resp, topic, batchJobID, result)

		nextToken = resp.Meta.NextToken
		if nextToken == "" {
			break
		}
	}

	metrics.PostsCollectedTotal.WithLabelValues(string(topic)).Add(float64(result.Stored))
	logger.Infof("Found %d posts, stored %d new", result.Fetched, result.Stored)
	return result, nil
}

// Probe runs one search page for topic without storing anything and returns the number
// of posts the API answered with
func (c *Collector) Probe(ctx context.Context, topic models.Topic) (int, error) {
	if !c.IsEnabled() {
		return 0, errors.New("X_BEARER_TOKEN not set")
	}
	resp, err := c.search(ctx, topic.SearchQuery(), c.clock.Now().Add(-time.Hour), "")
	if err != nil {
		return 0, err
	}
	return len(resp.Data), nil
}

var errRateLimited = errors.New("x api rate limited")

func (c *Collector) search(ctx context.Context, query string, since time.Time, nextToken string) (*searchResponse, error) {
	params := map[string]string{
		"query":        query,
		"max_results":  strconv.Itoa(c.config.MaxResults),
		"start_time":   since.UTC().Format(time.RFC3339),
		"tweet.fields": "created_at,author_id,public_metrics,lang,referenced_tweets",
		"expansions":   "author_id",
		"user.fields":  "username,name,verified,public_metrics,created_at,description",
	}
	if nextToken != "" {
		params["next_token"] = nextToken
	}

	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParams(params).
		Get("/tweets/search/recent")
	if err != nil {
		return nil, err
	}

	if resp.StatusCode() == http.StatusTooManyRequests {
		if reset := resp.Header().Get("x-rate-limit-reset"); reset != "" {
			logrus.Infof("X rate limit will reset at: %s", reset)
		}
		return nil, errRateLimited
	}

	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("x API returned status %d: %s", resp.StatusCode(), string(resp.Body()))
	}

	var out searchResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, fmt.Errorf("failed to parse X response: %w", err)
	}
	return &out, nil
}

func (c *Collector) store(resp *searchResponse, topic models.Topic, batchJobID string, result *TopicResult) {
	users := make(map[string]xUser, len(resp.Includes.Users))
	for _, u := range resp.Includes.Users {
		users[u.ID] = u
	}

	now := c.clock.Now().UTC()

	for _, tweet := range resp.Data {
		result.Fetched++
		logger := logrus.WithFields(logrus.Fields{"topic": topic, "post_id": tweet.ID})

		if isRetweet(tweet) {
			result.Skipped++
			continue
		}

		user, ok := users[tweet.AuthorID]
		if !ok {
			logger.Debug("Skipping post without author expansion")
			result.Skipped++
			continue
		}

		createdAt, err := time.Parse(time.RFC3339, tweet.CreatedAt)
		if err != nil {
			logger.Errorf("Failed to parse X timestamp: %v", err)
			result.Skipped++
			continue
		}

		if err := c.repo.UpsertAuthor(toAuthor(user, now)); err != nil {
			logger.Errorf("Failed to store author: %v", err)
			result.Skipped++
			continue
		}

		post := &models.Post{
			ID:          tweet.ID,
			AuthorID:    tweet.AuthorID,
			Text:        html.UnescapeString(tweet.Text),
			Language:    tweet.Lang,
			CreatedAt:   createdAt.UTC(),
			CollectedAt: now,
			BatchJobID:  batchJobID,
		}

		err = c.repo.InsertPost(post)
		switch {
		case errors.Is(err, storage.ErrDuplicate):
			result.Duplicates++
		case err != nil:
			logger.Errorf("Failed to store post: %v", err)
			result.Skipped++
			continue
		default:
			result.Stored++
			engagement := &models.Engagement{
				PostID:  tweet.ID,
				Likes:   tweet.PublicMetrics.LikeCount,
				Reposts: tweet.PublicMetrics.RetweetCount,
				Replies: tweet.PublicMetrics.ReplyCount,
				Quotes:  tweet.PublicMetrics.QuoteCount,
			}
			if err := c.repo.InsertEngagement(engagement); err != nil && !errors.Is(err, storage.ErrDuplicate) {
				logger.Errorf("Failed to store engagement: %v", err)
			}
		}

		// A post returned by several topic queries belongs to each of them
		if err := c.repo.TagPost(tweet.ID, topic); err != nil {
			logger.Errorf("Failed to tag post: %v", err)
		}
	}
}

func toAuthor(u xUser, now time.Time) *models.Author {
	author := &models.Author{
		ID:             u.ID,
		Username:       u.Username,
		DisplayName:    html.UnescapeString(u.Name),
		Description:    html.UnescapeString(u.Description),
		FollowersCount: u.PublicMetrics.FollowersCount,
		FollowingCount: u.PublicMetrics.FollowingCount,
		Verified:       u.Verified,
		FirstSeen:      now,
		LastUpdated:    now,
	}
	if created, err := time.Parse(time.RFC3339, u.CreatedAt); err == nil {
		author.AccountCreatedAt = created.UTC()
	}
	return author
}

func isRetweet(tweet xTweet) bool {
	for _, ref := range tweet.ReferencedTweets {
		if ref.Type == "retweeted" {
			return true
		}
	}
	return false
}
