package storage

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/sirupsen/logrus"
	"github.com/timshannon/badgerhold/v4"

	"github.com/xsentiment/sentiment-bot/internal/models"
)

// BadgerRepository persists records in an embedded Badger database through badgerhold
type BadgerRepository struct {
	store *badgerhold.Store
	path  string
}

// Ensure BadgerRepository implements Repository
var _ Repository = (*BadgerRepository)(nil)

// NewBadgerRepository opens (or creates) the database at path
func NewBadgerRepository(path string) (*BadgerRepository, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	options := badgerhold.DefaultOptions
	options.Dir = path
	options.ValueDir = path
	options.Logger = nil // badger's own logger is noisy; errors surface through logrus

	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}

	logrus.Debugf("Badger database opened at %s", path)
	return &BadgerRepository{store: store, path: path}, nil
}

func (b *BadgerRepository) UpsertAuthor(author *models.Author) error {
	var existing models.Author
	err := b.store.Get(author.ID, &existing)
	switch {
	case err == nil:
		if !existing.FirstSeen.IsZero() {
			author.FirstSeen = existing.FirstSeen
		}
	case !errors.Is(err, badgerhold.ErrNotFound):
		return fmt.Errorf("failed to load author %s: %w", author.ID, err)
	}

	if err := b.store.Upsert(author.ID, author); err != nil {
		return fmt.Errorf("failed to save author %s: %w", author.ID, err)
	}
	return nil
}

func (b *BadgerRepository) GetAuthor(id string) (*models.Author, error) {
	var a models.Author
	if err := b.get(id, &a, "author"); err != nil {
		return nil, err
	}
	return &a, nil
}

func (b *BadgerRepository) InsertPost(post *models.Post) error {
	return b.insert(post.ID, post, "post")
}

func (b *BadgerRepository) GetPost(id string) (*models.Post, error) {
	var p models.Post
	if err := b.get(id, &p, "post"); err != nil {
		return nil, err
	}
	return &p, nil
}

func (b *BadgerRepository) ListPosts(q PostQuery) ([]models.Post, error) {
	var candidates []models.Post

	if q.Topic == "" {
		if err := b.store.Find(&candidates, nil); err != nil {
			return nil, fmt.Errorf("failed to list posts: %w", err)
		}
	} else {
		var tags []models.PostTopic
		if err := b.store.Find(&tags, badgerhold.Where("Topic").Eq(q.Topic)); err != nil {
			return nil, fmt.Errorf("failed to list posts for topic %s: %w", q.Topic, err)
		}
		for _, tag := range tags {
			var p models.Post
			err := b.store.Get(tag.PostID, &p)
			if errors.Is(err, badgerhold.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("failed to load post %s: %w", tag.PostID, err)
			}
			candidates = append(candidates, p)
		}
	}

	// time bounds are applied here rather than in the badgerhold query
	posts := candidates[:0]
	for _, p := range candidates {
		if q.Contains(p.CreatedAt) {
			posts = append(posts, p)
		}
	}

	sort.Slice(posts, func(i, j int) bool { return posts[i].ID < posts[j].ID })
	return posts, nil
}

func (b *BadgerRepository) TagPost(postID string, topic models.Topic) error {
	tag := models.PostTopic{PostID: postID, Topic: topic}
	if err := b.store.Upsert(postTopicKey(topic, postID), &tag); err != nil {
		return fmt.Errorf("failed to tag post %s with %s: %w", postID, topic, err)
	}
	return nil
}

func (b *BadgerRepository) InsertEngagement(e *models.Engagement) error {
	return b.insert(e.PostID, e, "engagement")
}

func (b *BadgerRepository) GetEngagement(postID string) (*models.Engagement, error) {
	var e models.Engagement
	if err := b.get(postID, &e, "engagement"); err != nil {
		return nil, err
	}
	return &e, nil
}

func (b *BadgerRepository) InsertBotSignal(s *models.BotSignal) error {
	return b.insert(s.PostID, s, "bot signal")
}

func (b *BadgerRepository) GetBotSignal(postID string) (*models.BotSignal, error) {
	var s models.BotSignal
	if err := b.get(postID, &s, "bot signal"); err != nil {
		return nil, err
	}
	return &s, nil
}

func (b *BadgerRepository) InsertSentimentScore(s *models.SentimentScore) error {
	return b.insert(scoreKey(s.PostID, s.AlgorithmID), s, "sentiment score")
}

func (b *BadgerRepository) GetSentimentScore(postID, algorithm string) (*models.SentimentScore, error) {
	var s models.SentimentScore
	if err := b.get(scoreKey(postID, algorithm), &s, "sentiment score"); err != nil {
		return nil, err
	}
	return &s, nil
}

func (b *BadgerRepository) ListSentimentScores(postID string) ([]models.SentimentScore, error) {
	var scores []models.SentimentScore
	if err := b.store.Find(&scores, badgerhold.Where("PostID").Eq(postID)); err != nil {
		return nil, fmt.Errorf("failed to list sentiment scores for post %s: %w", postID, err)
	}
	sort.Slice(scores, func(i, j int) bool { return scores[i].AlgorithmID < scores[j].AlgorithmID })
	return scores, nil
}

func (b *BadgerRepository) InsertDailyAggregate(a *models.DailyAggregate) error {
	return b.insert(a.ID, a, "aggregate")
}

func (b *BadgerRepository) ListDailyAggregates(q AggregateQuery) ([]models.DailyAggregate, error) {
	query := badgerhold.Where("ID").Ne("")
	if q.Topic != "" {
		query = query.And("Topic").Eq(q.Topic)
	}
	if q.Algorithm != "" {
		query = query.And("AlgorithmID").Eq(q.Algorithm)
	}

	var found []models.DailyAggregate
	if err := b.store.Find(&found, query); err != nil {
		return nil, fmt.Errorf("failed to list aggregates: %w", err)
	}

	out := found[:0]
	for i := range found {
		if q.Matches(&found[i]) {
			out = append(out, found[i])
		}
	}
	sortAggregates(out)
	return out, nil
}

func (b *BadgerRepository) SaveBatchJob(job *models.BatchJob) error {
	if err := b.store.Upsert(job.ID, job); err != nil {
		return fmt.Errorf("failed to save batch job %s: %w", job.ID, err)
	}
	return nil
}

func (b *BadgerRepository) GetBatchJob(id string) (*models.BatchJob, error) {
	var j models.BatchJob
	if err := b.get(id, &j, "batch job"); err != nil {
		return nil, err
	}
	return &j, nil
}

func (b *BadgerRepository) LatestBatchJob() (*models.BatchJob, error) {
	var jobs []models.BatchJob
	if err := b.store.Find(&jobs, nil); err != nil {
		return nil, fmt.Errorf("failed to list batch jobs: %w", err)
	}
	if len(jobs) == 0 {
		return nil, fmt.Errorf("batch job: %w", ErrNotFound)
	}

	latest := jobs[0]
	for _, j := range jobs[1:] {
		if j.StartedAt.After(latest.StartedAt) {
			latest = j
		}
	}
	return &latest, nil
}

// Close closes the database connection
func (b *BadgerRepository) Close() error {
	if b.store != nil {
		return b.store.Close()
	}
	return nil
}

func (b *BadgerRepository) insert(key string, value interface{}, kind string) error {
	err := b.store.Insert(key, value)
	if errors.Is(err, badgerhold.ErrKeyExists) {
		return fmt.Errorf("%s %s: %w", kind, key, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("failed to insert %s %s: %w", kind, key, err)
	}
	return nil
}

func (b *BadgerRepository) get(key string, result interface{}, kind string) error {
	err := b.store.Get(key, result)
	if errors.Is(err, badgerhold.ErrNotFound) {
		return fmt.Errorf("%s %s: %w", kind, key, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to load %s %s: %w", kind, key, err)
	}
	return nil
}
