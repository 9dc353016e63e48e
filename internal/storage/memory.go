package storage

import (
	"fmt"
	"sort"
	"sync"

	"github.com/xsentiment/sentiment-bot/internal/models"
)

// MemoryRepository keeps every record in process memory. Used by tests.
type MemoryRepository struct {
	mu          sync.RWMutex
	authors     map[string]models.Author
	posts       map[string]models.Post
	postTopics  map[string]models.PostTopic
	engagements map[string]models.Engagement
	botSignals  map[string]models.BotSignal
	scores      map[string]models.SentimentScore
	aggregates  []models.DailyAggregate
	jobs        map[string]models.BatchJob
}

// Ensure MemoryRepository implements Repository
var _ Repository = (*MemoryRepository)(nil)

// NewMemoryRepository creates an empty in-memory repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		authors:     make(map[string]models.Author),
		posts:       make(map[string]models.Post),
		postTopics:  make(map[string]models.PostTopic),
		engagements: make(map[string]models.Engagement),
		botSignals:  make(map[string]models.BotSignal),
		scores:      make(map[string]models.SentimentScore),
		jobs:        make(map[string]models.BatchJob),
	}
}

func (m *MemoryRepository) UpsertAuthor(author *models.Author) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.authors[author.ID]; ok && !existing.FirstSeen.IsZero() {
		author.FirstSeen = existing.FirstSeen
	}
	m.authors[author.ID] = *author
	return nil
}

func (m *MemoryRepository) GetAuthor(id string) (*models.Author, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.authors[id]
	if !ok {
		return nil, fmt.Errorf("author %s: %w", id, ErrNotFound)
	}
	return &a, nil
}

func (m *MemoryRepository) InsertPost(post *models.Post) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.posts[post.ID]; ok {
		return fmt.Errorf("post %s: %w", post.ID, ErrDuplicate)
	}
	m.posts[post.ID] = *post
	return nil
}

func (m *MemoryRepository) GetPost(id string) (*models.Post, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.posts[id]
	if !ok {
		return nil, fmt.Errorf("post %s: %w", id, ErrNotFound)
	}
	return &p, nil
}

func (m *MemoryRepository) ListPosts(q PostQuery) ([]models.Post, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var posts []models.Post
	for _, p := range m.posts {
		if q.Topic != "" {
			if _, ok := m.postTopics[postTopicKey(q.Topic, p.ID)]; !ok {
				continue
			}
		}
		if q.Contains(p.CreatedAt) {
			posts = append(posts, p)
		}
	}

	sort.Slice(posts, func(i, j int) bool { return posts[i].ID < posts[j].ID })
	return posts, nil
}

func (m *MemoryRepository) TagPost(postID string, topic models.Topic) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.postTopics[postTopicKey(topic, postID)] = models.PostTopic{PostID: postID, Topic: topic}
	return nil
}

func (m *MemoryRepository) InsertEngagement(e *models.Engagement) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.engagements[e.PostID]; ok {
		return fmt.Errorf("engagement for post %s: %w", e.PostID, ErrDuplicate)
	}
	m.engagements[e.PostID] = *e
	return nil
}

func (m *MemoryRepository) GetEngagement(postID string) (*models.Engagement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.engagements[postID]
	if !ok {
		return nil, fmt.Errorf("engagement for post %s: %w", postID, ErrNotFound)
	}
	return &e, nil
}

func (m *MemoryRepository) InsertBotSignal(s *models.BotSignal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.botSignals[s.PostID]; ok {
		return fmt.Errorf("bot signal for post %s: %w", s.PostID, ErrDuplicate)
	}
	m.botSignals[s.PostID] = *s
	return nil
}

func (m *MemoryRepository) GetBotSignal(postID string) (*models.BotSignal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.botSignals[postID]
	if !ok {
		return nil, fmt.Errorf("bot signal for post %s: %w", postID, ErrNotFound)
	}
	return &s, nil
}

func (m *MemoryRepository) InsertSentimentScore(s *models.SentimentScore) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := scoreKey(s.PostID, s.AlgorithmID)
	if _, ok := m.scores[key]; ok {
		return fmt.Errorf("sentiment score %s: %w", key, ErrDuplicate)
	}
	m.scores[key] = *s
	return nil
}

func (m *MemoryRepository) GetSentimentScore(postID, algorithm string) (*models.SentimentScore, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	key := scoreKey(postID, algorithm)
	s, ok := m.scores[key]
	if !ok {
		return nil, fmt.Errorf("sentiment score %s: %w", key, ErrNotFound)
	}
	return &s, nil
}

func (m *MemoryRepository) ListSentimentScores(postID string) ([]models.SentimentScore, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var scores []models.SentimentScore
	for _, s := range m.scores {
		if s.PostID == postID {
			scores = append(scores, s)
		}
	}
	sort.Slice(scores, func(i, j int) bool { return scores[i].AlgorithmID < scores[j].AlgorithmID })
	return scores, nil
}

func (m *MemoryRepository) InsertDailyAggregate(a *models.DailyAggregate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.aggregates {
		if existing.ID == a.ID {
			return fmt.Errorf("aggregate %s: %w", a.ID, ErrDuplicate)
		}
	}
	m.aggregates = append(m.aggregates, *a)
	return nil
}

func (m *MemoryRepository) ListDailyAggregates(q AggregateQuery) ([]models.DailyAggregate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.DailyAggregate
	for i := range m.aggregates {
		if q.Matches(&m.aggregates[i]) {
			out = append(out, m.aggregates[i])
		}
	}
	sortAggregates(out)
	return out, nil
}

func (m *MemoryRepository) SaveBatchJob(job *models.BatchJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.jobs[job.ID] = *job
	return nil
}

func (m *MemoryRepository) GetBatchJob(id string) (*models.BatchJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("batch job %s: %w", id, ErrNotFound)
	}
	return &j, nil
}

func (m *MemoryRepository) LatestBatchJob() (*models.BatchJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var latest *models.BatchJob
	for id := range m.jobs {
		j := m.jobs[id]
		if latest == nil || j.StartedAt.After(latest.StartedAt) {
			latest = &j
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("batch job: %w", ErrNotFound)
	}
	return latest, nil
}

func (m *MemoryRepository) Close() error {
	return nil
}

func sortAggregates(aggs []models.DailyAggregate) {
	sort.SliceStable(aggs, func(i, j int) bool {
		if !aggs[i].Date.Equal(aggs[j].Date) {
			return aggs[i].Date.Before(aggs[j].Date)
		}
		return aggs[i].CreatedAt.Before(aggs[j].CreatedAt)
	})
}
