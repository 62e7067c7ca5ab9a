// Package memory is an in-process repository.Store for development and tests.
package memory

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"

	apperrors "github.com/utafrali/BookshelfGo/pkg/errors"
	"github.com/utafrali/BookshelfGo/services/review/internal/domain"
	"github.com/utafrali/BookshelfGo/services/review/internal/repository"
)

// User holds the display fields joined into review listings.
type User struct {
	ID          string
	DisplayName string
	AvatarURL   *string
}

type edition struct {
	bookID string
	label  string
}

type voteKey struct {
	reviewID string
	userID   string
}

type userEdition struct {
	userID    string
	editionID string
}

// Store keeps everything in maps behind one RWMutex. Book transactions also
// hold a per-book mutex so writers on the same book serialize while writers
// on different books run concurrently; their writes are buffered and applied
// under the write lock only on success.
type Store struct {
	mu       sync.RWMutex
	books    map[string]domain.BookRating
	editions map[string]edition
	users    map[string]User
	reviews  map[string]domain.Review
	byPair   map[userEdition]string
	votes    map[voteKey]domain.VoteType

	locksMu   sync.Mutex
	bookLocks map[string]*sync.Mutex
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		books:     make(map[string]domain.BookRating),
		editions:  make(map[string]edition),
		users:     make(map[string]User),
		reviews:   make(map[string]domain.Review),
		byPair:    make(map[userEdition]string),
		votes:     make(map[voteKey]domain.VoteType),
		bookLocks: make(map[string]*sync.Mutex),
	}
}

var _ repository.Store = (*Store)(nil)

// AddBook registers a book with an empty rating aggregate.
func (s *Store) AddBook(bookID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.books[bookID]; !ok {
		s.books[bookID] = domain.BookRating{BookID: bookID}
	}
}

// AddEdition registers an edition of an existing book.
func (s *Store) AddEdition(editionID, bookID, label string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.editions[editionID] = edition{bookID: bookID, label: label}
}

// AddUser registers display fields for a user.
func (s *Store) AddUser(u User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

// DeleteEdition removes an edition and cascades to its reviews and their
// votes. The book aggregate is left stale, as a foreign key cascade would.
// It waits for any open transaction on the book so a staged write to the
// edition cannot commit after the cascade.
func (s *Store) DeleteEdition(editionID string) {
	s.mu.RLock()
	ed, ok := s.editions[editionID]
	s.mu.RUnlock()
	if !ok {
		return
	}

	l := s.bookLock(ed.bookID)
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.editions, editionID)
	for id, r := range s.reviews {
		if r.EditionID == editionID {
			s.removeReviewLocked(id)
		}
	}
}

func (s *Store) removeReviewLocked(reviewID string) {
	r, ok := s.reviews[reviewID]
	if !ok {
		return
	}
	delete(s.reviews, reviewID)
	pair := userEdition{r.UserID, r.EditionID}
	if s.byPair[pair] == reviewID {
		delete(s.byPair, pair)
	}
	for k := range s.votes {
		if k.reviewID == reviewID {
			delete(s.votes, k)
		}
	}
}

func (s *Store) bookLock(bookID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.bookLocks[bookID]
	if !ok {
		l = &sync.Mutex{}
		s.bookLocks[bookID] = l
	}
	return l
}

// WithinBookTx serializes on the book and applies fn's writes atomically.
func (s *Store) WithinBookTx(ctx context.Context, bookID string, fn func(tx repository.BookTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l := s.bookLock(bookID)
	l.Lock()
	defer l.Unlock()

	s.mu.RLock()
	_, ok := s.books[bookID]
	s.mu.RUnlock()
	if !ok {
		return apperrors.NotFound("book", bookID)
	}

	tx := &bookTx{store: s, staged: make(map[string]*domain.Review)}
	if err := fn(tx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	tx.commitLocked()
	return nil
}

// bookTx overlays staged review writes on the committed state. A nil entry
// in staged marks a deletion.
type bookTx struct {
	store  *Store
	staged map[string]*domain.Review
	rating *domain.BookRating
}

func (t *bookTx) EditionBookID(_ context.Context, editionID string) (string, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	e, ok := t.store.editions[editionID]
	if !ok {
		return "", apperrors.NotFound("edition", editionID)
	}
	return e.bookID, nil
}

// lookup returns the review as the transaction sees it.
func (t *bookTx) lookup(reviewID string) (domain.Review, bool) {
	if r, staged := t.staged[reviewID]; staged {
		if r == nil {
			return domain.Review{}, false
		}
		return *r, true
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	r, ok := t.store.reviews[reviewID]
	return r, ok
}

func (t *bookTx) UpsertReview(_ context.Context, review *domain.Review) (*domain.Review, error) {
	saved := *review

	var existingID string
	for id, r := range t.staged {
		if r != nil && r.UserID == review.UserID && r.EditionID == review.EditionID {
			existingID = id
		}
	}
	if existingID == "" {
		t.store.mu.RLock()
		id, ok := t.store.byPair[userEdition{review.UserID, review.EditionID}]
		t.store.mu.RUnlock()
		if ok {
			if _, alive := t.lookup(id); alive {
				existingID = id
			}
		}
	}

	if existingID != "" {
		prev, _ := t.lookup(existingID)
		saved.ID = prev.ID
		saved.CreatedAt = prev.CreatedAt
	}

	t.staged[saved.ID] = &saved
	out := saved
	return &out, nil
}

func (t *bookTx) DeleteReview(_ context.Context, reviewID, userID, bookID string) (bool, error) {
	r, ok := t.lookup(reviewID)
	if !ok || r.UserID != userID || r.BookID != bookID {
		return false, nil
	}
	t.staged[reviewID] = nil
	return true, nil
}

func (t *bookTx) RatingStats(_ context.Context, bookID string) (float64, int, error) {
	t.store.mu.RLock()
	merged := make(map[string]domain.Review, len(t.store.reviews))
	for id, r := range t.store.reviews {
		if r.BookID == bookID {
			merged[id] = r
		}
	}
	t.store.mu.RUnlock()

	for id, r := range t.staged {
		if r == nil {
			delete(merged, id)
			continue
		}
		if r.BookID == bookID {
			merged[id] = *r
		}
	}

	var sum, count int
	for _, r := range merged {
		if r.Rating != nil {
			sum += *r.Rating
			count++
		}
	}
	if count == 0 {
		return 0, 0, nil
	}
	return float64(sum) / float64(count), count, nil
}

func (t *bookTx) SaveBookRating(_ context.Context, rating domain.BookRating) error {
	t.rating = &rating
	return nil
}

func (t *bookTx) commitLocked() {
	s := t.store
	for id, r := range t.staged {
		if r == nil {
			s.removeReviewLocked(id)
			continue
		}
		s.reviews[id] = *r
		s.byPair[userEdition{r.UserID, r.EditionID}] = id
	}
	if t.rating != nil {
		if _, ok := s.books[t.rating.BookID]; ok {
			s.books[t.rating.BookID] = *t.rating
		}
	}
}

// GetReview retrieves a review by id.
func (s *Store) GetReview(_ context.Context, reviewID string) (*domain.Review, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reviews[reviewID]
	if !ok {
		return nil, apperrors.NotFound("review", reviewID)
	}
	return &r, nil
}

// GetUserReviewForEdition returns the user's review of the edition or nil.
func (s *Store) GetUserReviewForEdition(_ context.Context, userID, editionID string) (*domain.Review, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byPair[userEdition{userID, editionID}]
	if !ok {
		return nil, nil
	}
	r := s.reviews[id]
	return &r, nil
}

func matches(f repository.ReviewFilter, r *domain.Review) bool {
	if r.BookID != f.BookID {
		return false
	}
	if f.AuthorID != "" && r.UserID != f.AuthorID {
		return false
	}
	if f.ExcludeAuthorID != "" && r.UserID == f.ExcludeAuthorID {
		return false
	}
	return !f.OnlyWithContent || r.HasContent()
}

// newestFirst orders by created_at DESC, id DESC.
func newestFirst(a, b domain.ReviewView) int {
	if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(b.ID, a.ID)
}

// ListReviews returns matching reviews newest first.
func (s *Store) ListReviews(_ context.Context, filter repository.ReviewFilter, offset, limit int) ([]domain.ReviewView, error) {
	s.mu.RLock()
	views := []domain.ReviewView{}
	for _, r := range s.reviews {
		if !matches(filter, &r) {
			continue
		}
		u := s.users[r.UserID]
		views = append(views, domain.ReviewView{
			Review:          r,
			AuthorName:      u.DisplayName,
			AuthorAvatarURL: u.AvatarURL,
			EditionLabel:    s.editions[r.EditionID].label,
		})
	}
	s.mu.RUnlock()

	slices.SortFunc(views, newestFirst)

	offset = min(max(offset, 0), len(views))
	views = views[offset:]
	if limit > 0 && len(views) > limit {
		views = views[:limit]
	}
	return views, nil
}

// CountReviews counts matching reviews.
func (s *Store) CountReviews(_ context.Context, filter repository.ReviewFilter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, r := range s.reviews {
		if matches(filter, &r) {
			n++
		}
	}
	return n, nil
}

// GetBookRating returns the stored aggregate.
func (s *Store) GetBookRating(_ context.Context, bookID string) (*domain.BookRating, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rating, ok := s.books[bookID]
	if !ok {
		return nil, apperrors.NotFound("book", bookID)
	}
	return &rating, nil
}

// ApplyVote toggles or switches the user's vote.
func (s *Store) ApplyVote(_ context.Context, reviewID, userID string, intent domain.VoteType) (*domain.VoteType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.reviews[reviewID]; !ok {
		return nil, apperrors.NotFound("review", reviewID)
	}

	key := voteKey{reviewID, userID}
	var current *domain.VoteType
	if held, ok := s.votes[key]; ok {
		current = &held
	}

	next := domain.NextVote(current, intent)
	if next == nil {
		delete(s.votes, key)
	} else {
		s.votes[key] = *next
	}
	return next, nil
}

// TallyVotes counts votes for the given ids in one pass over the vote set.
func (s *Store) TallyVotes(_ context.Context, reviewIDs []string, viewerID string) (map[string]domain.VoteTally, error) {
	tallies := make(map[string]domain.VoteTally, len(reviewIDs))
	for _, id := range reviewIDs {
		if strings.TrimSpace(id) != "" {
			tallies[id] = domain.VoteTally{}
		}
	}
	if len(tallies) == 0 {
		return tallies, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for k, v := range s.votes {
		tally, ok := tallies[k.reviewID]
		if !ok {
			continue
		}
		switch v {
		case domain.VoteLike:
			tally.Likes++
		case domain.VoteDislike:
			tally.Dislikes++
		}
		if viewerID != "" && k.userID == viewerID {
			vote := v
			tally.ViewerVote = &vote
		}
		tallies[k.reviewID] = tally
	}
	return tallies, nil
}
