package voteclient

import (
	"context"
	"log/slog"
	"sync"
)

// Remote casts a vote on the server and returns the resulting tally.
type Remote interface {
	SetVote(ctx context.Context, reviewID string, intent VoteType) (Tally, error)
}

// Controller owns the vote state of a single review.
//
// Dispatch updates the local state before the remote call returns. If the
// call fails the state is reset to the snapshot taken just before that
// intent was applied; if it succeeds the counts are replaced by the
// server's. Concurrent dispatches are not queued: each one reduces whatever
// state is current, and the last response to arrive wins.
type Controller struct {
	reviewID string
	remote   Remote
	logger   *slog.Logger

	mu    sync.Mutex
	state State
}

// NewController creates a Controller starting at initial.
func NewController(reviewID string, initial State, remote Remote, logger *slog.Logger) *Controller {
	return &Controller{
		reviewID: reviewID,
		remote:   remote,
		logger:   logger,
		state:    initial,
	}
}

// State returns the current local state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Dispatch applies intent and sends it to the server. It returns the state
// after the round trip and the remote error, if any. Intents on a disabled
// state never reach the server.
func (c *Controller) Dispatch(ctx context.Context, intent VoteType) (State, error) {
	c.mu.Lock()
	snapshot := c.state
	next := Reduce(snapshot, intent)
	if next.Equal(snapshot) {
		c.mu.Unlock()
		return snapshot, nil
	}
	c.state = next
	c.mu.Unlock()

	tally, err := c.remote.SetVote(ctx, c.reviewID, intent)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.state = snapshot
		c.logger.WarnContext(ctx, "vote rejected, restoring previous state",
			slog.String("review_id", c.reviewID),
			slog.String("intent", string(intent)),
			slog.String("error", err.Error()),
		)
		return c.state, err
	}

	c.state = FromTally(tally, c.state.Disabled)
	return c.state, nil
}
