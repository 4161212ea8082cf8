package leaderboard

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"

	"github.com/bidwise/matchd/internal/domain/model"
	"github.com/bidwise/matchd/pkg/metrics"
)

// scoreScale converts scores (0-100, two decimals after rounding) to
// fixed point so tree ordering never trips on float comparison.
const scoreScale = 1_000_000

type scoreFP int64

func toFixedPoint(x float64) scoreFP {
	if math.IsNaN(x) {
		return 0
	}
	return scoreFP(math.Round(x * scoreScale))
}

func toFloat(x scoreFP) float64 {
	return float64(x) / scoreScale
}

// treap node. Priorities are random, so the expected depth stays
// logarithmic regardless of insertion order.
type node struct {
	id    string
	score scoreFP
	prio  uint64
	left  *node
	right *node
	size  int
}

func nsize(n *node) int {
	if n == nil {
		return 0
	}
	return n.size
}

func fix(n *node) {
	if n != nil {
		n.size = 1 + nsize(n.left) + nsize(n.right)
	}
}

// before reports whether (aScore, aID) ranks earlier than (bScore, bID):
// higher score first, ties broken by user id ascending.
func before(aScore scoreFP, aID string, bScore scoreFP, bID string) bool {
	if aScore != bScore {
		return aScore > bScore
	}
	return aID < bID
}

func rotateRight(y *node) *node {
	x := y.left
	y.left = x.right
	x.right = y
	fix(y)
	fix(x)
	return x
}

func rotateLeft(x *node) *node {
	y := x.right
	x.right = y.left
	y.left = x
	fix(x)
	fix(y)
	return y
}

func insert(n *node, id string, score scoreFP) *node {
	if n == nil {
		return &node{id: id, score: score, prio: rand.Uint64(), size: 1} //nolint:gosec // tree balance only
	}
	if before(score, id, n.score, n.id) {
		n.left = insert(n.left, id, score)
		if n.left.prio > n.prio {
			n = rotateRight(n)
		}
	} else {
		n.right = insert(n.right, id, score)
		if n.right.prio > n.prio {
			n = rotateLeft(n)
		}
	}
	fix(n)
	return n
}

func remove(n *node, id string, score scoreFP) *node {
	if n == nil {
		return nil
	}
	switch {
	case score == n.score && id == n.id:
		if n.left == nil {
			return n.right
		}
		if n.right == nil {
			return n.left
		}
		if n.left.prio > n.right.prio {
			n = rotateRight(n)
			n.right = remove(n.right, id, score)
		} else {
			n = rotateLeft(n)
			n.left = remove(n.left, id, score)
		}
	case before(score, id, n.score, n.id):
		n.left = remove(n.left, id, score)
	default:
		n.right = remove(n.right, id, score)
	}
	fix(n)
	return n
}

// countGreater returns how many nodes hold a strictly higher score.
// Subtree sizes make this logarithmic.
func countGreater(n *node, score scoreFP) int {
	if n == nil {
		return 0
	}
	if n.score > score {
		return nsize(n.left) + 1 + countGreater(n.right, score)
	}
	return countGreater(n.left, score)
}

// walkTop appends up to limit ids and scores in rank order.
func walkTop(n *node, limit int, out *[]Entry) {
	if n == nil || len(*out) >= limit {
		return
	}
	walkTop(n.left, limit, out)
	if len(*out) < limit {
		*out = append(*out, Entry{UserID: n.id, Score: toFloat(n.score)})
	}
	walkTop(n.right, limit, out)
}

// Treap is the embedded Board implementation backing the service.
type Treap struct {
	mu   sync.RWMutex
	root *node
	byID map[string]scoreFP
}

// NewTreap creates an empty leaderboard.
func NewTreap() *Treap {
	return &Treap{byID: make(map[string]scoreFP)}
}

// Update sets the freelancer's current score, replacing any previous one.
func (t *Treap) Update(_ context.Context, userID string, score float64) error {
	if userID == "" {
		return fmt.Errorf("%w: empty user id", model.ErrValidation)
	}

	ns := toFixedPoint(score)

	t.mu.Lock()
	defer t.mu.Unlock()
	if old, ok := t.byID[userID]; ok {
		if old == ns {
			return nil
		}
		t.root = remove(t.root, userID, old)
	}
	t.byID[userID] = ns
	t.root = insert(t.root, userID, ns)
	metrics.UpdateLeaderboardSize(len(t.byID))
	return nil
}

// Remove drops the freelancer; removing an unknown id is a no-op.
func (t *Treap) Remove(_ context.Context, userID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	old, ok := t.byID[userID]
	if !ok {
		return nil
	}
	t.root = remove(t.root, userID, old)
	delete(t.byID, userID)
	metrics.UpdateLeaderboardSize(len(t.byID))
	return nil
}

// Rank returns the freelancer's current row. Equal scores share a rank.
func (t *Treap) Rank(_ context.Context, userID string) (Entry, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	fp, ok := t.byID[userID]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, userID)
	}
	score := toFloat(fp)
	return Entry{
		Rank:   countGreater(t.root, fp) + 1,
		UserID: userID,
		Score:  score,
		Tier:   model.Tier(score),
	}, nil
}

// Top returns the best n rows in rank order.
func (t *Treap) Top(_ context.Context, n int) ([]Entry, error) {
	if n < 1 {
		return nil, ErrInvalidLimit
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Entry, 0, n)
	walkTop(t.root, n, &out)
	for i := range out {
		if i > 0 && out[i].Score == out[i-1].Score {
			out[i].Rank = out[i-1].Rank
		} else {
			out[i].Rank = i + 1
		}
		out[i].Tier = model.Tier(out[i].Score)
	}
	return out, nil
}

// Len returns the number of ranked freelancers.
func (t *Treap) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byID)
}
