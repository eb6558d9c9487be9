package conversation

import (
	"errors"
	"fmt"
	"time"

	"github.com/kediaman/orchestrator/internal/models"
)

var (
	ErrThreadNotFound = errors.New("thread not found")
	ErrThreadExpired  = errors.New("thread expired")
)

// Role of a turn's author.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one message in a thread.
type Turn struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	// IntentSnapshot preserves the intent the turn was classified with, on
	// user turns only. LastIntent is a projection of the most recent one;
	// snapshots keep the per-turn history.
	IntentSnapshot *models.QueryIntent `json:"intent_snapshot,omitempty"`
}

// Thread is the per-conversation state: the turn history plus the derived
// projections follow-up resolution needs (last intent, last focus property).
type Thread struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	ExpiresAt time.Time `json:"expires_at"`

	Turns []Turn `json:"turns"`

	// LastIntent is the most recent property-query intent on the thread,
	// used to fill unset slots in elliptical follow-ups.
	LastIntent *models.QueryIntent `json:"last_intent,omitempty"`
	// LastFocusPropertyID is the property most recently at the center of the
	// conversation; pronouns resolve against it.
	LastFocusPropertyID string `json:"last_focus_property_id,omitempty"`
	// Seq counts completed turns, monotonically.
	Seq int64 `json:"seq"`
}

// IsExpired reports whether the thread's idle TTL has lapsed.
func (t *Thread) IsExpired() bool {
	return !t.ExpiresAt.IsZero() && time.Now().After(t.ExpiresAt)
}

// RecentHistory renders the last n turns as "Role: content" lines, oldest
// first, for prompt context.
func (t *Thread) RecentHistory(n int) []string {
	turns := t.Turns
	if n > 0 && len(turns) > n {
		turns = turns[len(turns)-n:]
	}
	lines := make([]string, 0, len(turns))
	for _, turn := range turns {
		role := "User"
		if turn.Role == RoleAssistant {
			role = "Assistant"
		}
		lines = append(lines, fmt.Sprintf("%s: %s", role, turn.Content))
	}
	return lines
}
