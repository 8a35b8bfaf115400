// Package session holds per-user transient dialog state: the active AI
// mode and any pending confirmation. This state is session-scoped and
// deliberately kept out of the users table.
package session

import "context"

// Mode selects how much database grounding precedes a generative call.
type Mode string

const (
	// ModeService answers purely from structured database lookups.
	ModeService Mode = "service"
	// ModeGeneral forwards every free-text message to the text-AI.
	ModeGeneral Mode = "general"
	// ModeHybrid tries a grounded answer first and falls back to the
	// text-AI with database facts injected. The default.
	ModeHybrid Mode = "hybrid"
)

// Session is the transient state for one user.
type Session struct {
	Mode Mode `json:"mode"`
	// PendingConfirm names an action awaiting a yes/no reply, e.g.
	// "redeem". Empty when nothing is pending.
	PendingConfirm string `json:"pending_confirm,omitempty"`
}

// Store persists sessions. Implementations must be safe for concurrent
// use.
type Store interface {
	Get(ctx context.Context, phone string) (Session, error)
	Save(ctx context.Context, phone string, s Session) error
}

func defaultSession() Session {
	return Session{Mode: ModeHybrid}
}
