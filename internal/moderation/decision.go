package moderation

import (
	"errors"
	"fmt"
	"time"

	"whiteboard-backend/internal/board"
)

var (
	ErrInvalidTransition = errors.New("invalid moderation transition")
	ErrStaleDecision     = errors.New("stale moderation decision")
	ErrUnknownElement    = errors.New("element not tracked by moderation")
	ErrInvalidAction     = errors.New("invalid moderation action")
)

// Source 판정 주체
type Source string

const (
	SourceAuto   Source = "auto"
	SourceManual Source = "manual"
)

// Decision is one immutable entry in an element's moderation history.
type Decision struct {
	WhiteboardID   string                 `json:"whiteboardId"`
	ElementID      string                 `json:"elementId"`
	Status         board.ModerationStatus `json:"status"`
	Previous       board.ModerationStatus `json:"previous"`
	Score          float64                `json:"score"`
	Reason         string                 `json:"reason,omitempty"`
	Source         Source                 `json:"source"`
	ModeratorID    string                 `json:"moderatorId,omitempty"`
	ContentVersion uint64                 `json:"contentVersion"`
	DecidedAt      time.Time              `json:"decidedAt"`
}

// allowed lists every decision-driven transition. Nothing leaves REJECTED.
var allowed = map[board.ModerationStatus]map[board.ModerationStatus]Source{
	board.StatusPending: {
		board.StatusApproved: SourceAuto,
		board.StatusFlagged:  SourceAuto,
	},
	board.StatusFlagged: {
		board.StatusApproved: SourceManual,
		board.StatusRejected: SourceManual,
	},
}

// CanTransition reports whether a decision from src may move an element from one status to another.
// Transitions reachable automatically are also open to moderators.
func CanTransition(from, to board.ModerationStatus, src Source) bool {
	need, ok := allowed[from][to]
	if !ok {
		return false
	}
	return need == SourceAuto || src == SourceManual
}

// Verdict maps a classifier score to the automatic outcome.
func Verdict(score, threshold float64) board.ModerationStatus {
	if score >= threshold {
		return board.StatusFlagged
	}
	return board.StatusApproved
}

// Action is a moderator command.
type Action string

const (
	ActionApprove Action = "approve"
	ActionFlag    Action = "flag"
	ActionReject  Action = "reject"
)

// Target returns the status the action moves an element to.
func (a Action) Target() (board.ModerationStatus, error) {
	switch a {
	case ActionApprove:
		return board.StatusApproved, nil
	case ActionFlag:
		return board.StatusFlagged, nil
	case ActionReject:
		return board.StatusRejected, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidAction, a)
}
