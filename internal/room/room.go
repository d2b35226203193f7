package room

import (
	"time"

	"github.com/google/uuid"
)

// Status is the coarse game state of a room.
type Status string

const (
	StatusLobby      Status = "lobby"
	StatusBriefing   Status = "briefing"
	StatusCreating   Status = "creating"
	StatusPresenting Status = "presenting"
	StatusVoting     Status = "voting"
	StatusResults    Status = "results"
)

// ParseStatus validates a wire-level status string.
func ParseStatus(s string) (Status, bool) {
	switch Status(s) {
	case StatusLobby, StatusBriefing, StatusCreating, StatusPresenting, StatusVoting, StatusResults:
		return Status(s), true
	default:
		return "", false
	}
}

// Phase is the creation sub-state, valid only while a room is mid-game.
// A nil *Phase means "no phase".
type Phase string

const (
	PhaseBigIdea  Phase = "big_idea"
	PhaseVisual   Phase = "visual"
	PhaseHeadline Phase = "headline"
	PhasePitch    Phase = "pitch"
)

var phaseCycle = []Phase{PhaseBigIdea, PhaseVisual, PhaseHeadline, PhasePitch}

// NextPhase advances through nil -> big_idea -> visual -> headline -> pitch -> nil.
func NextPhase(p *Phase) *Phase {
	if p == nil {
		next := phaseCycle[0]
		return &next
	}
	for i, candidate := range phaseCycle {
		if candidate == *p {
			if i == len(phaseCycle)-1 {
				return nil
			}
			next := phaseCycle[i+1]
			return &next
		}
	}
	// Unknown phase: restart the cycle rather than guessing.
	next := phaseCycle[0]
	return &next
}

type PlayerSummary struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Emoji   string `json:"emoji"`
	IsReady bool   `json:"isReady"`
	IsHost  bool   `json:"isHost"`
}

// Snapshot is the authoritative, versioned state of one room. Transforms in
// this package are pure: they return a fresh Snapshot and never touch the
// input, so a snapshot already queued for broadcast can't be mutated under a
// client's feet.
type Snapshot struct {
	ID             string          `json:"id"`
	Code           string          `json:"code"`
	Status         Status          `json:"status"`
	CurrentPhase   *Phase          `json:"currentPhase"`
	PhaseStartTime *time.Time      `json:"phaseStartTime"`
	Players        []PlayerSummary `json:"players"`
	Version        int             `json:"version"`
}

// NewPlaceholder builds a minimal snapshot for a room the server has never
// seen, e.g. when the ingress pushes an event before any socket joined.
func NewPlaceholder(code string, status Status) Snapshot {
	return Snapshot{
		ID:      uuid.NewString(),
		Code:    code,
		Status:  status,
		Players: []PlayerSummary{},
		Version: 0,
	}
}

// Clone deep-copies a snapshot, including the players slice and the nullable
// pointer fields.
func Clone(s Snapshot) Snapshot {
	out := s
	out.Players = make([]PlayerSummary, len(s.Players))
	copy(out.Players, s.Players)
	if s.CurrentPhase != nil {
		p := *s.CurrentPhase
		out.CurrentPhase = &p
	}
	if s.PhaseStartTime != nil {
		t := *s.PhaseStartTime
		out.PhaseStartTime = &t
	}
	return out
}

// FindPlayer returns the player with the given id, if present.
func FindPlayer(s Snapshot, playerID string) (PlayerSummary, bool) {
	for _, p := range s.Players {
		if p.ID == playerID {
			return p, true
		}
	}
	return PlayerSummary{}, false
}

// IsHost reports whether the given player is flagged as the room's host.
func IsHost(s Snapshot, playerID string) bool {
	p, ok := FindPlayer(s, playerID)
	return ok && p.IsHost
}

// SetReady sets a player's ready flag and bumps the version. Returns false
// without bumping when the player isn't in the room.
func SetReady(s Snapshot, playerID string, ready bool) (Snapshot, bool) {
	if _, ok := FindPlayer(s, playerID); !ok {
		return s, false
	}
	out := Clone(s)
	for i := range out.Players {
		if out.Players[i].ID == playerID {
			out.Players[i].IsReady = ready
		}
	}
	out.Version++
	return out, true
}

// ClearReady is the disconnect variant of SetReady: it only applies (and only
// bumps the version) when the player is currently ready, so a disconnect of an
// unready player is a no-op.
func ClearReady(s Snapshot, playerID string) (Snapshot, bool) {
	p, ok := FindPlayer(s, playerID)
	if !ok || !p.IsReady {
		return s, false
	}
	return SetReady(s, playerID, false)
}

// AdvancePhase moves to the next phase in the cycle, restarts the phase clock
// and resets every player's ready flag.
func AdvancePhase(s Snapshot, now time.Time) Snapshot {
	out := Clone(s)
	out.CurrentPhase = NextPhase(out.CurrentPhase)
	out.PhaseStartTime = &now
	for i := range out.Players {
		out.Players[i].IsReady = false
	}
	out.Version++
	return out
}

// SetStatus overwrites the status/phase fields and bumps the version.
func SetStatus(s Snapshot, status Status, phase *Phase, startedAt time.Time) Snapshot {
	out := Clone(s)
	out.Status = status
	if phase != nil {
		p := *phase
		out.CurrentPhase = &p
	} else {
		out.CurrentPhase = nil
	}
	out.PhaseStartTime = &startedAt
	out.Version++
	return out
}

// SetPhase overwrites the phase fields and bumps the version. Unlike
// AdvancePhase it does not touch ready flags; the ingress uses it to mirror a
// phase change already decided elsewhere.
func SetPhase(s Snapshot, phase *Phase, startedAt time.Time) Snapshot {
	out := Clone(s)
	if phase != nil {
		p := *phase
		out.CurrentPhase = &p
	} else {
		out.CurrentPhase = nil
	}
	out.PhaseStartTime = &startedAt
	out.Version++
	return out
}

// UpsertPlayer adds a player (preserving join order) or updates them in place,
// and bumps the version either way.
func UpsertPlayer(s Snapshot, p PlayerSummary) Snapshot {
	out := Clone(s)
	for i := range out.Players {
		if out.Players[i].ID == p.ID {
			out.Players[i] = p
			out.Version++
			return out
		}
	}
	out.Players = append(out.Players, p)
	out.Version++
	return out
}

// Touch bumps the version without changing anything else. Used for events
// whose payload lives entirely in the external database (settings, briefs,
// submitted content).
func Touch(s Snapshot) Snapshot {
	out := Clone(s)
	out.Version++
	return out
}

// MissingPlayers lists players present in next but absent from prev, in
// next's order. Used to emit player_joined diffs when a newer client-observed
// snapshot is adopted.
func MissingPlayers(prev, next Snapshot) []PlayerSummary {
	var out []PlayerSummary
	for _, p := range next.Players {
		if _, ok := FindPlayer(prev, p.ID); !ok {
			out = append(out, p)
		}
	}
	return out
}
