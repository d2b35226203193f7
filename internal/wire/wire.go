// Package wire holds the JSON shapes exchanged over the socket, one message
// per frame, discriminated by "type".
package wire

import (
	"time"

	"github.com/pitchparty/realtime-server/internal/room"
)

// Client -> server event types.
const (
	EvtJoinRoom          = "join_room"
	EvtLeaveRoom         = "leave_room"
	EvtSetReady          = "set_ready"
	EvtAdvancePhase      = "advance_phase"
	EvtSetStatus         = "set_status"
	EvtPresentationState = "presentation_state"
	EvtHeartbeat         = "heartbeat"
)

// Server -> client event types. The ingress reuses these as the vocabulary the
// web app may push into a room.
const (
	EvtHelloAck         = "hello_ack"
	EvtRoomState        = "room_state"
	EvtPlayerJoined     = "player_joined"
	EvtPlayerLeft       = "player_left"
	EvtReadyUpdate      = "ready_update"
	EvtPhaseChanged     = "phase_changed"
	EvtStatusChanged    = "status_changed"
	EvtSettingsChanged  = "settings_changed"
	EvtBriefUpdated     = "brief_updated"
	EvtContentSubmitted = "content_submitted"
	EvtError            = "error"
)

// Error codes carried by the error event.
type ErrorCode string

const (
	ErrUnauthorized   ErrorCode = "unauthorized"
	ErrRoomNotFound   ErrorCode = "room_not_found"
	ErrInvalidPayload ErrorCode = "invalid_payload"
	ErrPlayerNotFound ErrorCode = "player_not_found"
	ErrForbidden      ErrorCode = "forbidden"
	ErrInternal       ErrorCode = "internal_error"
)

// ClientEvent is the inbound envelope. Fields beyond Type are per-event;
// unused ones stay zero.
type ClientEvent struct {
	Type            string         `json:"type"`
	RoomCode        string         `json:"roomCode,omitempty"`
	PlayerID        string         `json:"playerId,omitempty"`
	PlayerToken     string         `json:"playerToken,omitempty"`
	InitialSnapshot *room.Snapshot `json:"initialSnapshot,omitempty"`
	IsReady         *bool          `json:"isReady,omitempty"`
	Status          string         `json:"status,omitempty"`
	CurrentPhase    *room.Phase    `json:"currentPhase,omitempty"`
	PhaseStartTime  *time.Time     `json:"phaseStartTime,omitempty"`
	PresentIndex    *int           `json:"presentIndex,omitempty"`
	ShowCampaign    *bool          `json:"showCampaign,omitempty"`
}

// ServerEvent is the outbound envelope. The same shape decodes the "event"
// body on the broadcast ingress, whose vocabulary is the server->client one.
type ServerEvent struct {
	Type           string              `json:"type"`
	RoomCode       string              `json:"roomCode,omitempty"`
	Snapshot       *room.Snapshot      `json:"snapshot,omitempty"`
	Player         *room.PlayerSummary `json:"player,omitempty"`
	PlayerID       string              `json:"playerId,omitempty"`
	IsReady        *bool               `json:"isReady,omitempty"`
	Status         room.Status         `json:"status,omitempty"`
	CurrentPhase   *room.Phase         `json:"currentPhase,omitempty"`
	PhaseStartTime *time.Time          `json:"phaseStartTime,omitempty"`
	PresentIndex   *int                `json:"presentIndex,omitempty"`
	ShowCampaign   *bool               `json:"showCampaign,omitempty"`
	Version        int                 `json:"version,omitempty"`
	Timestamp      int64               `json:"timestamp,omitempty"`
	Code           ErrorCode           `json:"code,omitempty"`
	Message        string              `json:"message,omitempty"`
}

func HelloAck(code string, snap room.Snapshot) ServerEvent {
	return ServerEvent{Type: EvtHelloAck, RoomCode: code, Snapshot: &snap}
}

func RoomState(snap room.Snapshot) ServerEvent {
	return ServerEvent{Type: EvtRoomState, Snapshot: &snap}
}

func PlayerJoined(code string, p room.PlayerSummary, version int) ServerEvent {
	return ServerEvent{Type: EvtPlayerJoined, RoomCode: code, Player: &p, Version: version}
}

func PlayerLeft(code, playerID string, version int) ServerEvent {
	return ServerEvent{Type: EvtPlayerLeft, RoomCode: code, PlayerID: playerID, Version: version}
}

func ReadyUpdate(code, playerID string, ready bool, version int) ServerEvent {
	return ServerEvent{Type: EvtReadyUpdate, RoomCode: code, PlayerID: playerID, IsReady: &ready, Version: version}
}

func PhaseChanged(code string, phase *room.Phase, startedAt *time.Time, version int) ServerEvent {
	return ServerEvent{Type: EvtPhaseChanged, RoomCode: code, CurrentPhase: phase, PhaseStartTime: startedAt, Version: version}
}

func StatusChanged(snap room.Snapshot) ServerEvent {
	return ServerEvent{
		Type:           EvtStatusChanged,
		RoomCode:       snap.Code,
		Status:         snap.Status,
		CurrentPhase:   snap.CurrentPhase,
		PhaseStartTime: snap.PhaseStartTime,
		Version:        snap.Version,
	}
}

func PresentationState(code, playerID string, presentIndex int, showCampaign bool) ServerEvent {
	return ServerEvent{
		Type:         EvtPresentationState,
		RoomCode:     code,
		PlayerID:     playerID,
		PresentIndex: &presentIndex,
		ShowCampaign: &showCampaign,
	}
}

func Heartbeat(code string, at time.Time) ServerEvent {
	return ServerEvent{Type: EvtHeartbeat, RoomCode: code, Timestamp: at.UnixMilli()}
}

func Error(code ErrorCode, msg string) ServerEvent {
	return ServerEvent{Type: EvtError, Code: code, Message: msg}
}
