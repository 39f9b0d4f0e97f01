// Package protocol defines the observer stream messages: what the
// presentation/export layer receives between frames and the control
// signals external collaborators (skip input, dialogue subsystem) post
// back. The runtime core owns no wire format beyond this.
package protocol

import "encoding/json"

const Version = "1.0"

// Message types.
const (
	TypeHello   = "HELLO"
	TypeWelcome = "WELCOME"
	TypeState   = "STATE"
	TypeEvent   = "EVENT"
	TypeControl = "CONTROL"
)

// Control operations.
const (
	OpSkip        = "SKIP"         // invoke the current cutscene override
	OpMessageDone = "MESSAGE_DONE" // dialogue playback finished for Key
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}

type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ClientName      string `json:"client_name,omitempty"`
}

type WelcomeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	SessionID       string `json:"session_id"`
	RuntimeID       string `json:"runtime_id"`
	FrameRateHz     int    `json:"frame_rate_hz"`
	CurrentFrame    uint64 `json:"current_frame"`
}

// StateMsg is a between-frames view of the world, small enough to stream.
type StateMsg struct {
	Type            string        `json:"type"`
	ProtocolVersion string        `json:"protocol_version"`
	Frame           uint64        `json:"frame"`
	CurrentSet      string        `json:"current_set"`
	CutsceneDepth   int           `json:"cutscene_depth"`
	Actors          []ActorState  `json:"actors"`
	Sectors         []SectorState `json:"sectors,omitempty"`
}

type ActorState struct {
	ID      string     `json:"id"`
	Pos     [3]float64 `json:"pos"`
	Yaw     float64    `json:"yaw"`
	Visible bool       `json:"visible"`
	Set     string     `json:"set,omitempty"`
	Chore   string     `json:"chore,omitempty"`
}

type SectorState struct {
	Set    string `json:"set"`
	Name   string `json:"name"`
	Kind   string `json:"kind"`
	Active bool   `json:"active"`
}

// EventMsg carries one diagnostic event to observers.
type EventMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Frame           uint64 `json:"frame"`
	Severity        string `json:"severity"`
	Code            string `json:"code,omitempty"`
	Subject         string `json:"subject"`
	Detail          string `json:"detail,omitempty"`
}

type ControlMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Op              string `json:"op"`
	Key             string `json:"key,omitempty"`
}
