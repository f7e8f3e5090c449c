package models

import "time"

// Role is the authorization role carried by an authenticated principal.
type Role string

const (
	RoleUser         Role = "user"
	RoleResponseTeam Role = "response_team"
	RoleAdmin        Role = "admin"
	RoleSupport      Role = "support"
)

// AlertStatus is the lifecycle state of an emergency alert.
// Transitions only move forward: active -> in_progress -> resolved.
type AlertStatus string

const (
	AlertActive     AlertStatus = "active"
	AlertInProgress AlertStatus = "in_progress"
	AlertResolved   AlertStatus = "resolved"
)

var statusRank = map[AlertStatus]int{
	AlertActive:     0,
	AlertInProgress: 1,
	AlertResolved:   2,
}

// CanTransition reports whether moving between two alert statuses respects
// the forward-only lifecycle.
func CanTransition(from, to AlertStatus) bool {
	fr, ok1 := statusRank[from]
	tr, ok2 := statusRank[to]
	return ok1 && ok2 && tr > fr
}

type AmbulanceStatus string

const (
	AmbulanceAvailable   AmbulanceStatus = "available"
	AmbulanceDispatched  AmbulanceStatus = "dispatched"
	AmbulanceReturning   AmbulanceStatus = "returning"
	AmbulanceMaintenance AmbulanceStatus = "maintenance"
)

type EmergencyAlert struct {
	ID            int64       `json:"id"`
	UserID        int64       `json:"userId"`
	Latitude      float64     `json:"latitude"`
	Longitude     float64     `json:"longitude"`
	EmergencyType string      `json:"emergencyType"`
	Description   string      `json:"description,omitempty"`
	Status        AlertStatus `json:"status"`
	AmbulanceID   *int64      `json:"ambulanceId"`
	CreatedAt     time.Time   `json:"createdAt"`
}

// AmbulanceUnit carries pointer coordinates: a unit with unknown location
// is excluded from proximity matching rather than treated as (0,0).
type AmbulanceUnit struct {
	ID        int64           `json:"id"`
	Name      string          `json:"name"`
	Latitude  *float64        `json:"latitude"`
	Longitude *float64        `json:"longitude"`
	Status    AmbulanceStatus `json:"status"`
}

func (a AmbulanceUnit) HasLocation() bool {
	return a.Latitude != nil && a.Longitude != nil
}

type MedicalFacility struct {
	ID        int64   `json:"id"`
	Name      string  `json:"name"`
	Type      string  `json:"type"`
	Address   string  `json:"address"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Phone     string  `json:"phone,omitempty"`
	OpenHours string  `json:"openHours,omitempty"`
	Rating    string  `json:"rating,omitempty"`
}

type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Role     Role   `json:"role"`
}

// Principal is the authenticated actor performing an operation. The core
// never touches credentials; callers arrive already authenticated.
type Principal struct {
	UserID int64
	Role   Role
}

// CanDispatch reports whether the principal may assign or resolve alerts.
func (p Principal) CanDispatch() bool {
	return p.Role == RoleResponseTeam || p.Role == RoleAdmin
}

// ChatMessage is a single live-chat frame. Every message is persisted for
// audit regardless of whether real-time delivery succeeded.
type ChatMessage struct {
	ID          string    `json:"id"`
	Text        string    `json:"text"`
	Sender      string    `json:"sender"` // "user" or "support"
	Timestamp   time.Time `json:"timestamp"`
	Status      string    `json:"status,omitempty"` // sending, sent, error
	RecipientID string    `json:"recipientId,omitempty"`
	UserID      int64     `json:"userId,omitempty"`
}

type TypingIndicator struct {
	Type     string `json:"type"` // always "typing"
	IsTyping bool   `json:"isTyping"`
	UserID   int64  `json:"userId"`
}

// AmbulanceLocation is the telemetry message published to Kafka whenever a
// unit reports its position.
type AmbulanceLocation struct {
	ID        int64     `json:"id"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Updated   time.Time `json:"updated"`
}
