package models

import "time"

// WasteCategory is one of the waste classes the vision pipeline can produce.
type WasteCategory string

const (
	WasteOrganik   WasteCategory = "ORGANIK"
	WasteAnorganik WasteCategory = "ANORGANIK"
	WasteB3        WasteCategory = "B3"
)

// ClassificationMethod records how a classification was obtained.
type ClassificationMethod string

const (
	MethodAI        ClassificationMethod = "ai"
	MethodManual    ClassificationMethod = "manual"
	MethodUserInput ClassificationMethod = "user_input"
)

// Classification is the immutable result of a single vision-AI call.
type Classification struct {
	ID          string               `json:"id"`
	Phone       string               `json:"phone"`
	Category    WasteCategory        `json:"category"`
	Confidence  float64              `json:"confidence"`
	Method      ClassificationMethod `json:"method"`
	Description string               `json:"description,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
}

// CollectionPoint is a waste drop-off location. Reference data: the core
// only reads it, the admin panel owns mutation.
type CollectionPoint struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	Address       string    `json:"address"`
	Latitude      float64   `json:"latitude"`
	Longitude     float64   `json:"longitude"`
	AcceptedTypes []string  `json:"accepted_types"`
	Active        bool      `json:"active"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Schedule is one collection time window at a point.
type Schedule struct {
	ID      int64  `json:"id"`
	PointID int64  `json:"point_id"`
	Day     string `json:"day"`
	Start   string `json:"start"`
	End     string `json:"end"`
	Active  bool   `json:"active"`
}

// AuditEntry records the outcome of one routed command.
type AuditEntry struct {
	ID        string    `json:"id"`
	Phone     string    `json:"phone"`
	Command   string    `json:"command"`
	Success   bool      `json:"success"`
	Failure   string    `json:"failure,omitempty"`
	LatencyMS int64     `json:"latency_ms"`
	CreatedAt time.Time `json:"created_at"`
}
