package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// StageEvent records one state-machine transition.
type StageEvent struct {
	Stage      string    `json:"stage"                bson:"stage"`
	At         time.Time `json:"at"                   bson:"at"`
	DurationMS int64     `json:"duration_ms"          bson:"duration_ms"`
	Error      string    `json:"error,omitempty"      bson:"error,omitempty"`
}

// ToolCallRecord is one tool invocation issued during web extraction.
type ToolCallRecord struct {
	Name      string `json:"name"            bson:"name"`
	Arguments string `json:"arguments"       bson:"arguments"`
	OK        bool   `json:"ok"              bson:"ok"`
	Error     string `json:"error,omitempty" bson:"error,omitempty"`
}

// PageSnapshot points at the archived text of a fetched page.
type PageSnapshot struct {
	Index     int    `json:"index"      bson:"index"`
	URL       string `json:"url"        bson:"url"`
	Title     string `json:"title"      bson:"title"`
	Chars     int    `json:"chars"      bson:"chars"`
	ObjectKey string `json:"object_key" bson:"object_key"`
}

// ResearchTrace is the audit document stored in MongoDB for each result.
type ResearchTrace struct {
	ID           primitive.ObjectID `json:"id"             bson:"_id,omitempty"`
	ResearchID   string             `json:"research_id"    bson:"research_id"`
	Fingerprint  string             `json:"fingerprint"    bson:"fingerprint"`
	Stages       []StageEvent       `json:"stages"         bson:"stages"`
	ToolCalls    []ToolCallRecord   `json:"tool_calls"     bson:"tool_calls"`
	ModelReplies []string           `json:"model_replies"  bson:"model_replies"`
	Pages        []PageSnapshot     `json:"pages"          bson:"pages"`
	Errors       []string           `json:"errors"         bson:"errors"`
	CreatedAt    time.Time          `json:"created_at"     bson:"created_at"`
}
