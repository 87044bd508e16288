package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Dashboard struct {
	ID        uuid.UUID       `json:"id"`
	OwnerID   uuid.UUID       `json:"owner_id"`
	Title     string          `json:"title"`
	Layout    json.RawMessage `json:"layout"`
	IsShared  bool            `json:"is_shared"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type CreateDashboardRequest struct {
	Title    string          `json:"title"`
	Layout   json.RawMessage `json:"layout"`
	IsShared bool            `json:"is_shared"`
}

type UpdateDashboardRequest struct {
	Title    *string         `json:"title"`
	Layout   json.RawMessage `json:"layout"`
	IsShared *bool           `json:"is_shared"`
}
