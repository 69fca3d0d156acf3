package models

import (
	"time"

	"github.com/google/uuid"
)

type Team struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Balance   int64     `json:"balance"`
	UpdatedAt time.Time `json:"updated_at"`
}
