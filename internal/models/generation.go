package models

import (
	"time"
)

type GenerationStatus string

const (
	GenerationStatusDraft GenerationStatus = "draft"
	GenerationStatusQueue GenerationStatus = "queue"
	GenerationStatusSent  GenerationStatus = "sent"
	// GenerationStatusFailed means every scheduled platform failed and the
	// user has to reschedule or reconnect.
	GenerationStatusFailed GenerationStatus = "failed"
)

// Generation is a user-authored post body, optionally with an image.
type Generation struct {
	ID        string           `gorm:"primaryKey;size:36" json:"id"`
	OwnerID   string           `gorm:"not null;index;size:255" json:"owner_id"`
	Body      string           `gorm:"type:text;not null" json:"body"`
	ImageRef  string           `gorm:"size:1024" json:"image_ref,omitempty"`
	ImageAlt  string           `gorm:"size:1000" json:"image_alt,omitempty"`
	Status    GenerationStatus `gorm:"size:20;not null;default:'draft';index" json:"status"`
	CreatedAt time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time        `gorm:"autoUpdateTime" json:"updated_at"`

	Requests []PublishRequest `gorm:"foreignKey:GenerationID" json:"requests,omitempty"`
}

func (g *Generation) HasImage() bool {
	return g.ImageRef != ""
}
