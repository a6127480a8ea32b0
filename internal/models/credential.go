package models

import "time"

// Credential holds encrypted secret material for one owner and platform.
// Ciphertext is nonce || tag || ciphertext; the plaintext is never stored.
type Credential struct {
	ID         uint      `gorm:"primaryKey" json:"-"`
	OwnerID    string    `gorm:"not null;size:255;uniqueIndex:idx_owner_platform" json:"owner_id"`
	Platform   string    `gorm:"not null;size:50;uniqueIndex:idx_owner_platform" json:"platform"`
	Ciphertext []byte    `gorm:"not null" json:"-"`
	Hint       string    `gorm:"size:16" json:"hint"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
