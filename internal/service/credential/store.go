package credential

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/educlopez/airlume/internal/models"
	"github.com/educlopez/airlume/pkg/util"
)

var ErrEmptySecret = errors.New("credential secret is empty")

// Store persists per-owner, per-platform secrets encrypted with the injected Cipher.
type Store struct {
	db     *gorm.DB
	cipher Cipher
	logger *zap.Logger
}

func NewStore(db *gorm.DB, cipher Cipher, logger *zap.Logger) *Store {
	return &Store{
		db:     db,
		cipher: cipher,
		logger: logger,
	}
}

// additionalData binds a blob to its row. Each field carries a length
// prefix, so no two (owner, platform) pairs share an encoding.
func additionalData(ownerID, platform string) []byte {
	ad := make([]byte, 0, 8+len(ownerID)+len(platform))
	for _, field := range []string{ownerID, platform} {
		ad = binary.BigEndian.AppendUint32(ad, uint32(len(field)))
		ad = append(ad, field...)
	}
	return ad
}

// Put encrypts the secret and upserts it for (ownerID, platform).
func (s *Store) Put(ctx context.Context, ownerID, platform, secret string) error {
	if secret == "" {
		return ErrEmptySecret
	}

	blob, err := s.cipher.Seal([]byte(secret), additionalData(ownerID, platform))
	if err != nil {
		return fmt.Errorf("seal credential: %w", err)
	}

	cred := models.Credential{
		OwnerID:    ownerID,
		Platform:   platform,
		Ciphertext: blob,
		Hint:       util.MaskSecret(secret),
	}

	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "owner_id"}, {Name: "platform"}},
		DoUpdates: clause.AssignmentColumns([]string{"ciphertext", "hint", "updated_at"}),
	}).Create(&cred).Error
	if err != nil {
		return fmt.Errorf("store credential: %w", err)
	}

	s.logger.Info("Credential stored",
		zap.String("owner_id", ownerID),
		zap.String("platform", platform),
		zap.String("hint", cred.Hint))
	return nil
}

// Get returns the decrypted secret. A missing row is ErrNotFound; a row that
// fails authentication is ErrDecryption, never an empty secret.
func (s *Store) Get(ctx context.Context, ownerID, platform string) (string, error) {
	cred, err := s.find(ctx, ownerID, platform)
	if err != nil {
		return "", err
	}

	plaintext, err := s.cipher.Open(cred.Ciphertext, additionalData(ownerID, platform))
	if err != nil {
		s.logger.Error("Credential could not be decrypted",
			zap.String("owner_id", ownerID),
			zap.String("platform", platform),
			zap.Error(err))
		return "", err
	}

	return string(plaintext), nil
}

// Describe returns the stored row without decrypting it.
func (s *Store) Describe(ctx context.Context, ownerID, platform string) (*models.Credential, error) {
	return s.find(ctx, ownerID, platform)
}

// Delete removes the credential. Deleting a missing credential is not an error.
func (s *Store) Delete(ctx context.Context, ownerID, platform string) error {
	result := s.db.WithContext(ctx).
		Where("owner_id = ? AND platform = ?", ownerID, platform).
		Delete(&models.Credential{})
	if result.Error != nil {
		return fmt.Errorf("delete credential: %w", result.Error)
	}

	if result.RowsAffected > 0 {
		s.logger.Info("Credential deleted",
			zap.String("owner_id", ownerID),
			zap.String("platform", platform))
	}
	return nil
}

func (s *Store) find(ctx context.Context, ownerID, platform string) (*models.Credential, error) {
	var cred models.Credential
	err := s.db.WithContext(ctx).
		Where("owner_id = ? AND platform = ?", ownerID, platform).
		First(&cred).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load credential: %w", err)
	}
	return &cred, nil
}
