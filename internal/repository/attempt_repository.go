package repository

import (
	"errors"
	"strings"

	"reveal_backend/internal/model"

	"gorm.io/gorm"
)

type AttemptRepository struct {
	DB *gorm.DB
}

func NewAttemptRepository(db *gorm.DB) *AttemptRepository {
	return &AttemptRepository{DB: db}
}

// Create 只增不改。唯一索引 (reveal_id, participant_id) 是"一人一次提交"
// 的最终裁判，先查后插挡不住并发重复，这里靠索引冲突挡
func (r *AttemptRepository) Create(attempt *model.Attempt) error {
	err := r.DB.Create(attempt).Error
	if err != nil && isDuplicateKey(err) {
		return gorm.ErrDuplicatedKey
	}
	return err
}

func (r *AttemptRepository) FindByRevealAndParticipant(revealID string, participantID uint) (*model.Attempt, error) {
	var attempt model.Attempt
	err := r.DB.Where("reveal_id = ? AND participant_id = ?", revealID, participantID).First(&attempt).Error
	return &attempt, err
}

func (r *AttemptRepository) ListByReveal(revealID string) ([]model.Attempt, error) {
	var attempts []model.Attempt
	err := r.DB.Where("reveal_id = ?", revealID).Order("created_at ASC").Find(&attempts).Error
	return attempts, err
}

func (r *AttemptRepository) CountByReveal(revealID string) (int64, error) {
	var count int64
	err := r.DB.Model(&model.Attempt{}).Where("reveal_id = ?", revealID).Count(&count).Error
	return count, err
}

// UpdateOutcome 仅在 ClaimWinner 成功后把胜者的提交升级为 correct，
// 其余提交保持创建时写入的结果不动
func (r *AttemptRepository) UpdateOutcome(attemptID uint, outcome model.AttemptOutcome) error {
	return r.DB.Model(&model.Attempt{}).
		Where("id = ?", attemptID).
		Update("outcome", outcome).
		Error
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "Duplicate entry") || strings.Contains(msg, "UNIQUE constraint failed")
}
