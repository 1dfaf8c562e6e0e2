package repository

import (
	"time"

	"reveal_backend/internal/model"

	"gorm.io/gorm"
)

type RevealRepository struct {
	DB *gorm.DB
}

func NewRevealRepository(db *gorm.DB) *RevealRepository {
	return &RevealRepository{DB: db}
}

func (r *RevealRepository) Create(reveal *model.Reveal) error {
	return r.DB.Create(reveal).Error
}

func (r *RevealRepository) FindByID(id string) (*model.Reveal, error) {
	var reveal model.Reveal
	err := r.DB.Where("id = ?", id).First(&reveal).Error
	return &reveal, err
}

func (r *RevealRepository) ListByOwner(ownerID uint, page, limit int) ([]model.Reveal, int64, error) {
	var reveals []model.Reveal
	var total int64

	q := r.DB.Model(&model.Reveal{}).Where("owner_id = ?", ownerID)
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := q.Order("created_at DESC").Offset((page - 1) * limit).Limit(limit).Find(&reveals).Error
	return reveals, total, err
}

// MarkRevealed pending -> revealed 的单条件更新。
// 返回 false 表示记录已不在 pending，调用方需重读后按当前状态回应，
// 并发打开、重复点击都靠这一条语句收敛成恰好一次成功。
func (r *RevealRepository) MarkRevealed(id string, now time.Time) (bool, error) {
	result := r.DB.Model(&model.Reveal{}).
		Where("id = ? AND visibility = ?", id, model.VisibilityPending).
		Updates(map[string]interface{}{
			"visibility":  model.VisibilityRevealed,
			"revealed_at": now,
		})
	return result.RowsAffected == 1, result.Error
}

// MarkRevealedWithChoice binary 模式：揭示同时落下选择，选择不可再变
func (r *RevealRepository) MarkRevealedWithChoice(id string, choice string, now time.Time) (bool, error) {
	result := r.DB.Model(&model.Reveal{}).
		Where("id = ? AND visibility = ?", id, model.VisibilityPending).
		Updates(map[string]interface{}{
			"visibility":  model.VisibilityRevealed,
			"revealed_at": now,
			"choice":      choice,
		})
	return result.RowsAffected == 1, result.Error
}

// MarkConsumed revealed -> consumed，查看窗口自然结束
func (r *RevealRepository) MarkConsumed(id string, now time.Time) (bool, error) {
	result := r.DB.Model(&model.Reveal{}).
		Where("id = ? AND visibility = ?", id, model.VisibilityRevealed).
		Updates(map[string]interface{}{
			"visibility":  model.VisibilityConsumed,
			"consumed_at": now,
		})
	return result.RowsAffected == 1, result.Error
}

// MarkExpired pending/revealed -> expired。幂等：对终态记录 0 行也算成功
func (r *RevealRepository) MarkExpired(id string, now time.Time) (bool, error) {
	result := r.DB.Model(&model.Reveal{}).
		Where("id = ? AND visibility IN ?", id, []model.RevealVisibility{model.VisibilityPending, model.VisibilityRevealed}).
		Updates(map[string]interface{}{
			"visibility": model.VisibilityExpired,
			"expired_at": now,
		})
	return result.RowsAffected == 1, result.Error
}

// ClaimWinner race 模式的核心：检查无胜者与指定胜者在同一条 UPDATE 里完成，
// 任意并发下最多一行受影响，即最多一个胜者
func (r *RevealRepository) ClaimWinner(id string, participantID uint, now time.Time) (bool, error) {
	result := r.DB.Model(&model.Reveal{}).
		Where("id = ? AND winner_id IS NULL AND visibility = ?", id, model.VisibilityPending).
		Updates(map[string]interface{}{
			"winner_id":   participantID,
			"visibility":  model.VisibilityRevealed,
			"revealed_at": now,
		})
	return result.RowsAffected == 1, result.Error
}

// IncrementAttempts qa 模式答题计数，带上限条件防止越界
func (r *RevealRepository) IncrementAttempts(id string) (bool, error) {
	result := r.DB.Model(&model.Reveal{}).
		Where("id = ? AND visibility = ? AND attempts_used < max_attempts", id, model.VisibilityPending).
		Update("attempts_used", gorm.Expr("attempts_used + 1"))
	return result.RowsAffected == 1, result.Error
}

// ListRevealed 当前处于 revealed 的记录，后台清扫任务逐条判断窗口是否耗尽。
// 窗口长度因记录而异（视频自然时长覆盖配置值），所以不在 SQL 里算
func (r *RevealRepository) ListRevealed(limit int) ([]model.Reveal, error) {
	var reveals []model.Reveal
	err := r.DB.Where("visibility = ? AND revealed_at IS NOT NULL", model.VisibilityRevealed).
		Limit(limit).
		Find(&reveals).Error
	return reveals, err
}

// DeleteByIDsForOwner 拥有者批量删除，软删除记录本身
func (r *RevealRepository) DeleteByIDsForOwner(ownerID uint, ids []string) ([]model.Reveal, error) {
	var reveals []model.Reveal
	err := r.DB.Where("owner_id = ? AND id IN ?", ownerID, ids).Find(&reveals).Error
	if err != nil {
		return nil, err
	}
	if len(reveals) == 0 {
		return reveals, nil
	}
	matched := make([]string, 0, len(reveals))
	for _, rv := range reveals {
		matched = append(matched, rv.ID)
	}
	err = r.DB.Where("owner_id = ? AND id IN ?", ownerID, matched).Delete(&model.Reveal{}).Error
	return reveals, err
}
