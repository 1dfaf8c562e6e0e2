package service

import (
	"time"

	"reveal_backend/internal/model"
)

// RevealStatus 可见性判定结果，提供给客户端渲染终态文案
type RevealStatus string

const (
	StatusShowable        RevealStatus = "showable"
	StatusAlreadyConsumed RevealStatus = "already_consumed"
	StatusExpired         RevealStatus = "expired"
	StatusRaceLost        RevealStatus = "race_lost"
)

// EvaluateVisibility 纯判定函数，不产生任何状态变化。
// 所有迁移都走 RevealRepository 的条件更新。
//
// revealed 状态下即使客户端始终不上报 expire，这里也会按
// revealedAt + 有效窗口兜底判为过期，防止恶意客户端无限延长查看
func EvaluateVisibility(r *model.Reveal, participantID uint, now time.Time) RevealStatus {
	switch r.Visibility {
	case model.VisibilityExpired:
		return StatusExpired

	case model.VisibilityConsumed:
		return StatusAlreadyConsumed

	case model.VisibilityRevealed:
		if windowElapsed(r, now) {
			return StatusExpired
		}
		if r.Mode == model.ModeRace {
			if r.WinnerID != nil && *r.WinnerID == participantID {
				return StatusShowable
			}
			return StatusRaceLost
		}
		// 非 race 的 revealed 记录只对已经打开它的客户端有意义，
		// 任何再次询问都视为已消费
		return StatusAlreadyConsumed

	default: // pending
		return StatusShowable
	}
}

// RemainingSeconds revealed 状态下窗口剩余秒数，其余状态为 0
func RemainingSeconds(r *model.Reveal, now time.Time) int {
	if r.Visibility != model.VisibilityRevealed || r.RevealedAt == nil {
		return 0
	}
	remaining := r.EffectiveWindowSeconds() - int(now.Sub(*r.RevealedAt).Seconds())
	if remaining < 0 {
		return 0
	}
	return remaining
}

func windowElapsed(r *model.Reveal, now time.Time) bool {
	if r.RevealedAt == nil {
		return false
	}
	return now.Sub(*r.RevealedAt) > time.Duration(r.EffectiveWindowSeconds())*time.Second
}
