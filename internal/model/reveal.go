package model

import "time"

type RevealVisibility string

const (
	VisibilityPending  RevealVisibility = "pending"
	VisibilityRevealed RevealVisibility = "revealed"
	VisibilityConsumed RevealVisibility = "consumed"
	VisibilityExpired  RevealVisibility = "expired"
)

type RevealMode string

const (
	ModeDirect  RevealMode = "direct"
	ModeScratch RevealMode = "scratch"
	ModeQA      RevealMode = "qa"
	ModeRace    RevealMode = "race"
	ModeBinary  RevealMode = "binary"
)

type RaceType string

const (
	RaceGroupQA   RaceType = "group_qa"
	RaceRateGuess RaceType = "rate_guess"
)

const (
	AssetImage = "image"
	AssetVideo = "video"
	AssetAudio = "audio"
)

// Reveal 一条可分享的一次性揭示内容。
// Visibility 只能由 repository 的条件更新语句向前推进，服务层不直接改写。
// swagger:model Reveal
type Reveal struct {
	UUIDBase
	OwnerID        uint             `gorm:"index;not null" json:"ownerId"`
	RecipientLabel string           `gorm:"size:100" json:"recipientLabel"`
	Mode           RevealMode       `gorm:"size:20;not null" json:"mode"`
	Visibility     RevealVisibility `gorm:"size:20;not null;default:'pending'" json:"visibility"`

	// 被保护的内容，仅存引用
	BodyText  string `gorm:"type:text" json:"-"`
	AssetKey  string `gorm:"size:255" json:"-"`
	AssetType string `gorm:"size:50" json:"assetType"`

	// 查看时间窗（秒）。视频资源有自然时长时以 NaturalDurationSeconds 为准
	WindowSeconds          int `gorm:"default:10" json:"windowSeconds"`
	NaturalDurationSeconds int `json:"naturalDurationSeconds"`

	// qa / race(group_qa) 模式配置
	Question      string `gorm:"size:500" json:"question,omitempty"`
	Answer        string `gorm:"size:255" json:"-"`
	CaseSensitive bool   `json:"caseSensitive"`
	MaxAttempts   int    `json:"maxAttempts,omitempty"`
	AttemptsUsed  int    `json:"attemptsUsed"`

	// race 模式配置
	RaceType       RaceType `gorm:"size:20" json:"raceType,omitempty"`
	ExpectedRating int      `json:"-"`

	// binary 模式配置
	YesAssetKey string `gorm:"size:255" json:"-"`
	NoAssetKey  string `gorm:"size:255" json:"-"`
	Choice      string `gorm:"size:10" json:"choice,omitempty"`

	RevealedAt *time.Time `json:"revealedAt,omitempty"`
	ConsumedAt *time.Time `json:"consumedAt,omitempty"`
	ExpiredAt  *time.Time `json:"expiredAt,omitempty"`
	WinnerID   *uint      `gorm:"index" json:"winnerId,omitempty"`
}

func (Reveal) TableName() string {
	return "reveals"
}

// EffectiveWindowSeconds 实际生效的查看时间窗：视频自然时长优先于配置值
func (r *Reveal) EffectiveWindowSeconds() int {
	if r.NaturalDurationSeconds > 0 {
		return r.NaturalDurationSeconds
	}
	return r.WindowSeconds
}

// IsTerminal consumed/expired 为终态，不再有任何迁移
func (r *Reveal) IsTerminal() bool {
	return r.Visibility == VisibilityConsumed || r.Visibility == VisibilityExpired
}
