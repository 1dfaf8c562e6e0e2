package service

import (
	"context"
	"errors"
	"time"

	"reveal_backend/internal/config"
	"reveal_backend/internal/model"
	"reveal_backend/internal/repository"
	"reveal_backend/internal/util"
	"reveal_backend/pkg/logger"
	"reveal_backend/pkg/monitoring"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

type RevealService struct {
	RevealRepo  *repository.RevealRepository
	AttemptRepo *repository.AttemptRepository
	Storage     *StorageService
	Hub         *RevealHub
	Cfg         *config.Config
}

func NewRevealService(revealRepo *repository.RevealRepository, attemptRepo *repository.AttemptRepository, storage *StorageService, hub *RevealHub, cfg *config.Config) *RevealService {
	return &RevealService{
		RevealRepo:  revealRepo,
		AttemptRepo: attemptRepo,
		Storage:     storage,
		Hub:         hub,
		Cfg:         cfg,
	}
}

// RevealCreateRequest 创建时一次性固定全部配置，之后不可修改
type RevealCreateRequest struct {
	Mode           string `json:"mode" binding:"required,oneof=direct scratch qa race binary"`
	RecipientLabel string `json:"recipientLabel"`
	BodyText       string `json:"bodyText"`
	AssetKey       string `json:"assetKey"`
	AssetType      string `json:"assetType"`
	WindowSeconds  int    `json:"windowSeconds"`
	DurationProbed int    `json:"durationSeconds"`

	Question      string `json:"question"`
	Answer        string `json:"answer"`
	CaseSensitive bool   `json:"caseSensitive"`
	MaxAttempts   int    `json:"maxAttempts"`

	RaceType       string `json:"raceType"`
	ExpectedRating int    `json:"expectedRating"`

	YesAssetKey string `json:"yesAssetKey"`
	NoAssetKey  string `json:"noAssetKey"`
}

// RevealPayload 解锁后返回给客户端的内容，只含引用不含字节
type RevealPayload struct {
	BodyText         string `json:"bodyText,omitempty"`
	AssetURL         string `json:"assetUrl,omitempty"`
	AssetType        string `json:"assetType,omitempty"`
	RemainingSeconds int    `json:"remainingSeconds"`
}

// ChallengeView 未解锁的 qa/race 记录渲染挑战所需的信息，不泄露答案
type ChallengeView struct {
	Mode              model.RevealMode `json:"mode"`
	Question          string           `json:"question"`
	Hint              string           `json:"hint,omitempty"`
	AttemptsRemaining int              `json:"attemptsRemaining,omitempty"`
	RaceType          model.RaceType   `json:"raceType,omitempty"`
	ParticipantCount  int64            `json:"participantCount"`
	AlreadySubmitted  bool             `json:"alreadySubmitted,omitempty"`
}

// OpenResult 打开一条 reveal 的统一响应
type OpenResult struct {
	Status    RevealStatus   `json:"status"`
	Payload   *RevealPayload `json:"payload,omitempty"`
	Challenge *ChallengeView `json:"challenge,omitempty"`
}

func (s *RevealService) Create(ownerID uint, req RevealCreateRequest) (*model.Reveal, error) {
	reveal := &model.Reveal{
		OwnerID:        ownerID,
		RecipientLabel: req.RecipientLabel,
		Mode:           model.RevealMode(req.Mode),
		Visibility:     model.VisibilityPending,
		BodyText:       req.BodyText,
		AssetKey:       req.AssetKey,
		AssetType:      req.AssetType,
		WindowSeconds:  req.WindowSeconds,

		NaturalDurationSeconds: req.DurationProbed,

		Question:      req.Question,
		Answer:        req.Answer,
		CaseSensitive: req.CaseSensitive,
		MaxAttempts:   req.MaxAttempts,

		RaceType:       model.RaceType(req.RaceType),
		ExpectedRating: req.ExpectedRating,

		YesAssetKey: req.YesAssetKey,
		NoAssetKey:  req.NoAssetKey,
	}

	if reveal.WindowSeconds <= 0 {
		reveal.WindowSeconds = s.Cfg.Reveal.DefaultWindowSeconds
	}
	if max := s.Cfg.Reveal.MaxWindowSeconds; max > 0 && reveal.WindowSeconds > max {
		reveal.WindowSeconds = max
	}

	if err := validateModeConfig(reveal); err != nil {
		return nil, err
	}

	if err := s.RevealRepo.Create(reveal); err != nil {
		return nil, err
	}
	return reveal, nil
}

// validateModeConfig 各模式的配置按模式整体校验：该有的必须有，不该有的必须空
func validateModeConfig(r *model.Reveal) error {
	hasContent := r.BodyText != "" || r.AssetKey != ""
	hasQA := r.Question != "" && r.Answer != ""

	hasChallenge := r.Question != "" || r.Answer != "" || r.MaxAttempts != 0 ||
		r.RaceType != "" || r.ExpectedRating != 0
	hasBinaryAssets := r.YesAssetKey != "" || r.NoAssetKey != ""

	switch r.Mode {
	case model.ModeDirect, model.ModeScratch:
		if !hasContent {
			return errors.New("direct/scratch reveal requires body text or an asset")
		}
		if hasChallenge || hasBinaryAssets {
			return errors.New("direct/scratch reveal does not take challenge or binary fields")
		}
	case model.ModeQA:
		if !hasContent || !hasQA {
			return errors.New("qa reveal requires content, question and answer")
		}
		if r.MaxAttempts <= 0 {
			return errors.New("qa reveal requires maxAttempts > 0")
		}
		if r.RaceType != "" || r.ExpectedRating != 0 || hasBinaryAssets {
			return errors.New("qa reveal does not take race or binary fields")
		}
	case model.ModeRace:
		if !hasContent {
			return errors.New("race reveal requires body text or an asset")
		}
		if r.MaxAttempts != 0 || hasBinaryAssets {
			return errors.New("race reveal does not take attempt limits or binary fields")
		}
		switch r.RaceType {
		case model.RaceGroupQA:
			if !hasQA {
				return errors.New("group_qa race requires question and answer")
			}
			if r.ExpectedRating != 0 {
				return errors.New("group_qa race does not take expectedRating")
			}
		case model.RaceRateGuess:
			if r.Question == "" || r.ExpectedRating <= 0 {
				return errors.New("rate_guess race requires a category and expectedRating")
			}
			if r.Answer != "" {
				return errors.New("rate_guess race does not take an answer")
			}
		default:
			return errors.New("race reveal requires raceType group_qa or rate_guess")
		}
	case model.ModeBinary:
		if r.YesAssetKey == "" || r.NoAssetKey == "" || r.Question == "" {
			return errors.New("binary reveal requires question, yesAssetKey and noAssetKey")
		}
		if r.Answer != "" || r.MaxAttempts != 0 || r.RaceType != "" || r.ExpectedRating != 0 || r.AssetKey != "" {
			return errors.New("binary reveal does not take challenge fields or a plain asset")
		}
	default:
		return errors.New("unknown reveal mode")
	}
	return nil
}

// Open 客户端会话挂载时的入口：可展示则原子迁移并返回内容，
// qa/race 只返回挑战描述，解锁走各自的提交接口。
// 对同一 pending 记录的并发 Open 恰好一个拿到内容，其余读到非 pending 状态
func (s *RevealService) Open(id string, participantID uint, choice string, now time.Time) (*OpenResult, error) {
	reveal, err := s.RevealRepo.FindByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.ErrRevealNotFound
		}
		return nil, err
	}

	status := EvaluateVisibility(reveal, participantID, now)
	if status != StatusShowable {
		// 防御性复查发现窗口耗尽的，顺手落一次幂等过期
		if status == StatusExpired && reveal.Visibility != model.VisibilityExpired {
			s.expireQuietly(reveal.ID, now)
		}
		return &OpenResult{Status: status}, nil
	}

	switch reveal.Mode {
	case model.ModeQA:
		return &OpenResult{Status: StatusShowable, Challenge: s.challengeView(reveal, participantID)}, nil

	case model.ModeRace:
		if reveal.Visibility == model.VisibilityRevealed {
			// 已确认的胜者在窗口内取内容
			return &OpenResult{Status: StatusShowable, Payload: s.payloadFor(reveal, now)}, nil
		}
		return &OpenResult{Status: StatusShowable, Challenge: s.challengeView(reveal, participantID)}, nil

	case model.ModeBinary:
		if choice != "yes" && choice != "no" {
			return nil, util.ErrChoiceRequired
		}
		ok, err := s.RevealRepo.MarkRevealedWithChoice(reveal.ID, choice, now)
		if err != nil {
			return nil, err
		}
		if !ok {
			return s.reloadStatus(reveal.ID, participantID, now)
		}
		reveal.Choice = choice
		reveal.Visibility = model.VisibilityRevealed
		reveal.RevealedAt = &now
		monitoring.RevealTransitionCounter.WithLabelValues(string(model.VisibilityRevealed)).Inc()
		return &OpenResult{Status: StatusShowable, Payload: s.payloadFor(reveal, now)}, nil

	default: // direct / scratch
		ok, err := s.RevealRepo.MarkRevealed(reveal.ID, now)
		if err != nil {
			return nil, err
		}
		if !ok {
			return s.reloadStatus(reveal.ID, participantID, now)
		}
		reveal.Visibility = model.VisibilityRevealed
		reveal.RevealedAt = &now
		monitoring.RevealTransitionCounter.WithLabelValues(string(model.VisibilityRevealed)).Inc()
		return &OpenResult{Status: StatusShowable, Payload: s.payloadFor(reveal, now)}, nil
	}
}

// Status 只读可见性查询，race 参与者轮询用
func (s *RevealService) Status(id string, participantID uint, now time.Time) (*OpenResult, error) {
	reveal, err := s.RevealRepo.FindByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.ErrRevealNotFound
		}
		return nil, err
	}
	status := EvaluateVisibility(reveal, participantID, now)
	result := &OpenResult{Status: status}
	if status == StatusShowable {
		switch {
		case reveal.Mode == model.ModeRace && reveal.Visibility == model.VisibilityRevealed:
			result.Payload = s.payloadFor(reveal, now)
		case reveal.Mode == model.ModeQA || reveal.Mode == model.ModeRace:
			result.Challenge = s.challengeView(reveal, participantID)
		}
	}
	return result, nil
}

// Consume 查看窗口自然结束（视频播完、主动关闭）
func (s *RevealService) Consume(id string, now time.Time) error {
	ok, err := s.RevealRepo.MarkConsumed(id, now)
	if err != nil {
		return err
	}
	if ok {
		monitoring.RevealTransitionCounter.WithLabelValues(string(model.VisibilityConsumed)).Inc()
		s.Hub.PublishEvent(id, RevealEvent{Type: EventConsumed})
		return nil
	}

	reveal, err := s.RevealRepo.FindByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return util.ErrRevealNotFound
		}
		return err
	}
	if reveal.IsTerminal() {
		return util.ErrAlreadyTerminal
	}
	// pending 记录上收到 consume 是客户端缺陷
	logger.Log.Warn("consume on non-revealed reveal",
		zap.String("revealId", id),
		zap.String("visibility", string(reveal.Visibility)))
	return util.ErrInvalidTransition
}

// Expire 过期触发通道的唯一汇聚点：倒计时归零、页面隐藏、传输超时
// 都走这里。幂等，对终态记录是无害的空操作
func (s *RevealService) Expire(id string, now time.Time) error {
	ok, err := s.RevealRepo.MarkExpired(id, now)
	if err != nil {
		return err
	}
	if ok {
		monitoring.RevealTransitionCounter.WithLabelValues(string(model.VisibilityExpired)).Inc()
		s.Hub.PublishEvent(id, RevealEvent{Type: EventExpired})
		return nil
	}

	// 0 行受影响：记录不存在或已是终态，前者要报 NotFound
	if _, err := s.RevealRepo.FindByID(id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return util.ErrRevealNotFound
		}
		return err
	}
	return nil
}

func (s *RevealService) ListMine(ownerID uint, page, limit int) ([]model.Reveal, int64, error) {
	return s.RevealRepo.ListByOwner(ownerID, page, limit)
}

// ListAttempts 拥有者查看一条 race/qa reveal 收到的全部提交。
// 非拥有者一律按不存在处理，不暴露记录是否存在
func (s *RevealService) ListAttempts(ownerID uint, revealID string) ([]model.Attempt, error) {
	reveal, err := s.RevealRepo.FindByID(revealID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.ErrRevealNotFound
		}
		return nil, err
	}
	if reveal.OwnerID != ownerID {
		return nil, util.ErrRevealNotFound
	}
	return s.AttemptRepo.ListByReveal(revealID)
}

// BulkDelete 拥有者删除自己的 reveal，并请求删除底层资源。
// 与状态机无关的终结操作，只有拥有者可用
func (s *RevealService) BulkDelete(ctx context.Context, ownerID uint, ids []string) (int, error) {
	deleted, err := s.RevealRepo.DeleteByIDsForOwner(ownerID, ids)
	if err != nil {
		return 0, err
	}
	for _, rv := range deleted {
		for _, key := range []string{rv.AssetKey, rv.YesAssetKey, rv.NoAssetKey} {
			if key == "" {
				continue
			}
			if err := s.Storage.Delete(ctx, key); err != nil {
				logger.Log.Warn("asset delete failed",
					zap.String("revealId", rv.ID),
					zap.String("assetKey", key),
					zap.Error(err))
			}
		}
	}
	return len(deleted), nil
}

// SweepOverdue 后台兜底：revealed 超窗而客户端失联的记录统一过期
func (s *RevealService) SweepOverdue(now time.Time) error {
	reveals, err := s.RevealRepo.ListRevealed(500)
	if err != nil {
		return err
	}
	for i := range reveals {
		r := &reveals[i]
		if !windowElapsed(r, now) {
			continue
		}
		if err := s.Expire(r.ID, now); err != nil && !errors.Is(err, util.ErrRevealNotFound) {
			logger.Log.Error("sweep expire failed", zap.String("revealId", r.ID), zap.Error(err))
		}
	}
	return nil
}

func (s *RevealService) reloadStatus(id string, participantID uint, now time.Time) (*OpenResult, error) {
	reveal, err := s.RevealRepo.FindByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.ErrRevealNotFound
		}
		return nil, err
	}
	return &OpenResult{Status: EvaluateVisibility(reveal, participantID, now)}, nil
}

func (s *RevealService) expireQuietly(id string, now time.Time) {
	if _, err := s.RevealRepo.MarkExpired(id, now); err != nil {
		logger.Log.Error("defensive expire failed", zap.String("revealId", id), zap.Error(err))
	} else {
		monitoring.RevealTransitionCounter.WithLabelValues(string(model.VisibilityExpired)).Inc()
		s.Hub.PublishEvent(id, RevealEvent{Type: EventExpired})
	}
}

func (s *RevealService) payloadFor(r *model.Reveal, now time.Time) *RevealPayload {
	p := &RevealPayload{
		BodyText:         r.BodyText,
		AssetType:        r.AssetType,
		RemainingSeconds: RemainingSeconds(r, now),
	}

	assetKey := r.AssetKey
	if r.Mode == model.ModeBinary {
		if r.Choice == "no" {
			assetKey = r.NoAssetKey
		} else {
			assetKey = r.YesAssetKey
		}
	}
	if assetKey != "" {
		p.AssetURL = s.Storage.GetURL(assetKey)
	}
	return p
}

func (s *RevealService) challengeView(r *model.Reveal, participantID uint) *ChallengeView {
	view := &ChallengeView{
		Mode:     r.Mode,
		Question: r.Question,
		RaceType: r.RaceType,
	}
	if r.Mode == model.ModeQA {
		view.Hint = AnswerHint(r.Answer)
		view.AttemptsRemaining = r.MaxAttempts - r.AttemptsUsed
	}
	if r.Mode == model.ModeRace {
		if count, err := s.AttemptRepo.CountByReveal(r.ID); err == nil {
			view.ParticipantCount = count
		}
		if participantID != 0 {
			if _, err := s.AttemptRepo.FindByRevealAndParticipant(r.ID, participantID); err == nil {
				view.AlreadySubmitted = true
			}
		}
	}
	return view
}
