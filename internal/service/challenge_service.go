package service

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"reveal_backend/internal/config"
	"reveal_backend/internal/model"
	"reveal_backend/internal/repository"
	"reveal_backend/internal/util"
	"reveal_backend/pkg/monitoring"

	"gorm.io/gorm"
)

// ChallengeService 处理 qa 单人答题和 race 多人抢答两类解锁。
// race 的"是否已有胜者"检查和"指定胜者"写入在 RevealRepository.ClaimWinner
// 的一条条件 UPDATE 里完成，同一毫秒到达的多个正确答案也只会产生一个胜者
type ChallengeService struct {
	RevealRepo  *repository.RevealRepository
	AttemptRepo *repository.AttemptRepository
	Reveals     *RevealService
	Hub         *RevealHub
	Cfg         *config.Config
}

func NewChallengeService(revealRepo *repository.RevealRepository, attemptRepo *repository.AttemptRepository, reveals *RevealService, hub *RevealHub, cfg *config.Config) *ChallengeService {
	return &ChallengeService{
		RevealRepo:  revealRepo,
		AttemptRepo: attemptRepo,
		Reveals:     reveals,
		Hub:         hub,
		Cfg:         cfg,
	}
}

const (
	ReasonIncorrect = "incorrect"
	ReasonRaceLost  = "race_lost"
)

// RaceResult 一次抢答提交的结果。答对但晚了的参与者拿到 race_lost，
// 不会被误报成答错
type RaceResult struct {
	Accepted bool   `json:"accepted"`
	IsWinner bool   `json:"isWinner"`
	Reason   string `json:"reason,omitempty"`
}

// QAResult 单人答题结果，答对时附带内容
type QAResult struct {
	Correct           bool           `json:"correct"`
	AttemptsRemaining int            `json:"attemptsRemaining"`
	Payload           *RevealPayload `json:"payload,omitempty"`
}

// SubmitAttempt race 模式的抢答提交。
// 提交记录先落库（唯一索引挡重复），再评判，最后用条件写抢胜者位
func (s *ChallengeService) SubmitAttempt(revealID string, participantID uint, value string, now time.Time) (*RaceResult, error) {
	reveal, err := s.RevealRepo.FindByID(revealID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.ErrRevealNotFound
		}
		return nil, err
	}
	if reveal.Mode != model.ModeRace {
		return nil, util.ErrNotRaceReveal
	}
	if reveal.IsTerminal() {
		return nil, util.ErrAlreadyTerminal
	}

	attempt := &model.Attempt{
		RevealID:       revealID,
		ParticipantID:  participantID,
		SubmittedValue: value,
		Outcome:        model.OutcomeIncorrect,
	}
	if err := s.AttemptRepo.Create(attempt); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, util.ErrAlreadyAnswered
		}
		return nil, err
	}
	monitoring.RaceAttemptCounter.WithLabelValues(string(reveal.RaceType)).Inc()

	correct := answerMatches(reveal, value)
	result := &RaceResult{Accepted: true}

	if correct {
		won, err := s.RevealRepo.ClaimWinner(revealID, participantID, now)
		if err != nil {
			return nil, err
		}
		if won {
			// 胜者位到手后结果才允许升级为 correct，保证全程只有一条 correct 提交
			if err := s.AttemptRepo.UpdateOutcome(attempt.ID, model.OutcomeCorrect); err != nil {
				return nil, err
			}
			result.IsWinner = true
			monitoring.RaceWinnerCounter.WithLabelValues(string(reveal.RaceType)).Inc()
			monitoring.RevealTransitionCounter.WithLabelValues(string(model.VisibilityRevealed)).Inc()
			s.Hub.PublishEvent(revealID, RevealEvent{
				Type:          EventWinner,
				ParticipantID: participantID,
			})
			return result, nil
		}
		// 答对但胜者已定
		result.Reason = ReasonRaceLost
	} else {
		result.Reason = ReasonIncorrect
	}

	s.Hub.PublishEvent(revealID, RevealEvent{
		Type:          EventAttempt,
		ParticipantID: participantID,
		Outcome:       string(model.OutcomeIncorrect),
	})
	return result, nil
}

// SubmitAnswer qa 模式的单人答题。次数计入记录上的计数器，
// 用尽仍未答对时记录走 expire 而不是 reveal
func (s *ChallengeService) SubmitAnswer(revealID string, participantID uint, value string, now time.Time) (*QAResult, error) {
	reveal, err := s.RevealRepo.FindByID(revealID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.ErrRevealNotFound
		}
		return nil, err
	}
	if reveal.Mode != model.ModeQA {
		return nil, util.ErrNotQAReveal
	}
	if reveal.Visibility != model.VisibilityPending {
		return nil, util.ErrAlreadyTerminal
	}

	ok, err := s.RevealRepo.IncrementAttempts(revealID)
	if err != nil {
		return nil, err
	}
	if !ok {
		// 记录已离开 pending，或并发提交把次数用完了
		fresh, err := s.RevealRepo.FindByID(revealID)
		if err != nil {
			return nil, err
		}
		if fresh.Visibility != model.VisibilityPending {
			return nil, util.ErrAlreadyTerminal
		}
		return nil, util.ErrAttemptsExhausted
	}
	used := reveal.AttemptsUsed + 1
	remaining := reveal.MaxAttempts - used

	if answerMatches(reveal, value) {
		revealed, err := s.RevealRepo.MarkRevealed(revealID, now)
		if err != nil {
			return nil, err
		}
		if !revealed {
			return nil, util.ErrAlreadyTerminal
		}
		reveal.Visibility = model.VisibilityRevealed
		reveal.RevealedAt = &now
		monitoring.RevealTransitionCounter.WithLabelValues(string(model.VisibilityRevealed)).Inc()
		return &QAResult{
			Correct:           true,
			AttemptsRemaining: remaining,
			Payload:           s.Reveals.payloadFor(reveal, now),
		}, nil
	}

	if remaining <= 0 {
		if err := s.Reveals.Expire(revealID, now); err != nil && !errors.Is(err, util.ErrRevealNotFound) {
			return nil, err
		}
	}
	return &QAResult{Correct: false, AttemptsRemaining: remaining}, nil
}

// answerMatches 按创建时固定的规则评判，规则之后永不改变。
// rate_guess 采用精确匹配
func answerMatches(r *model.Reveal, value string) bool {
	if r.Mode == model.ModeRace && r.RaceType == model.RaceRateGuess {
		guess, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return false
		}
		return guess == r.ExpectedRating
	}

	submitted := strings.TrimSpace(value)
	expected := strings.TrimSpace(r.Answer)
	if r.CaseSensitive {
		return submitted == expected
	}
	return strings.EqualFold(submitted, expected)
}

// AnswerHint 提示只由答案长度和首尾字符推导，不泄露中间内容
func AnswerHint(answer string) string {
	runes := []rune(strings.TrimSpace(answer))
	n := len(runes)
	if n == 0 {
		return ""
	}
	if n <= 2 {
		return strings.Repeat("*", n) + " (" + strconv.Itoa(n) + ")"
	}
	return string(runes[0]) + strings.Repeat("*", n-2) + string(runes[n-1]) + " (" + strconv.Itoa(n) + ")"
}
