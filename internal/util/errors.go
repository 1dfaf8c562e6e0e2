package util

import "errors"

var (
	ErrUserNotFound      = errors.New("用户不存在")
	ErrEmailRegistered   = errors.New("该邮箱已被注册")
	ErrRevealNotFound    = errors.New("reveal not found")
	ErrAlreadyTerminal   = errors.New("reveal already consumed or expired")
	ErrInvalidTransition = errors.New("invalid reveal state transition")
	ErrAlreadyAnswered   = errors.New("participant already submitted for this reveal")
	ErrNotRaceReveal     = errors.New("reveal is not a race challenge")
	ErrNotQAReveal       = errors.New("reveal is not a qa challenge")
	ErrAttemptsExhausted = errors.New("no attempts remaining")
	ErrChoiceRequired    = errors.New("binary reveal requires a choice")
)
