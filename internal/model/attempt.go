package model

type AttemptOutcome string

const (
	OutcomeCorrect   AttemptOutcome = "correct"
	OutcomeIncorrect AttemptOutcome = "incorrect"
)

// Attempt 参与者对一条 reveal 的单次提交，只增不改。
// (reveal_id, participant_id) 唯一索引保证同一人不能重复提交。
// swagger:model Attempt
type Attempt struct {
	BaseModel
	RevealID       string         `gorm:"size:36;uniqueIndex:idx_reveal_participant;not null" json:"revealId"`
	ParticipantID  uint           `gorm:"uniqueIndex:idx_reveal_participant;not null" json:"participantId"`
	SubmittedValue string         `gorm:"size:255" json:"submittedValue"`
	Outcome        AttemptOutcome `gorm:"size:20;not null" json:"outcome"`
}

func (Attempt) TableName() string {
	return "attempts"
}
