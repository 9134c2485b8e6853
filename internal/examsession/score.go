package examsession

import (
	"time"

	"github.com/stemsi/exstem-quiz/internal/model"
)

// Score derives the result from a raw answer set.
// Each answered question whose stored option equals its correct answer adds one point;
// unanswered questions contribute nothing. TotalQuestions is always the bank size.
// Time spent is floored to whole seconds and clamped at zero.
func Score(questions []model.Question, answers model.AnswerMap, startedAt, finishedAt time.Time) *model.ExamResult {
	correct := make(map[int]string, len(questions))
	for i := range questions {
		correct[questions[i].ID] = questions[i].CorrectAnswer
	}

	score := 0
	for id, chosen := range answers {
		if key, ok := correct[id]; ok && key == chosen {
			score++
		}
	}

	elapsed := finishedAt.Sub(startedAt)
	if elapsed < 0 {
		elapsed = 0
	}

	return &model.ExamResult{
		Answers:          answers.Clone(),
		Score:            score,
		TotalQuestions:   len(questions),
		TimeSpentSeconds: int(elapsed / time.Second),
	}
}
