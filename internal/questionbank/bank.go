// Package questionbank loads and validates the ordered, read-only question set.
package questionbank

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/stemsi/exstem-quiz/internal/model"
	"gopkg.in/yaml.v3"
)

var (
	ErrEmpty              = errors.New("question bank is empty")
	ErrDuplicateID        = errors.New("duplicate question id")
	ErrTooFewOptions      = errors.New("question needs at least two options")
	ErrDuplicateOption    = errors.New("duplicate option")
	ErrCorrectNotAnOption = errors.New("correct answer is not one of the options")
	ErrBlankPrompt        = errors.New("question prompt is blank")
	ErrUnsupportedFormat  = errors.New("unsupported question bank format")
)

// file is the on-disk layout. A bare list of questions is also accepted.
type file struct {
	Questions []model.Question `json:"questions" yaml:"questions"`
}

// Load reads a bank from path. An empty path returns the built-in bank.
// Files ending in .json are decoded as JSON; .yaml and .yml as YAML.
func Load(path string) ([]model.Question, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read question bank: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return ParseJSON(data)
	case ".yaml", ".yml":
		return ParseYAML(data)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

// ParseYAML decodes and validates a YAML bank.
func ParseYAML(data []byte) ([]model.Question, error) {
	var questions []model.Question

	var wrapped file
	if err := yaml.Unmarshal(data, &wrapped); err == nil && len(wrapped.Questions) > 0 {
		questions = wrapped.Questions
	} else if err := yaml.Unmarshal(data, &questions); err != nil {
		return nil, fmt.Errorf("decode yaml question bank: %w", err)
	}

	if err := Validate(questions); err != nil {
		return nil, err
	}
	return questions, nil
}

// ParseJSON decodes and validates a JSON bank.
func ParseJSON(data []byte) ([]model.Question, error) {
	var questions []model.Question

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var wrapped file
		if err := json.Unmarshal(trimmed, &wrapped); err != nil {
			return nil, fmt.Errorf("decode json question bank: %w", err)
		}
		questions = wrapped.Questions
	} else if err := json.Unmarshal(trimmed, &questions); err != nil {
		return nil, fmt.Errorf("decode json question bank: %w", err)
	}

	if err := Validate(questions); err != nil {
		return nil, err
	}
	return questions, nil
}

// Validate checks the bank invariants: unique ids, at least two distinct
// options per question, and a correct answer equal to exactly one option.
func Validate(questions []model.Question) error {
	if len(questions) == 0 {
		return ErrEmpty
	}

	seen := make(map[int]struct{}, len(questions))
	for i := range questions {
		q := &questions[i]
		if _, dup := seen[q.ID]; dup {
			return fmt.Errorf("%w: %d", ErrDuplicateID, q.ID)
		}
		seen[q.ID] = struct{}{}

		if strings.TrimSpace(q.Prompt) == "" {
			return fmt.Errorf("question %d: %w", q.ID, ErrBlankPrompt)
		}
		if len(q.Options) < 2 {
			return fmt.Errorf("question %d: %w", q.ID, ErrTooFewOptions)
		}

		opts := make(map[string]struct{}, len(q.Options))
		for _, o := range q.Options {
			if _, dup := opts[o]; dup {
				return fmt.Errorf("question %d: %w: %q", q.ID, ErrDuplicateOption, o)
			}
			opts[o] = struct{}{}
		}
		if _, ok := opts[q.CorrectAnswer]; !ok {
			return fmt.Errorf("question %d: %w", q.ID, ErrCorrectNotAnOption)
		}
	}
	return nil
}
