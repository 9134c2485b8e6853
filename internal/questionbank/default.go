package questionbank

import "github.com/stemsi/exstem-quiz/internal/model"

// Default returns the built-in matrix algebra bank. Each call returns a fresh slice.
func Default() []model.Question {
	return []model.Question{
		{
			ID:     1,
			Prompt: "If $A=\\begin{bmatrix}1 & 2\\\\3 & 4\\end{bmatrix}$, what is $A^{2}$?",
			Options: []string{
				"[[7, 10], [15, 22]]",
				"[[2, 4], [6, 8]]",
				"[[1, 0], [0, 1]]",
				"[[10, 14], [21, 30]]",
				"[[5, 6], [7, 8]]",
			},
			CorrectAnswer: "[[7, 10], [15, 22]]",
		},
		{
			ID:     2,
			Prompt: "What is the determinant of $\\begin{bmatrix}3 & 5\\\\-2 & 4\\end{bmatrix}$?",
			Options: []string{
				"22",
				"17",
				"6",
				"-22",
				"1",
			},
			CorrectAnswer: "22",
		},
		{
			ID:     3,
			Prompt: "If $A=\\begin{bmatrix}2 & 0\\\\1 & 3\\end{bmatrix}$, what is $A^{-1}$?",
			Options: []string{
				"[[3/5, 0], [-1/5, 2/5]]",
				"[[3, 0], [-1, 2]]",
				"[[3/2, 0], [-1/2, 1]]",
				"[[3/2, 0], [1/2, 1]]",
				"[[3/2, 1/2], [0, 1]]",
			},
			CorrectAnswer: "[[3/2, 0], [-1/2, 1]]",
		},
	}
}
