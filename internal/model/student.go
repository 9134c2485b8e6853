package model

// StudentIdentity is captured before a session starts. The engine assumes it is valid.
type StudentIdentity struct {
	FullName   string `json:"full_name" binding:"required,notblank,max=255"`
	SchoolName string `json:"school_name" binding:"required,notblank,max=255"`
}
