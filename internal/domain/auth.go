package domain

// SubjectType differentiates coordinator tokens from service tokens.
type SubjectType string

const (
	SubjectTypeCoordinator SubjectType = "COORDINATOR"
	SubjectTypeService     SubjectType = "SERVICE"
)
