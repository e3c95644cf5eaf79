// Package service implements the engine's use cases on top of the
// repository.Store boundary. Every state change and its event commit in
// one transaction.
package service

import (
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	apperrors "github.com/spec-kit/visit-engine/pkg/util/errorutil"
)

// Clock returns the current time. Tests substitute a controllable clock.
type Clock func() time.Time

func (c Clock) orDefault() Clock {
	if c == nil {
		return time.Now
	}
	return c
}

// notFound maps pgx.ErrNoRows to a NOT_FOUND DomainError for resource.
func notFound(err error, resource, idField, id string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return apperrors.NewNotFound(resource, map[string]any{idField: id})
	}
	return apperrors.MapError(err)
}

func ptrTime(t time.Time) *time.Time {
	return &t
}

func ptrString(s string) *string {
	return &s
}
