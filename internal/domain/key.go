// Package domain contains core domain types for the persona routing service.
package domain

import (
	"fmt"
	"regexp"
	"strings"
)

// Colons are excluded: storage backends join the two identifiers with them.
var idPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,128}$`)

// Key identifies the (learner, lesson) pair shared by a ChainContext and a LessonProgress.
type Key struct {
	LearnerID string `json:"learner_id"`
	LessonID  string `json:"lesson_id"`
}

// NewKey builds a key after trimming and validating both identifiers.
func NewKey(learnerID, lessonID string) (Key, error) {
	k := Key{LearnerID: strings.TrimSpace(learnerID), LessonID: strings.TrimSpace(lessonID)}
	if err := k.Validate(); err != nil {
		return Key{}, err
	}
	return k, nil
}

// Validate reports whether both identifiers are usable as storage keys.
func (k Key) Validate() error {
	if !idPattern.MatchString(k.LearnerID) {
		return fmt.Errorf("%w: learner id %q", ErrInvalidKey, k.LearnerID)
	}
	if !idPattern.MatchString(k.LessonID) {
		return fmt.Errorf("%w: lesson id %q", ErrInvalidKey, k.LessonID)
	}
	return nil
}

// String renders the key as learner/lesson for logs and error messages.
func (k Key) String() string {
	return k.LearnerID + "/" + k.LessonID
}
