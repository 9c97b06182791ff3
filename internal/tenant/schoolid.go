package tenant

import (
	"errors"
	"fmt"
	"regexp"
)

// MaxSchoolIDLength is the maximum length of a school ID.
const MaxSchoolIDLength = 64

var (
	// ErrInvalidSchoolID indicates a school ID failed validation.
	ErrInvalidSchoolID = errors.New("invalid school ID")
	// ErrSchoolNotFound indicates the requested school does not exist.
	ErrSchoolNotFound = errors.New("school not found")
	// ErrSchoolExists indicates a school already exists during creation.
	ErrSchoolExists = errors.New("school already exists")
)

// schoolIDPattern matches a valid school ID: lowercase alphanumeric with
// hyphens in the middle. School IDs are flat; they become directory names
// under the data root, so no path separators.
var schoolIDPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)

// ValidateSchoolID validates a school ID against format rules.
func ValidateSchoolID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty school ID", ErrInvalidSchoolID)
	}
	if len(id) > MaxSchoolIDLength {
		return fmt.Errorf("%w: exceeds %d characters", ErrInvalidSchoolID, MaxSchoolIDLength)
	}
	if !schoolIDPattern.MatchString(id) {
		return fmt.Errorf("%w: %q must be lowercase alphanumeric with hyphens", ErrInvalidSchoolID, id)
	}
	return nil
}
