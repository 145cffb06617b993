package datadir

import (
	"fmt"
	"regexp"
)

var handleRegexp = regexp.MustCompile(`^\+[1-9][0-9]{6,14}$`)

// ValidateHandle checks that handle is an E.164 phone number.
func ValidateHandle(handle string) error {
	if !handleRegexp.MatchString(handle) {
		return fmt.Errorf("invalid account %q: must be an E.164 number such as +15551234567", handle)
	}
	return nil
}
