// Package namegen names provisioning runs. Every resource created during a
// run is tagged with its ID so that a later teardown can find it again.
package namegen

import (
	"fmt"
	"regexp"
	"strings"

	vendor "github.com/anandvarma/namegen"
)

var gen = vendor.New()

var idRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9_.-]*$`)

type ID string

func Get() ID {
	return ID(strings.ToLower(gen.Get()))
}

// Parse validates an ID supplied by a user, e.g. to tear down a previous run.
func Parse(s string) (ID, error) {
	if !idRegex.MatchString(s) {
		return "", fmt.Errorf("invalid run id '%s'", s)
	}
	return ID(s), nil
}

func (id ID) String() string {
	return string(id)
}

// Tag is the value resources of the run are labelled with.
func (id ID) Tag() string {
	return fmt.Sprintf("mc-fleet-%s", id)
}
