package webtree

import (
	"errors"
	"fmt"
)

// Control outcomes terminate the request pipeline early. Web methods
// and resolution return them as error values; the App converts them
// into canned responses (302, 403, 404) before coercion would run.
var (
	// ErrNotFound means no web method resolves for the path.
	ErrNotFound = errors.New("not found")

	// ErrForbidden means the permission gate denied the request.
	ErrForbidden = errors.New("forbidden")
)

// Redirect is the structural outcome carrying a redirect target. It
// is not a failure.
type Redirect struct {
	Location string
}

func (r *Redirect) Error() string {
	return fmt.Sprintf("redirect to %s", r.Location)
}

// RedirectTo returns a redirect outcome for a web method to return.
func RedirectTo(location string) error {
	return &Redirect{Location: location}
}
