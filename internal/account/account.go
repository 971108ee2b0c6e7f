// Package account models the GitHub account a retention run operates
// against: either the authenticated user, or a named organization.
package account

import "fmt"

// Account is the tagged-variant account selector used to build the
// packages API and packages frontend URLs.
type Account interface {
	// PathSegment returns the URL path segment identifying the account,
	// e.g. "user" or "orgs/my-org".
	PathSegment() string
	// String returns a human-readable description for logging.
	String() string

	isAccount()
}

// User is the authenticated user's own account.
type User struct{}

func (User) PathSegment() string { return "user" }
func (User) String() string      { return "user" }
func (User) isAccount()          {}

// Organization is a named GitHub organization.
type Organization struct {
	Name string
}

func (o Organization) PathSegment() string { return "orgs/" + o.Name }
func (o Organization) String() string      { return fmt.Sprintf("organization %q", o.Name) }
func (Organization) isAccount()            {}
