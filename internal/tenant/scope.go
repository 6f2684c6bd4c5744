// Package tenant defines the (tenant, project) scope every data operation runs under.
//
// A Scope resolves to exactly one vector namespace and one cache key prefix. Both
// derivations are injective: identifiers are restricted to letters, digits and
// hyphens, so the separators used in derived names can never appear inside an
// identifier and two distinct scopes can never collide.
package tenant

import (
	"errors"
	"fmt"
	"regexp"
)

// MaxIDLength is the longest tenant or project identifier accepted.
const MaxIDLength = 64

// NamespaceSeparator joins tenant and project in a namespace name.
const NamespaceSeparator = "_"

// Common errors.
var (
	ErrInvalidTenantID  = errors.New("invalid tenant ID")
	ErrInvalidProjectID = errors.New("invalid project ID")
	ErrScopeMismatch    = errors.New("scope does not match request tenant")
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9-]*$`)

// Scope identifies one project owned by one tenant.
type Scope struct {
	TenantID  string `json:"tenant_id"`
	ProjectID string `json:"project_id"`
}

// New returns a validated scope.
func New(tenantID, projectID string) (Scope, error) {
	s := Scope{TenantID: tenantID, ProjectID: projectID}
	if err := s.Validate(); err != nil {
		return Scope{}, err
	}
	return s, nil
}

// Validate checks both identifiers.
func (s Scope) Validate() error {
	if !ValidID(s.TenantID) {
		return fmt.Errorf("%w: %q", ErrInvalidTenantID, s.TenantID)
	}
	if !ValidID(s.ProjectID) {
		return fmt.Errorf("%w: %q", ErrInvalidProjectID, s.ProjectID)
	}
	return nil
}

// Namespace returns the vector collection name for the scope.
// Identifiers are used verbatim; case is significant.
func (s Scope) Namespace() string {
	return s.TenantID + NamespaceSeparator + s.ProjectID
}

// String implements fmt.Stringer.
func (s Scope) String() string {
	return s.TenantID + "/" + s.ProjectID
}

// ValidID reports whether id is an acceptable tenant or project identifier.
func ValidID(id string) bool {
	return len(id) > 0 && len(id) <= MaxIDLength && idPattern.MatchString(id)
}
