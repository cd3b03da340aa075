package cerrors

import "fmt"

type Generic struct {
	Phase  string
	Reason string
}

func (e Generic) Error() string {
	if e.Phase == "" {
		return e.Reason
	}
	return fmt.Sprintf("[%s]: %s", e.Phase, e.Reason)
}

func (e Generic) UserFriendly() bool {
	return true
}

func (e Generic) ErrorType() ErrorType {
	return ErrorTypeGeneric
}

// InvalidPolicy is returned for a policy id outside the catalog.
// Nothing has been mutated when it is returned.
type InvalidPolicy struct {
	PolicyID int
	Max      int
}

func (e InvalidPolicy) Error() string {
	return fmt.Sprintf("invalid policy id %d, supported ids are 0-%d", e.PolicyID, e.Max)
}

func (e InvalidPolicy) UserFriendly() bool {
	return true
}

func (e InvalidPolicy) ErrorType() ErrorType {
	return ErrorTypeInvalidPolicy
}

// ApplyError is a failed shaping operation on a live interface.
// Operations applied before Step are left in place.
type ApplyError struct {
	PolicyID  int
	Interface string
	Step      int
	Operation string
	Reason    string
}

func (e ApplyError) Error() string {
	return fmt.Sprintf("failed to apply policy %d on '%s' at step %d (%s), %s", e.PolicyID, e.Interface, e.Step, e.Operation, e.Reason)
}

func (e ApplyError) UserFriendly() bool {
	return true
}

func (e ApplyError) ErrorType() ErrorType {
	return ErrorTypeApply
}

// MissingArtifact is recorded when an expected log or capture file is absent
type MissingArtifact struct {
	Name string
	Path string
}

func (e MissingArtifact) Error() string {
	return fmt.Sprintf("artifact '%s' not found at %s", e.Name, e.Path)
}

func (e MissingArtifact) UserFriendly() bool {
	return true
}

func (e MissingArtifact) ErrorType() ErrorType {
	return ErrorTypeMissingArtifact
}
