package engine

import (
	"regexp"
	"strings"

	"rbridge/errors"
	"rbridge/runtime"
)

// Condition classes signalled by R and by the session prelude
const (
	classPackageNotFound = "packageNotFoundError"
	classDatasetNotFound = "datasetNotFoundError"
)

// Message signatures used when a condition carries no telling class.
// R translates messages and changes quote characters with the locale, so
// both straight and typographic quotes are accepted.
var (
	packageMissingPattern   = regexp.MustCompile(`there is no package called [‘'"]([^’'"]+)[’'"]`)
	objectNotFoundPattern   = regexp.MustCompile(`object [‘'"]([^’'"]+)[’'"] not found`)
	functionNotFoundPattern = regexp.MustCompile(`could not find function [“"']([^”"']+)[”"']`)
	malformedPattern        = regexp.MustCompile(`zero-length variable name|invalid \(do_set\) left-hand side|invalid \(NULL\) left side of assignment`)
)

// Classify maps a guest condition onto the error taxonomy. Condition
// classes are consulted first; message text is the fallback.
func Classify(gerr *runtime.GuestError) *errors.ExecutionError {
	if gerr == nil {
		return nil
	}
	msg := strings.TrimSpace(gerr.Message)

	var classified *errors.ExecutionError
	switch {
	case gerr.HasClass(classPackageNotFound):
		pkg := gerr.Package
		if pkg == "" {
			pkg = MissingPackage(msg)
		}
		classified = errors.NewPackageMissing(pkg, msg)
	case gerr.HasClass(classDatasetNotFound):
		classified = errors.NewUserError(errors.CodeDatasetNotFound, msg).WithKind(errors.KindDatasetNotFound)
	case packageMissingPattern.MatchString(msg):
		classified = errors.NewPackageMissing(MissingPackage(msg), msg)
	case objectNotFoundPattern.MatchString(msg), functionNotFoundPattern.MatchString(msg):
		classified = errors.NewReferenceError(msg)
	case malformedPattern.MatchString(msg):
		classified = errors.NewMalformedIdentifier(msg)
	default:
		classified = errors.NewInterpreterRuntime(msg)
	}

	if gerr.Call != "" {
		_ = classified.WithContext("call", gerr.Call)
	}
	if len(gerr.Classes) > 0 {
		_ = classified.WithContext("classes", strings.Join(gerr.Classes, ","))
	}
	return classified.Wrap(gerr)
}

// MissingPackage extracts the package name from a "there is no package
// called" message, or returns ""
func MissingPackage(msg string) string {
	if m := packageMissingPattern.FindStringSubmatch(msg); m != nil {
		return m[1]
	}
	return ""
}
