// Package dog holds the identity of a configured dog and the typed suffixes
// of its helper entities. Entity IDs are only formatted here.
package dog

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidName is returned when a display name cannot be turned into a valid ID.
var ErrInvalidName = errors.New("invalid dog name")

var idPattern = regexp.MustCompile(`^[a-z][a-z0-9_]{1,31}$`)

// ID is the normalized identifier of a dog, derived from its display name.
type ID string

// Normalize lowercases the name and replaces spaces with underscores.
func Normalize(name string) (ID, error) {
	id := strings.ToLower(strings.TrimSpace(name))
	id = strings.Join(strings.Fields(id), "_")

	if !idPattern.MatchString(id) {
		return "", fmt.Errorf("%w: %q must normalize to %s", ErrInvalidName, name, idPattern.String())
	}

	return ID(id), nil
}

// Validate checks that the ID matches the naming pattern.
func (id ID) Validate() error {
	if !idPattern.MatchString(string(id)) {
		return fmt.Errorf("%w: %q", ErrInvalidName, string(id))
	}
	return nil
}

func (id ID) String() string {
	return string(id)
}

// ObjectID returns "<dog_id>_<suffix>".
func (id ID) ObjectID(s Suffix) string {
	return string(id) + "_" + string(s)
}

// Entity returns "<domain>.<dog_id>_<suffix>".
func (id ID) Entity(domain string, s Suffix) string {
	return domain + "." + id.ObjectID(s)
}

// Owns reports whether entityID belongs to this dog and returns its suffix.
func (id ID) Owns(entityID string) (Suffix, bool) {
	_, objectID, ok := strings.Cut(entityID, ".")
	if !ok {
		return "", false
	}
	rest, ok := strings.CutPrefix(objectID, string(id)+"_")
	if !ok || rest == "" {
		return "", false
	}
	return Suffix(rest), true
}

// Dog is a configured dog.
type Dog struct {
	ID   ID
	Name string
}

// New builds a Dog from its display name.
func New(name string) (Dog, error) {
	id, err := Normalize(name)
	if err != nil {
		return Dog{}, err
	}
	return Dog{ID: id, Name: strings.TrimSpace(name)}, nil
}
