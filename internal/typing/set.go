package typing

import "fmt"

// Set is the receiving side's ordered set of participants currently typing.
// It is not safe for concurrent use.
type Set struct {
	names []string
}

// NewSet creates an empty set.
func NewSet() *Set {
	return &Set{}
}

// Add inserts name and reports whether it was new.
func (s *Set) Add(name string) bool {
	if name == "" || s.Has(name) {
		return false
	}
	s.names = append(s.names, name)
	return true
}

// Remove deletes name and reports whether it was present.
func (s *Set) Remove(name string) bool {
	for i, n := range s.names {
		if n == name {
			s.names = append(s.names[:i], s.names[i+1:]...)
			return true
		}
	}
	return false
}

// Rename replaces from with to in place, keeping its position.
func (s *Set) Rename(from, to string) {
	if from == to {
		return
	}
	for i, n := range s.names {
		if n == from {
			if s.Has(to) {
				s.Remove(from)
				return
			}
			s.names[i] = to
			return
		}
	}
}

// Has reports whether name is typing.
func (s *Set) Has(name string) bool {
	for _, n := range s.names {
		if n == name {
			return true
		}
	}
	return false
}

// Clear empties the set.
func (s *Set) Clear() {
	s.names = nil
}

// Names returns the typing participants in the order they started.
func (s *Set) Names() []string {
	return append([]string(nil), s.names...)
}

// Summary renders the indicator text for everyone except self.
func (s *Set) Summary(self string) string {
	others := make([]string, 0, len(s.names))
	for _, n := range s.names {
		if n != self {
			others = append(others, n)
		}
	}

	switch len(others) {
	case 0:
		return ""
	case 1:
		return fmt.Sprintf("%s is typing", others[0])
	case 2:
		return fmt.Sprintf("%s and %s are typing", others[0], others[1])
	default:
		return "Several people are typing"
	}
}
