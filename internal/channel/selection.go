package channel

import "sync"

// Selection tracks the case a page currently has selected so results of
// slow work can be discarded once the user has moved on.
type Selection struct {
	mu   sync.Mutex
	name string
	gen  uint64
}

// Token identifies one act of selection.
type Token struct {
	name string
	gen  uint64
}

// Case returns the case name the token was issued for.
func (t Token) Case() string { return t.name }

// Select makes name the current case and returns its token. Selecting
// the same case again still invalidates older tokens.
func (s *Selection) Select(name string) Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.name = name
	return Token{name: name, gen: s.gen}
}

// Current returns the selected case name and its token.
func (s *Selection) Current() (string, Token) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name, Token{name: s.name, gen: s.gen}
}

// Still reports whether t is the latest selection.
func (s *Selection) Still(t Token) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return t.gen == s.gen && t.name == s.name
}

// Clear drops the selection made with t. A newer selection is left alone.
func (s *Selection) Clear(t Token) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.gen != s.gen || t.name != s.name {
		return
	}
	s.gen++
	s.name = ""
}
