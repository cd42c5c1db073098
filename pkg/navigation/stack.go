// Package navigation tracks the pages a user has walked through so that
// "back" returns to the previously viewed page.
package navigation

import "forkwiki/pkg/types"

// Stack is a back stack of page locators. The listing view is its implicit
// base and is never pushed. Stack is not safe for concurrent use; the
// coordinator serializes access.
type Stack struct {
	frames []types.PageLocator
}

func New() *Stack {
	return &Stack{}
}

// Push records loc unless it is already on top.
func (s *Stack) Push(loc types.PageLocator) {
	if top, ok := s.Peek(); ok && top == loc {
		return
	}
	s.frames = append(s.frames, loc)
}

// Pop removes and returns the top frame.
func (s *Stack) Pop() (types.PageLocator, bool) {
	if len(s.frames) == 0 {
		return types.PageLocator{}, false
	}
	top := s.frames[len(s.frames)-1]
	s.frames = s.frames[:len(s.frames)-1]
	return top, true
}

func (s *Stack) Peek() (types.PageLocator, bool) {
	if len(s.frames) == 0 {
		return types.PageLocator{}, false
	}
	return s.frames[len(s.frames)-1], true
}

// Reset clears every frame. Called whenever the listing view is shown.
func (s *Stack) Reset() {
	s.frames = nil
}

func (s *Stack) Depth() int {
	return len(s.frames)
}

// Frames returns a copy of the stack, bottom first.
func (s *Stack) Frames() []types.PageLocator {
	out := make([]types.PageLocator, len(s.frames))
	copy(out, s.frames)
	return out
}
