package automation

import (
	"context"
	"fmt"
	"sync"
)

// Script is an in-memory Automator for tests and demo runs. Hook functions
// decide what the fake page contains; unset hooks report a missing element.
type Script struct {
	mu      sync.Mutex
	visited []string
	filled  map[string]string
	clicked []string

	NavigateFn func(url string) error
	FillFn     func(selector, value string) error
	ClickFn    func(selector string) error
	ExistsFn   func(selector string) (bool, error)
	TextFn     func(selector string) (string, error)
	TableFn    func(selector string) ([][]string, error)
}

func NewScript() *Script {
	return &Script{filled: make(map[string]string)}
}

func (s *Script) Navigate(_ context.Context, url string) error {
	s.mu.Lock()
	s.visited = append(s.visited, url)
	s.mu.Unlock()
	if s.NavigateFn != nil {
		return s.NavigateFn(url)
	}
	return nil
}

func (s *Script) Fill(_ context.Context, selector, value string) error {
	s.mu.Lock()
	s.filled[selector] = value
	s.mu.Unlock()
	if s.FillFn != nil {
		return s.FillFn(selector, value)
	}
	return nil
}

func (s *Script) Click(_ context.Context, selector string) error {
	s.mu.Lock()
	s.clicked = append(s.clicked, selector)
	s.mu.Unlock()
	if s.ClickFn != nil {
		return s.ClickFn(selector)
	}
	return nil
}

func (s *Script) Exists(_ context.Context, selector string) (bool, error) {
	if s.ExistsFn != nil {
		return s.ExistsFn(selector)
	}
	return false, nil
}

func (s *Script) Text(_ context.Context, selector string) (string, error) {
	if s.TextFn != nil {
		return s.TextFn(selector)
	}
	return "", fmt.Errorf("text %q: %w", selector, ErrNoSuchElement)
}

func (s *Script) ReadTable(_ context.Context, selector string) ([][]string, error) {
	if s.TableFn != nil {
		return s.TableFn(selector)
	}
	return nil, fmt.Errorf("read table %q: %w", selector, ErrNoSuchElement)
}

func (s *Script) Close() error { return nil }

// Visited returns the navigation history in order.
func (s *Script) Visited() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.visited))
	copy(out, s.visited)
	return out
}

// Filled returns the last value written to selector.
func (s *Script) Filled(selector string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.filled[selector]
	return v, ok
}

// Clicked returns the click history in order.
func (s *Script) Clicked() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.clicked))
	copy(out, s.clicked)
	return out
}
