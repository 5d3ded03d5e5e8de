package testutils

import "sync"

// Directory is an in-memory scope directory and roster provider for tests.
type Directory struct {
	mu     sync.Mutex
	scopes map[string][]string
}

func NewDirectory() *Directory {
	return &Directory{scopes: make(map[string][]string)}
}

func (d *Directory) AddScope(scope string, roster ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.scopes[scope] = roster
}

func (d *Directory) Retire(scope string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.scopes, scope)
}

func (d *Directory) Exists(scope string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.scopes[scope]
	return ok, nil
}

func (d *Directory) ActiveScopes() ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.scopes))
	for scope := range d.scopes {
		out = append(out, scope)
	}
	return out, nil
}

func (d *Directory) Roster(scope string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.scopes[scope], nil
}
