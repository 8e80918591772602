package config

import "sync"

// Store serializes read-modify-write cycles on config.toml.
type Store struct {
	path string
	mu   sync.Mutex
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) Load() (*Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Load(s.path)
}

// Update loads the file, applies fn and writes the result back. Environment
// overrides present at load time are persisted as well.
func (s *Store) Update(fn func(*Config)) (*Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, err := Load(s.path)
	if err != nil {
		return nil, err
	}
	fn(cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, Save(s.path, cfg)
}
