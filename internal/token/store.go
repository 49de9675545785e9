package token

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// ErrNoTokens reports that no token file exists yet.
var ErrNoTokens = errors.New("no token file found")

// storeFile is the on-disk layout of the token cache.
type storeFile struct {
	AuthType TokenType                 `json:"auth_type"`
	Tokens   map[string]*ExtendedToken `json:"tokens"`
}

// Store persists the token cache to a JSON file readable only by the current user.
type Store struct {
	path string
}

// NewStore returns a Store writing to path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load reads the token cache. ErrNoTokens is returned if the file does not exist.
func (s *Store) Load() (TokenType, map[string]*ExtendedToken, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return NoneToken, nil, ErrNoTokens
		}
		return NoneToken, nil, fmt.Errorf("could not open token file: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	var sf storeFile
	if err := json.NewDecoder(f).Decode(&sf); err != nil {
		return NoneToken, nil, fmt.Errorf("could not decode token file: %w", err)
	}
	if sf.Tokens == nil {
		sf.Tokens = map[string]*ExtendedToken{}
	}
	return sf.AuthType, sf.Tokens, nil
}

// Save writes the token cache with secure permissions.
func (s *Store) Save(authType TokenType, tokens map[string]*ExtendedToken) error {
	f, err := os.OpenFile(s.path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("unable to cache oauth token: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()
	return json.NewEncoder(f).Encode(storeFile{AuthType: authType, Tokens: tokens})
}

// Delete removes the token file from disk. A missing file is not an error.
func (s *Store) Delete() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
