// ABOUTME: Credential store backed by a JSON file readable only by the owner
// ABOUTME: The whole file is rewritten atomically on every change

package secrets

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/harper/feedsync/internal/fsutil"
)

// FilePerms keeps the credentials file private.
const FilePerms = 0600

// FileStore keeps credentials in a JSON file.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore returns a store at path. The file is created on first Set.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (f *FileStore) Set(c Credentials) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	all, err := f.read()
	if err != nil {
		return err
	}
	all[key(c.Type, c.Username)] = c
	return f.write(all)
}

func (f *FileStore) Get(typ Type, username string) (Credentials, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	all, err := f.read()
	if err != nil {
		return Credentials{}, err
	}
	c, ok := all[key(typ, username)]
	if !ok {
		return Credentials{}, ErrNotFound
	}
	return c, nil
}

func (f *FileStore) Delete(typ Type, username string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	all, err := f.read()
	if err != nil {
		return err
	}
	k := key(typ, username)
	if _, ok := all[k]; !ok {
		return nil
	}
	delete(all, k)
	return f.write(all)
}

func (f *FileStore) read() (map[string]Credentials, error) {
	all := make(map[string]Credentials)
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return all, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	var list []Credentials
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("decode credentials: %w", err)
	}
	for _, c := range list {
		all[key(c.Type, c.Username)] = c
	}
	return all, nil
}

func (f *FileStore) write(all map[string]Credentials) error {
	list := make([]Credentials, 0, len(all))
	for _, c := range all {
		list = append(list, c)
	}
	sort.Slice(list, func(i, j int) bool {
		return key(list[i].Type, list[i].Username) < key(list[j].Type, list[j].Username)
	})
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}
	return fsutil.WriteFile(f.path, data, FilePerms)
}
