package token

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/hatcher/kbchat/pkg/crypto"
)

type FileConfig struct {
	Path string `json:"path" yaml:"path" mapstructure:"path"`
	// Salt enables AES encryption of the file at rest. Must be 16, 24 or
	// 32 bytes long.
	Salt string `json:"salt" yaml:"salt" mapstructure:"salt"`
}

// FileStore persists the pair as a small JSON file, the way editor
// integrations keep OAuth tokens under the user config dir.
type FileStore struct {
	mu     sync.Mutex
	path   string
	cipher crypto.Crypto
}

func NewFileStore(cfg FileConfig) (*FileStore, error) {
	path := cfg.Path
	if path == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return nil, err
		}
		path = filepath.Join(dir, "kbchat", "tokens.json")
	}
	store := &FileStore{path: path}
	if cfg.Salt != "" {
		store.cipher = crypto.NewAes(cfg.Salt)
	}
	return store, nil
}

func (f *FileStore) Save(ctx context.Context, pair Pair) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(f.path), 0700); err != nil {
		return err
	}
	content := map[string]string{
		AccessTokenKey:  pair.AccessToken,
		RefreshTokenKey: pair.RefreshToken,
	}
	data, err := json.MarshalIndent(content, "", "  ")
	if err != nil {
		return err
	}
	if f.cipher != nil {
		enc, err := f.cipher.Encrypt(string(data))
		if err != nil {
			return err
		}
		data = []byte(enc)
	}
	return os.WriteFile(f.path, data, 0600)
}

func (f *FileStore) Load(ctx context.Context) (Pair, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Pair{}, nil
		}
		return Pair{}, err
	}
	if f.cipher != nil {
		plain, err := f.cipher.Decrypt(string(data))
		if err != nil {
			return Pair{}, err
		}
		data = plain
	}
	var content map[string]string
	if err := json.Unmarshal(data, &content); err != nil {
		return Pair{}, err
	}
	return Pair{
		AccessToken:  content[AccessTokenKey],
		RefreshToken: content[RefreshTokenKey],
	}, nil
}

func (f *FileStore) Clear(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	err := os.Remove(f.path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
