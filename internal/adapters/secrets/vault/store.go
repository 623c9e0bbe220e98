package vault

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/crypto/argon2"

	"github.com/thatwebagency/ha-superloop/internal/domain"
	"github.com/thatwebagency/ha-superloop/internal/ports"
)

// PassphraseEnv names the environment variable that unlocks the vault when
// no passphrase is passed explicitly.
const PassphraseEnv = "SUPERLOOP_VAULT_PASSPHRASE"

type Options struct {
	FilePath   string
	Passphrase string
}

type encryptedPayload struct {
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

type plainVault struct {
	Secrets map[string]string `json:"secrets"`
}

// Store is a passphrase-encrypted single-file secret store. The whole vault
// is decrypted on every access; the handful of credentials it holds makes
// that cheap.
type Store struct {
	mu         sync.Mutex
	filePath   string
	passphrase []byte
}

var _ ports.SecretStore = (*Store)(nil)

func NewStore(opts Options) (*Store, error) {
	filePath := strings.TrimSpace(opts.FilePath)
	if filePath == "" {
		var err error
		filePath, err = defaultFilePath()
		if err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(filepath.Dir(filePath), 0o700); err != nil {
		return nil, fmt.Errorf("create vault dir: %w", err)
	}
	if err := os.Chmod(filepath.Dir(filePath), 0o700); err != nil {
		return nil, fmt.Errorf("set vault dir perms: %w", err)
	}

	pass := strings.TrimSpace(opts.Passphrase)
	if pass == "" {
		pass = strings.TrimSpace(os.Getenv(PassphraseEnv))
	}
	if pass == "" {
		return nil, fmt.Errorf("%s is required for the encrypted vault", PassphraseEnv)
	}

	return &Store{filePath: filePath, passphrase: []byte(pass)}, nil
}

func defaultFilePath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}

	return filepath.Join(homeDir, ".superloop", "vault.enc"), nil
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.loadUnlocked()
	if err != nil {
		return "", err
	}

	value, ok := state.Secrets[key]
	if !ok || value == "" {
		return "", fmt.Errorf("%w: vault secret %q", domain.ErrSecretNotFound, key)
	}

	return value, nil
}

func (s *Store) Put(ctx context.Context, key string, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(key) == "" {
		return errors.New("secret key is empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.loadUnlocked()
	if err != nil {
		return err
	}
	state.Secrets[key] = value

	return s.saveUnlocked(state)
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.loadUnlocked()
	if err != nil {
		return err
	}
	delete(state.Secrets, key)

	return s.saveUnlocked(state)
}

func (s *Store) loadUnlocked() (plainVault, error) {
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return plainVault{Secrets: map[string]string{}}, nil
		}
		return plainVault{}, fmt.Errorf("read vault: %w", err)
	}
	if len(data) == 0 {
		return plainVault{Secrets: map[string]string{}}, nil
	}

	var payload encryptedPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return plainVault{}, fmt.Errorf("decode vault payload: %w", err)
	}
	salt, err := base64.StdEncoding.DecodeString(payload.Salt)
	if err != nil {
		return plainVault{}, fmt.Errorf("decode salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(payload.Nonce)
	if err != nil {
		return plainVault{}, fmt.Errorf("decode nonce: %w", err)
	}
	cipherText, err := base64.StdEncoding.DecodeString(payload.Ciphertext)
	if err != nil {
		return plainVault{}, fmt.Errorf("decode ciphertext: %w", err)
	}

	plain, err := decrypt(s.passphrase, salt, nonce, cipherText)
	if err != nil {
		return plainVault{}, fmt.Errorf("decrypt vault: %w", err)
	}

	var state plainVault
	if err := json.Unmarshal(plain, &state); err != nil {
		return plainVault{}, fmt.Errorf("decode vault json: %w", err)
	}
	if state.Secrets == nil {
		state.Secrets = map[string]string{}
	}

	return state, nil
}

func (s *Store) saveUnlocked(state plainVault) error {
	if state.Secrets == nil {
		state.Secrets = map[string]string{}
	}

	plain, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal vault json: %w", err)
	}

	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return fmt.Errorf("create salt: %w", err)
	}
	nonce := make([]byte, 12)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("create nonce: %w", err)
	}

	cipherText, err := encrypt(s.passphrase, salt, nonce, plain)
	if err != nil {
		return fmt.Errorf("encrypt vault: %w", err)
	}

	payload := encryptedPayload{
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(cipherText),
	}
	out, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	if err := os.WriteFile(s.filePath, out, 0o600); err != nil {
		return fmt.Errorf("write vault: %w", err)
	}

	return nil
}

func deriveKey(passphrase, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, 1, 64*1024, 4, 32)
}

func encrypt(passphrase, salt, nonce, plain []byte) ([]byte, error) {
	key := deriveKey(passphrase, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return gcm.Seal(nil, nonce, plain, nil), nil
}

func decrypt(passphrase, salt, nonce, cipherText []byte) ([]byte, error) {
	key := deriveKey(passphrase, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return gcm.Open(nil, nonce, cipherText, nil)
}
