package near

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// ErrKeyNotFound is returned when a keystore holds no key for an account.
var ErrKeyNotFound = errors.New("key not found")

// KeyStore resolves the signing key for an account on a network.
type KeyStore interface {
	GetKey(network, accountID string) (KeyPair, error)
	Accounts(network string) ([]string, error)
}

// Credentials is the near-cli credentials file layout.
type Credentials struct {
	AccountID  string `json:"account_id"`
	PublicKey  string `json:"public_key"`
	PrivateKey string `json:"private_key"`
}

// FileKeyStore reads near-cli credentials from <Dir>/<network>/<account>.json.
type FileKeyStore struct {
	Dir string
}

// DefaultCredentialsDir returns ~/.near-credentials, or "" when the home
// directory cannot be resolved.
func DefaultCredentialsDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".near-credentials")
}

// GetKey loads and validates the credentials for accountID.
func (s FileKeyStore) GetKey(network, accountID string) (KeyPair, error) {
	if err := ValidateAccountID(accountID); err != nil {
		return KeyPair{}, err
	}
	path := filepath.Join(s.Dir, network, accountID+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return KeyPair{}, errors.Wrapf(ErrKeyNotFound, "%s on %s", accountID, network)
		}
		return KeyPair{}, errors.Wrap(err, "read credentials")
	}
	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return KeyPair{}, errors.Wrapf(err, "decode credentials %s", path)
	}
	if creds.AccountID != "" && creds.AccountID != accountID {
		return KeyPair{}, errors.Errorf("credentials %s belong to %s", path, creds.AccountID)
	}
	kp, err := ParseKeyPair(creds.PrivateKey)
	if err != nil {
		return KeyPair{}, errors.Wrapf(err, "parse private key in %s", path)
	}
	if creds.PublicKey != "" {
		pub, err := ParsePublicKey(creds.PublicKey)
		if err != nil {
			return KeyPair{}, errors.Wrapf(err, "parse public key in %s", path)
		}
		if pub != kp.Public {
			return KeyPair{}, errors.Errorf("public key in %s does not match private key", path)
		}
	}
	return kp, nil
}

// Accounts lists the accounts with credentials on network, sorted.
func (s FileKeyStore) Accounts(network string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.Dir, network))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "list credentials")
	}
	var accounts []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		id := strings.TrimSuffix(name, ".json")
		if ValidateAccountID(id) == nil {
			accounts = append(accounts, id)
		}
	}
	sort.Strings(accounts)
	return accounts, nil
}

// Save writes creds for kp as near-cli would.
func (s FileKeyStore) Save(network, accountID string, kp KeyPair) error {
	if err := ValidateAccountID(accountID); err != nil {
		return err
	}
	dir := filepath.Join(s.Dir, network)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return errors.Wrap(err, "create credentials dir")
	}
	data, err := json.Marshal(Credentials{
		AccountID:  accountID,
		PublicKey:  kp.Public.String(),
		PrivateKey: kp.String(),
	})
	if err != nil {
		return errors.Wrap(err, "encode credentials")
	}
	return errors.Wrap(os.WriteFile(filepath.Join(dir, accountID+".json"), data, 0o600), "write credentials")
}

// MemoryKeyStore keeps keys in memory.
type MemoryKeyStore struct {
	mu   sync.RWMutex
	keys map[string]KeyPair
}

// NewMemoryKeyStore returns an empty in-memory keystore.
func NewMemoryKeyStore() *MemoryKeyStore {
	return &MemoryKeyStore{keys: make(map[string]KeyPair)}
}

// Add stores kp for accountID on network.
func (s *MemoryKeyStore) Add(network, accountID string, kp KeyPair) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[network+"/"+accountID] = kp
}

func (s *MemoryKeyStore) GetKey(network, accountID string) (KeyPair, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	kp, ok := s.keys[network+"/"+accountID]
	if !ok {
		return KeyPair{}, errors.Wrapf(ErrKeyNotFound, "%s on %s", accountID, network)
	}
	return kp, nil
}

func (s *MemoryKeyStore) Accounts(network string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	prefix := network + "/"
	var accounts []string
	for key := range s.keys {
		if strings.HasPrefix(key, prefix) {
			accounts = append(accounts, strings.TrimPrefix(key, prefix))
		}
	}
	sort.Strings(accounts)
	return accounts, nil
}
