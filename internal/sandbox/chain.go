// Package sandbox runs contracts in-process on a sqlite-backed store so the
// greeting app can be exercised without a NEAR network.
package sandbox

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mr-tron/base58"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/Its-donkey/hello-near/internal/near"
	"github.com/Its-donkey/hello-near/logging"
)

var (
	// ErrUnknownContract is returned for calls to accounts with no deployed contract.
	ErrUnknownContract = errors.New("sandbox: no contract deployed")
	// ErrMethodNotFound is returned when a contract does not export a method.
	ErrMethodNotFound = errors.New("sandbox: method not found")
	// ErrUnknownAccount is returned when the signer account does not exist.
	ErrUnknownAccount = errors.New("sandbox: unknown account")
)

// AccountRecord is a sandbox account.
type AccountRecord struct {
	gorm.Model
	AccountID string `gorm:"column:account_id;not null;unique;index;size:64"`
}

func (AccountRecord) TableName() string {
	return "accounts"
}

// StateRecord is one key of a contract's storage.
type StateRecord struct {
	ContractID string `gorm:"column:contract_id;primaryKey;size:64"`
	Key        string `gorm:"column:state_key;primaryKey;size:255"`
	Value      []byte `gorm:"column:value;type:blob;not null"`
	UpdatedAt  time.Time
}

func (StateRecord) TableName() string {
	return "contract_state"
}

// TxRecord is an executed transaction.
type TxRecord struct {
	gorm.Model
	Hash     string `gorm:"column:tx_hash;not null;unique;index;size:64"`
	Height   uint64 `gorm:"column:block_height;not null;index"`
	Signer   string `gorm:"column:signer_id;not null;index;size:64"`
	Receiver string `gorm:"column:receiver_id;not null;index;size:64"`
	Method   string `gorm:"column:method_name;not null;size:255"`
	Args     []byte `gorm:"column:args;type:blob"`
	Status   string `gorm:"column:status;not null;size:16"`
	Logs     string `gorm:"column:logs"`
	Error    string `gorm:"column:error"`
}

func (TxRecord) TableName() string {
	return "transactions"
}

// Transaction statuses.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// State is the storage view handed to a contract.
type State interface {
	Get(key string) ([]byte, bool, error)
	Set(key string, value []byte) error
}

// Env describes the transaction a contract call runs in.
type Env struct {
	Signer string
	Height uint64
	Log    func(string)
}

// Contract is implemented natively by sandbox contracts.
type Contract interface {
	View(state State, method string, args []byte) ([]byte, error)
	Call(state State, env Env, method string, args []byte) ([]byte, error)
}

// Result reports an executed call.
type Result struct {
	Hash   string
	Height uint64
	Value  []byte
	Logs   []string
}

// Chain stores accounts, contract state and transactions in sqlite.
type Chain struct {
	db     *gorm.DB
	logger *logging.Logger

	mu        sync.Mutex
	contracts map[string]Contract
}

// Open opens (creating if needed) the sqlite database at path.
func Open(path string, logger *logging.Logger) (*Chain, error) {
	if path == "" {
		return nil, errors.New("sandbox: database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sandbox dir: %w", err)
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sandbox db: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sandbox db handle: %w", err)
	}
	// sqlite allows one writer; a single connection avoids SQLITE_BUSY.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&AccountRecord{}, &StateRecord{}, &TxRecord{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate sandbox db: %w", err)
	}
	return &Chain{db: db, logger: logger, contracts: make(map[string]Contract)}, nil
}

// Close releases the database.
func (c *Chain) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Deploy registers contract under contractID, creating the account if needed.
func (c *Chain) Deploy(contractID string, contract Contract) error {
	if err := c.CreateAccount(contractID); err != nil {
		return err
	}
	c.mu.Lock()
	c.contracts[contractID] = contract
	c.mu.Unlock()
	c.logger.Info(logging.CategorySandbox, "contract deployed", map[string]any{"contract": contractID})
	return nil
}

// CreateAccount creates accountID if it does not exist yet.
func (c *Chain) CreateAccount(accountID string) error {
	if err := near.ValidateAccountID(accountID); err != nil {
		return err
	}
	record := AccountRecord{AccountID: accountID}
	err := c.db.Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "account_id"}}, DoNothing: true}).Create(&record).Error
	if err != nil {
		return fmt.Errorf("create account %s: %w", accountID, err)
	}
	return nil
}

// AccountExists reports whether accountID was created.
func (c *Chain) AccountExists(accountID string) (bool, error) {
	var count int64
	if err := c.db.Model(&AccountRecord{}).Where("account_id = ?", accountID).Count(&count).Error; err != nil {
		return false, fmt.Errorf("lookup account %s: %w", accountID, err)
	}
	return count > 0, nil
}

func (c *Chain) contract(contractID string) (Contract, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	contract, ok := c.contracts[contractID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownContract, contractID)
	}
	return contract, nil
}

// View runs a read-only method against the committed state.
func (c *Chain) View(ctx context.Context, contractID, method string, args []byte) ([]byte, error) {
	contract, err := c.contract(contractID)
	if err != nil {
		return nil, err
	}
	return contract.View(&dbState{db: c.db.WithContext(ctx), contractID: contractID, readOnly: true}, method, args)
}

// Call executes method as signer inside a database transaction. State
// changes are discarded when the contract returns an error; the transaction
// itself is recorded either way.
func (c *Chain) Call(ctx context.Context, signer, contractID, method string, args []byte) (Result, error) {
	contract, err := c.contract(contractID)
	if err != nil {
		return Result{}, err
	}
	exists, err := c.AccountExists(signer)
	if err != nil {
		return Result{}, err
	}
	if !exists {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownAccount, signer)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	db := c.db.WithContext(ctx)
	var height uint64
	if err := db.Model(&TxRecord{}).Select("COALESCE(MAX(block_height), 0)").Scan(&height).Error; err != nil {
		return Result{}, fmt.Errorf("read block height: %w", err)
	}
	height++

	var (
		logs  []string
		value []byte
	)
	callErr := db.Transaction(func(tx *gorm.DB) error {
		env := Env{Signer: signer, Height: height, Log: func(line string) { logs = append(logs, line) }}
		out, err := contract.Call(&dbState{db: tx, contractID: contractID}, env, method, args)
		if err != nil {
			return err
		}
		value = out
		return nil
	})

	record := TxRecord{
		Hash:     txHash(signer, contractID, method, args, height),
		Height:   height,
		Signer:   signer,
		Receiver: contractID,
		Method:   method,
		Args:     args,
		Status:   StatusSuccess,
		Logs:     strings.Join(logs, "\n"),
	}
	if callErr != nil {
		record.Status = StatusFailure
		record.Error = callErr.Error()
	}
	if err := db.Create(&record).Error; err != nil {
		return Result{}, fmt.Errorf("record transaction: %w", err)
	}

	c.logger.Info(logging.CategorySandbox, "transaction executed", map[string]any{
		"hash":     record.Hash,
		"height":   height,
		"signer":   signer,
		"receiver": contractID,
		"method":   method,
		"status":   record.Status,
	})
	if callErr != nil {
		return Result{Hash: record.Hash, Height: height, Logs: logs}, callErr
	}
	return Result{Hash: record.Hash, Height: height, Value: value, Logs: logs}, nil
}

// Transactions returns up to limit transactions, newest first.
func (c *Chain) Transactions(limit int) ([]TxRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var records []TxRecord
	if err := c.db.Order("block_height DESC").Limit(limit).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return records, nil
}

func txHash(signer, receiver, method string, args []byte, height uint64) string {
	h := sha256.New()
	for _, part := range []string{signer, receiver, method} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	h.Write(args)
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], height)
	h.Write(b[:])
	return base58.Encode(h.Sum(nil))
}

type dbState struct {
	db         *gorm.DB
	contractID string
	readOnly   bool
}

func (s *dbState) Get(key string) ([]byte, bool, error) {
	var records []StateRecord
	err := s.db.Where("contract_id = ? AND state_key = ?", s.contractID, key).Limit(1).Find(&records).Error
	if err != nil {
		return nil, false, fmt.Errorf("read state %s: %w", key, err)
	}
	if len(records) == 0 {
		return nil, false, nil
	}
	return records[0].Value, true, nil
}

func (s *dbState) Set(key string, value []byte) error {
	if s.readOnly {
		return errors.New("sandbox: state is read-only in view calls")
	}
	record := StateRecord{ContractID: s.contractID, Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "contract_id"}, {Name: "state_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&record).Error
	if err != nil {
		return fmt.Errorf("write state %s: %w", key, err)
	}
	return nil
}
