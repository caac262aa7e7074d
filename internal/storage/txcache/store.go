// Package txcache persists reconciled transactions per address so repeated
// report runs do not re-fetch records already reconciled.
package txcache

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/glebarez/sqlite"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/Baptiste-Yucca/gainorloss/internal/entity"
)

// cachedTransaction is the persisted row shape. Uniqueness is keyed by
// (address, hash, type): one on-chain call can legitimately produce legs of
// different types, but re-storing the same leg is a no-op.
type cachedTransaction struct {
	ID        uint   `gorm:"primaryKey"`
	Address   string `gorm:"size:42;uniqueIndex:idx_addr_hash_type;index"`
	Hash      string `gorm:"size:66;uniqueIndex:idx_addr_hash_type"`
	Type      string `gorm:"size:16;uniqueIndex:idx_addr_hash_type"`
	Amount    string `gorm:"size:80"`
	Timestamp int64
	Token     string `gorm:"size:16"`
	Version   string `gorm:"size:8"`
	Direction string `gorm:"size:4"`
}

func (cachedTransaction) TableName() string { return "transactions" }

// Store is the persistent transaction cache. One Store per process; the gorm
// handle is injected or opened at startup and closed at shutdown.
type Store struct {
	db *gorm.DB
}

// Open opens (or creates) the sqlite database at path and migrates the schema.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, errors.Wrap(err, "open transaction cache")
	}
	return NewStore(db)
}

// NewStore wraps an existing gorm handle (used by tests with :memory:).
func NewStore(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&cachedTransaction{}); err != nil {
		return nil, errors.Wrap(err, "migrate transaction cache")
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Has reports whether any transactions are cached for the address.
func (s *Store) Has(address common.Address) (bool, error) {
	var count int64
	if err := s.db.Model(&cachedTransaction{}).
		Where("address = ?", normalize(address)).
		Count(&count).Error; err != nil {
		return false, errors.Wrap(err, "count cached transactions")
	}
	return count > 0, nil
}

// Load returns every cached transaction for the address, oldest first.
func (s *Store) Load(address common.Address) ([]entity.Transaction, error) {
	var rows []cachedTransaction
	if err := s.db.
		Where("address = ?", normalize(address)).
		Order("timestamp asc").
		Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "load cached transactions")
	}

	out := make([]entity.Transaction, 0, len(rows))
	for _, row := range rows {
		amount, err := decimal.NewFromString(row.Amount)
		if err != nil {
			return nil, errors.Wrapf(err, "corrupt cached amount for %s", row.Hash)
		}
		direction := entity.DirectionOut
		if row.Direction == "in" {
			direction = entity.DirectionIn
		}
		out = append(out, entity.Transaction{
			Hash:      common.HexToHash(row.Hash),
			Amount:    amount,
			Timestamp: time.Unix(row.Timestamp, 0).UTC(),
			Type:      entity.ParseTxType(row.Type),
			Token:     row.Token,
			Version:   entity.Version(row.Version),
			Direction: direction,
		})
	}
	return out, nil
}

// Store writes the transactions for one address in a single database
// transaction; a crash mid-write never leaves a half-populated set. Rows
// already present under (address, hash, type) are left untouched. Returns the
// number of newly committed rows.
func (s *Store) Store(address common.Address, txs []entity.Transaction) (int, error) {
	if len(txs) == 0 {
		return 0, nil
	}

	rows := make([]cachedTransaction, 0, len(txs))
	for _, tx := range txs {
		rows = append(rows, cachedTransaction{
			Address:   normalize(address),
			Hash:      tx.Hash.Hex(),
			Type:      tx.Type.String(),
			Amount:    tx.Amount.String(),
			Timestamp: tx.Timestamp.Unix(),
			Token:     tx.Token,
			Version:   string(tx.Version),
			Direction: tx.Direction.String(),
		})
	}

	committed := 0
	err := s.db.Transaction(func(dbtx *gorm.DB) error {
		res := dbtx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows)
		if res.Error != nil {
			return res.Error
		}
		committed = int(res.RowsAffected)
		return nil
	})
	if err != nil {
		return 0, errors.Wrap(err, "store transactions")
	}
	return committed, nil
}

func normalize(address common.Address) string {
	return address.Hex()
}
