package store

import (
	"database/sql"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// WithSerializable runs fn inside a SERIALIZABLE transaction. Any error
// returned by fn rolls the whole unit of work back.
func WithSerializable(db *gorm.DB, fn func(tx *gorm.DB) error) error {
	return db.Transaction(fn, &sql.TxOptions{Isolation: sql.LevelSerializable})
}

// LockForUpdate loads the first row matching query into dest under an
// exclusive row lock (SELECT ... FOR UPDATE). The predicate is evaluated
// under the lock, so a caller filtering on a status column observes the
// row's committed state after any concurrent writer released it.
func LockForUpdate(tx *gorm.DB, dest interface{}, query interface{}, args ...interface{}) error {
	return tx.
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where(query, args...).
		First(dest).Error
}
