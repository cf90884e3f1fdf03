package mongo

import (
	"errors"

	"github.com/fieldlens/analysis-queue/internal/store"
	driver "go.mongodb.org/mongo-driver/mongo"
)

// mapError converts driver errors to store errors. notFound is returned for
// ErrNoDocuments so callers can choose the entity-specific sentinel.
func mapError(op string, err error, notFound error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, driver.ErrNoDocuments) {
		return notFound
	}
	if driver.IsDuplicateKeyError(err) {
		return store.ErrDuplicate
	}
	return store.NewPersistenceError(op, err)
}

// checkMatched reports notFound when an update matched nothing.
func checkMatched(op string, result *driver.UpdateResult, notFound error) error {
	if result == nil {
		return store.NewPersistenceError(op, errors.New("nil update result"))
	}
	if result.MatchedCount == 0 {
		return notFound
	}
	return nil
}
