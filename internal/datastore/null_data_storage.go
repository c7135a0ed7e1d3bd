package datastore

import (
	"github.com/featbit/go-server-sdk/datamodel"
	"github.com/featbit/go-server-sdk/interfaces"
)

// nullDataStorage is a stub used when the client runs in offline mode. It
// retains nothing and reports itself as initialized so that evaluation
// immediately falls back to default values.
type nullDataStorage struct{}

// NewNullDataStorage returns a data storage that discards all writes.
func NewNullDataStorage() interfaces.DataStorage {
	return nullDataStorage{}
}

func (nullDataStorage) Get(category datamodel.Category, key string) datamodel.Item {
	return nil
}

func (nullDataStorage) GetAll(category datamodel.Category) map[string]datamodel.Item {
	return map[string]datamodel.Item{}
}

func (nullDataStorage) Init(allData map[datamodel.Category]map[string]datamodel.Item, version int64) (bool, error) {
	return false, nil
}

func (nullDataStorage) Upsert(category datamodel.Category, key string, item datamodel.Item, version int64) (bool, error) {
	return false, nil
}

func (nullDataStorage) Initialized() bool {
	return true
}

func (nullDataStorage) GetLatestVersion() int64 {
	return 0
}

func (nullDataStorage) Close() error {
	return nil
}
