package fbclient

import (
	"github.com/launchdarkly/go-sdk-common/v3/ldlog"

	"github.com/featbit/go-server-sdk/interfaces"
	"github.com/featbit/go-server-sdk/internal/datastore"
)

// NewInMemoryDataStorage creates the data storage MakeClient uses when
// Config.DataStorage is nil: flags and segments are kept in process memory.
func NewInMemoryDataStorage(loggers ldlog.Loggers) interfaces.DataStorage {
	return datastore.NewInMemoryDataStorage(loggers)
}

// NewNullDataStorage creates a data storage that retains nothing and reports
// itself as initialized, so every evaluation falls back to its default value.
func NewNullDataStorage() interfaces.DataStorage {
	return datastore.NewNullDataStorage()
}
