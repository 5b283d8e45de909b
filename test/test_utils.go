package test

import (
	"github.com/malgorath/cyberbrain/internal/store"
	"github.com/malgorath/cyberbrain/internal/store/postgres_store"
)

var (
	cleanupFunc func()
	initErr     error
)

// initTestDB points the app store at the container database.
func initTestDB() {
	store.AppStore = postgres_store.PostgresStore
	cleanupFunc, initErr = store.AppStore.Initialize()
}
