package di

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teesha-ghevariya/to-do/application/services"
	"github.com/teesha-ghevariya/to-do/infrastructure/config"
	"github.com/teesha-ghevariya/to-do/infrastructure/messaging"
)

func TestInitializeContainer_Memory(t *testing.T) {
	cfg := config.Default()
	cfg.LogLevel = "error"

	container, cleanup, err := InitializeContainer(context.Background(), cfg)
	require.NoError(t, err)
	defer cleanup()

	assert.IsType(t, &services.KeyedLocker{}, container.Locker)
	assert.IsType(t, &messaging.LogPublisher{}, container.Publisher)
	assert.NotNil(t, container.Metrics)
	assert.Nil(t, container.Backend.Ready)

	handler := container.Router.Setup()
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/nodes", strings.NewReader(`{"content":"first"}`)))
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestInitializeContainer_ProductionWithoutEvents(t *testing.T) {
	cfg := config.Default()
	cfg.Environment = "production"
	cfg.EnableMetrics = false

	container, cleanup, err := InitializeContainer(context.Background(), cfg)
	require.NoError(t, err)
	defer cleanup()

	assert.Nil(t, container.Publisher)
	assert.Nil(t, container.Metrics)
}

func TestInitializeContainer_UnknownBackend(t *testing.T) {
	cfg := config.Default()
	cfg.StoreBackend = "sqlite"

	_, _, err := InitializeContainer(context.Background(), cfg)
	assert.Error(t, err)
}
