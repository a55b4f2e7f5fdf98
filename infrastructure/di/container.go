// Package di wires the application together. Providers live in
// providers.go; wire.go declares the injector and wire_gen.go is its
// generated implementation.
package di

import (
	"go.uber.org/zap"

	"github.com/teesha-ghevariya/to-do/application/ports"
	"github.com/teesha-ghevariya/to-do/application/services"
	"github.com/teesha-ghevariya/to-do/infrastructure/config"
	"github.com/teesha-ghevariya/to-do/interfaces/http/rest"
	"github.com/teesha-ghevariya/to-do/pkg/observability"
)

// Container holds all application dependencies
type Container struct {
	Config      *config.Config
	Logging     *Logging
	Logger      *zap.Logger
	Metrics     *observability.Collector
	Backend     *Backend
	Locker      ports.GroupLocker
	Publisher   ports.EventPublisher
	NodeService *services.NodeService
	Router      *rest.Router
}
