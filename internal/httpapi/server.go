// Package httpapi exposes the relay's HTTP surface: process status, map
// catalog reads, and compiled-controller reads, plus the websocket upgrade
// that hands a new connection to the relay Broker. Kept to the standard
// library's net/http — no router or middleware framework is in scope, per
// the spec's explicit exclusion of the HTTP wrapper from the core.
package httpapi

import (
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/spsquared/PixSim-API/internal/assembly"
	"github.com/spsquared/PixSim-API/internal/mapcatalog"
	"github.com/spsquared/PixSim-API/internal/relay"
)

// Server wires the handful of read-only HTTP endpoints and the websocket
// upgrade onto one mux.
type Server struct {
	catalog        *mapcatalog.Catalog
	compiler       *assembly.Compiler
	controllersDir string
	broker         *relay.Broker
	upgrader       *Upgrader
	starting       *atomic.Bool
	startedAt      time.Time
	log            *zap.Logger
}

func NewServer(catalog *mapcatalog.Catalog, compiler *assembly.Compiler, controllersDir string, broker *relay.Broker, upgradePath string, pingInterval, idleTimeout time.Duration, starting *atomic.Bool, log *zap.Logger) *Server {
	return &Server{
		catalog:        catalog,
		compiler:       compiler,
		controllersDir: controllersDir,
		broker:         broker,
		upgrader:       newUpgrader(broker, upgradePath, pingInterval, idleTimeout, log),
		starting:       starting,
		startedAt:      time.Now(),
		log:            log,
	}
}

// Routes builds the process mux. Uses Go's method+pattern ServeMux routing
// (stdlib since 1.22) rather than a third-party router.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /pixsim-api/status", s.handleStatus)
	mux.HandleFunc("GET /pixsim-api/maps/list/{gameMode}", s.handleMapsList)
	mux.HandleFunc("GET /pixsim-api/maps/{gameMode}/{id}", s.handleMapGet)
	mux.HandleFunc("GET /pixsim-api/controllers/{path...}", s.handleController)
	mux.HandleFunc("GET "+s.upgrader.path, s.upgrader.handle)
	return mux
}
