package relay

import (
	"sync"
	"time"

	"github.com/softempire/magic-wormhole/config"
	"github.com/softempire/magic-wormhole/db"
	"github.com/softempire/magic-wormhole/log"
	"github.com/softempire/magic-wormhole/wire"
)

// Service is the root of the rendezvous server: the welcome payload sent to
// every connecting client, and the registry of Application namespaces
// keyed by appid. It holds an explicit *db.Store rather than reaching for a
// package-level database handle, so it (and everything under it) is
// constructible and testable without touching process-global state.
type Service struct {
	Welcome wire.WelcomeInfo

	store *db.Store

	mu   sync.Mutex
	Apps map[string]*Application
}

// NewService builds a Service bound to store, using cfg for the welcome
// payload and any other per-service settings.
func NewService(store *db.Store, cfg *config.Options) *Service {
	srv := &Service{
		store: store,
		Apps:  make(map[string]*Application),
		Welcome: wire.WelcomeInfo{
			CurrentCLIVersion: cfg.Relay.CurrentCLIVersion,
		},
	}

	if cfg.Relay.WelcomeMOTD != "" {
		srv.Welcome.MOTD = &cfg.Relay.WelcomeMOTD
	}
	if cfg.Relay.WelcomeError != "" {
		srv.Welcome.Error = &cfg.Relay.WelcomeError
	}

	return srv
}

// GetApp finds an application registered with the service, creating and
// registering it on first reference.
func (s *Service) GetApp(id string) *Application {
	s.mu.Lock()
	defer s.mu.Unlock()

	app, ok := s.Apps[id]
	if !ok {
		log.Infof("creating new application container for %s", id)
		app = NewApplication(id, s.store)
		s.Apps[id] = app
	}

	return app
}

// CleanApps prunes every registered application's stale nameplates and
// mailboxes, treating anything untouched since before threshold as dead.
func (s *Service) CleanApps(threshold int64) error {
	s.mu.Lock()
	apps := make([]*Application, 0, len(s.Apps))
	for _, app := range s.Apps {
		apps = append(apps, app)
	}
	s.mu.Unlock()

	now := time.Now().Unix()
	for _, app := range apps {
		if err := app.prune(now, threshold); err != nil {
			return err
		}
	}
	return nil
}
