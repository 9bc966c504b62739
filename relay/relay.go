package relay

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/softempire/magic-wormhole/config"
	"github.com/softempire/magic-wormhole/db"
	"github.com/softempire/magic-wormhole/log"
)

var (
	router  *http.ServeMux
	server  *http.Server
	service *Service

	clients     map[*Client]struct{}
	lockClients sync.Mutex

	register   chan *Client
	unregister chan *Client
)

//Initialize sets-up the relay servers initial systems
func Initialize() error {
	if config.Opts == nil {
		panic("attempted to initialize relay without a loaded config")
	}

	if err := db.Initialize(); err != nil {
		return err
	}

	service = NewService(db.NewStore(db.Get()), config.Opts)

	//Prepare the connection infrastructure
	clients = make(map[*Client]struct{})

	register = make(chan *Client)
	unregister = make(chan *Client)

	if err := initWebsocket(); err != nil {
		return err
	}

	//Setup router
	router = http.NewServeMux()
	router.HandleFunc("/", handleIndex)
	router.HandleFunc(config.Opts.Relay.WebSocketPath, handleWebsocket)

	//Configure server
	server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", config.Opts.Relay.Host, config.Opts.Relay.Port),
		Handler: router,
	}

	return nil
}

//Shutdown performs the graceful shutdown of the relay server
//using the provided context
func Shutdown(ctx context.Context) error {
	var err error

	if server != nil {
		server.SetKeepAlivesEnabled(false)
		err = server.Shutdown(ctx)
		log.Info("shutdown relay server")
	}

	if service != nil {
		service.mu.Lock()
		for _, app := range service.Apps {
			app.mu.Lock()
			for _, mbox := range app.Mailboxes {
				mbox.shutdown()
			}
			app.mu.Unlock()
		}
		service.mu.Unlock()
	}

	db.Close()

	log.Info("completed shutdown")
	return err
}

//Start spins up the relay server as a coroutine
func Start() {
	if server == nil {
		panic("attempted to start relay server that has not been initialized")
	}

	//Handle all the incoming/outgoing connections that get passed in from websocket.
	//So we run this async so it doesn't block the actual relay server
	go runRelay()

	go func() {
		log.Info("starting relay server")
		err := server.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			log.Err("closing relay server encountered an error", err)
		}
		log.Info("relay server closed")
	}()

	//Allow the cleaning process to run
	go runCleaning()
}

//CleanNowPure runs the cleaning operation without actually spinning up the
//service resources
func CleanNowPure() error {
	if config.Opts == nil {
		panic("attempted to initialize relay without a loaded config")
	}

	if err := db.Initialize(); err != nil {
		return err
	}

	srv := NewService(db.NewStore(db.Get()), config.Opts)

	//A fresh Service has no applications loaded; register every app that
	//still owns a nameplate or mailbox so CleanApps visits it.
	rows, err := db.Get().Query(`SELECT app_id FROM nameplates UNION SELECT app_id FROM mailboxes`)
	if err != nil {
		return err
	}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		srv.GetApp(id)
	}
	rows.Close()

	expiration := time.Duration(config.Opts.Relay.ChannelExpiration) * time.Second
	threshold := time.Now().Add(-expiration).Unix()

	if err := srv.CleanApps(threshold); err != nil {
		return err
	}

	db.Close()

	return nil
}

func runRelay() {
	for {
		select {

		case clnt := <-register: //New client
			lockClients.Lock()
			clients[clnt] = struct{}{}
			LogInfo(clnt, "new client registered")
			lockClients.Unlock()

			clnt.OnConnect()

		case clnt := <-unregister: //Leaving client
			lockClients.Lock()
			if _, ok := clients[clnt]; ok {
				clnt.Close()
				delete(clients, clnt)
			}
			LogInfo(clnt, "client unregistered")
			lockClients.Unlock()
		}
	}
}

func runCleaning() {
	if config.Opts == nil {
		return //No options available
	}

	if config.Opts.Relay.CleaningInterval == 0 {
		log.Warn("cleaning interval was too small! Check configuration")
		return
	}

	dur := time.Second * time.Duration(config.Opts.Relay.CleaningInterval)
	expiration := time.Second * time.Duration(config.Opts.Relay.ChannelExpiration)

	ticker := time.NewTicker(dur)
	for t := range ticker.C {
		if service != nil {
			threshold := t.Add(-expiration).Unix()
			if err := service.CleanApps(threshold); err != nil {
				log.Err("failed to clean relay server", err)
			}
		}
	}
}
