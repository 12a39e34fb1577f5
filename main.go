package main

import (
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	socketio "github.com/zishang520/socket.io/v2/socket"

	"github.com/ved-shetye/SyncScript/access"
	"github.com/ved-shetye/SyncScript/handlers/api/documents"
	"github.com/ved-shetye/SyncScript/handlers/auth"
	"github.com/ved-shetye/SyncScript/handlers/collab"
	authMiddleware "github.com/ved-shetye/SyncScript/middleware"
	"github.com/ved-shetye/SyncScript/stores"
)

func setupRouter(store stores.Store, guard *access.Guard) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Logger)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Content-Length", "Origin", "Host", "X-Requested-With"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any of major browsers
	}))

	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/signup", auth.HandleSignup(store))
		r.Post("/signin", auth.HandleSignin(store))
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.AuthJWT)
			r.Get("/profile", auth.HandleProfile(store))
		})
	})

	r.Route("/api/documents", func(r chi.Router) {
		r.Use(authMiddleware.AuthJWT)
		r.Post("/", documents.HandleCreate(store))
		r.Get("/", documents.HandleList(store))
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", documents.HandleGet(store, guard))
			r.Put("/", documents.HandleUpdate(store, guard))
			r.Post("/collaborators", documents.HandleAddCollaborator(store, guard))
		})
	})

	r.Route("/auth", func(r chi.Router) {
		r.Get("/login", auth.HandleOIDCLogin)
		r.Get("/callback", auth.HandleOIDCCallback(store))
	})

	return r
}

func waitForShutdown(ioo *socketio.Server) {
	exit := make(chan struct{})
	signalC := make(chan os.Signal, 1)

	signal.Notify(signalC, os.Interrupt, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		for s := range signalC {
			switch s {
			case os.Interrupt, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT:
				close(exit)
				return
			}
		}
	}()

	<-exit
	logrus.Info("Shutting down...")
	ioo.Close(nil)
	os.Exit(0)
}

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		logrus.Info("No .env file found")
	}

	listenAddress := flag.String("listen", ":5000", "The address to listen on.")
	logLevel := flag.String("loglevel", "info", "The log level (debug, info, warn, error).")
	flag.Parse()

	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		logrus.Fatalf("Invalid log level: %v", err)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	auth.InitAuth()
	store := stores.GetStore()
	guard := access.NewGuard(store)

	r := setupRouter(store, guard)

	engine := collab.NewEngine(guard, store, collab.NewRegistry())
	ioo := collab.SetupSocketIO(engine)
	r.Mount("/socket.io/", ioo.ServeHandler(nil))

	logrus.WithField("addr", *listenAddress).Info("starting server")
	go func() {
		if err := http.ListenAndServe(*listenAddress, r); err != nil {
			logrus.WithField("event", "start server").Fatal(err)
		}
	}()

	waitForShutdown(ioo)
}
