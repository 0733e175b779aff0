package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/npezzotti/go-chat-realtime/internal/api"
	"github.com/npezzotti/go-chat-realtime/internal/config"
	"github.com/npezzotti/go-chat-realtime/internal/database"
	"github.com/npezzotti/go-chat-realtime/internal/presence"
	"github.com/npezzotti/go-chat-realtime/internal/server"
	"github.com/npezzotti/go-chat-realtime/internal/stats"
	"golang.org/x/time/rate"
)

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

var (
	configFile     string
	addr           string
	store          string
	dsn            string
	migrate        bool
	mongoURI       string
	mongoDatabase  string
	signingKey     string
	allowedOrigins stringSliceFlag
)

func main() {
	defaults := config.Default()

	flag.StringVar(&configFile, "config", "", "path to a YAML config file")
	flag.StringVar(&addr, "addr", defaults.ServerAddr, "server address")
	flag.StringVar(&store, "store", defaults.Store, "message store: memory, postgres or mongo")
	flag.StringVar(&dsn, "dsn", defaults.DatabaseDSN, "postgres connection string")
	flag.BoolVar(&migrate, "migrate", false, "apply postgres migrations on startup")
	flag.StringVar(&mongoURI, "mongo-uri", "", "mongodb connection uri")
	flag.StringVar(&mongoDatabase, "mongo-database", defaults.MongoDatabase, "mongodb database name")
	flag.StringVar(&signingKey, "signing-key", defaults.SigningSecret, "base64 encoded signing key")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.Parse()

	logger := log.New(os.Stderr, "[go-chat] ", log.LstdFlags)

	cfg := defaults
	if configFile != "" {
		var err error
		if cfg, err = config.LoadFile(configFile); err != nil {
			logger.Fatal("config:", err)
		}
	}
	applyFlags(cfg)

	if err := cfg.Validate(); err != nil {
		logger.Fatal("config:", err)
	}

	db, err := openStore(cfg)
	if err != nil {
		logger.Fatal("store open:", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Println("store close:", err)
		}
	}()

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)

	opts := server.DefaultOptions()
	opts.OutboundQueueSize = cfg.OutboundQueueSize
	opts.InboundRate = rate.Limit(cfg.InboundRate)
	opts.InboundBurst = cfg.InboundBurst
	opts.RevokeWindow = cfg.RevokeWindow

	chatServer, err := server.NewChatServer(logger, db, statsUpdater, presence.NewTracker(), server.NewRooms(), opts)
	if err != nil {
		logger.Fatal("new chat server:", err)
	}

	srv := api.NewChatApp(mux, logger, chatServer, cfg)

	go chatServer.Run()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s\n", sig)
	case err := <-errCh:
		logger.Println("server:", err)
	}

	shutDownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Println("HTTP server shutdown:", err)
	}

	logger.Println("shutting down chat server...")
	if err := chatServer.Shutdown(shutDownCtx); err != nil {
		logger.Println("chat server shutdown:", err)
	}

	logger.Println("shutdown complete")
}

// applyFlags overrides cfg with the flags set on the command line.
func applyFlags(cfg *config.Config) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			cfg.ServerAddr = addr
		case "store":
			cfg.Store = store
		case "dsn":
			cfg.DatabaseDSN = dsn
		case "migrate":
			cfg.Migrate = migrate
		case "mongo-uri":
			cfg.MongoURI = mongoURI
		case "mongo-database":
			cfg.MongoDatabase = mongoDatabase
		case "signing-key":
			cfg.SigningSecret = signingKey
		case "allowed-origins":
			cfg.AllowedOrigins = allowedOrigins
		}
	})
}

func openStore(cfg *config.Config) (database.Store, error) {
	switch cfg.Store {
	case config.StorePostgres:
		pg, err := database.NewPgStore(cfg.DatabaseDSN)
		if err != nil {
			return nil, err
		}
		if cfg.Migrate {
			if err := pg.Migrate(); err != nil {
				pg.Close()
				return nil, err
			}
		}
		return pg, nil
	case config.StoreMongo:
		return database.NewMongoStore(cfg.MongoURI, cfg.MongoDatabase)
	default:
		return database.NewMemoryStore(), nil
	}
}
