package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/alohamonius/aster-vibe-trader/config"
	"github.com/alohamonius/aster-vibe-trader/internal/arena"
	"github.com/alohamonius/aster-vibe-trader/internal/aster"
	"github.com/alohamonius/aster-vibe-trader/internal/database"
	"github.com/alohamonius/aster-vibe-trader/internal/logging"
	"github.com/alohamonius/aster-vibe-trader/internal/reconcile"
	"github.com/alohamonius/aster-vibe-trader/internal/signer"
	"github.com/alohamonius/aster-vibe-trader/internal/snapshot"
)

func main() {
	configPath := flag.String("config", "config.json", "path to config file")
	flag.Parse()

	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("failed to load config")
	}

	log := logging.New(cfg.LoggingConfig)
	log.Info().Int("agents", len(cfg.Agents)).Msg("starting aster vibe trader")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.New(ctx, cfg.DatabaseConfig.DSN(), log)
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	defer db.Close()

	if err := db.RunMigrations(ctx); err != nil {
		log.Fatal().Err(err).Msg("migrations failed")
	}
	repo := database.NewRepository(db)

	var warm *snapshot.RedisStore
	if cfg.RedisConfig.Enabled {
		warm, err = snapshot.NewRedisStore(cfg.RedisConfig, log)
		if err != nil {
			log.Warn().Err(err).Msg("redis unavailable, running without warm store")
		} else {
			defer warm.Close()
		}
	}

	agents, err := buildAgents(cfg, repo, log)
	if err != nil {
		log.Fatal().Err(err).Msg("agent setup failed")
	}
	if len(agents) == 0 {
		log.Fatal().Msg("no usable agents configured")
	}

	service := arena.NewService(agents, repo, cfg.ArenaConfig, warm, log)

	stream := aster.NewMarkPriceStream(cfg.ExchangeConfig.StreamURL, cfg.ArenaConfig.TopTokens, log)
	stream.Start()
	defer stream.Stop()

	go service.RunPoller(ctx)

	// Warm the views once at startup so the first reader is not the one
	// paying for the full exchange round trip.
	if _, err := service.Agents(ctx); err != nil {
		log.Warn().Err(err).Msg("initial agent summary failed")
	}
	if _, err := service.Positions(ctx); err != nil {
		log.Warn().Err(err).Msg("initial position view failed")
	}

	<-ctx.Done()
	log.Info().Msg("shutting down")
}

// buildAgents constructs a client and reconciler per configured agent. An
// agent with bad credentials is fatal: nothing it signed would ever verify,
// and silently dropping it would hide a misconfigured account.
func buildAgents(cfg *config.Config, repo *database.Repository, log zerolog.Logger) ([]*arena.Agent, error) {
	catalog := sharedCatalog(cfg, log)

	agents := make([]*arena.Agent, 0, len(cfg.Agents))
	for _, ac := range cfg.Agents {
		client, err := aster.NewClient(signer.Credentials{
			APIKey:        ac.APIKey,
			APISecret:     ac.APISecret,
			WalletAddress: ac.WalletAddress,
			SignerAddress: ac.SignerAddress,
			PrivateKey:    ac.PrivateKey,
			Chain:         signer.Chain(ac.Chain),
		}, aster.Options{
			BaseURL:   cfg.ExchangeConfig.BaseURL,
			Timeout:   cfg.ExchangeConfig.RequestTimeout,
			AgentName: ac.Name,
			Logger:    log,
			Catalog:   catalog,
		})
		if err != nil {
			return nil, err
		}

		symbols := ac.TradingPairs
		if len(symbols) == 0 {
			symbols = cfg.ArenaConfig.TopTokens
		}

		agents = append(agents, &arena.Agent{
			Name:       ac.Name,
			Symbols:    symbols,
			Client:     client,
			Reconciler: reconcile.New(ac.Name, client, repo, log),
		})
		log.Info().Str("agent", ac.Name).Str("auth", client.AuthMode()).
			Strs("symbols", symbols).Msg("agent configured")
	}
	return agents, nil
}

// sharedCatalog builds one precision catalog for the whole fleet. Exchange
// trading rules are account-independent, so one unauthenticated client can
// feed every agent.
func sharedCatalog(cfg *config.Config, log zerolog.Logger) *aster.PrecisionCatalog {
	public, err := aster.NewClient(signer.Credentials{APIKey: "public", APISecret: "public"}, aster.Options{
		BaseURL:   cfg.ExchangeConfig.BaseURL,
		Timeout:   cfg.ExchangeConfig.RequestTimeout,
		AgentName: "catalog",
		Logger:    log,
	})
	if err != nil {
		// Unreachable with static credentials; fall back to per-client catalogs.
		log.Warn().Err(err).Msg("shared precision catalog unavailable")
		return nil
	}
	return public.Catalog()
}
