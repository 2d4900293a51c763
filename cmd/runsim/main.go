// runsim executes one scenario file to its horizon and prints the summary.
// With -persist the finished run is archived to Postgres; with -cache the
// summary is memoized in Redis and served from there on a repeat run.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"rtgsim/internal/engine"
	"rtgsim/internal/evalcache"
	"rtgsim/internal/runstore"
	"rtgsim/internal/scenario"
	"rtgsim/pkg/config"
	"rtgsim/pkg/logger"
)

func main() {
	scenarioPath := flag.String("scenario", "", "path to a YAML scenario file (required)")
	seed := flag.Int64("seed", -1, "override the scenario seed")
	persist := flag.Bool("persist", false, "archive the finished run to Postgres")
	useCache := flag.Bool("cache", false, "memoize the summary in Redis")
	quiet := flag.Bool("quiet", false, "suppress per-tick engine logging")
	flag.Parse()

	if *scenarioPath == "" {
		fmt.Fprintln(os.Stderr, "usage: runsim -scenario <file> [-seed N] [-persist] [-cache]")
		os.Exit(2)
	}

	_ = godotenv.Load()
	cfg := config.Load()

	log := logger.New("rtgsim-runsim")
	if *quiet {
		log = logger.NewNop()
	}

	data, err := os.ReadFile(*scenarioPath)
	if err != nil {
		fatal(log, "Failed to read scenario file", err)
	}

	scn, err := scenario.Parse(data)
	if err != nil {
		fatal(log, "Scenario rejected", err)
	}
	if *seed >= 0 {
		scn.Seed = *seed
	}
	hash := scenario.Hash(data)

	ctx := context.Background()

	var cache *evalcache.Cache
	if *useCache {
		cache, err = evalcache.New(cfg.Redis.URL, cfg.Redis.Password, cfg.Redis.DB, cfg.Sim.ResultCacheTTL)
		if err != nil {
			fatal(log, "Evaluation cache unavailable", err)
		}
		defer cache.Close()

		cached, err := cache.Get(ctx, hash, scn.Seed)
		if err != nil {
			fatal(log, "Cache lookup failed", err)
		}
		if cached != nil {
			log.Info("Serving memoized summary", map[string]interface{}{
				"scenario_hash": hash,
				"seed":          scn.Seed,
			})
			printJSON(cached)
			return
		}
	}

	sim, err := engine.New(*scn, log)
	if err != nil {
		fatal(log, "Failed to build simulation", err)
	}

	start := time.Now()
	if err := sim.Run(ctx); err != nil {
		fatal(log, "Run failed", err)
	}
	summary := sim.Summary()

	log.Info("Run finished", map[string]interface{}{
		"scenario":        scn.Name,
		"seed":            scn.Seed,
		"completed_ticks": summary.CompletedTicks,
		"settled_count":   summary.SettledCount,
		"duration_ms":     time.Since(start).Milliseconds(),
	})

	if *persist {
		repo, err := runstore.NewRepository(
			cfg.Database.URL,
			cfg.Database.MaxOpenConns,
			cfg.Database.MaxIdleConns,
			cfg.Database.ConnMaxLifetime,
		)
		if err != nil {
			fatal(log, "Run store unavailable", err)
		}
		defer repo.Close()

		rec := runstore.RunRecord{
			ID:             uuid.New(),
			ScenarioName:   scn.Name,
			ScenarioHash:   hash,
			Seed:           scn.Seed,
			HorizonTicks:   scn.HorizonTicks,
			CompletedTicks: summary.CompletedTicks,
			SettledCount:   summary.SettledCount,
			SettledValue:   summary.SettledValue,
			TotalCost:      summary.TotalCost,
			CreatedAt:      time.Now().UTC(),
		}
		if err := repo.SaveRun(ctx, rec, sim.Events(), summary); err != nil {
			fatal(log, "Failed to archive run", err)
		}
		log.Info("Run archived", map[string]interface{}{"run_id": rec.ID.String()})
	}

	if cache != nil {
		if err := cache.Put(ctx, hash, scn.Seed, summary); err != nil {
			log.Warn("Summary cache write failed", map[string]interface{}{"error": err.Error()})
		}
	}

	printJSON(summary)
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func fatal(log logger.Logger, msg string, err error) {
	log.Error(msg, map[string]interface{}{"error": err.Error()})
	fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
	os.Exit(1)
}
