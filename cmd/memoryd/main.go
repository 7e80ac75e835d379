// Command memoryd is the long-lived daemon: it opens memory.db, wires
// the Store, Embedder gateway, Structurer gateway, Retriever, and
// Curator together, serves the embedder-service protocol over TCP,
// and runs the batch auto-cluster sweep on a schedule.
//
// Wiring order: config, then logger, then db, then stores, then
// external clients, then services, then listeners, then graceful
// shutdown on signal.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/marrowdepot/memoryd/internal/config"
	"github.com/marrowdepot/memoryd/internal/curator"
	"github.com/marrowdepot/memoryd/internal/embedclient"
	"github.com/marrowdepot/memoryd/internal/retriever"
	"github.com/marrowdepot/memoryd/internal/rpcserver"
	"github.com/marrowdepot/memoryd/internal/store"
	"github.com/marrowdepot/memoryd/internal/structurer"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "memoryd: config: %v\n", err)
		os.Exit(1)
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(zerolog.NewConsoleWriter()).Level(level).With().Timestamp().Logger()

	dbPath := cfg.DataDir + "/memory.db"
	db, err := store.Open(dbPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", dbPath).Msg("open store")
	}
	defer db.Close()

	records := store.NewRecordStore(db)
	vectors := store.NewVectorStore(db)
	clusters := store.NewClusterStore(db)
	validations := store.NewValidationStore(db)

	embedderAddr := fmt.Sprintf("127.0.0.1:%d", cfg.EmbedderBackendPort)
	rawEmbedder := embedclient.New(embedderAddr, cfg.Timeouts.EmbedderClient)
	embedder := embedclient.NewCachedClient(rawEmbedder, db)

	llmAddr := cfg.LLMServiceEndpoint
	structurerClient := structurer.New(llmAddr)

	retr := retriever.New(db, records, vectors, embedder)
	cur := curator.New(db, records, vectors, clusters, validations, embedder, structurerClient, log)
	cur.ClusterSimThreshold = cfg.Cluster.SimilarityThreshold
	cur.Maturity.MinSize = cfg.Cluster.MaturityCount
	cur.Maturity.MinConfidence = cfg.Cluster.MaturityConfidence

	statsFn := func() (map[string]any, error) { return rpcserver.BuildStats(records, clusters) }
	srv := rpcserver.New(retr, statsFn, log)

	rpcAddr := fmt.Sprintf("127.0.0.1:%d", cfg.EmbedderPort)
	go func() {
		if err := srv.ListenAndServe(rpcAddr); err != nil {
			log.Error().Err(err).Msg("rpcserver stopped")
		}
	}()

	sched := cron.New()
	_, err = sched.AddFunc("@every 15m", func() {
		n, err := cur.AutoCluster(curator.AutoClusterParams{})
		if err != nil {
			log.Warn().Err(err).Msg("scheduled auto_cluster failed")
			return
		}
		if n > 0 {
			log.Info().Int("clusters_created", n).Msg("scheduled auto_cluster complete")
		}
	})
	if err != nil {
		log.Fatal().Err(err).Msg("schedule auto_cluster")
	}
	sched.Start()
	defer sched.Stop()

	log.Info().Str("addr", rpcAddr).Msg("memoryd started")

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)
	<-done

	log.Info().Msg("shutting down")
	if err := srv.Close(); err != nil {
		log.Error().Err(err).Msg("rpcserver close")
	}
	log.Info().Msg("memoryd stopped")
}
