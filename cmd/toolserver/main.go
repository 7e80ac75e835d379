// Command toolserver is a thin stdio binary wrapping the four-op tool
// surface (internal/toolproto), linking the Curator and Retriever
// in-process. A request router spawns this as a short-lived child and
// speaks line-delimited JSON over its stdin/stdout.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/marrowdepot/memoryd/internal/config"
	"github.com/marrowdepot/memoryd/internal/curator"
	"github.com/marrowdepot/memoryd/internal/embedclient"
	"github.com/marrowdepot/memoryd/internal/retriever"
	"github.com/marrowdepot/memoryd/internal/store"
	"github.com/marrowdepot/memoryd/internal/structurer"
	"github.com/marrowdepot/memoryd/internal/toolproto"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "toolserver: config: %v\n", err)
		os.Exit(1)
	}

	log := zerolog.New(os.Stderr).With().Timestamp().Str("component", "toolserver").Logger()

	dbPath := cfg.DataDir + "/memory.db"
	db, err := store.Open(dbPath)
	if err != nil {
		log.Fatal().Err(err).Msg("open store")
	}
	defer db.Close()

	records := store.NewRecordStore(db)
	vectors := store.NewVectorStore(db)
	clusters := store.NewClusterStore(db)
	validations := store.NewValidationStore(db)

	embedderAddr := fmt.Sprintf("127.0.0.1:%d", cfg.EmbedderBackendPort)
	embedder := embedclient.NewCachedClient(embedclient.New(embedderAddr, cfg.Timeouts.EmbedderClient), db)
	structurerClient := structurer.New(cfg.LLMServiceEndpoint)

	retr := retriever.New(db, records, vectors, embedder)
	cur := curator.New(db, records, vectors, clusters, validations, embedder, structurerClient, log)

	srv := toolproto.New(cur, retr, records, clusters, log)
	if err := srv.Serve(os.Stdin, os.Stdout); err != nil {
		log.Fatal().Err(err).Msg("toolserver stopped")
	}
}
