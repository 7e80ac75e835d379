// Command memoryctl is the operator CLI: save/search/validate/stats/
// cluster subcommands against the engine library, for scripted and
// interactive use against a local memory.db.
//
// Root command carries a persistent --config flag; each verb is its
// own subcommand with RunE returning errors instead of calling
// os.Exit deep in a handler.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/marrowdepot/memoryd/internal/config"
	"github.com/marrowdepot/memoryd/internal/curator"
	"github.com/marrowdepot/memoryd/internal/embedclient"
	"github.com/marrowdepot/memoryd/internal/models"
	"github.com/marrowdepot/memoryd/internal/retriever"
	"github.com/marrowdepot/memoryd/internal/rpcserver"
	"github.com/marrowdepot/memoryd/internal/store"
	"github.com/marrowdepot/memoryd/internal/structurer"
)

type engine struct {
	db       *store.DB
	records  *store.RecordStore
	vectors  *store.VectorStore
	clusters *store.ClusterStore
	cur      *curator.Curator
	retr     *retriever.Retriever
}

func newEngine(cfgPath string) (*engine, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	log := zerolog.New(os.Stderr).With().Timestamp().Logger()

	db, err := store.Open(cfg.DataDir + "/memory.db")
	if err != nil {
		return nil, err
	}

	records := store.NewRecordStore(db)
	vectors := store.NewVectorStore(db)
	clusters := store.NewClusterStore(db)
	validations := store.NewValidationStore(db)

	embedderAddr := fmt.Sprintf("127.0.0.1:%d", cfg.EmbedderBackendPort)
	embedder := embedclient.NewCachedClient(embedclient.New(embedderAddr, cfg.Timeouts.EmbedderClient), db)
	structurerClient := structurer.New(cfg.LLMServiceEndpoint)

	retr := retriever.New(db, records, vectors, embedder)
	cur := curator.New(db, records, vectors, clusters, validations, embedder, structurerClient, log)
	cur.ClusterSimThreshold = cfg.Cluster.SimilarityThreshold
	cur.Maturity.MinSize = cfg.Cluster.MaturityCount
	cur.Maturity.MinConfidence = cfg.Cluster.MaturityConfidence

	return &engine{db: db, records: records, vectors: vectors, clusters: clusters, cur: cur, retr: retr}, nil
}

func (e *engine) Close() { e.db.Close() }

func main() {
	var cfgPath string

	root := &cobra.Command{
		Use:   "memoryctl",
		Short: "Operate a memoryd instance's memory.db directly",
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "path to YAML config file")

	root.AddCommand(saveCmd(&cfgPath), searchCmd(&cfgPath), validateCmd(&cfgPath), statsCmd(&cfgPath), clusterCmd(&cfgPath))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func saveCmd(cfgPath *string) *cobra.Command {
	var typ, domain, source string
	var confidence float64
	var skipStructurize bool

	cmd := &cobra.Command{
		Use:   "save <content>",
		Short: "Save a new memory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEngine(*cfgPath)
			if err != nil {
				return err
			}
			defer e.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
			defer cancel()

			outcome, err := e.cur.Save(ctx, args[0], curator.SaveParams{
				Type:            models.RecordType(typ),
				Domain:          domain,
				Confidence:      confidence,
				Source:          source,
				SkipStructurize: skipStructurize,
			})
			if err != nil {
				return err
			}
			switch {
			case outcome.Updated != nil:
				fmt.Printf("updated id=%d similarity=%.3f\n", outcome.Updated.ID, outcome.Updated.Similarity)
			case outcome.Rejected != nil:
				fmt.Printf("rejected reason=%q\n", outcome.Rejected.Reason)
			default:
				fmt.Printf("created id=%d", outcome.Created.ID)
				if outcome.Created.ClusterJoined != nil {
					fmt.Printf(" cluster=%d", *outcome.Created.ClusterJoined)
				}
				fmt.Println()
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&typ, "type", "", "record type")
	cmd.Flags().StringVar(&domain, "domain", "", "domain tag")
	cmd.Flags().StringVar(&source, "source", "user", "provenance tag")
	cmd.Flags().Float64Var(&confidence, "confidence", 0, "initial confidence")
	cmd.Flags().BoolVar(&skipStructurize, "skip-structurize", false, "skip the structurer call")
	return cmd
}

func searchCmd(cfgPath *string) *cobra.Command {
	var limit int
	var typ, domain string
	var lexical bool

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search memories",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEngine(*cfgPath)
			if err != nil {
				return err
			}
			defer e.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			filters := retriever.Filters{Type: models.RecordType(typ), Domain: domain}
			var results []retriever.Result
			if lexical {
				results, err = e.retr.SearchLexical(ctx, args[0], limit, filters)
			} else {
				results, err = e.retr.Search(ctx, args[0], limit, filters)
			}
			if err != nil {
				return err
			}
			for _, r := range results {
				fmt.Printf("[%d] (%.3f) %s\n", r.Record.ID, r.CombinedScore, r.Content)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 3, "max results")
	cmd.Flags().StringVar(&typ, "type", "", "filter by type")
	cmd.Flags().StringVar(&domain, "domain", "", "filter by domain")
	cmd.Flags().BoolVar(&lexical, "lexical", false, "lexical-only search")
	return cmd
}

func validateCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <id> <true|false>",
		Short: "Validate or invalidate a memory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid id: %w", err)
			}
			isValid, err := strconv.ParseBool(args[1])
			if err != nil {
				return fmt.Errorf("invalid bool: %w", err)
			}
			e, err := newEngine(*cfgPath)
			if err != nil {
				return err
			}
			defer e.Close()
			return e.cur.Validate(id, isValid)
		},
	}
	return cmd
}

func statsCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show memory totals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEngine(*cfgPath)
			if err != nil {
				return err
			}
			defer e.Close()
			stats, err := rpcserver.BuildStats(e.records, e.clusters)
			if err != nil {
				return err
			}
			for k, v := range stats {
				fmt.Printf("%s: %v\n", k, v)
			}
			return nil
		},
	}
}

func clusterCmd(cfgPath *string) *cobra.Command {
	cluster := &cobra.Command{Use: "cluster", Short: "Cluster maintenance operations"}

	var domain string
	auto := &cobra.Command{
		Use:   "auto",
		Short: "Run batch clustering",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEngine(*cfgPath)
			if err != nil {
				return err
			}
			defer e.Close()
			n, err := e.cur.AutoCluster(curator.AutoClusterParams{Domain: domain})
			if err != nil {
				return err
			}
			fmt.Printf("clusters created: %d\n", n)
			return nil
		},
	}
	auto.Flags().StringVar(&domain, "domain", "", "restrict to a domain")

	merge := &cobra.Command{
		Use:   "merge <cluster_id>",
		Short: "Merge a mature cluster",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid cluster id: %w", err)
			}
			e, err := newEngine(*cfgPath)
			if err != nil {
				return err
			}
			defer e.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 25*time.Second)
			defer cancel()
			newID, err := e.cur.MergeCluster(ctx, id)
			if err != nil {
				return err
			}
			fmt.Printf("merged into new record id=%d\n", newID)
			return nil
		},
	}

	cluster.AddCommand(auto, merge)
	return cluster
}
