package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/hr-assistant/internal/storage"
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Find stored candidates whose résumé is closest to a free text query",
	Long:  "Find stored candidates whose résumé is closest to a free text query. Requires the postgres store with pgvector and ai.gemini.embeddings enabled during runs.",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		limit, _ := cmd.Flags().GetInt("limit")
		search(strings.Join(args, " "), limit)
	},
}

func init() {
	rootCmd.AddCommand(searchCmd)

	searchCmd.Flags().IntP("limit", "l", 10, "number of candidates to show")
}

func search(query string, limit int) {
	ctx := context.Background()

	env := setup()
	defer env.Close()
	logger := env.logger

	embedder, err := env.embedder(ctx)
	if err != nil {
		logger.Fatal("preparing the embedder", zap.Error(err))
	}

	vector, err := embedder.Embed(ctx, query)
	if err != nil {
		logger.Fatal("embedding the query", zap.Error(err))
	}

	results, err := env.store.Search(ctx, vector, limit)
	if errors.Is(err, storage.ErrSearchUnsupported) {
		logger.Fatal("searching candidates", zap.Error(err),
			zap.String("hint", "similarity search needs store.driver=postgres with the vector extension"),
		)
	}
	if err != nil {
		logger.Fatal("searching candidates", zap.Error(err))
	}

	if len(results) == 0 {
		logger.Info("no candidates with embeddings found")
		return
	}

	for i, res := range results {
		rec := res.Record
		fmt.Printf("%2d. %-24s %-8s %.4f  %s\n", i+1, rec.Name, rec.Stage, res.Distance, rec.CandidateID)
	}
}
