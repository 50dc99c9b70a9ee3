package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/shunichi-ikebuchi/exact-online-connector/pkg/db"
	"github.com/shunichi-ikebuchi/exact-online-connector/pkg/dispatch"
	"github.com/shunichi-ikebuchi/exact-online-connector/pkg/reconcile"
)

var (
	matchSetsFile string
	topic         string
	force         bool
)

// reconcileCmd represents the reconcile command.
var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Upload reconciliation match sets",
	Long: `Upload match sets from a YAML or JSON file to the XML upload endpoint.

This command:
1. Validates the match sets (GL account, at least two lines each)
2. Skips payloads already accepted for the division unless --force is set
3. Uploads the XML document
4. Fails unless every match set was acknowledged without error
5. Records the upload in the history

Example:
  exact-cli reconcile --file matchsets.yaml
  exact-cli reconcile --file matchsets.json --division 123456 --force`,
	Run: runReconcile,
}

func init() {
	reconcileCmd.Flags().StringVarP(&matchSetsFile, "file", "f", "", "match sets file, YAML or JSON (required)")
	reconcileCmd.Flags().StringVar(&topic, "topic", reconcile.DefaultTopic, "XML upload topic")
	reconcileCmd.Flags().BoolVar(&force, "force", false, "upload even if the same payload was accepted before")
	reconcileCmd.MarkFlagRequired("file")
}

func runReconcile(cmd *cobra.Command, args []string) {
	data, err := os.ReadFile(matchSetsFile)
	exitOnError(err, "failed to read match sets file")

	sets, err := reconcile.ParseMatchSets(data)
	exitOnError(err, "failed to parse match sets")

	payload, err := reconcile.Encode(sets)
	exitOnError(err, "invalid match sets")
	hash := db.PayloadHash(payload)

	ctx := context.Background()
	a := newApp()
	div := a.division(ctx)

	if a.history != nil && !force {
		uploaded, err := a.history.IsUploaded(ctx, div, hash)
		exitOnError(err, "failed to check upload history")
		if uploaded {
			fmt.Println("These match sets were already accepted for this division (use --force to upload again)")
			a.close()
			return
		}
	}

	slog.Info("Uploading match sets", "topic", topic, "division", div, "match_sets", len(sets))

	// The single item always reports inline so a rejection keeps its messages.
	results, runErr := a.run(ctx, dispatch.Context{
		Division:       div,
		Service:        "financial",
		Resource:       topic,
		Operation:      dispatch.OpPost,
		ContinueOnFail: true,
	}, []dispatch.Item{{Reconciliation: &dispatch.ReconciliationInput{MatchSets: sets}}})
	if runErr == nil && len(results) > 0 && results[0].Err != nil {
		runErr = results[0].Err
	}

	a.recordUpload(ctx, div, hash, len(sets), results, runErr)
	a.finish(results, runErr)
}

// recordUpload stores the upload outcome. Uploads that never got a
// reconciliation response are not recorded.
func (a *app) recordUpload(ctx context.Context, div, hash string, submitted int, results []dispatch.Result, runErr error) {
	if a.history == nil || len(results) == 0 {
		return
	}
	if runErr != nil && !dispatch.IsRejection(runErr) {
		return
	}

	msgs := results[0].Messages
	response, err := json.Marshal(msgs)
	if err != nil {
		slog.Warn("Failed to encode upload response", "error", err)
	}

	accepted := runErr == nil
	rec := db.UploadRecord{
		RunID:         a.runID,
		Division:      div,
		Topic:         topic,
		PayloadHash:   hash,
		MatchSets:     submitted,
		Acknowledged:  len(msgs) - len(msgs.Errors()),
		ErrorMessages: len(msgs.Errors()),
		Accepted:      accepted,
		Response:      string(response),
	}
	if err := a.history.RecordUpload(ctx, rec); err != nil {
		slog.Warn("Failed to record upload", "error", err)
	}
}
