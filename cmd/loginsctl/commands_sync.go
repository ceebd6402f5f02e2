package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/vaultline/logins/internal/logins"
)

func newResetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "connect or disconnect the store's sync association",
		RunE: func(cmd *cobra.Command, args []string) error {
			opened, err := openStoreFromFlags(cmd)
			if err != nil {
				return err
			}
			defer opened.Close()

			disconnect, _ := cmd.Flags().GetBool("disconnect")
			if disconnect {
				if err := opened.store.Reset(context.Background(), logins.Disconnected); err != nil {
					return fmt.Errorf("disconnect: %w", err)
				}
				return printJSON(logins.Disconnected)
			}

			globalSyncID, _ := cmd.Flags().GetString("global-sync-id")
			collectionSyncID, _ := cmd.Flags().GetString("collection-sync-id")
			if globalSyncID == "" || collectionSyncID == "" {
				return fmt.Errorf("--global-sync-id and --collection-sync-id are required unless --disconnect is set")
			}

			token, _ := cmd.Flags().GetString("token")
			assoc, err := resolveAssociation(opened.cfg.AssociationTokenKey, globalSyncID, collectionSyncID, token)
			if err != nil {
				return err
			}

			if err := opened.store.Reset(context.Background(), assoc); err != nil {
				return fmt.Errorf("reset association: %w", err)
			}
			return printJSON(assoc)
		},
	}
	cmd.Flags().String("global-sync-id", "", "global sync id handed down by the sync manager")
	cmd.Flags().String("collection-sync-id", "", "collection sync id handed down by the sync manager")
	cmd.Flags().String("token", "", "signed association token to verify before connecting")
	cmd.Flags().Bool("disconnect", false, "reset to the disconnected association instead of connecting")
	return cmd
}

// resolveAssociation builds the Association a reset should apply. When an
// AssociationTokenKey is configured, a token is required and must verify
// against the requested id pair; with no configured key, association pairs
// are trusted as given, matching a single-device setup with no sync
// manager in front of it.
func resolveAssociation(tokenKey, globalSyncID, collectionSyncID, token string) (logins.Association, error) {
	if tokenKey == "" {
		return logins.Connect(globalSyncID, collectionSyncID), nil
	}
	if token == "" {
		return logins.Association{}, fmt.Errorf("--token is required: association-token-key is configured")
	}
	return logins.ConnectVerified(globalSyncID, collectionSyncID, token, []byte(tokenKey))
}

// batchRecord is the on-disk shape a sync batch file uses: one entry per
// incoming record, pairing its raw wire payload with the server timestamp
// the transport observed it at.
type batchRecord struct {
	Payload        json.RawMessage `json:"payload"`
	ServerModified int64           `json:"server_modified"`
}

func newSyncCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "reconcile a batch of incoming sync records and print the outgoing changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			opened, err := openStoreFromFlags(cmd)
			if err != nil {
				return err
			}
			defer opened.Close()

			batchFile, _ := cmd.Flags().GetString("batch-file")
			serverNow, _ := cmd.Flags().GetInt64("server-now")
			now, _ := cmd.Flags().GetInt64("now")
			if now == 0 {
				now = time.Now().UnixMilli()
			}

			raws, err := loadBatchFile(batchFile)
			if err != nil {
				return err
			}

			ctx := context.Background()
			triples, malformed, err := opened.store.LoadSyncBatch(ctx, raws)
			if err != nil {
				return fmt.Errorf("load sync batch: %w", err)
			}

			plan, stats, err := opened.store.Reconcile(ctx, triples, serverNow, now, logins.NeverInterrupt{})
			if err != nil {
				return fmt.Errorf("reconcile: %w", err)
			}
			if err := opened.store.ExecuteUpdatePlan(ctx, plan, logins.NeverInterrupt{}); err != nil {
				return fmt.Errorf("execute update plan: %w", err)
			}

			outgoing, err := opened.store.OutgoingChanges(ctx)
			if err != nil {
				return fmt.Errorf("load outgoing changes: %w", err)
			}

			return printJSON(map[string]any{
				"malformed_incoming": malformed,
				"stats":              stats,
				"outgoing":           outgoing,
			})
		},
	}
	cmd.Flags().String("batch-file", "", "path to a JSON array of {payload, server_modified} incoming records (required)")
	cmd.Flags().Int64("server-now", 0, "server timestamp (ms) this batch was fetched at (required)")
	cmd.Flags().Int64("now", 0, "local wall-clock timestamp (ms); defaults to the current time")
	cmd.MarkFlagRequired("batch-file")
	cmd.MarkFlagRequired("server-now")
	return cmd
}

func loadBatchFile(path string) ([]logins.RawIncoming, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read batch file: %w", err)
	}
	var records []batchRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse batch file: %w", err)
	}
	raws := make([]logins.RawIncoming, len(records))
	for i, r := range records {
		raws[i] = logins.RawIncoming{Payload: r.Payload, ServerModified: r.ServerModified}
	}
	return raws, nil
}
