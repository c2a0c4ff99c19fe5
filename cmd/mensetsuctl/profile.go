package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ashita-ai/mensetsu/internal/auth"
)

func profileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Manage candidate profiles",
	}

	importCmd := &cobra.Command{
		Use:   "import CANDIDATE_ID FILE",
		Short: "Store a parsed resume (JSON document) for a candidate; FILE may be - for stdin",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			candidateID, path := args[0], args[1]
			if err := auth.ValidateCandidateID(candidateID); err != nil {
				return err
			}
			doc, err := readDocument(cmd.InOrStdin(), path)
			if err != nil {
				return err
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			st, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer st.close()

			if err := st.profiles.UpsertProfile(cmd.Context(), candidateID, doc); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stored profile for %s (%d bytes)\n", candidateID, len(doc))
			return nil
		},
	}

	cmd.AddCommand(importCmd)
	return cmd
}

func readDocument(stdin io.Reader, path string) (json.RawMessage, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path) //nolint:gosec // operator-supplied path
	}
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("profile must be a JSON object: %w", err)
	}
	return json.RawMessage(data), nil
}
