package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ashita-ai/mensetsu/internal/flow"
	"github.com/ashita-ai/mensetsu/internal/interview"
	"github.com/ashita-ai/mensetsu/internal/keylock"
	"github.com/ashita-ai/mensetsu/internal/service/rounds"
	"github.com/ashita-ai/mensetsu/internal/session"
	"github.com/ashita-ai/mensetsu/internal/statestore"
)

func flowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "flow",
		Short: "Inspect or reset a candidate's round progress",
	}

	status := &cobra.Command{
		Use:   "status CANDIDATE_ID",
		Short: "Print the status of every round",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withFlowService(cmd, func(svc *rounds.Service) (interview.FlowState, error) {
				return svc.FlowStatus(cmd.Context(), args[0])
			})
		},
	}

	reset := &cobra.Command{
		Use:   "reset CANDIDATE_ID",
		Short: "Discard all round progress for a candidate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withFlowService(cmd, func(svc *rounds.Service) (interview.FlowState, error) {
				return svc.ResetFlow(cmd.Context(), args[0])
			})
		},
	}

	cmd.AddCommand(status, reset)
	return cmd
}

// withFlowService runs fn against a rounds.Service built directly over the
// durable tier. Only flow operations are safe on it; it has no generator.
func withFlowService(cmd *cobra.Command, fn func(*rounds.Service) (interview.FlowState, error)) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	policies, err := interview.LoadPolicies(cfg.PolicyFile)
	if err != nil {
		return err
	}
	st, err := openStore(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer st.close()

	local := statestore.NewLocalCache(16, cfg.RoundTTL)
	defer local.Close()
	sessions := session.New(statestore.New(st.states, local, logger), policies, cfg.RoundTTL, cfg.FlowTTL)
	locker := keylock.NewChain(keylock.NewLocal(), st.locker, cfg.LockTimeout, logger)
	svc := rounds.New(rounds.Deps{
		Policies: policies,
		Sessions: sessions,
		Gate:     flow.New(sessions, locker, logger),
		Locker:   locker,
		Logger:   logger,
	})

	f, err := fn(svc)
	if err != nil {
		return err
	}
	return printFlow(cmd, f)
}

func printFlow(cmd *cobra.Command, f interview.FlowState) error {
	out := make([]map[string]string, 0, len(interview.Order))
	for _, r := range interview.Order {
		out = append(out, map[string]string{"round": string(r), "status": string(f.Status(r))})
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("print flow: %w", err)
	}
	return nil
}
