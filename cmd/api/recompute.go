package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"signoff-backend/internal/adapter/repository/gormrepo"
	"signoff-backend/internal/domain/event"
	"signoff-backend/internal/infrastructure/cache"
	"signoff-backend/internal/infrastructure/pubsub"
	approvalUC "signoff-backend/internal/usecase/approval"
	"signoff-backend/pkg/id"
	"signoff-backend/pkg/retry"
)

func newRecomputeCommand(opts *rootOptions) *cobra.Command {
	var apply bool

	cmd := &cobra.Command{
		Use:   "recompute <submission_id>",
		Short: "Re-derive a submission's status from its approval ledger",
		Long: `Re-derive a submission's status from its approval ledger and report drift.

With --apply a drifted non-terminal status is corrected and the change is
published to running instances (when Redis is enabled).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sid := args[0]
			if !id.Valid(sid) {
				return fmt.Errorf("invalid submission id %q", sid)
			}
			cfg, log := opts.cfg, opts.log

			gdb, closeDB, err := openDatabase(cfg)
			if err != nil {
				return err
			}
			defer closeDB()

			var pub event.Publisher
			if apply && cfg.RedisEnabled {
				rdb, err := cache.OpenRedis(cmd.Context(), cache.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
				if err != nil {
					return err
				}
				defer rdb.Close()
				pub = pubsub.NewRedisPublisher(rdb, cfg.RedisPrefix, id.New(), cfg.RetryMaxElapsed, log)
			}

			engine := approvalUC.NewUsecase(
				gormrepo.NewSubmissionRepository(gdb),
				gormrepo.NewApprovalRepository(gdb),
				gormrepo.NewGormUoW(gdb),
				pub,
				approvalUC.Options{
					Retry:  retry.Policy{MaxElapsed: cfg.RetryMaxElapsed, AttemptTimeout: cfg.StoreTimeout, Transient: gormrepo.IsTransient, Log: log},
					Logger: log,
				},
			)
			res, err := engine.Recompute(cmd.Context(), sid, apply)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}

	cmd.Flags().BoolVar(&apply, "apply", false, "persist the derived status when it drifted")
	return cmd
}
