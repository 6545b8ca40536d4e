package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/Avertenandor/sigmatradebot/internal/config"
	"github.com/Avertenandor/sigmatradebot/internal/gateway"
	"github.com/Avertenandor/sigmatradebot/internal/logic/reconcile"
	"github.com/Avertenandor/sigmatradebot/internal/logic/referral"
	"github.com/Avertenandor/sigmatradebot/internal/logic/retry"
	"github.com/Avertenandor/sigmatradebot/internal/store"
	"github.com/Avertenandor/sigmatradebot/internal/types"
	"github.com/Avertenandor/sigmatradebot/internal/worker"
	"github.com/Avertenandor/sigmatradebot/pkg/log"
)

// Root builds the command tree. Config and the database handle are
// opened once in the persistent pre-run and passed to subcommands
// through the command context.
func Root() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "sigmatradebot",
		Short: "deposit reconciliation and referral reward core",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			log.ResetDefault(log.New(&log.Options{
				Level:  cfg.LogLevel,
				Format: cfg.LogFormat,
			}))

			db, err := store.Open(cfg)
			if err != nil {
				return err
			}
			if err := store.Migrate(db); err != nil {
				return err
			}

			ctx := cmd.Context()
			ctx = context.WithValue(ctx, types.ConfigContextKey, cfg)
			ctx = context.WithValue(ctx, types.DBContextKey, db)
			cmd.SetContext(ctx)
			return nil
		},
	}
	rootCmd.AddCommand(
		startCmd(),
		statsCmd(),
		requeueCmd(),
	)
	return rootCmd
}

func startCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "run the reconciliation worker",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, db, err := fromCmd(cmd)
			if err != nil {
				return err
			}
			logger := log.New(&log.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})

			var messenger *gateway.TelegramMessenger
			if cfg.BotToken != "" {
				messenger, err = gateway.NewTelegramMessenger(cfg.BotToken)
				if err != nil {
					return err
				}
			}
			alerter := gateway.NewAdminAlerter(messenger, cfg.AdminChatID, logger)
			chain := gateway.NewWalletGateway(cfg.WalletGatewayURL, cfg.WalletGatewayKey)

			notifs := retry.NewNotificationRetrier(db, messengerOrNop(messenger), alerter, logger)
			rewards := referral.NewPropagator(db, cfg.ReferralRates(), notifs, logger)
			payments := retry.NewPaymentRetrier(db, chain, rewards, alerter, logger)
			reconciler := reconcile.NewReconciler(db, rewards, notifs, logger)

			w := worker.New(cfg, reconciler, payments, notifs, logger)
			w.Start()
			log.Infow("service started")

			code := WaitForQuitSignals()
			w.Stop()
			log.Infow("service stopped", "quit code", code)
			return nil
		},
	}
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "print retry queue statistics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, db, err := fromCmd(cmd)
			if err != nil {
				return err
			}
			notifs := retry.NewNotificationRetrier(db, nopMessenger{}, nil, nil)
			stats, err := notifs.Statistics(cmd.Context())
			if err != nil {
				return err
			}
			cmd.Printf("notifications: total=%d unresolved=%d givenUp=%d critical=%d\n",
				stats.Total, stats.Unresolved, stats.GivenUp, stats.Critical)
			for typ, count := range stats.ByType {
				cmd.Printf("  %s: %d\n", typ, count)
			}

			payments := retry.NewPaymentRetrier(db, nil, nil, nil, nil)
			dlq, err := payments.DeadLettered(cmd.Context())
			if err != nil {
				return err
			}
			cmd.Printf("payment DLQ: %d item(s)\n", len(dlq))
			for _, item := range dlq {
				cmd.Printf("  retry=%d payment=%d attempts=%d lastError=%s\n",
					item.ID, item.PaymentID, item.AttemptCount, item.LastError)
			}
			return nil
		},
	}
}

func requeueCmd() *cobra.Command {
	var retryID uint
	cmd := &cobra.Command{
		Use:   "requeue",
		Short: "put a dead-lettered payment back into the retry queue",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if retryID == 0 {
				return fmt.Errorf("--id is required")
			}
			_, db, err := fromCmd(cmd)
			if err != nil {
				return err
			}
			payments := retry.NewPaymentRetrier(db, nil, nil, nil, nil)
			if err := payments.AdminRequeue(cmd.Context(), retryID); err != nil {
				return err
			}
			cmd.Printf("retry item %d requeued\n", retryID)
			return nil
		},
	}
	cmd.Flags().UintVar(&retryID, "id", 0, "payment retry item id")
	return cmd
}

func fromCmd(cmd *cobra.Command) (*config.Config, *gorm.DB, error) {
	cfg, ok := cmd.Context().Value(types.ConfigContextKey).(*config.Config)
	if !ok {
		return nil, nil, fmt.Errorf("config context not set")
	}
	db, ok := cmd.Context().Value(types.DBContextKey).(*gorm.DB)
	if !ok {
		return nil, nil, fmt.Errorf("db context not set")
	}
	return cfg, db, nil
}

func messengerOrNop(m *gateway.TelegramMessenger) types.Messenger {
	if m == nil {
		return nopMessenger{}
	}
	return m
}

// nopMessenger drops messages; used when no bot token is configured and
// by admin subcommands that never send.
type nopMessenger struct{}

func (nopMessenger) SendMessage(context.Context, int64, string) error { return nil }

func WaitForQuitSignals() int {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGINT, syscall.SIGHUP)
	sig := <-sigs
	return int(sig.(syscall.Signal)) + 128
}
