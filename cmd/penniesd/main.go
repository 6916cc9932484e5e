// Command penniesd runs the peer-to-peer networking core standalone,
// wiring parsed flags into a NetworkCore and keeping it alive until
// interrupted. Follows the teacher's cobra root-command entrypoint
// style.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Rozu/Pennies/internal/chainiface"
	"github.com/Rozu/Pennies/internal/config"
	"github.com/Rozu/Pennies/internal/netcore"
)

func main() {
	log := logrus.NewEntry(logrus.StandardLogger())
	root := rootCmd(log)
	if err := root.Execute(); err != nil {
		log.WithError(err).Fatal("penniesd exited with error")
	}
}

func rootCmd(log *logrus.Entry) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "penniesd",
		Short: "run the peer-to-peer networking core",
	}
	cfg := config.RegisterFlags(cmd.Flags())
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return run(cfg, log)
	}
	return cmd
}

func run(cfg *config.Config, log *logrus.Entry) error {
	if err := cfg.Finalize(); err != nil {
		return err
	}

	core, err := netcore.New(*cfg, noopChain{}, nil, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := core.Start(ctx); err != nil {
		return err
	}
	log.WithField("port", cfg.Port).Info("penniesd listening")

	<-ctx.Done()
	log.Info("shutting down")
	core.Stop()
	return nil
}

// noopChain stands in for the chain collaborator (spec.md §1 scopes
// consensus/storage out of this module); a real binary wires its own
// chainiface.Chain implementation in here.
type noopChain struct{}

func (noopChain) IsInitialBlockDownload() bool                 { return false }
func (noopChain) BestBlock() chainiface.BestBlock              { return chainiface.BestBlock{} }
func (noopChain) HasBlock(h chainhash.Hash) bool                { return false }
func (noopChain) HasOrphan(h chainhash.Hash) bool               { return false }
func (noopChain) SetBestChain(h chainhash.Hash) error           { return nil }
func (noopChain) AcceptOrphan(h chainhash.Hash) error           { return nil }
func (noopChain) HardenedSyncPoints() map[int32]chainhash.Hash  { return nil }
