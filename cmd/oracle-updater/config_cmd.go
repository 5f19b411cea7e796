package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/celer-network/oracle-updater/types"
	"github.com/spf13/cobra"
)

func newConfigCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the resolved plan of a worker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, dropped, err := loadConfig(opts)
			if err != nil {
				return err
			}
			return printPlan(cmd.OutOrStdout(), cfg, dropped)
		},
	}
}

func gasLimitString(p types.GasLimitPolicy) string {
	switch p := p.(type) {
	case types.FixedGasLimit:
		return fmt.Sprintf("fixed %d", p.Limit)
	case types.EstimatedGasLimit:
		return fmt.Sprintf("estimate x %s", p.Multiplier)
	}
	return "unset"
}

func feeString(f types.FeeOverride) string {
	if fixed, ok := f.(types.FixedFee); ok {
		return fixed.Amount.String() + " wei"
	}
	return "queried"
}

// printPlan writes what the worker will do: endpoint order, gas tier and the
// cadence and delay of every batch.
func printPlan(out io.Writer, cfg *types.Config, dropped []string) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "worker\t%d\n", cfg.Worker.Index)
	for i, e := range cfg.Endpoints {
		fmt.Fprintf(w, "endpoint %d\t%s\t%s\n", i+1, e.Name, e.Mode)
	}
	for _, name := range dropped {
		fmt.Fprintf(w, "dropped\t%s\n", name)
	}
	fmt.Fprintf(w, "on-chain cache ttl\t%s\n", cfg.OnChainCacheTTL)

	for _, chain := range cfg.Chains {
		tx := chain.TxConfig
		fmt.Fprintf(w, "\nchain\t%s (%s)\n", chain.Name, chain.ChainID)
		fmt.Fprintf(w, "tx type\t%d\n", tx.TxType)
		fmt.Fprintf(w, "gas price multiplier\t%s\n", tx.GasPriceMultiplier)
		fmt.Fprintf(w, "gas limit\t%s\n", gasLimitString(tx.GasLimit))
		fmt.Fprintf(w, "confirmations\t%d within %s\n", tx.RequiredConfirmations, tx.ConfirmationTimeout)
		fmt.Fprintf(w, "transaction timeout\t%s\n", tx.TransactionTimeout)
		for _, b := range chain.Batches {
			fmt.Fprintf(w, "batch\t%s\tpolling %s\twrite delay %s\tcustomer %s\n",
				b.ID, b.PollingInterval, b.WriteDelay, b.CustomerID)
			for _, f := range b.Feeds {
				fmt.Fprintf(w, "  feed\t%s\t%s\theartbeat %s\tthreshold %d bips\tfee %s\n",
					f.Description, f.ID.Hex(), f.Heartbeat, f.UpdateThresholdBips, feeString(f.UpdateFee))
			}
		}
	}
	return w.Flush()
}
