package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hisab-network/hisab/internal/notify"
	"github.com/hisab-network/hisab/internal/settle"
)

func init() {
	rootCmd.AddCommand(settleCmd)
	rootCmd.AddCommand(unsettleCmd)
	rootCmd.AddCommand(settlementsCmd)
}

// ─── hisab settle ───────────────────────────────────────────────────────────

var settleCmd = &cobra.Command{
	Use:   "settle PARTY...",
	Short: "Run Monday Final settlement for one or more parties",
	Long: `Freeze each party's open entries at their current balance and write
a settlement marker. Parties with no open entries are skipped; settling
an already settled party is a no-op.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSettle,
}

func runSettle(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	manager := settle.NewManager(newClient(cfg), notify.LogNotifier{})

	res, err := manager.Settle(cmd.Context(), args)
	if err != nil {
		return err
	}
	for _, d := range res.SettlementDetails {
		if d.FrozenCount == 0 {
			fmt.Fprintf(os.Stdout, "%s: nothing to settle\n", d.PartyName)
			continue
		}
		fmt.Fprintf(os.Stdout, "%s: settled %d entries at balance %.2f (settlement %s)\n",
			d.PartyName, d.FrozenCount, d.FrozenBalance, shortID(d.SettlementID))
	}
	fmt.Fprintf(os.Stdout, "Total entries settled: %d\n", res.UpdatedCount)
	return nil
}

// ─── hisab unsettle ─────────────────────────────────────────────────────────

var unsettleCmd = &cobra.Command{
	Use:   "unsettle SETTLEMENT_ID",
	Short: "Reverse a Monday Final settlement",
	Long: `Delete one settlement record, remove its marker entry and reopen
exactly the entries that settlement froze. Entries frozen by other
settlements are untouched.`,
	Args: cobra.ExactArgs(1),
	RunE: runUnsettle,
}

func runUnsettle(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	manager := settle.NewManager(newClient(cfg), notify.LogNotifier{})

	res, err := manager.Unsettle(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "Reopened %d entries\n", res.UnsettledCount)
	return nil
}

// ─── hisab settlements ──────────────────────────────────────────────────────

var settlementsCmd = &cobra.Command{
	Use:   "settlements [PARTY]",
	Short: "List settlement records",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runSettlements,
}

func runSettlements(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store := newClient(cfg)

	party := ""
	if len(args) == 1 {
		party = args[0]
	}
	records, err := store.ListSettlements(cmd.Context(), party)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPARTY\tDATE\tENTRIES\tBALANCE")
	for _, rec := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%.2f\n",
			rec.ID, rec.PartyName, rec.Date.Format("2006-01-02"), len(rec.FrozenIDs), rec.FrozenBalance)
	}
	return w.Flush()
}
