package cli

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hisab-network/hisab/internal/client"
	"github.com/hisab-network/hisab/internal/domain"
	"github.com/hisab-network/hisab/internal/ledger"
	"github.com/hisab-network/hisab/internal/notify"
)

func init() {
	rootCmd.AddCommand(payCmd)
	rootCmd.AddCommand(ledgerCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(editCmd)

	payCmd.Flags().StringP("remarks", "r", "", "Free-text remarks for the entry")

	editCmd.Flags().StringP("remarks", "r", "", "New remarks")
	editCmd.Flags().Float64("credit", 0, "New credit amount")
	editCmd.Flags().Float64("debit", 0, "New debit amount")
}

// ─── hisab pay ──────────────────────────────────────────────────────────────

var payCmd = &cobra.Command{
	Use:   "pay OWNER AMOUNT [COUNTERPARTY]",
	Short: "Record a transaction for a party",
	Long: `Record one transaction. A positive amount credits OWNER, a negative
amount debits them. COUNTERPARTY may be a known party (creating the
opposite leg), the word "commission", or free text.`,
	Args: cobra.RangeArgs(2, 3),
	RunE: runPay,
}

func runPay(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	amount, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return fmt.Errorf("amount %q: %w", args[1], domain.ErrInvalidAmount)
	}
	counter := ""
	if len(args) == 3 {
		counter = args[2]
	}
	remarks, _ := cmd.Flags().GetString("remarks")

	store := newClient(cfg)
	composer := ledger.NewComposer(store, cfg.Ledger.CompanyParty)
	view := client.NewLedgerView(store, notify.LogNotifier{})

	group, err := composer.Compose(cmd.Context(), ledger.Intent{
		Owner:        args[0],
		CounterParty: counter,
		Amount:       amount,
		Remarks:      remarks,
	})
	if err != nil {
		return err
	}

	res, err := view.SubmitGroup(cmd.Context(), composer, group)
	if err != nil {
		return err
	}

	for _, e := range res.Posted {
		fmt.Fprintf(os.Stdout, "%s  %-12s %-7s %10.2f  %s\n",
			e.Date.Format("2006-01-02"), e.PartyName, e.Txn, e.Credit+e.Debit, e.Remarks)
	}
	for _, f := range res.Failures {
		fmt.Fprintf(os.Stdout, "FAILED  %-12s %v\n", f.Entry.PartyName, f.Err)
	}
	return nil
}

// ─── hisab ledger ───────────────────────────────────────────────────────────

var ledgerCmd = &cobra.Command{
	Use:   "ledger PARTY",
	Short: "Show a party's ledger with running balances",
	Args:  cobra.ExactArgs(1),
	RunE:  runLedger,
}

func runLedger(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store := newClient(cfg)
	view := client.NewLedgerView(store, notify.LogNotifier{})

	if err := view.Refresh(cmd.Context(), args[0]); err != nil {
		return err
	}
	entries, summary := view.Entries(args[0])

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "DATE\tID\tREMARKS\tCREDIT\tDEBIT\tBALANCE\tSTATE")
	for _, e := range entries {
		state := "open"
		if e.Settled {
			state = "settled"
		}
		if e.Txn == domain.TxnSettlementMarker {
			state = "marker"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\t%.2f\t%.2f\t%s\n",
			e.Date.Format("2006-01-02"), shortID(e.ID), e.Remarks, e.Credit, e.Debit, e.Balance, state)
	}
	fmt.Fprintf(w, "\t\tTOTAL\t%.2f\t%.2f\t%.2f\t\n",
		summary.TotalCredit, summary.TotalDebit, summary.ClosingBalance)
	return w.Flush()
}

// ─── hisab delete ───────────────────────────────────────────────────────────

var deleteCmd = &cobra.Command{
	Use:   "delete PARTY ENTRY_ID",
	Short: "Delete an entry (cascades to its transaction group)",
	Args:  cobra.ExactArgs(2),
	RunE:  runDelete,
}

func runDelete(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store := newClient(cfg)
	view := client.NewLedgerView(store, notify.LogNotifier{})

	if err := view.Refresh(cmd.Context(), args[0]); err != nil {
		return err
	}
	entries, _ := view.Entries(args[0])
	var target *domain.LedgerEntry
	for i := range entries {
		if entries[i].ID == args[1] {
			target = &entries[i]
			break
		}
	}
	if target == nil {
		return domain.ErrEntryNotFound
	}

	res, err := view.Delete(cmd.Context(), target)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "Deleted %d entries (%d related", res.DeletedCount, res.RelatedDeletedCount)
	if len(res.RelatedParties) > 0 {
		fmt.Fprintf(os.Stdout, ": %v", res.RelatedParties)
	}
	fmt.Fprintln(os.Stdout, ")")
	return nil
}

// ─── hisab edit ─────────────────────────────────────────────────────────────

var editCmd = &cobra.Command{
	Use:   "edit PARTY ENTRY_ID",
	Short: "Edit an open entry's remarks or amount",
	Long: `Apply a partial update to an unsettled entry. The party's current
closing balance is sent along; if the server's state has diverged the
edit is rejected and the ledger should be reloaded.`,
	Args: cobra.ExactArgs(2),
	RunE: runEdit,
}

func runEdit(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store := newClient(cfg)
	view := client.NewLedgerView(store, notify.LogNotifier{})

	if err := view.Refresh(cmd.Context(), args[0]); err != nil {
		return err
	}
	_, summary := view.Entries(args[0])

	patch := domain.EntryPatch{ExpectedBalance: &summary.ClosingBalance}
	if cmd.Flags().Changed("remarks") {
		v, _ := cmd.Flags().GetString("remarks")
		patch.Remarks = &v
	}
	if cmd.Flags().Changed("credit") {
		v, _ := cmd.Flags().GetFloat64("credit")
		patch.Credit = &v
	}
	if cmd.Flags().Changed("debit") {
		v, _ := cmd.Flags().GetFloat64("debit")
		patch.Debit = &v
	}

	updated, err := store.UpdateEntry(cmd.Context(), args[1], patch)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "%s  %-12s %-7s credit=%.2f debit=%.2f  %s\n",
		updated.Date.Format("2006-01-02"), updated.PartyName, updated.Txn,
		updated.Credit, updated.Debit, updated.Remarks)
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
