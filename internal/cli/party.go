package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hisab-network/hisab/internal/domain"
)

func init() {
	rootCmd.AddCommand(partyCmd)
	partyCmd.AddCommand(partyAddCmd)
	partyCmd.AddCommand(partyShowCmd)

	partyAddCmd.Flags().Float64("commission", 0, "Commission rate in percent (enables commission for the party)")
	partyAddCmd.Flags().String("direction", "", "Commission direction: take or give")
	partyAddCmd.Flags().Float64("limit", 0, "Balance limit (0 means none)")
	partyAddCmd.Flags().Bool("inactive", false, "Create the party inactive")
	partyAddCmd.Flags().Bool("monday-final", false, "Include the party in Monday Final runs")
}

var partyCmd = &cobra.Command{
	Use:   "party",
	Short: "Manage ledger parties",
}

// ─── hisab party add ────────────────────────────────────────────────────────

var partyAddCmd = &cobra.Command{
	Use:   "add NAME",
	Short: "Create or update a party",
	Args:  cobra.ExactArgs(1),
	RunE:  runPartyAdd,
}

func runPartyAdd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	rate, _ := cmd.Flags().GetFloat64("commission")
	direction, _ := cmd.Flags().GetString("direction")
	limit, _ := cmd.Flags().GetFloat64("limit")
	inactive, _ := cmd.Flags().GetBool("inactive")
	mondayFinal, _ := cmd.Flags().GetBool("monday-final")

	p := domain.Party{
		Name:        args[0],
		Status:      domain.PartyActive,
		MondayFinal: mondayFinal,
	}
	if inactive {
		p.Status = domain.PartyInactive
	}
	if rate > 0 {
		p.CommissionMode = domain.CommissionWith
		p.CommissionRate = rate
	} else {
		p.CommissionMode = domain.CommissionNone
	}
	switch direction {
	case "":
	case "take":
		p.CommissionDirection = domain.CommissionTake
	case "give":
		p.CommissionDirection = domain.CommissionGive
	default:
		return fmt.Errorf("direction must be take or give, got %q", direction)
	}
	if limit > 0 {
		p.BalanceLimit = &limit
	}

	store := newClient(cfg)
	if err := store.UpsertParty(cmd.Context(), &p); err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "Party %q saved\n", p.Name)
	return nil
}

// ─── hisab party show ───────────────────────────────────────────────────────

var partyShowCmd = &cobra.Command{
	Use:   "show NAME",
	Short: "Show a party's configuration",
	Args:  cobra.ExactArgs(1),
	RunE:  runPartyShow,
}

func runPartyShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store := newClient(cfg)
	p, err := store.GetParty(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "Name:       %s\n", p.Name)
	fmt.Fprintf(os.Stdout, "Status:     %s\n", p.Status)
	if p.CommissionMode == domain.CommissionWith {
		fmt.Fprintf(os.Stdout, "Commission: %.2f%% %s\n", p.CommissionRate, p.CommissionDirection)
	} else {
		fmt.Fprintln(os.Stdout, "Commission: none")
	}
	if p.BalanceLimit != nil {
		fmt.Fprintf(os.Stdout, "Limit:      %.2f\n", *p.BalanceLimit)
	}
	fmt.Fprintf(os.Stdout, "Monday Final: %v\n", p.MondayFinal)
	return nil
}
