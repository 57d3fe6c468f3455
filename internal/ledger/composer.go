package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/hisab-network/hisab/internal/domain"
)

// ─── Transaction Composer ───────────────────────────────────────────────────

// CommissionKeyword in the counter-party field asks for a commission
// posting instead of a transfer. Matched after normalization; the literal
// text the user typed stays cosmetic.
const CommissionKeyword = "commission"

// Intent is one user-entered transaction: "Owner pays/receives Amount
// involving CounterParty". A positive amount credits the owner, a
// negative amount debits them.
type Intent struct {
	Owner        string
	CounterParty string // party name, commission keyword, or free text
	Amount       float64
	Remarks      string
	Date         time.Time // zero value means today
}

// Composer expands intents into transaction groups. It reads parties and
// ledgers through the store but never writes; posting is a separate step
// so callers control optimistic display and partial-failure handling.
type Composer struct {
	store   domain.Store
	company string // configured company party name, "" disables company postings

	now    func() time.Time
	newTag func() string
}

// NewComposer creates a composer. company may be empty.
func NewComposer(store domain.Store, company string) *Composer {
	return &Composer{
		store:   store,
		company: company,
		now:     time.Now,
		newTag:  uuid.NewString,
	}
}

// Compose expands one intent into its 1–4 postings. All entries share a
// freshly generated group tag and the intent's calendar day.
//
// Rules, in order: validate; commission keyword beats party match; a
// known counter-party with empty remarks produces the opposite leg; free
// text stays on the primary entry alone; a configured company party adds
// a company posting to transfers that do not already involve it.
func (c *Composer) Compose(ctx context.Context, in Intent) (*domain.TransactionGroup, error) {
	owner := in.Owner
	if owner == "" {
		return nil, domain.ErrMissingParty
	}
	if in.Amount == 0 || math.IsNaN(in.Amount) || math.IsInf(in.Amount, 0) {
		return nil, domain.ErrInvalidAmount
	}
	counter := domain.NormalizeName(in.CounterParty)
	if counter == "" && in.Remarks == "" {
		return nil, domain.ErrMissingCounterText
	}
	if counter != "" && counter == domain.NormalizeName(owner) {
		return nil, domain.ErrSelfTransaction
	}

	ownerParty, err := c.store.GetParty(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("resolve owner: %w", err)
	}
	if !ownerParty.Active() {
		return nil, fmt.Errorf("%s: %w", ownerParty.Name, domain.ErrPartyInactive)
	}

	day := domain.Day(in.Date)
	if in.Date.IsZero() {
		day = domain.Day(c.now())
	}
	group := &domain.TransactionGroup{GroupTag: c.newTag()}

	if counter == CommissionKeyword {
		entry, err := c.commissionEntry(ctx, ownerParty, group.GroupTag, day)
		if err != nil {
			return nil, err
		}
		group.Entries = append(group.Entries, *entry)
		return group, nil
	}

	side := domain.TxnCredit
	if in.Amount < 0 {
		side = domain.TxnDebit
	}
	magnitude := math.Abs(in.Amount)

	primary := domain.LedgerEntry{
		GroupTag:  group.GroupTag,
		PartyName: ownerParty.Name,
		Date:      day,
		Txn:       side,
		Kind:      domain.KindTransfer,
	}
	setAmount(&primary, side, magnitude)

	counterParty, counterErr := c.lookupCounter(ctx, counter)

	switch {
	case counterParty != nil && in.Remarks == "":
		// Party-to-party: opposite leg, each side's remarks name the other.
		primary.Remarks = counterParty.Name
		leg := domain.LedgerEntry{
			GroupTag:  group.GroupTag,
			PartyName: counterParty.Name,
			Date:      day,
			Remarks:   ownerParty.Name,
			Txn:       side.Opposite(),
			Kind:      domain.KindTransfer,
		}
		setAmount(&leg, side.Opposite(), magnitude)
		group.Entries = append(group.Entries, primary, leg)

	case counterParty != nil:
		// Known party plus user remarks: single entry, parenthesized.
		primary.Remarks = fmt.Sprintf("%s(%s)", counterParty.Name, in.Remarks)
		group.Entries = append(group.Entries, primary)

	default:
		if counterErr != nil {
			return nil, counterErr
		}
		primary.Remarks = freeTextRemarks(in)
		group.Entries = append(group.Entries, primary)
	}

	if company := c.companyEntry(ownerParty, counterParty, &primary, group.GroupTag, day); company != nil {
		group.Entries = append(group.Entries, *company)
	}
	return group, nil
}

// lookupCounter resolves the counter field against known parties.
// Not-found is not an error here — it means the field is free text.
func (c *Composer) lookupCounter(ctx context.Context, normalized string) (*domain.Party, error) {
	if normalized == "" {
		return nil, nil
	}
	p, err := c.store.GetParty(ctx, normalized)
	if errors.Is(err, domain.ErrPartyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve counter-party: %w", err)
	}
	return p, nil
}

// commissionEntry builds a commission posting for the owner, based on
// their most recent non-commission, non-settlement entry.
func (c *Composer) commissionEntry(ctx context.Context, owner *domain.Party, tag string, day time.Time) (*domain.LedgerEntry, error) {
	entries, err := c.store.GetPartyLedger(ctx, owner.Name)
	if err != nil {
		return nil, fmt.Errorf("load ledger for commission base: %w", err)
	}
	SortEntries(entries)

	var ref *domain.LedgerEntry
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if e.Kind == domain.KindCommission || e.Txn == domain.TxnSettlementMarker {
			continue
		}
		ref = &entries[i]
		break
	}
	if ref == nil {
		return nil, domain.ErrNoCommissionBase
	}

	amount := CommissionAmount(owner, math.Abs(ref.Amount()))
	side := CommissionSide(owner, ref.Txn)
	entry := &domain.LedgerEntry{
		GroupTag:  tag,
		PartyName: owner.Name,
		Date:      day,
		Remarks:   "Commission",
		Txn:       side,
		Kind:      domain.KindCommission,
	}
	setAmount(entry, side, amount)
	return entry, nil
}

// companyEntry builds the company posting, or nil when the transaction
// does not warrant one.
func (c *Composer) companyEntry(owner, counter *domain.Party, primary *domain.LedgerEntry, tag string, day time.Time) *domain.LedgerEntry {
	if c.company == "" || primary.Kind != domain.KindTransfer {
		return nil
	}
	company := domain.NormalizeName(c.company)
	if company == domain.NormalizeName(owner.Name) {
		return nil
	}
	if counter != nil && company == domain.NormalizeName(counter.Name) {
		return nil
	}

	pair := owner.Name
	if counter != nil {
		pair = owner.Name + "/" + counter.Name
	}
	entry := &domain.LedgerEntry{
		GroupTag:  tag,
		PartyName: c.company,
		Date:      day,
		Remarks:   pair,
		Txn:       primary.Txn,
		Kind:      domain.KindCompanyPosting,
	}
	magnitude := primary.Credit
	if primary.Txn == domain.TxnDebit {
		magnitude = primary.Debit
	}
	setAmount(entry, primary.Txn, magnitude)
	return entry
}

func setAmount(e *domain.LedgerEntry, side domain.TxnType, magnitude float64) {
	if side == domain.TxnCredit {
		e.Credit = magnitude
		e.Debit = 0
	} else {
		e.Debit = magnitude
		e.Credit = 0
	}
}

func freeTextRemarks(in Intent) string {
	switch {
	case in.CounterParty != "" && in.Remarks != "":
		return fmt.Sprintf("%s(%s)", in.CounterParty, in.Remarks)
	case in.CounterParty != "":
		return in.CounterParty
	case in.Remarks != "":
		return in.Remarks
	}
	return "Transaction"
}

// ─── Posting ────────────────────────────────────────────────────────────────

// PostingFailure reports one secondary posting that could not be written.
type PostingFailure struct {
	Entry domain.LedgerEntry
	Err   error
}

// PostResult is the outcome of writing a composed group to the store.
type PostResult struct {
	Posted   []domain.LedgerEntry
	Failures []PostingFailure
}

// Post writes a composed group to the store, primary entry first. If the
// primary write fails nothing else is attempted. Once the primary has
// succeeded it is economically real and is never rolled back or retried:
// secondary failures are collected and reported per posting instead.
func (c *Composer) Post(ctx context.Context, group *domain.TransactionGroup) (*PostResult, error) {
	if group == nil || len(group.Entries) == 0 {
		return nil, domain.ErrInvalidAmount
	}

	res := &PostResult{}
	primary := group.Entries[0]
	created, err := c.store.CreateEntry(ctx, &primary)
	if err != nil {
		return nil, fmt.Errorf("post primary entry: %w", err)
	}
	res.Posted = append(res.Posted, *created)

	for _, secondary := range group.Entries[1:] {
		created, err := c.store.CreateEntry(ctx, &secondary)
		if err != nil {
			res.Failures = append(res.Failures, PostingFailure{Entry: secondary, Err: err})
			continue
		}
		res.Posted = append(res.Posted, *created)
	}
	return res, nil
}
