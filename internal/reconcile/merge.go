package reconcile

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/eddiefleurent/ssov_engine/internal/models"
	"github.com/ethereum/go-ethereum/common"
)

// Merge combines ledger purchases with live balances into one position per
// series. Records outside vaults or with an invalid side are rejected and
// described in the returned warnings. The result is unsorted and carries no
// epoch metadata yet.
func Merge(vaults []common.Address, buys []models.BuyPositionRecord, balances []models.OptionTokenBalanceRecord) ([]models.ActivePosition, []string) {
	allowed := vaultSet(vaults)
	var warnings []string

	// Live balances indexed by series. The first record of a series wins.
	index := make(map[models.PositionKey]int, len(balances))
	live := make([]models.OptionTokenBalanceRecord, 0, len(balances))
	for _, b := range balances {
		if reason := rejectRecord(allowed, b.Vault, b.Side); reason != "" {
			warnings = append(warnings, fmt.Sprintf("balance %s rejected: %s", b.Key(), reason))
			continue
		}
		if _, dup := index[b.Key()]; dup {
			warnings = append(warnings, fmt.Sprintf("duplicate balance record for %s ignored", b.Key()))
			continue
		}
		index[b.Key()] = len(live)
		live = append(live, b)
	}

	// Repeated purchases of the same series become one ledger entry.
	var order []models.PositionKey
	purchased := make(map[models.PositionKey]models.BuyPositionRecord, len(buys))
	for _, r := range buys {
		if reason := rejectRecord(allowed, r.Vault, r.Side); reason != "" {
			warnings = append(warnings, fmt.Sprintf("buy %s rejected: %s", r.Key(), reason))
			continue
		}
		k := r.Key()
		agg, seen := purchased[k]
		if !seen {
			order = append(order, k)
			purchased[k] = r
			continue
		}
		agg.Amount = agg.Amount.Add(r.Amount)
		agg.Premium = agg.Premium.Add(r.Premium)
		agg.Fee = agg.Fee.Add(r.Fee)
		purchased[k] = agg
	}

	consumed := make([]bool, len(live))
	out := make([]models.ActivePosition, 0, len(live))
	for _, k := range order {
		i, ok := index[k]
		if !ok || live[i].Balance.Sign() <= 0 {
			// closed or transferred away
			continue
		}
		consumed[i] = true
		buy := purchased[k]
		out = append(out, models.ActivePosition{
			Vault:       live[i].Vault,
			Epoch:       live[i].Epoch,
			Strike:      live[i].Strike,
			Side:        live[i].Side,
			OptionToken: live[i].OptionToken,
			Balance:     live[i].Balance,
			Premium:     buy.Premium,
			Fee:         buy.Fee,
			Origin:      models.OriginMerged,
			Status:      models.StatusActive,
		})
	}

	for i, b := range live {
		if consumed[i] || b.Balance.Sign() <= 0 {
			continue
		}
		out = append(out, models.ActivePosition{
			Vault:       b.Vault,
			Epoch:       b.Epoch,
			Strike:      b.Strike,
			Side:        b.Side,
			OptionToken: b.OptionToken,
			Balance:     b.Balance,
			Origin:      models.OriginBalanceOnly,
			Status:      models.StatusActive,
		})
	}

	return out, warnings
}

// MergeWrites converts ledger write records into write positions, dropping
// withdrawn (zero collateral) and rejected records.
func MergeWrites(vaults []common.Address, writes []models.WriteLedgerRecord) ([]models.WritePositionRecord, []string) {
	allowed := vaultSet(vaults)
	var warnings []string
	seen := make(map[string]bool, len(writes))
	out := make([]models.WritePositionRecord, 0, len(writes))
	for _, r := range writes {
		if reason := rejectRecord(allowed, r.Vault, r.Side); reason != "" {
			warnings = append(warnings, fmt.Sprintf("write %s rejected: %s", r.PositionID, reason))
			continue
		}
		if r.Collateral.Sign() <= 0 {
			continue
		}
		id := r.Vault.Hex() + "/" + r.PositionID
		if seen[id] {
			warnings = append(warnings, fmt.Sprintf("duplicate write position %s ignored", r.PositionID))
			continue
		}
		seen[id] = true
		out = append(out, models.NewWritePosition(r))
	}
	return out, warnings
}

func vaultSet(vaults []common.Address) map[common.Address]bool {
	set := make(map[common.Address]bool, len(vaults))
	for _, v := range vaults {
		set[v] = true
	}
	return set
}

func rejectRecord(allowed map[common.Address]bool, vault common.Address, side models.OptionSide) string {
	if !allowed[vault] {
		return "vault not in market"
	}
	if !side.Valid() {
		return fmt.Sprintf("invalid side %q", side)
	}
	return ""
}

// SortPositions orders positions by expiry, furthest first. Ties fall back to
// vault, epoch, strike and side so the order is fully deterministic.
func SortPositions(ps []models.ActivePosition) {
	sort.SliceStable(ps, func(i, j int) bool { return positionLess(ps[i], ps[j]) })
}

// SortWrites orders write positions like SortPositions, then by position id.
func SortWrites(ws []models.WritePositionRecord) {
	sort.SliceStable(ws, func(i, j int) bool {
		a, b := ws[i].ActivePosition, ws[j].ActivePosition
		if positionLess(a, b) {
			return true
		}
		if positionLess(b, a) {
			return false
		}
		return ws[i].PositionID < ws[j].PositionID
	})
}

func positionLess(a, b models.ActivePosition) bool {
	if !a.Expiry.Equal(b.Expiry) {
		return a.Expiry.After(b.Expiry)
	}
	if c := bytes.Compare(a.Vault.Bytes(), b.Vault.Bytes()); c != 0 {
		return c < 0
	}
	if a.Epoch != b.Epoch {
		return a.Epoch < b.Epoch
	}
	if c := a.Strike.Decimal().Cmp(b.Strike.Decimal()); c != 0 {
		return c < 0
	}
	return a.Side < b.Side
}
