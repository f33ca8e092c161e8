// Package report exports account history as CSV.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"time"

	"tradesim/internal/domain"
)

// Header is the first CSV row.
var Header = []string{
	"account",
	"type",
	"actor_or_side",
	"pair_or_currency",
	"quantity",
	"price_or_amount",
	"value",
	"timestamp",
}

// Row is one exported event.
type Row struct {
	AccountID string
	Event     domain.Event
}

// Source reads history from the ledger.
type Source interface {
	History(id string) ([]domain.Event, error)
	Accounts() []domain.Account
}

// ExportHistory returns accountID's events in the order they happened. An
// empty accountID exports every account, merged by timestamp.
func ExportHistory(src Source, accountID string) ([]Row, error) {
	if accountID != "" {
		events, err := src.History(accountID)
		if err != nil {
			return nil, err
		}
		rows := make([]Row, len(events))
		for i, ev := range events {
			rows[i] = Row{AccountID: accountID, Event: ev}
		}
		return rows, nil
	}

	var rows []Row
	for _, acc := range src.Accounts() {
		for _, ev := range acc.History {
			rows = append(rows, Row{AccountID: acc.ID, Event: ev})
		}
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Event.Timestamp.Before(rows[j].Event.Timestamp)
	})
	return rows, nil
}

// WriteCSV writes Header followed by one line per row.
func WriteCSV(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	for _, r := range rows {
		if err := cw.Write(record(r)); err != nil {
			return fmt.Errorf("write %s: %w", r.Event.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func record(r Row) []string {
	ev := r.Event
	ts := ev.Timestamp.UTC().Format(time.RFC3339Nano)
	if ev.Kind == domain.EventAdjustment {
		return []string{r.AccountID, string(ev.Kind), ev.Actor, ev.Currency, "", ev.Amount.String(), "", ts}
	}
	return []string{
		r.AccountID,
		string(ev.Kind),
		string(ev.Side),
		ev.Pair,
		ev.Quantity.String(),
		ev.Price.String(),
		ev.Value.String(),
		ts,
	}
}

// Filename names an export for accountID, or for everyone when empty.
func Filename(accountID string) string {
	if accountID == "" {
		accountID = "all"
	}
	return "transactions_" + accountID + ".csv"
}
