package utils

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"krakenBot/internal/domain"
)

var tradeHeader = []string{"id", "strategy", "pair", "side", "quantity", "entry_price", "exit_price", "pnl", "entry_time", "exit_time", "close_reason"}

// WriteTradesCSV writes closed trades, one row each, after a header row.
func WriteTradesCSV(w io.Writer, trades []*domain.Trade) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(tradeHeader); err != nil {
		return fmt.Errorf("writing csv header: %w", err)
	}
	for _, t := range trades {
		if t == nil {
			continue
		}
		if err := writer.Write([]string{
			strconv.FormatInt(t.ID, 10),
			t.StrategyID,
			t.Pair,
			string(t.Side),
			formatFloat(t.Quantity),
			formatFloat(t.EntryPrice),
			formatFloat(t.ExitPrice),
			formatFloat(t.PNL),
			t.EntryTime.UTC().Format(time.RFC3339),
			t.ExitTime.UTC().Format(time.RFC3339),
			string(t.CloseReason),
		}); err != nil {
			return fmt.Errorf("writing trade %d: %w", t.ID, err)
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteTradesToFile creates filename and writes the trades to it as CSV.
func WriteTradesToFile(trades []*domain.Trade, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	if err := WriteTradesCSV(file, trades); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
