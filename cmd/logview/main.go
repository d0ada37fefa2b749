// Command logview dumps the persisted message log as a table, for debugging
// a running or stopped server. It opens the store read-only so it can run
// next to the live process.
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/gookit/color"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/olekukonko/tablewriter"
)

type Config struct {
	BadgerFilepath string `envconfig:"BADGER_FILEPATH" required:"true"`
	// Prefix selects the log to dump: "room:" for chatrooms, "dm:" for
	// direct messages, "user:" for accounts.
	Prefix  string `envconfig:"LOGVIEW_PREFIX" default:"room:"`
	Colours bool   `envconfig:"LOGVIEW_COLOURS" default:"true"`
}

type storedMessage struct {
	ID       string `json:"id"`
	Room     int    `json:"room,omitempty"`
	From     int    `json:"from"`
	FromName string `json:"from_name"`
	To       int    `json:"to,omitempty"`
	Content  string `json:"content"`
	At       int64  `json:"at"`
}

func main() {
	_ = godotenv.Load()
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		log.Fatalf("Config error: %v", err)
	}

	// BypassLockGuard allows opening while the server holds the lock
	opts := badger.DefaultOptions(config.BadgerFilepath).
		WithReadOnly(true).
		WithBypassLockGuard(true).
		WithLoggingLevel(badger.WARNING)

	db, err := badger.Open(opts)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	header := fmt.Sprintf("  ====== Message log (%s) ======", config.Prefix)
	if config.Colours {
		header = color.New(color.BgBlack, color.FgGreen).Render(header)
	}
	fmt.Println(header)

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Key", "Time", "Room", "From", "To", "Content"})
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")

	err = db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefixBytes := []byte(config.Prefix)
		for it.Seek(prefixBytes); it.ValidForPrefix(prefixBytes); it.Next() {
			item := it.Item()
			err := item.Value(func(v []byte) error {
				var m storedMessage
				if err := json.Unmarshal(v, &m); err != nil {
					// Log and keep scanning instead of stopping the dump
					fmt.Printf("Error unmarshaling key %s: %v\n", string(item.Key()), err)
					return nil
				}

				from := fmt.Sprintf("%d (%s)", m.From, m.FromName)
				to := ""
				if m.To != 0 {
					to = fmt.Sprintf("%d", m.To)
				}
				room := ""
				if m.Room != 0 {
					room = fmt.Sprintf("%d", m.Room)
				}

				table.Append([]string{
					string(item.Key()),
					time.Unix(0, m.At).UTC().Format("15:04:05"),
					room,
					from,
					to,
					m.Content,
				})
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		log.Fatal(err)
	}

	table.Render()
}
