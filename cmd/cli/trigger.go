package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"ticketflow/internal/automation"
	"ticketflow/internal/rulestore"
	"ticketflow/internal/services"
)

var (
	triggerEvent    string
	triggerTicketID string
	triggerContext  string
	triggerFile     string
)

var triggerCmd = &cobra.Command{
	Use:   "trigger <rule-id>",
	Short: "Run one automation rule against a supplied event context",
	Long: `Run one rule manually. The event context is read from --context (inline JSON)
or --file. When only a ticket id is given the ticket is loaded from the database.`,
	Args: cobra.ExactArgs(1),
	RunE: runTrigger,
}

func init() {
	triggerCmd.Flags().StringVar(&triggerEvent, "event", "", "event type (defaults to the rule's trigger)")
	triggerCmd.Flags().StringVar(&triggerTicketID, "ticket-id", "", "ticket id")
	triggerCmd.Flags().StringVar(&triggerContext, "context", "", "event context as JSON")
	triggerCmd.Flags().StringVarP(&triggerFile, "file", "f", "", "read the event context from a JSON file")
	rootCmd.AddCommand(triggerCmd)
}

func runTrigger(cmd *cobra.Command, args []string) error {
	evt, err := triggerEventContext()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	db := tryDatabase(cfg, log)
	defer closeDatabase(db)

	auto := cfg.Automation
	auto.SeedFile = ""
	store, _ := rulestore.New(ctx, auto, db, log)
	out := buildSenders(cfg, log, nil)
	defer out.Close(log)

	opts := engineOptions(cfg.Automation, log)
	opts.Store = store
	opts.Recorder = store
	opts.Email = out.email
	opts.Notifier = out.notifier
	if db != nil {
		tickets := services.NewTicketService(db, log)
		opts.Entities = tickets
		if evt.Ticket == nil && evt.TicketID != "" {
			if snap, err := tickets.GetByID(ctx, evt.TicketID); err == nil {
				evt.Ticket = snap
			}
		}
	}
	engine := automation.NewEngine(opts)

	result, err := engine.RunManually(ctx, args[0], evt)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		Matched bool                   `json:"matched"`
		Result  *automation.RuleResult `json:"result,omitempty"`
	}{Matched: result != nil, Result: result})
}

func triggerEventContext() (*automation.EventContext, error) {
	evt := &automation.EventContext{}
	raw := []byte(triggerContext)
	if triggerFile != "" {
		data, err := os.ReadFile(triggerFile)
		if err != nil {
			return nil, err
		}
		raw = data
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, evt); err != nil {
			return nil, fmt.Errorf("parse event context: %w", err)
		}
	}
	if triggerEvent != "" {
		evt.EventType = automation.EventType(triggerEvent)
	}
	if triggerTicketID != "" {
		evt.TicketID = triggerTicketID
	}
	return evt, nil
}
