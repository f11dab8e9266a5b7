package main

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/rodovia-recon/internal/audit"
	"github.com/rodovia-recon/internal/config"
	"github.com/rodovia-recon/internal/inventory"
	"github.com/rodovia-recon/internal/ledger"
	"github.com/rodovia-recon/internal/recon"
	"github.com/rodovia-recon/internal/store"
	"github.com/rodovia-recon/internal/web"
)

func main() {
	config.LoadEnv()
	setupLogging()

	rootCmd := &cobra.Command{
		Use:   "reconciler",
		Short: "Needs-to-inventory reconciliation engine",
		Long:  `Matches field-identified highway asset needs against the cataloged inventory and drives them through the approval workflow.`,
	}

	rootCmd.AddCommand(createPingCmd())
	rootCmd.AddCommand(createInitDBCmd())
	rootCmd.AddCommand(createAuditCmd())
	rootCmd.AddCommand(createApproveCmd())
	rootCmd.AddCommand(createRejectCmd())
	rootCmd.AddCommand(createCountersCmd())
	rootCmd.AddCommand(createServeCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func setupLogging() {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	level, err := logrus.ParseLevel(config.GetEnv("LOG_LEVEL", "info"))
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
}

// openStore connects to PostgreSQL and makes sure the schema exists.
func openStore() *store.Postgres {
	db, err := store.Open()
	if err != nil {
		logrus.Fatalf("Failed to connect to database: %v", err)
	}
	pg := store.NewPostgres(db)
	if err := pg.EnsureSchema(context.Background()); err != nil {
		logrus.Fatalf("Failed to ensure schema: %v", err)
	}
	return pg
}

func newLedger(st store.Store) *ledger.Ledger {
	var notifier ledger.DefectNotifier
	if url := config.GetEnv("DEFECT_WEBHOOK_URL", ""); url != "" {
		notifier = ledger.NewWebhookNotifier(url)
	}
	return ledger.New(st, notifier)
}

func createPingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Test database connectivity",
		Run: func(cmd *cobra.Command, args []string) {
			db, err := store.Open()
			if err != nil {
				logrus.Fatalf("Failed to connect to database: %v", err)
			}
			defer db.Close()
			fmt.Println("Database connection successful!")

			var needs, elements int
			if err := db.QueryRow("SELECT COUNT(*) FROM need").Scan(&needs); err == nil {
				fmt.Printf("Needs loaded: %d\n", needs)
			}
			if err := db.QueryRow("SELECT COUNT(*) FROM inventory_element").Scan(&elements); err == nil {
				fmt.Printf("Inventory elements loaded: %d\n", elements)
			}
		},
	}
}

func createInitDBCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-db",
		Short: "Create the engine's tables",
		Run: func(cmd *cobra.Command, args []string) {
			openStore()
			fmt.Println("Schema ready")
		},
	}
}

func createAuditCmd() *cobra.Command {
	var spec audit.Spec
	var elementType string

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Run a reconciliation audit over one lot/highway/element-type scope",
		Run: func(cmd *cobra.Command, args []string) {
			spec.ElementType = recon.ElementType(elementType)
			st := openStore()
			auditor := audit.New(st, nil)

			summary, err := auditor.Run(cmd.Context(), spec, func(p audit.Progress) {
				if p.Processed%250 == 0 || p.Processed == p.Total {
					fmt.Printf("Processed %d/%d needs...\n", p.Processed, p.Total)
				}
			})
			if err != nil {
				logrus.Fatalf("Audit failed: %v", err)
			}

			printSummary(summary)
		},
	}

	cmd.Flags().StringVar(&spec.LotID, "lot", "", "lot id (required)")
	cmd.Flags().StringVar(&spec.HighwayID, "highway", "", "highway id (required)")
	cmd.Flags().StringVar(&elementType, "type", "", "element type (required)")
	cmd.Flags().Float64Var(&spec.RadiusMeters, "radius", 50, "candidate search radius in meters")
	cmd.Flags().BoolVar(&spec.Force, "force", false, "reclassify needs with a pending reconciliation")
	cmd.Flags().IntVar(&spec.Concurrency, "concurrency", 0, "worker count (default: CPU cores)")
	cmd.MarkFlagRequired("lot")
	cmd.MarkFlagRequired("highway")
	cmd.MarkFlagRequired("type")

	return cmd
}

func printSummary(summary *audit.Summary) {
	fmt.Printf("\nAudit complete: processed %d, skipped %d, failed %d (%.1fs)\n",
		summary.Processed, summary.Skipped, summary.Failed, summary.Elapsed.Seconds())

	verdicts := make([]string, 0, len(summary.ByVerdict))
	for verdict := range summary.ByVerdict {
		verdicts = append(verdicts, string(verdict))
	}
	sort.Strings(verdicts)

	fmt.Println("\nVerdict              | Count")
	fmt.Println("---------------------|------")
	for _, verdict := range verdicts {
		fmt.Printf("%-20s | %5d\n", verdict, summary.ByVerdict[recon.Verdict(verdict)])
	}

	for _, item := range summary.Errors {
		fmt.Printf("FAILED need %s: %s\n", item.NeedID, item.Reason)
	}
}

func createApproveCmd() *cobra.Command {
	var approver, elementID string
	var createNew bool

	cmd := &cobra.Command{
		Use:   "approve [reconciliation-id]",
		Short: "Approve a pending reconciliation and apply its inventory effect",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			st := openStore()
			ldg := newLedger(st)

			var res *inventory.Resolution
			if elementID != "" || createNew {
				res = &inventory.Resolution{ElementID: elementID, CreateNew: createNew}
			}

			rec, err := ldg.Approve(cmd.Context(), args[0], approver, res)
			if err != nil {
				logrus.Fatalf("Approve failed: %v", err)
			}
			fmt.Printf("Reconciliation %s approved (need %s, verdict %s)\n", rec.ID, rec.NeedID, rec.Verdict)
		},
	}

	cmd.Flags().StringVar(&approver, "approver", "", "approver id (required)")
	cmd.Flags().StringVar(&elementID, "element", "", "chosen element id for verdicts without an automatic match")
	cmd.Flags().BoolVar(&createNew, "create-new", false, "confirm that a new element should be created")
	cmd.MarkFlagRequired("approver")

	return cmd
}

func createRejectCmd() *cobra.Command {
	var approver, justification string

	cmd := &cobra.Command{
		Use:   "reject [reconciliation-id]",
		Short: "Reject a pending reconciliation and raise a defect report",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			st := openStore()
			ldg := newLedger(st)

			rec, err := ldg.Reject(cmd.Context(), args[0], approver, justification)
			if err != nil {
				logrus.Fatalf("Reject failed: %v", err)
			}
			fmt.Printf("Reconciliation %s rejected (need %s)\n", rec.ID, rec.NeedID)
		},
	}

	cmd.Flags().StringVar(&approver, "approver", "", "approver id (required)")
	cmd.Flags().StringVar(&justification, "justification", "", "rejection justification (required)")
	cmd.MarkFlagRequired("approver")
	cmd.MarkFlagRequired("justification")

	return cmd
}

func createCountersCmd() *cobra.Command {
	var lotID, highwayID, elementType string

	cmd := &cobra.Command{
		Use:   "counters",
		Short: "Show the counters row for one scope",
		Run: func(cmd *cobra.Command, args []string) {
			st := openStore()
			counters, err := st.Counters(cmd.Context(), lotID, highwayID, recon.ElementType(elementType))
			if err != nil {
				logrus.Fatalf("Counters lookup failed: %v", err)
			}

			fmt.Printf("Scope %s/%s/%s\n", counters.LotID, counters.HighwayID, counters.ElementType)
			fmt.Printf("  baseline active:          %d\n", counters.BaselineActive)
			fmt.Printf("  created-by-match active:  %d\n", counters.CreatedByMatchActive)
			fmt.Printf("  total active:             %d\n", counters.TotalActive)
			fmt.Printf("  baseline inactive:        %d\n", counters.BaselineInactive)
			fmt.Printf("  total all:                %d\n", counters.TotalAll)
		},
	}

	cmd.Flags().StringVar(&lotID, "lot", "", "lot id (required)")
	cmd.Flags().StringVar(&highwayID, "highway", "", "highway id (required)")
	cmd.Flags().StringVar(&elementType, "type", "", "element type (required)")
	cmd.MarkFlagRequired("lot")
	cmd.MarkFlagRequired("highway")
	cmd.MarkFlagRequired("type")

	return cmd
}

func createServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Run: func(cmd *cobra.Command, args []string) {
			st := openStore()
			ldg := newLedger(st)
			jobs := audit.NewManager(audit.New(st, nil))

			server := web.NewServer(web.ConfigFromEnv(), st, ldg, jobs)
			if err := server.Start(); err != nil {
				logrus.Fatalf("Server failed: %v", err)
			}
		},
	}
}
