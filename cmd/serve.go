package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/congregio/checkin-engine/internal/anomaly"
	"github.com/congregio/checkin-engine/internal/certificates"
	"github.com/congregio/checkin-engine/internal/checkin"
	"github.com/congregio/checkin-engine/internal/config"
	"github.com/congregio/checkin-engine/internal/consent"
	"github.com/congregio/checkin-engine/internal/database"
	"github.com/congregio/checkin-engine/internal/database/postgres"
	"github.com/congregio/checkin-engine/internal/descriptors"
	"github.com/congregio/checkin-engine/internal/match"
	"github.com/congregio/checkin-engine/internal/sessions"
	"github.com/congregio/checkin-engine/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the check-in engine server",
	Long: `Start the check-in engine HTTP server.
Capture devices post live probes to the check-in endpoint; admins manage
sessions, consents, descriptors, anomalies and certificates through the
same API.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
}

// initDescriptorIndex loads the persisted descriptor index when
// HNSW_INDEX_PATH points at one, else builds it from the database. A
// failed build is not fatal: matching falls back to linear store scans.
func initDescriptorIndex(ctx context.Context, repo database.DescriptorStore, indexPath string) *database.DescriptorIndex {
	index := database.NewDescriptorIndex()
	if indexPath != "" {
		if err := index.Load(indexPath); err != nil {
			fmt.Printf("Warning: failed to load descriptor index from %s: %v\n", indexPath, err)
		}
	}

	all, err := repo.ListAll(ctx, database.DescriptorScope{})
	if err != nil {
		fmt.Printf("Warning: failed to load descriptors: %v\n", err)
		fmt.Println("Matching will use linear database scans (slower)")
		return nil
	}

	if index.Loaded() {
		index.RebuildLookup(all)
		fmt.Printf("Descriptor index loaded from %s with %d descriptors\n", indexPath, index.Count())
		return index
	}

	fmt.Println("Building in-memory descriptor index...")
	if err := index.Build(all); err != nil {
		fmt.Printf("Warning: failed to build descriptor index: %v\n", err)
		fmt.Println("Matching will use linear database scans (slower)")
		return nil
	}

	fmt.Printf("Descriptor index built with %d descriptors\n", index.Count())
	return index
}

// buildEngine wires all components over the PostgreSQL pool.
func buildEngine(cfg *config.Config, pool *postgres.Pool, index *database.DescriptorIndex) web.Engine {
	descriptorRepo := postgres.NewDescriptorRepository(pool)
	consentRepo := postgres.NewConsentRepository(pool)
	sessionRepo := postgres.NewSessionRepository(pool)
	checkInRepo := postgres.NewCheckInRepository(pool)
	anomalyRepo := postgres.NewAnomalyRepository(pool)
	certificateRepo := postgres.NewCertificateRepository(pool)

	ledger := consent.NewLedger(consentRepo, cfg.Consent)
	sessionMgr := sessions.NewManager(sessionRepo)
	detector := anomaly.NewDetector(anomalyRepo, checkInRepo, sessionRepo, cfg.Anomaly)

	return web.Engine{
		Consent:      ledger,
		Descriptors:  descriptors.NewStore(descriptorRepo, ledger, index, cfg.Matching),
		Matcher:      match.NewEngine(descriptorRepo, ledger, index, cfg.Matching),
		Sessions:     sessionMgr,
		CheckIns:     checkin.NewStateMachine(checkInRepo, sessionMgr, detector, cfg.CheckIn, cfg.Matching),
		Detector:     detector,
		Certificates: certificates.NewIssuer(certificateRepo, checkInRepo, sessionRepo),
		CheckInStore: checkInRepo,
	}
}

// resolveServeHostPort resolves port and host from flags and environment variables.
func resolveServeHostPort(cmd *cobra.Command) (int, string) {
	port := mustGetInt(cmd, "port")
	host := mustGetString(cmd, "host")

	if envPort := os.Getenv("WEB_PORT"); envPort != "" {
		fmt.Sscanf(envPort, "%d", &port)
	}
	if envHost := os.Getenv("WEB_HOST"); envHost != "" {
		host = envHost
	}
	return port, host
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL environment variable is required")
	}

	fmt.Println("Connecting to PostgreSQL database...")
	pool, err := postgres.Initialize(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}
	defer pool.Close()

	ctx := context.Background()
	if err := pool.ValidateDescriptorDim(ctx, cfg.Matching.DescriptorDim); err != nil {
		return err
	}

	index := initDescriptorIndex(ctx, postgres.NewDescriptorRepository(pool), cfg.Database.HNSWIndexPath)
	engine := buildEngine(cfg, pool, index)
	port, host := resolveServeHostPort(cmd)

	server := web.NewServer(cfg, engine, host, port)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")

		if index != nil {
			if err := index.Save(); err != nil {
				fmt.Printf("Warning: failed to save descriptor index: %v\n", err)
			} else if cfg.Database.HNSWIndexPath != "" {
				fmt.Println("Descriptor index saved to disk")
			}
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("Error during shutdown: %v\n", err)
		}
	}()

	fmt.Printf("Starting check-in engine on http://%s:%d\n", host, port)
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
