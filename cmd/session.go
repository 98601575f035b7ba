package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/congregio/checkin-engine/internal/config"
	"github.com/congregio/checkin-engine/internal/database"
	"github.com/congregio/checkin-engine/internal/database/postgres"
	"github.com/congregio/checkin-engine/internal/sessions"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage attendance sessions",
}

var sessionCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Schedule a new attendance session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionCreate,
}

var sessionStartCmd = &cobra.Command{
	Use:   "start <session-id>",
	Short: "Activate a scheduled session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionStart,
}

var sessionEndCmd = &cobra.Command{
	Use:   "end <session-id>",
	Short: "Complete an active session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionEnd,
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions currently accepting check-ins",
	RunE:  runSessionList,
}

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionCreateCmd)
	sessionCmd.AddCommand(sessionStartCmd)
	sessionCmd.AddCommand(sessionEndCmd)
	sessionCmd.AddCommand(sessionListCmd)

	sessionCreateCmd.Flags().String("kind", "worship", "Session kind (worship, meeting, training, special, online)")
	sessionCreateCmd.Flags().String("location", "", "Session location")
	sessionCreateCmd.Flags().Int("capacity", 0, "Expected capacity")
	sessionCreateCmd.Flags().Bool("online", false, "Online session accepting remote check-ins")
	sessionListCmd.Flags().Bool("online", false, "Only online sessions")
	sessionListCmd.Flags().String("location", "", "Filter by location")
}

// openSessionManager connects to the database and builds a session
// manager for one CLI invocation.
func openSessionManager() (*sessions.Manager, func(), error) {
	cfg := config.Load()
	if cfg.Database.URL == "" {
		return nil, nil, errors.New("DATABASE_URL environment variable is required")
	}

	pool, err := postgres.Initialize(&cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}

	mgr := sessions.NewManager(postgres.NewSessionRepository(pool))
	return mgr, func() { pool.Close() }, nil
}

func runSessionCreate(cmd *cobra.Command, args []string) error {
	mgr, cleanup, err := openSessionManager()
	if err != nil {
		return err
	}
	defer cleanup()

	s, err := mgr.Create(context.Background(), sessions.CreateRequest{
		Name:             args[0],
		Kind:             database.SessionKind(mustGetString(cmd, "kind")),
		Online:           mustGetBool(cmd, "online"),
		ExpectedCapacity: mustGetInt(cmd, "capacity"),
		Location:         mustGetString(cmd, "location"),
	})
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}

	fmt.Printf("Created session %s (%s)\n", s.ID, s.Name)
	return nil
}

func runSessionStart(cmd *cobra.Command, args []string) error {
	mgr, cleanup, err := openSessionManager()
	if err != nil {
		return err
	}
	defer cleanup()

	s, err := mgr.Start(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("starting session: %w", err)
	}

	fmt.Printf("Session %s (%s) is now accepting check-ins\n", s.ID, s.Name)
	return nil
}

func runSessionEnd(cmd *cobra.Command, args []string) error {
	mgr, cleanup, err := openSessionManager()
	if err != nil {
		return err
	}
	defer cleanup()

	s, err := mgr.End(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("ending session: %w", err)
	}

	fmt.Printf("Session %s (%s) completed\n", s.ID, s.Name)
	return nil
}

func runSessionList(cmd *cobra.Command, args []string) error {
	mgr, cleanup, err := openSessionManager()
	if err != nil {
		return err
	}
	defer cleanup()

	list, err := mgr.ListActive(context.Background(), mustGetBool(cmd, "online"), mustGetString(cmd, "location"))
	if err != nil {
		return fmt.Errorf("listing sessions: %w", err)
	}

	if len(list) == 0 {
		fmt.Println("No active sessions")
		return nil
	}

	for _, s := range list {
		kind := string(s.Kind)
		if s.Online {
			kind += ", online"
		}
		fmt.Printf("%s  %-30s  %s  started %s\n",
			s.ID, s.Name, kind, s.StartsAt.Format(time.RFC3339))
	}
	return nil
}
