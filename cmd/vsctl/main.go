// main.go - Admin control tool for the visitor stats worker
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"visitorstats/internal"
	"visitorstats/internal/counters"
	"visitorstats/internal/seeder"
	"visitorstats/internal/settings"
	"visitorstats/internal/visits"
)

const (
	defaultShutdownTimeout = 30 * time.Second
)

// Command defines the interface for all command implementations
type Command interface {
	// Name returns the command name
	Name() string
	// Description returns the command description
	Description() string
	// Execute runs the command with the given app and args
	Execute(ctx context.Context, app *internal.Application, args []string) error
}

// The set of available commands
var commands = []Command{
	&MigrateCommand{},
	&AllowOriginsCommand{},
	&ShowOriginsCommand{},
	&SweepCommand{},
	&SeedCommand{},
	&StatusCommand{},
	&HelpCommand{},
}

func main() {
	flag.Parse()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sig := <-sigChan
		log.Printf("Received signal: %v, initiating cleanup...", sig)
		cancel()
	}()

	cmdName, args := parseArgs()

	cmd := findCommand(cmdName)
	if cmd == nil {
		showUsageAndExit()
	}

	app, err := internal.NewApp()
	if err != nil {
		log.Printf("Warning: Failed to initialize app: %v", err)
		log.Println("Proceeding with limited functionality...")
	}

	defer func() {
		if app != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
			defer cancel()
			if err := app.Shutdown(shutdownCtx); err != nil {
				log.Printf("Warning: Cleanup error: %v", err)
			}
		}
	}()

	if err := cmd.Execute(ctx, app, args); err != nil {
		log.Fatalf("Command failed: %v", err)
	}

	log.Printf("Command %s completed successfully", cmd.Name())
}

// MigrateCommand runs database migrations
type MigrateCommand struct{}

func (c *MigrateCommand) Name() string        { return "migrate" }
func (c *MigrateCommand) Description() string { return "Runs database migrations" }

func (c *MigrateCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	if app == nil {
		return fmt.Errorf("app initialization failed, cannot run migrations")
	}

	log.Println("Running database migrations...")
	if err := app.DBManager.MigrateDatabase(); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	log.Println("Migrations completed successfully")
	return nil
}

// AllowOriginsCommand replaces the stored origin allow-list
type AllowOriginsCommand struct{}

func (c *AllowOriginsCommand) Name() string { return "allow-origins" }
func (c *AllowOriginsCommand) Description() string {
	return "Replaces the allowed origins list (use * to allow every origin)"
}

func (c *AllowOriginsCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: %s <origin> [origin...]", c.Name())
	}
	if app == nil {
		return fmt.Errorf("app initialization failed, cannot update origins")
	}

	if err := settings.SaveAllowedOrigins(app.Logger, app.DBManager.GetConnection(), args); err != nil {
		return fmt.Errorf("failed to save allowed origins: %w", err)
	}
	app.Origins.Invalidate()

	log.Printf("Allowed origins set to: %s", strings.Join(args, ", "))
	return nil
}

// ShowOriginsCommand prints the stored origin allow-list
type ShowOriginsCommand struct{}

func (c *ShowOriginsCommand) Name() string        { return "show-origins" }
func (c *ShowOriginsCommand) Description() string { return "Shows the allowed origins list" }

func (c *ShowOriginsCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	if app == nil {
		return fmt.Errorf("app initialization failed, cannot read origins")
	}

	origins, err := settings.GetAllowedOrigins(app.DBManager.GetConnection())
	if err != nil {
		return fmt.Errorf("failed to read allowed origins: %w", err)
	}

	if len(origins) == 0 {
		fmt.Println("No origins allowed; every tracked request will be rejected")
		return nil
	}
	for _, origin := range origins {
		fmt.Println(origin)
	}
	return nil
}

// SweepCommand runs one retention pass immediately
type SweepCommand struct{}

func (c *SweepCommand) Name() string        { return "sweep" }
func (c *SweepCommand) Description() string { return "Purges raw visits older than the retention window" }

func (c *SweepCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	if app == nil {
		return fmt.Errorf("app initialization failed, cannot sweep visits")
	}

	job := app.Scheduler.RetentionJob()
	log.Printf("Purging visits older than %s", job.Cutoff().Format(time.RFC3339))

	deleted, err := job.Sweep()
	if err != nil {
		return fmt.Errorf("sweep failed: %w", err)
	}

	log.Printf("Deleted %d visits", deleted)
	return nil
}

// SeedCommand populates the DB with sample visits
type SeedCommand struct{}

func (c *SeedCommand) Name() string        { return "seed" }
func (c *SeedCommand) Description() string { return "Seeds the database with sample visits" }

func (c *SeedCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	fs := flag.NewFlagSet("seed", flag.ContinueOnError)
	count := fs.Int("visits", 1000, "number of visits to generate")
	days := fs.Int("days", 7, "spread visits over this many past days")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if app == nil {
		return fmt.Errorf("unable to initialise app")
	}
	if app.Config.IsProduction() {
		return fmt.Errorf("refusing to seed a production database")
	}

	s := seeder.NewSeeder(app.DBManager, app.Logger, app.Config.Salt, *count, *days)
	if err := s.Run(ctx); err != nil {
		return err
	}
	app.Origins.Invalidate()
	return nil
}

// StatusCommand implements a command to check the system status
type StatusCommand struct{}

// Name returns the command name
func (c *StatusCommand) Name() string {
	return "status"
}

// Description returns the command description
func (c *StatusCommand) Description() string {
	return "Shows the current system status"
}

// Execute implements the status command
func (c *StatusCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	if app == nil {
		return fmt.Errorf("cannot check status: app initialization failed")
	}

	db := app.DBManager.GetConnection()

	global, err := counters.GetGlobalStats(db)
	if err != nil {
		return fmt.Errorf("database error: %w", err)
	}

	raw, err := visits.CountVisits(db, visits.Filter{})
	if err != nil {
		return fmt.Errorf("database error: %w", err)
	}

	log.Println("System Status:")
	log.Println("- Database: Connected")
	log.Printf("- Total visits: %d", global.TotalVisits)
	log.Printf("- Unique visitors: %d", global.TotalUniqueVisitors)
	log.Printf("- Raw visits retained: %d", raw)
	if global.LastUpdated != nil {
		log.Printf("- Last visit: %s", global.LastUpdated.Format(time.RFC3339))
	}
	log.Printf("- GeoIP: %t", app.Geo.Enabled())
	log.Printf("- Cache backend: %s", app.Config.CacheBackend)

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get SQL DB: %w", err)
	}

	log.Printf("- Max Open Connections: %d", sqlDB.Stats().MaxOpenConnections)
	log.Printf("- Open Connections: %d", sqlDB.Stats().OpenConnections)

	return nil
}

// HelpCommand implements a command to show usage information
type HelpCommand struct{}

// Name returns the command name
func (c *HelpCommand) Name() string {
	return "help"
}

// Description returns the command description
func (c *HelpCommand) Description() string {
	return "Shows usage information"
}

// Execute implements the help command
func (c *HelpCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	printUsage()
	return nil
}

// Helper functions

// parseArgs parses the command name and arguments
func parseArgs() (string, []string) {
	args := flag.Args()
	if len(args) == 0 {
		return "help", []string{}
	}
	return args[0], args[1:]
}

// findCommand finds a command by name
func findCommand(name string) Command {
	for _, cmd := range commands {
		if cmd.Name() == name {
			return cmd
		}
	}
	return nil
}

func printUsage() {
	fmt.Println("Usage: vsctl [command] [args...]")
	fmt.Println("Available commands:")

	for _, cmd := range commands {
		fmt.Printf("  %s: %s\n", cmd.Name(), cmd.Description())
	}
}

// showUsageAndExit shows usage information and exits
func showUsageAndExit() {
	printUsage()
	os.Exit(1)
}
