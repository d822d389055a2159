package main

import (
	"github.com/spf13/cobra"

	"github.com/yungbote/panelapp-backend/internal/app"
)

var (
	// global
	dbDriver   string
	sqlitePath string

	// serve / worker
	port string

	// seed
	seedFile string

	// release
	releaseID  uint
	planFile   string
	exportOut  string
	deployUser string
	deployWait bool
)

var (
	rootCmd = &cobra.Command{
		Use:           "panelapp",
		Short:         "Panel versioning and release deployment service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API (the job worker runs too unless RUN_WORKER=false)",
		RunE:  runServe, // cmd_run.go
	}
	workerCmd = &cobra.Command{
		Use:   "worker",
		Short: "Run the job worker without the HTTP API",
		RunE:  runWorker, // cmd_run.go
	}
	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema and exit",
		RunE:  runMigrate, // cmd_run.go
	}
	seedCmd = &cobra.Command{
		Use:   "seed",
		Short: "Load panel types, panels and releases from a YAML fixture",
		RunE:  runSeed, // cmd_data.go
	}

	releaseCmd = &cobra.Command{
		Use:   "release",
		Short: "Manage release plans and deployments",
	}
	releaseImportCmd = &cobra.Command{
		Use:   "import",
		Short: "Replace a release plan from a CSV file",
		RunE:  runReleaseImport, // cmd_data.go
	}
	releaseExportCmd = &cobra.Command{
		Use:   "export",
		Short: "Export a release plan with before/after versions as CSV",
		RunE:  runReleaseExport, // cmd_data.go
	}
	releaseDeployCmd = &cobra.Command{
		Use:   "deploy",
		Short: "Queue a release deployment, or run it in-process with --wait",
		RunE:  runReleaseDeploy, // cmd_data.go
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&dbDriver, "db-driver", "", "Database driver: postgres or sqlite (overrides DATABASE_DRIVER)")
	rootCmd.PersistentFlags().StringVar(&sqlitePath, "sqlite-path", "", "SQLite file path (overrides SQLITE_PATH)")

	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&port, "port", "", "Listen port (overrides PORT)")

	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(migrateCmd)

	rootCmd.AddCommand(seedCmd)
	seedCmd.Flags().StringVarP(&seedFile, "file", "f", "", "Path to the YAML fixture")
	_ = seedCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(releaseCmd)
	releaseCmd.PersistentFlags().UintVar(&releaseID, "id", 0, "Release ID")
	_ = releaseCmd.MarkPersistentFlagRequired("id")

	releaseCmd.AddCommand(releaseImportCmd)
	releaseImportCmd.Flags().StringVarP(&planFile, "file", "f", "", "Path to the plan CSV")
	_ = releaseImportCmd.MarkFlagRequired("file")

	releaseCmd.AddCommand(releaseExportCmd)
	releaseExportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "Output path or directory (default: generated file name in the working directory, - for stdout)")

	releaseCmd.AddCommand(releaseDeployCmd)
	releaseDeployCmd.Flags().StringVar(&deployUser, "user", "", "Deploying user recorded on the release")
	releaseDeployCmd.Flags().BoolVar(&deployWait, "wait", false, "Deploy in this process instead of queueing a job")
}

// configOptions maps the global flags onto the loaded config.
func configOptions(extra ...app.Option) []app.Option {
	opts := []app.Option{func(c *app.Config) {
		if dbDriver != "" {
			c.DatabaseDriver = dbDriver
		}
		if sqlitePath != "" {
			c.SQLitePath = sqlitePath
		}
	}}
	return append(opts, extra...)
}
