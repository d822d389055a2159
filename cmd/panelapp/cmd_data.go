package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/yungbote/panelapp-backend/internal/app"
	"github.com/yungbote/panelapp-backend/internal/platform/ctxutil"
	"github.com/yungbote/panelapp-backend/internal/platform/dbctx"
)

// openApp builds the app for a one-shot command: no server, no worker.
func openApp(cmd *cobra.Command) (*app.App, dbctx.Context, error) {
	a, err := app.New(configOptions(func(c *app.Config) {
		c.RunServer = false
		c.RunWorker = false
	})...)
	if err != nil {
		return nil, dbctx.Context{}, err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if deployUser != "" {
		ctx = ctxutil.WithRequestData(ctx, &ctxutil.RequestData{User: deployUser})
	}
	return a, dbctx.Context{Ctx: ctx}, nil
}

func runSeed(cmd *cobra.Command, args []string) error {
	f, err := os.Open(seedFile)
	if err != nil {
		return err
	}
	defer f.Close()
	fixture, err := app.LoadFixture(f)
	if err != nil {
		return err
	}

	a, dbc, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := app.Seed(dbc, a.Services, fixture)
	if err != nil {
		return err
	}
	a.Log.Info("Seed complete",
		"panels_created", report.PanelsCreated,
		"panels_skipped", report.PanelsSkipped,
		"releases_created", report.ReleasesCreated,
		"releases_skipped", report.ReleasesSkipped,
	)
	return nil
}

func runReleaseImport(cmd *cobra.Command, args []string) error {
	f, err := os.Open(planFile)
	if err != nil {
		return err
	}
	defer f.Close()

	a, dbc, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.Services.Releases.ImportPlan(dbc, releaseID, f)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "imported %d panels into release %d\n", n, releaseID)
	return nil
}

func runReleaseExport(cmd *cobra.Command, args []string) error {
	a, dbc, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if exportOut == "-" {
		_, err := a.Services.Releases.ExportPlan(dbc, releaseID, cmd.OutOrStdout())
		return err
	}

	// The file name depends on the deployment state, so render to a temp
	// file first and rename once it is known.
	dir := "."
	target := ""
	if exportOut != "" {
		if st, err := os.Stat(exportOut); err == nil && st.IsDir() {
			dir = exportOut
		} else {
			dir, target = filepath.Dir(exportOut), exportOut
		}
	}
	tmp, err := os.CreateTemp(dir, ".release-export-*.csv")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	name, err := a.Services.Releases.ExportPlan(dbc, releaseID, tmp)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	if target == "" {
		target = filepath.Join(dir, name)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), target)
	return nil
}

func runReleaseDeploy(cmd *cobra.Command, args []string) error {
	a, dbc, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if !deployWait {
		job, err := a.Services.Deployment.RequestDeployment(dbc, releaseID, deployUser)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "queued deployment job %s for release %d\n", job.ID, releaseID)
		return nil
	}

	dep, err := a.Services.Deployment.Deploy(dbc.Ctx, releaseID, deployUser)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "deployed release %d by %s in %s\n", releaseID, dep.DeployingUser, dep.End.Sub(*dep.Start))
	return nil
}
