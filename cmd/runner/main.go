// Command runner is the fusion pipeline's single process entrypoint: it
// wires configuration, the durable event log, every source monitor, the
// aggregator/scorer/decider pipeline, and the pusher into one supervised
// set of goroutines, then waits for a shutdown signal.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	_ "go.uber.org/automaxprocs"
)

func main() {
	v := viper.New()
	v.SetEnvPrefix("FUSION")
	v.AutomaticEnv()

	root := &cobra.Command{
		Use:   "runner",
		Short: "Run the listing-detection fusion pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, v)
		},
	}

	root.Flags().Bool("dry-run", false, "use an in-memory event log instead of Redis, for local testing")
	root.Flags().StringSlice("only", nil, "restrict to a comma-separated subset of monitor kinds (rest,ws,telegram,news,chain)")
	root.Flags().String("config", "", "path to a .env file to load before environment variables are read")

	if err := v.BindPFlags(root.Flags()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, v *viper.Viper) error {
	if path := v.GetString("config"); path != "" {
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("loading --config file %s: %w", path, err)
		}
	}

	app, err := newApp(v.GetBool("dry-run"), onlySet(v.GetStringSlice("only")))
	if err != nil {
		return err
	}
	defer app.Close()

	return app.Run(cmd.Context())
}

// onlySet turns --only's comma-separated values into a lookup set. An
// empty result means "run every monitor kind", not "run none".
func onlySet(values []string) map[string]bool {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}
