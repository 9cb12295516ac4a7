// Package cmd holds the coreact command line: a cobra root command whose
// configuration is merged from flags, COREACT_* environment variables
// and an optional toml file.
package cmd

import (
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "COREACT"

func NewRootCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	rc := &cobra.Command{
		Use:   "coreact",
		Short: "coreact runs network services on a single-threaded cooperative scheduler.",
		Long: `coreact runs network services on a single-threaded cooperative scheduler.

Every connection is served by a coroutine task; all tasks share one
goroutine and one readiness poller (epoll on linux, poll elsewhere).
Settings can be given as flags, as COREACT_* environment variables, or
in a toml file passed with --config.
`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setAllConfig(viper.New(), cmd.Flags())
		},
	}
	rc.PersistentFlags().StringP("config", "c", "", "Configuration file to read from.")

	rc.AddCommand(newServeCommand(stdin, stdout, stderr))
	rc.AddCommand(newBenchCommand(stdin, stdout, stderr))

	rc.SetIn(stdin)
	rc.SetOut(stdout)
	rc.SetErr(stderr)
	return rc
}

// setAllConfig takes a FlagSet to be the definition of all configuration
// options, as well as their defaults. It then reads from the command line,
// the environment, and a config file (if specified), and applies the
// configuration in that priority order. Since each flag in the set
// contains a pointer to where its value should be stored, setAllConfig
// can directly modify the value of each config variable.
//
// Environment variables are the flag names upper-cased, with dashes and
// dots replaced by underscores, prefixed with COREACT_.
func setAllConfig(v *viper.Viper, flags *pflag.FlagSet) error {
	if err := v.BindPFlags(flags); err != nil {
		return err
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	validTags := make(map[string]bool)
	flags.VisitAll(func(f *pflag.Flag) {
		validTags[f.Name] = true
	})

	if c := v.GetString("config"); c != "" {
		v.SetConfigFile(c)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return errors.Wrapf(err, "reading configuration file %q", c)
		}

		for _, key := range v.AllKeys() {
			if !validTags[key] {
				return errors.Errorf("invalid option in configuration file: %v", key)
			}
		}
	}

	var flagErr error
	flags.VisitAll(func(f *pflag.Flag) {
		if flagErr != nil || f.Changed {
			// Flags given on the command line have the highest priority.
			return
		}
		flagErr = f.Value.Set(v.GetString(f.Name))
	})
	return flagErr
}
