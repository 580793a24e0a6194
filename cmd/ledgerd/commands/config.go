package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var forceConfig bool

// NewConfigCmd produces a command writing the current settings, defaults and
// flags included, to [datadir]/ledgerd.toml.
func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "config",
		Short:   "Write a ledgerd.toml file",
		PreRunE: bindFlagsLoadViperCmd,
		RunE:    writeConfig,
	}
	AddRunFlags(cmd)
	cmd.Flags().BoolVar(&forceConfig, "force", false, "Overwrite an existing file")
	return cmd
}

func bindFlagsLoadViperCmd(cmd *cobra.Command, args []string) error {
	return bindFlagsLoadViper(cmd)
}

func writeConfig(cmd *cobra.Command, args []string) error {
	file := _config.ConfigFile()

	if _, err := os.Stat(file); err == nil && !forceConfig {
		return fmt.Errorf("%s already exists, use --force to overwrite it", file)
	}

	if err := os.MkdirAll(filepath.Dir(file), 0700); err != nil {
		return err
	}

	f, err := os.OpenFile(file, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(settings()); err != nil {
		return err
	}

	fmt.Printf("Configuration written to: %s\n", file)

	return nil
}

// settings returns the viper settings without the ones that only make sense on
// the command line. Durations are written in their string form, which viper
// reads back.
func settings() map[string]interface{} {
	all := viper.AllSettings()
	delete(all, "force")
	delete(all, "datadir")
	for k, v := range all {
		if d, ok := v.(time.Duration); ok {
			all[k] = d.String()
		}
	}
	return all
}
