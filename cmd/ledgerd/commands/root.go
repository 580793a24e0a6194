package commands

import (
	"github.com/mosaicnetworks/ledgerd/src/config"
	"github.com/spf13/cobra"
)

var (
	_config = config.NewDefaultConfig()
)

//RootCmd is the root command for ledgerd
var RootCmd = &cobra.Command{
	Use:              "ledgerd",
	Short:            "ledger close and catchup daemon",
	TraverseChildren: true,
}
