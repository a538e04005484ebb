package record

import (
	"fmt"

	"github.com/ValentinKolb/dSync/cmd/util"
	"github.com/ValentinKolb/dSync/lib/shared"
	"github.com/spf13/cobra"
)

var (
	sharedStore shared.ISharedStore

	// RecordCommands represents the record command group
	RecordCommands = &cobra.Command{
		Use:               "record",
		Short:             "Inspect and edit records on the shared store",
		PersistentPreRunE: setupStore,
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if sharedStore != nil {
				_ = sharedStore.Close()
			}
		},
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitConfig)

	// Add shared store connection flags to the record command
	util.SetupStoreFlags(RecordCommands)

	// Add subcommands
	RecordCommands.AddCommand(getCmd)
	RecordCommands.AddCommand(setCmd)
	RecordCommands.AddCommand(delCmd)
	RecordCommands.AddCommand(listCmd)
}

// setupStore connects to the shared store
func setupStore(cmd *cobra.Command, _ []string) error {
	// Bind command flags to viper
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	var err error
	sharedStore, err = util.GetSharedStore()
	if err != nil {
		return fmt.Errorf("failed to connect to shared store: %v", err)
	}
	return nil
}
