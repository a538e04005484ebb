package lock

import (
	"fmt"
	"time"

	"github.com/ValentinKolb/dSync/cmd/util"
	"github.com/ValentinKolb/dSync/lib/lockmgr"
	"github.com/ValentinKolb/dSync/lib/shared"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	sharedStore    shared.ISharedStore
	acquireTimeout uint64

	// LockCommands represents the lock command group
	LockCommands = &cobra.Command{
		Use:               "lock",
		Short:             "Perform distributed lock operations",
		PersistentPreRunE: setupStore,
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if sharedStore != nil {
				_ = sharedStore.Close()
			}
		},
	}

	// acquireCmd represents the acquire command
	acquireCmd = &cobra.Command{
		Use:   "acquire [key]",
		Short: "Acquire a lock",
		Long:  "Acquire the lock for an entity key. On success the owner ID is printed; it is required to release the lock again.",
		Args:  cobra.ExactArgs(1),
		RunE:  runAcquire,
	}

	// releaseCmd represents the release command
	releaseCmd = &cobra.Command{
		Use:   "release [key] [ownerID]",
		Short: "Release a previously acquired lock",
		Long:  "Release a lock using the key and owner ID. The owner ID is the string returned by the acquire command.",
		Args:  cobra.ExactArgs(2),
		RunE:  runRelease,
	}

	// holderCmd represents the holder command
	holderCmd = &cobra.Command{
		Use:   "holder [key]",
		Short: "Show the current holder of a lock",
		Args:  cobra.ExactArgs(1),
		RunE:  runHolder,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitConfig)

	// Add subcommands to lock command
	LockCommands.AddCommand(acquireCmd)
	LockCommands.AddCommand(releaseCmd)
	LockCommands.AddCommand(holderCmd)

	// Add shared store connection flags to the lock command
	util.SetupStoreFlags(LockCommands)

	// Add flags specific to acquire
	acquireCmd.Flags().Uint64Var(&acquireTimeout, "timeout", 30, "Lock timeout in seconds")
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

// newManager creates a lock manager bound to the given owner id
func newManager(ownerID string) lockmgr.ILockManager {
	return lockmgr.NewLockManager(sharedStore, lockmgr.Options{
		Namespace:   util.GetNamespace(),
		OwnerID:     ownerID,
		LockTimeout: time.Duration(viper.GetUint64("timeout")) * time.Second,
	})
}

// runAcquire handles the acquire lock command
func runAcquire(cmd *cobra.Command, args []string) error {
	key := args[0]
	ownerID := lockmgr.NewOwnerID()

	// Attempt to acquire the lock
	acquired, err := newManager(ownerID).AcquireLock(key)
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %v", err)
	}

	if !acquired {
		fmt.Printf("acquired=false\n")
		return nil
	}

	fmt.Printf("acquired=true, ownerId=%s\n", ownerID)
	return nil
}

// runRelease handles the release lock command
func runRelease(_ *cobra.Command, args []string) error {
	key := args[0]
	ownerID := args[1]

	// Attempt to release the lock as the given owner
	released, err := newManager(ownerID).ReleaseLock(key)
	if err != nil {
		return fmt.Errorf("failed to release lock: %v", err)
	}

	fmt.Printf("released=%v\n", released)
	return nil
}

// runHolder handles the holder command
func runHolder(_ *cobra.Command, args []string) error {
	key := args[0]

	holder, locked, err := newManager(lockmgr.NewOwnerID()).GetLockHolder(key)
	if err != nil {
		return fmt.Errorf("failed to query lock: %v", err)
	}

	if !locked {
		fmt.Printf("locked=false\n")
		return nil
	}

	fmt.Printf("locked=true, holder=%s\n", holder)
	return nil
}
