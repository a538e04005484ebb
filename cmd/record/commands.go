package record

import (
	"fmt"
	"strings"

	"github.com/ValentinKolb/dSync/cmd/util"
	"github.com/ValentinKolb/dSync/lib/entity"
	"github.com/ValentinKolb/dSync/lib/entity/record"
	"github.com/spf13/cobra"
)

var (
	getCmd = &cobra.Command{
		Use:   "get [owner/subgroup/variant]",
		Short: "Reads a record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := entity.ParseKey(args[0])
			if err != nil {
				return err
			}
			data, loaded, err := sharedStore.Get(record.StoreKey(util.GetNamespace(), key))
			if err != nil {
				return err
			}
			if !loaded {
				fmt.Printf("key=%s, found=false\n", key)
				return nil
			}
			rec, err := record.Decode(data)
			if err != nil {
				return err
			}
			fmt.Printf("key=%s, found=true, version=%d, payload=%s\n", key, rec.Version(), rec.Payload())
			return nil
		},
	}
	setCmd = &cobra.Command{
		Use:   "set [owner/subgroup/variant] [payload]",
		Short: "Writes a record directly, bypassing caches and locks",
		Long:  "Writes a record directly to the shared store. Running nodes only see the change after their cached copy is invalidated or expires; prefer the HTTP API of a node for coordinated writes.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := entity.ParseKey(args[0])
			if err != nil {
				return err
			}
			store := record.NewSharedStore(sharedStore, util.GetNamespace())

			// continue the version sequence if the record exists
			rec := record.New(key, []byte(args[1]))
			if existing, loaded, err := store.LoadEntity(key); err == nil && loaded {
				rec.SetVersion(existing.Version())
			}
			rec.SetVersion(rec.Version() + 1)

			if err := store.SaveEntity(rec); err != nil {
				return err
			}
			fmt.Printf("set successfully, version=%d\n", rec.Version())
			return nil
		},
	}
	delCmd = &cobra.Command{
		Use:   "del [owner/subgroup/variant]",
		Short: "Deletes a record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := entity.ParseKey(args[0])
			if err != nil {
				return err
			}
			if err := sharedStore.Delete(record.StoreKey(util.GetNamespace(), key)); err != nil {
				return err
			}
			fmt.Println("delete successfully")
			return nil
		},
	}
	listCmd = &cobra.Command{
		Use:   "list [prefix]",
		Short: "Lists record keys, optionally filtered by a key prefix",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prefix := ""
			if len(args) == 1 {
				prefix = args[0]
			}
			storePrefix := util.GetNamespace() + ":entity:" + prefix
			keys, err := sharedStore.Keys(storePrefix)
			if err != nil {
				return err
			}
			for _, k := range keys {
				fmt.Println(strings.TrimPrefix(k, util.GetNamespace()+":entity:"))
			}
			fmt.Printf("%d record(s)\n", len(keys))
			return nil
		},
	}
)
