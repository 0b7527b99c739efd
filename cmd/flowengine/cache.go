package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/flowengine/flowengine/pkg/loader"
)

func newCacheCmd() *cobra.Command {
	var maxSize int
	var maxAge time.Duration

	root := &cobra.Command{
		Use:   "cache",
		Short: "Inspect the workflow loader's LRU+TTL cache",
	}

	stats := &cobra.Command{
		Use:   "stats <directory>",
		Short: "Load every workflow under a directory into a cache and print its statistics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := loader.Load(args[0])
			if err != nil {
				return err
			}
			c := loader.NewCache(maxSize, maxAge)
			for _, wf := range result.Workflows {
				c.Set(wf.FilePath, wf)
			}
			for _, wf := range result.Workflows {
				c.Get(wf.FilePath)
			}
			s := c.Stats()
			fmt.Printf("entries: %d\nhits: %d\nmisses: %d\nevictions: %d\nestimated memory: %d bytes\n",
				len(c.GetAllWorkflows()), s.Hits, s.Misses, s.Evictions, s.EstimatedMemory)
			return nil
		},
	}
	stats.Flags().IntVar(&maxSize, "max-size", 100, "maximum cache entries before LRU eviction")
	stats.Flags().DurationVar(&maxAge, "max-age", 0, "TTL per cache entry (0 = never expires)")

	root.AddCommand(stats)
	return root
}
