package main

import (
	"fmt"

	"github.com/NotCoffee418/sml_power_meter/pkg/aggregator"
	"github.com/NotCoffee418/sml_power_meter/pkg/meterdb"
	"github.com/NotCoffee418/sml_power_meter/pkg/serialport"
	"github.com/spf13/cobra"
)

var listPortsCmd = &cobra.Command{
	Use:   "list-ports",
	Short: "List serial devices the meter may be attached to",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ports, err := serialport.ListPorts()
		if err != nil {
			return fmt.Errorf("could not fetch available ports: %w", err)
		}
		if len(ports) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No ports available.")
		}
		for _, p := range ports {
			fmt.Fprintln(cmd.OutOrStdout(), p)
		}
		return nil
	},
}

var databaseCmd = &cobra.Command{
	Use:   "database",
	Short: "Show database location, reading count and size",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		db, err := meterdb.OpenReadonly(cfg.DatabasePath)
		if err != nil {
			return err
		}
		defer db.Close()

		metrics, err := db.Metrics(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), metrics)
		return nil
	},
}

var aggregateCmd = &cobra.Command{
	Use:   "aggregate",
	Short: "Run one aggregation and cleanup pass",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		db, err := meterdb.Open(cfg.DatabasePath)
		if err != nil {
			return err
		}
		defer db.Close()

		res, err := aggregator.New(db, cfg.RetentionDays).AggregateAndCleanup(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d hourly and %d daily aggregates written, %d readings removed\n",
			res.Hourly, res.Daily, res.Deleted)
		return nil
	},
}
