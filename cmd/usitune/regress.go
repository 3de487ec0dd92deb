package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"usitune/internal/regress"
)

var (
	regressConfig    string
	regressScenarios []string
)

// regressCmd runs the declared regression scenarios
var regressCmd = &cobra.Command{
	Use:   "regress",
	Short: "Replay regression scenarios and check declared bounds",
	Long: `Loads scenarios from the YAML config, replays each declared prefix in a
fresh engine session, and checks scores, selective depth, and best moves
against the scenario's bounds. A failing scenario never stops the rest;
the exit code reflects whether any scenario failed.`,
	RunE: runRegress,
}

func init() {
	regressCmd.Flags().StringVar(&regressConfig, "config", "", "Scenario config YAML (required)")
	regressCmd.Flags().StringArrayVar(&regressScenarios, "scenario", nil, "Scenario name to run (repeatable; default: all)")
	_ = regressCmd.MarkFlagRequired("config")
}

func runRegress(cmd *cobra.Command, args []string) error {
	if err := requireEngine(); err != nil {
		return err
	}

	scenarios, err := regress.LoadScenarios(regressConfig, regressScenarios)
	if err != nil {
		return err
	}

	suite := regress.NewSuite(scenarios, regress.EngineReplay(engine, logger), logger)
	results, failed := suite.Run(cmd.Context())

	nFailed := 0
	for _, res := range results {
		if res.Passed {
			fmt.Printf("[regress] %s: PASS (%d prefixes)\n", res.Name, res.Prefixes)
			continue
		}
		nFailed++
		fmt.Printf("[regress] %s: FAIL: %s\n", res.Name, res.Reason)
	}
	if failed {
		return fmt.Errorf("%d of %d scenarios failed", nFailed, len(results))
	}
	return nil
}
