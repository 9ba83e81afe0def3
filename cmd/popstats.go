package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/geotag/gazetteer/internal/admincodes"
	"github.com/geotag/gazetteer/internal/popstats"
)

var popstatsCmd = &cobra.Command{
	Use:   "popstats [cities-file]",
	Short: "Rebuild population statistics from a major cities file",
	Long: "Loads a geonames cities file (default resources.major_cities), converts FIPS ADM1 codes to ISO " +
		"using the stored admin1 codes, and replaces the population statistics of the source.",
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		source, _ := cmd.Flags().GetString("source")

		path := resourcePath(cfg.Resources.MajorCities)
		if len(args) == 1 {
			path = args[0]
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		cities, err := popstats.LoadMajorCities(ctx, path)
		if err != nil {
			return err
		}
		reg, err := admincodes.Load(ctx, st)
		if err != nil {
			return err
		}
		problems := popstats.ToISO(cities, reg)

		n, err := popstats.Build(ctx, st, cities, source)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "population stats: %d cities from %s, %d countries missing ISO codes\n", n, path, len(problems))
		return nil
	},
}

var admin1Cmd = &cobra.Command{
	Use:   "admin1",
	Short: "Align FIPS and ISO ADM1 codes from the stored boundaries",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		reg, err := admincodes.Build(ctx, st)
		if err != nil {
			return err
		}
		if err := reg.Save(ctx, st); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "admin1 codes: %d saved\n", len(reg.Codes()))
		return nil
	},
}

func init() {
	popstatsCmd.Flags().String("source", "G", "population statistics source label")
	rootCmd.AddCommand(popstatsCmd)
	rootCmd.AddCommand(admin1Cmd)
}
