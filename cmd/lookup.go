package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/geotag/gazetteer/internal/store"
)

var lookupCmd = &cobra.Command{
	Use:   "lookup",
	Short: "List places near a point",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		f := cmd.Flags()
		lat, _ := f.GetFloat64("lat")
		lon, _ := f.GetFloat64("lon")
		hash, _ := f.GetString("geohash")
		radius, _ := f.GetFloat64("radius")
		cc, _ := f.GetString("cc")
		method, _ := f.GetString("method")
		limit, _ := f.GetInt("limit")

		if hash == "" && (!f.Changed("lat") || !f.Changed("lon")) {
			return eris.New("lookup: --lat and --lon, or --geohash, are required")
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		found, err := st.ListNear(ctx, store.NearQuery{
			Lat:     lat,
			Lon:     lon,
			Geohash: hash,
			Radius:  radius,
			Country: cc,
			Limit:   limit,
			Method:  method,
		})
		if err != nil {
			return err
		}
		if len(found) == 0 {
			fmt.Fprintln(os.Stderr, "No places found.")
			return nil
		}
		formatNear(os.Stdout, found)
		return nil
	},
}

// formatNear writes a tabular list of nearby places to out.
func formatNear(out io.Writer, found []store.NearPlace) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "DIST_M\tID\tPLACE_ID\tNAME\tFEATURE\tCC\tADM1\tSOURCE")
	_, _ = fmt.Fprintln(w, "------\t--\t--------\t----\t-------\t--\t----\t------")
	for _, n := range found {
		p := n.Place
		_, _ = fmt.Fprintf(w, "%.0f\t%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			n.Distance, p.ID, p.PlaceID, p.Name, p.Feature(), p.CountryCode, p.Adm1, p.Source)
	}
	_ = w.Flush()
}

func init() {
	f := lookupCmd.Flags()
	f.Float64("lat", 0, "latitude")
	f.Float64("lon", 0, "longitude")
	f.String("geohash", "", "geohash of the point, instead of --lat/--lon")
	f.Float64("radius", store.DefaultNearRadius, "radius in meters")
	f.String("cc", "", "country code filter")
	f.String("method", "", "2d or geohash (default 2d, or geohash with --geohash)")
	f.Int("limit", store.DefaultNearLimit, "maximum places")
	rootCmd.AddCommand(lookupCmd)
}
