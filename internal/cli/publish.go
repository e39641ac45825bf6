package cli

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/pys60/pysbuild/internal/db"
	"github.com/pys60/pysbuild/internal/publish"
)

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Upload a finished work area to the release bucket",
	Long: `publish copies every file of the work area to
<prefix>/<release>/<path> in the configured S3 compatible bucket. The release
name defaults to the version and tag of the most recent successful run in the
ledger.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadSettings(cmd)
		if err != nil {
			return err
		}
		ctx := commandContext(cmd, s)
		workArea, _ := cmd.Flags().GetString("work-area")
		release, _ := cmd.Flags().GetString("release")

		if release == "" {
			d, cleanup, err := openLedger(s)
			if err != nil {
				return fmt.Errorf("no --release given and the ledger is unavailable: %w", err)
			}
			defer cleanup()
			runs, err := d.ListRuns(0)
			if err != nil {
				return err
			}
			for _, r := range runs {
				if r.Status == db.StatusSucceeded {
					release = r.Version + r.VersionTag
					if r.WorkArea != "" && !cmd.Flags().Changed("work-area") {
						workArea = r.WorkArea
					}
					break
				}
			}
			if release == "" {
				return fmt.Errorf("no successful run recorded; pass --release")
			}
		}

		store, err := publish.NewS3Store(s.Publish)
		if err != nil {
			return err
		}
		p := &publish.Publisher{Store: store, Prefix: s.Publish.Prefix}
		uploaded, err := p.Publish(ctx, workArea, release)
		var total int64
		for _, u := range uploaded {
			total += u.Size
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Published %d file(s), %s, to %s/%s\n",
			len(uploaded), humanize.Bytes(uint64(total)), store.Bucket(), publish.ObjectKey(s.Publish.Prefix, release))
		return err
	},
}

func init() {
	publishCmd.Flags().String("work-area", "build", "Work area to upload")
	publishCmd.Flags().String("release", "", "Release name (default: version and tag of the last successful run)")
}
