package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/pys60/pysbuild/internal/catalog"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Inspect the flavor, platform and SDK catalog",
}

var catalogListCmd = &cobra.Command{
	Use:   "list",
	Short: "List flavors, platforms and SDK profiles",
	RunE: func(cmd *cobra.Command, args []string) error {
		cat, err := loadCatalog(cmd)
		if err != nil {
			return err
		}

		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			data, _ := json.MarshalIndent(cat, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "FLAVOR\tKEY\tUID\tCAPABILITIES")
		for _, f := range cat.Flavors {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", f.Name, dash(f.Key), dash(f.UID), f.Caps)
		}
		fmt.Fprintln(w)
		fmt.Fprintln(w, "PLATFORM\tDELIVERABLES")
		for _, p := range cat.Platforms {
			kinds := make([]string, 0, len(p.Deliverables))
			for _, d := range p.Deliverables {
				kinds = append(kinds, string(d.Kind))
			}
			fmt.Fprintf(w, "%s\t%s\n", p.Name, strings.Join(kinds, ", "))
		}
		fmt.Fprintln(w)
		fmt.Fprintln(w, "SDK\tS60\tDEVICE\tNAME")
		for _, s := range cat.SDKs {
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", s.Name, s.S60Version, s.DevicePlatform, s.SDKName)
		}
		return w.Flush()
	},
}

var catalogValidateCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Validate a catalog override file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := ""
		if len(args) == 1 {
			path = args[0]
		} else {
			s, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			path = s.Catalog
		}
		if path == "" {
			fmt.Fprintln(cmd.OutOrStdout(), "No catalog override configured; the built-in catalog is used.")
			return nil
		}

		cat, err := catalog.Load(path)
		if err != nil {
			return err
		}
		errs := catalog.Validate(cat)
		w := cmd.OutOrStdout()
		for _, e := range errs {
			fmt.Fprintf(w, "  %s\n", e.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s: %d problem(s)", path, len(errs))
		}
		fmt.Fprintf(w, "%s: ok (%d flavors, %d platforms, %d SDKs)\n", path, len(cat.Flavors), len(cat.Platforms), len(cat.SDKs))
		return nil
	},
}

var catalogShowCmd = &cobra.Command{
	Use:   "show [flavor|platform|sdk] [name]",
	Short: "Print one catalog entry as YAML",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cat, err := loadCatalog(cmd)
		if err != nil {
			return err
		}
		kind, name := args[0], args[1]
		var (
			entry any
			ok    bool
		)
		switch kind {
		case "flavor":
			entry, ok = cat.Flavor(name)
		case "platform":
			entry, ok = cat.Platform(name)
		case "sdk":
			entry, ok = cat.SDK(name)
		default:
			return fmt.Errorf("unknown entry kind %q (want flavor, platform or sdk)", kind)
		}
		if !ok {
			return fmt.Errorf("%s %q not found", kind, name)
		}
		data, err := yaml.Marshal(entry)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", kind, err)
		}
		fmt.Fprint(cmd.OutOrStdout(), string(data))
		return nil
	},
}

// loadCatalog returns the catalog selected by --file, the settings or the
// built-in one.
func loadCatalog(cmd *cobra.Command) (*catalog.Catalog, error) {
	if path, _ := cmd.Flags().GetString("file"); path != "" {
		return catalog.LoadOrBuiltin(path)
	}
	s, err := loadSettings(cmd)
	if err != nil {
		return nil, err
	}
	return catalog.LoadOrBuiltin(s.Catalog)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func init() {
	catalogListCmd.Flags().String("format", "text", "Output format: text or json")
	catalogListCmd.Flags().String("file", "", "Catalog file (default: settings or built-in)")
	catalogShowCmd.Flags().String("file", "", "Catalog file (default: settings or built-in)")

	catalogCmd.AddCommand(catalogListCmd)
	catalogCmd.AddCommand(catalogValidateCmd)
	catalogCmd.AddCommand(catalogShowCmd)
}
