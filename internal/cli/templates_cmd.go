package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"photobooth/internal/storage"
	"photobooth/internal/templates"
)

func newTemplatesCmd(root *Root) *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "templates",
		Short: "List the templates the engine can compose into",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := root.registry
			if dir != "" {
				reg = templates.NewRegistry(dir, root.log)
			}
			if _, err := reg.Templates(); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "Some templates were skipped:\n%v\n", err)
			}
			list := reg.List()
			root.recordTemplates(list)

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tLAYOUT\tPHOTOS\tSLOTS\tSIZE\tCOLOR\tPATH")
			for _, d := range list {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%dx%d\t%s\t%s\n",
					d.ID, d.Layout, d.RequiredPhotos, len(d.Slots), d.Width(), d.Height(), d.ColorHex, d.AssetPath)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d templates in %s\n", len(list), reg.Dir())
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "template directory (default from config)")
	return cmd
}

// recordTemplates stores the descriptors so operators can see which template
// sets a kiosk has loaded.
func (r *Root) recordTemplates(list []*templates.Descriptor) {
	if r.store == nil {
		return
	}
	for _, d := range list {
		if err := r.store.RecordTemplate(storage.TemplateRecord{
			TemplateID:     d.ID,
			AssetPath:      d.AssetPath,
			Layout:         d.Layout,
			RequiredPhotos: d.RequiredPhotos,
			ColorHex:       d.ColorHex,
		}); err != nil {
			r.log.Warn("failed to record template", "template", d.ID, "error", err)
		}
	}
}
