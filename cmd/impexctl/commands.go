package main

import (
	"github.com/urfave/cli/v3"
)

func newCommand() *cli.Command {
	return &cli.Command{
		Name:  "impexctl",
		Usage: "Run and inspect import/export jobs",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "env",
				Usage: "environment file to load",
				Value: ".env",
			},
			&cli.StringFlag{
				Name:  "actor",
				Usage: "name recorded as the job creator (default: $USER)",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "import",
				Usage:     "Parse a file and optionally import it",
				ArgsUsage: "<file>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "resource",
						Aliases:  []string{"r"},
						Usage:    "resource key",
						Required: true,
					},
					&cli.BoolFlag{
						Name:  "confirm",
						Usage: "import right away when the parse is clean",
					},
					&cli.BoolFlag{
						Name:  "skip-parse",
						Usage: "import without a separate parse step",
					},
					&cli.BoolFlag{
						Name:  "force",
						Usage: "skip invalid rows instead of failing",
					},
				},
				Action: withApp(importAction),
			},
			{
				Name:      "import-dir",
				Usage:     "Import every file under <dir>/<resource>/",
				ArgsUsage: "<dir>",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{
						Name:  "resources",
						Usage: "resource subdirectories to process, in order (default: all)",
					},
					&cli.BoolFlag{
						Name:  "confirm",
						Usage: "import files that parse cleanly",
					},
					&cli.BoolFlag{
						Name:  "force",
						Usage: "skip invalid rows instead of failing",
					},
					&cli.BoolFlag{
						Name:  "remove",
						Usage: "delete files once imported",
					},
				},
				Action: withApp(importDirAction),
			},
			{
				Name:  "export",
				Usage: "Render a resource to a file",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "resource",
						Aliases:  []string{"r"},
						Usage:    "resource key",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "format",
						Usage: "output format extension",
						Value: "csv",
					},
					&cli.StringSliceFlag{
						Name:  "order",
						Usage: "ordering attributes, prefix with - for descending",
					},
					&cli.StringSliceFlag{
						Name:  "filter",
						Usage: "attribute=value filters",
					},
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "copy the rendered file here, - for stdout",
					},
				},
				Action: withApp(exportAction),
			},
			{
				Name:      "confirm",
				Usage:     "Import a parsed job",
				ArgsUsage: "<job-id>",
				Action:    withApp(confirmAction),
			},
			{
				Name:      "cancel",
				Usage:     "Cancel an import or export job",
				ArgsUsage: "<job-id>",
				Action:    withApp(cancelAction),
			},
			{
				Name:      "status",
				Usage:     "Show a job as JSON",
				ArgsUsage: "<job-id>",
				Action:    withApp(statusAction),
			},
			{
				Name:  "jobs",
				Usage: "List recent jobs",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "kind",
						Usage: "import or export",
						Value: "import",
					},
					&cli.StringFlag{
						Name:  "status",
						Usage: "only jobs with this status",
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "maximum jobs shown",
						Value: 20,
					},
				},
				Action: withApp(jobsAction),
			},
			{
				Name:   "formats",
				Usage:  "List supported file formats",
				Action: withApp(formatsAction),
			},
			{
				Name:   "resources",
				Usage:  "List resources and their columns",
				Action: withApp(resourcesAction),
			},
			{
				Name:  "reset",
				Usage: "Delete every entity of every resource",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "yes",
						Usage: "confirm the deletion",
					},
				},
				Action: withApp(resetAction),
			},
		},
	}
}
