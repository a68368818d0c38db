package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/JonMunkholm/impex/internal/admin"
	"github.com/JonMunkholm/impex/internal/core"
	jsoniter "github.com/json-iterator/go"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/afero"
	"github.com/urfave/cli/v3"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func requireArg(cmd *cli.Command, name string) (string, error) {
	v := strings.TrimSpace(cmd.Args().First())
	if v == "" {
		return "", fmt.Errorf("%s is required", name)
	}
	return v, nil
}

func importAction(ctx context.Context, cmd *cli.Command, a *app) error {
	file, err := requireArg(cmd, "file")
	if err != nil {
		return err
	}
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	job, err := a.service.CreateImportJob(ctx, core.ImportRequest{
		Resource:      core.ResourceRef{Name: cmd.String("resource")},
		FileName:      filepath.Base(file),
		Data:          f,
		SkipParseStep: cmd.Bool("skip-parse"),
		ForceImport:   cmd.Bool("force"),
		CreatedBy:     actor(cmd),
	})
	if err != nil {
		return err
	}
	if cmd.Bool("confirm") && job.Status == core.ImportParsed {
		if job, err = a.service.Confirm(ctx, job.ID); err != nil {
			return err
		}
	}
	printImportJob(a.out, job)
	return nil
}

func importDirAction(ctx context.Context, cmd *cli.Command, a *app) error {
	dir, err := requireArg(cmd, "dir")
	if err != nil {
		return err
	}
	results, err := admin.ImportDir(ctx, a.service, afero.NewOsFs(), dir, admin.DirOptions{
		Resources:      cmd.StringSlice("resources"),
		AutoConfirm:    cmd.Bool("confirm"),
		ForceImport:    cmd.Bool("force"),
		RemoveImported: cmd.Bool("remove"),
		CreatedBy:      actor(cmd),
	})

	table := tablewriter.NewWriter(a.out)
	table.Header("File", "Resource", "Job", "Status", "Error")
	failed := 0
	for _, r := range results {
		id, status, msg := "", "", ""
		if r.Job != nil {
			id, status, msg = r.Job.ID, string(r.Job.Status), r.Job.ErrorMessage
		}
		if r.Err != nil {
			msg = r.Err.Error()
			failed++
		}
		_ = table.Append(r.File, r.Resource, id, status, msg)
	}
	_ = table.Render()

	if err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(results))
	}
	return nil
}

func exportAction(ctx context.Context, cmd *cli.Command, a *app) error {
	params, err := parseFilters(cmd.StringSlice("filter"))
	if err != nil {
		return err
	}
	job, err := a.service.CreateExportJob(ctx, core.ExportRequest{
		Resource:  core.ResourceRef{Name: cmd.String("resource"), Params: params},
		Format:    cmd.String("format"),
		Ordering:  cmd.StringSlice("order"),
		CreatedBy: actor(cmd),
	})
	if err != nil {
		return err
	}

	out := cmd.String("output")
	if out == "" || job.Status != core.ExportExported {
		printExportJob(a.out, job)
		return nil
	}

	_, _, rc, err := a.service.OpenExportOutput(ctx, job.ID)
	if err != nil {
		return err
	}
	defer rc.Close()

	if out == "-" {
		_, err = io.Copy(a.out, rc)
		return err
	}
	f, err := os.Create(out)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	printExportJob(a.out, job)
	fmt.Fprintf(a.out, "Written to:  %s\n", out)
	return nil
}

func parseFilters(raw []string) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	params := make(map[string]string, len(raw))
	for _, kv := range raw {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid filter %q: want attribute=value", kv)
		}
		params[strings.TrimSpace(k)] = v
	}
	return params, nil
}

func confirmAction(ctx context.Context, cmd *cli.Command, a *app) error {
	id, err := requireArg(cmd, "job id")
	if err != nil {
		return err
	}
	job, err := a.service.Confirm(ctx, id)
	if err != nil {
		return err
	}
	printImportJob(a.out, job)
	return nil
}

// cancelAction cancels the import job with the id, or the export job when
// no import has it.
func cancelAction(ctx context.Context, cmd *cli.Command, a *app) error {
	id, err := requireArg(cmd, "job id")
	if err != nil {
		return err
	}
	job, err := a.service.CancelImport(ctx, id)
	if err == nil {
		printImportJob(a.out, job)
		return nil
	}
	if !errors.Is(err, core.ErrNotFound) {
		return err
	}
	exp, err := a.service.CancelExport(ctx, id)
	if err != nil {
		return err
	}
	printExportJob(a.out, exp)
	return nil
}

func statusAction(ctx context.Context, cmd *cli.Command, a *app) error {
	id, err := requireArg(cmd, "job id")
	if err != nil {
		return err
	}

	var view struct {
		Kind     string        `json:"kind"`
		Job      any           `json:"job"`
		Progress core.Progress `json:"progress"`
	}
	if job, err := a.service.GetImportJob(ctx, id); err == nil {
		view.Kind, view.Job = "import", job
		if view.Progress, err = a.service.ImportProgress(ctx, id); err != nil {
			return err
		}
	} else if !errors.Is(err, core.ErrNotFound) {
		return err
	} else {
		job, err := a.service.GetExportJob(ctx, id)
		if err != nil {
			return err
		}
		view.Kind, view.Job = "export", job
		if view.Progress, err = a.service.ExportProgress(ctx, id); err != nil {
			return err
		}
	}

	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(view)
}

func jobsAction(ctx context.Context, cmd *cli.Command, a *app) error {
	f := core.JobFilter{Status: cmd.String("status"), Limit: cmd.Int("limit")}

	table := tablewriter.NewWriter(a.out)
	switch cmd.String("kind") {
	case "import":
		jobs, total, err := a.service.ListImportJobs(ctx, f)
		if err != nil {
			return err
		}
		table.Header("ID", "Resource", "Status", "Created By", "Created At")
		for _, j := range jobs {
			_ = table.Append(j.ID, j.Resource.Name, string(j.Status), j.CreatedBy, j.CreatedAt.Format("2006-01-02 15:04"))
		}
		_ = table.Render()
		fmt.Fprintf(a.out, "%d of %d import jobs\n", len(jobs), total)
	case "export":
		jobs, total, err := a.service.ListExportJobs(ctx, f)
		if err != nil {
			return err
		}
		table.Header("ID", "Resource", "Format", "Status", "Created By", "Created At")
		for _, j := range jobs {
			_ = table.Append(j.ID, j.Resource.Name, j.Format, string(j.Status), j.CreatedBy, j.CreatedAt.Format("2006-01-02 15:04"))
		}
		_ = table.Render()
		fmt.Fprintf(a.out, "%d of %d export jobs\n", len(jobs), total)
	default:
		return fmt.Errorf("unknown kind %q: want import or export", cmd.String("kind"))
	}
	return nil
}

func formatsAction(ctx context.Context, cmd *cli.Command, a *app) error {
	formats := a.service.Formats()
	table := tablewriter.NewWriter(a.out)
	table.Header("Extension", "Name", "Content Type")
	for _, ext := range formats.Extensions() {
		f, err := formats.Lookup(ext)
		if err != nil {
			continue
		}
		_ = table.Append(ext, f.Name(), f.ContentType())
	}
	return table.Render()
}

func resourcesAction(ctx context.Context, cmd *cli.Command, a *app) error {
	table := tablewriter.NewWriter(a.out)
	table.Header("Key", "Label", "Columns", "Ordering")
	for _, def := range a.service.Registry().All() {
		_ = table.Append(def.Info.Key, def.Info.Label, strings.Join(def.Columns(), ", "), strings.Join(def.Ordering, ", "))
	}
	return table.Render()
}

func resetAction(ctx context.Context, cmd *cli.Command, a *app) error {
	if !cmd.Bool("yes") {
		return errors.New("reset deletes every entity; pass --yes to proceed")
	}

	// Clear referencing entities before the ones they point at.
	ordered := dependencyOrder(a.service.Registry().All())
	entities := make([]string, 0, len(ordered))
	for i := len(ordered) - 1; i >= 0; i-- {
		entities = append(entities, ordered[i].Info.Entity)
	}
	deleted, err := admin.Reset(ctx, a.entities, entities)
	if err != nil {
		return err
	}
	for _, e := range entities {
		fmt.Fprintf(a.out, "%-12s %d deleted\n", e, deleted[e])
	}
	return nil
}

// dependencyOrder sorts definitions so every resource comes after the
// entities its foreign keys and relations reference.
func dependencyOrder(defs []*core.ResourceDefinition) []*core.ResourceDefinition {
	byEntity := make(map[string]*core.ResourceDefinition, len(defs))
	for _, d := range defs {
		byEntity[d.Info.Entity] = d
	}
	seen := make(map[string]bool, len(defs))
	var out []*core.ResourceDefinition
	var visit func(d *core.ResourceDefinition)
	visit = func(d *core.ResourceDefinition) {
		if seen[d.Info.Entity] {
			return
		}
		seen[d.Info.Entity] = true
		for _, f := range d.Fields {
			if f.ForeignKey != nil {
				if dep, ok := byEntity[f.ForeignKey.Entity]; ok {
					visit(dep)
				}
			}
		}
		out = append(out, d)
	}
	for _, d := range defs {
		visit(d)
	}
	return out
}

func printImportJob(w io.Writer, job *core.ImportJob) {
	fmt.Fprintf(w, "Import job:  %s\n", job.ID)
	fmt.Fprintf(w, "Resource:    %s\n", job.Resource.Name)
	fmt.Fprintf(w, "Status:      %s\n", job.Status)
	if job.Result != nil {
		for _, t := range []core.ImportType{
			core.ImportTypeNew, core.ImportTypeUpdate, core.ImportTypeDelete,
			core.ImportTypeSkip, core.ImportTypeError, core.ImportTypeInvalid,
		} {
			if n := job.Result.Totals[t]; n > 0 {
				fmt.Fprintf(w, "  %-10s %d\n", t, n)
			}
		}
	}
	if job.ErrorMessage != "" {
		fmt.Fprintf(w, "Error:       %s\n", job.ErrorMessage)
	}
}

func printExportJob(w io.Writer, job *core.ExportJob) {
	fmt.Fprintf(w, "Export job:  %s\n", job.ID)
	fmt.Fprintf(w, "Resource:    %s\n", job.Resource.Name)
	fmt.Fprintf(w, "Status:      %s\n", job.Status)
	if job.Result != nil {
		fmt.Fprintf(w, "Rows:        %d\n", job.Result.TotalRows)
	}
	if job.OutputFile != "" {
		fmt.Fprintf(w, "File:        %s\n", job.OutputFile)
	}
	if job.ErrorMessage != "" {
		fmt.Fprintf(w, "Error:       %s\n", job.ErrorMessage)
	}
}
