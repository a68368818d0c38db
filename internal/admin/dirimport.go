package admin

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"sort"

	"github.com/JonMunkholm/impex/internal/core"
	"github.com/spf13/afero"
)

// DirOptions configures ImportDir.
type DirOptions struct {
	// Resources lists the subdirectories to process, in order. Each name is
	// a resource key. Empty means every subdirectory naming a registered
	// resource, sorted by name.
	Resources []string

	// AutoConfirm confirms jobs that parse cleanly.
	AutoConfirm bool

	// ForceImport skips invalid rows instead of failing the job.
	ForceImport bool

	// RemoveImported deletes a file once its job reaches IMPORTED.
	RemoveImported bool

	CreatedBy string
}

// FileResult is the outcome of one file of a directory import.
type FileResult struct {
	Resource string
	File     string
	Job      *core.ImportJob
	Err      error
}

// ImportDir creates an import job for every supported file under
// root/<resource>/. Files are processed one at a time; a failing file is
// recorded and the walk continues.
//
// With a synchronous runner each job has finished parsing, and importing
// when confirmed, by the time its FileResult is recorded.
func ImportDir(ctx context.Context, svc *core.Service, fs afero.Fs, root string, opts DirOptions) ([]FileResult, error) {
	resources := opts.Resources
	if len(resources) == 0 {
		var err error
		resources, err = resourceDirs(fs, root, svc.Registry())
		if err != nil {
			return nil, err
		}
	}

	var results []FileResult
	for _, key := range resources {
		if _, ok := svc.Registry().Get(key); !ok {
			return results, fmt.Errorf("%w: %s", core.ErrUnknownResource, key)
		}

		dir := path.Join(root, key)
		entries, err := afero.ReadDir(fs, dir)
		if err != nil {
			return results, fmt.Errorf("reading directory %s: %w", dir, err)
		}

		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			if _, _, err := svc.Formats().ForFile(entry.Name()); err != nil {
				continue
			}
			if err := ctx.Err(); err != nil {
				return results, fmt.Errorf("operation cancelled: %w", err)
			}

			res := importFile(ctx, svc, fs, dir, key, entry.Name(), opts)
			if res.Err != nil {
				slog.Warn("import file failed", "resource", key, "file", res.File, "error", res.Err)
			}
			results = append(results, res)
		}
	}
	return results, nil
}

func importFile(ctx context.Context, svc *core.Service, fs afero.Fs, dir, key, name string, opts DirOptions) FileResult {
	p := path.Join(dir, name)
	res := FileResult{Resource: key, File: p}

	f, err := fs.Open(p)
	if err != nil {
		res.Err = err
		return res
	}
	job, err := svc.CreateImportJob(ctx, core.ImportRequest{
		Resource:    core.ResourceRef{Name: key},
		FileName:    name,
		Data:        f,
		ForceImport: opts.ForceImport,
		CreatedBy:   opts.CreatedBy,
	})
	f.Close()
	if err != nil {
		res.Err = err
		return res
	}
	res.Job = job

	if opts.AutoConfirm && job.Status == core.ImportParsed {
		if res.Job, err = svc.Confirm(ctx, job.ID); err != nil {
			res.Err = err
			return res
		}
	}

	if opts.RemoveImported && res.Job.Status == core.ImportImported {
		if err := fs.Remove(p); err != nil {
			res.Err = fmt.Errorf("remove imported file %s: %w", name, err)
		}
	}
	return res
}

// resourceDirs lists the subdirectories of root that name a resource.
func resourceDirs(fs afero.Fs, root string, reg *core.Registry) ([]string, error) {
	entries, err := afero.ReadDir(fs, root)
	if err != nil {
		return nil, fmt.Errorf("reading directory %s: %w", root, err)
	}
	var keys []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, ok := reg.Get(entry.Name()); ok {
			keys = append(keys, entry.Name())
		}
	}
	sort.Strings(keys)
	return keys, nil
}
