package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dshills/devspace/github"
	"github.com/dshills/devspace/workflow"
)

// ImportWorkflow is the name of the workflow that copies a GitHub
// repository into a project.
const ImportWorkflow = "github-import"

// ImportRun is the state of a github-import run.
type ImportRun struct {
	ProjectID int64  `json:"projectId"`
	UserID    string `json:"userId"`
	Owner     string `json:"owner"`
	Repo      string `json:"repo"`

	// Branch is the requested branch; empty means the default branch.
	Branch string `json:"branch,omitempty"`
	Path   string `json:"path,omitempty"`

	// Ref is the branch resolved by the resolve-ref step.
	Ref string `json:"ref,omitempty"`

	Stats ImportStats `json:"stats"`

	token string
}

// ImportStats counts what an import stored and skipped.
type ImportStats struct {
	Folders int `json:"folders"`
	Files   int `json:"files"`
	Blobs   int `json:"blobs"`
	Skipped int `json:"skipped"`
}

type importWorkflow struct {
	repo    Repository
	github  GitHubClient
	tokens  AccessTokens
	storage BlobStorage
	logger  *slog.Logger
}

func (w *importWorkflow) definition() workflow.Definition[ImportRun] {
	return workflow.Definition[ImportRun]{
		Name: ImportWorkflow,
		Steps: []workflow.Step[ImportRun]{
			{Name: "resolve-ref", Run: w.resolveRef},
			{Name: "import-tree", Run: w.importTree, Policy: workflow.StepPolicy{RetryPolicy: workflow.NoRetry()}},
			{Name: "mark-completed", Run: w.markCompleted},
		},
		OnFailure: w.markFailed,
	}
}

func (w *importWorkflow) resolveRef(ctx context.Context, _ *workflow.StepContext, run *ImportRun) error {
	token, err := w.tokens.GitHubToken(ctx, run.UserID)
	if err != nil {
		return fmt.Errorf("resolve access token: %w", err)
	}
	run.token = token

	if run.Branch != "" {
		run.Ref = run.Branch
		return nil
	}
	branch, err := w.github.DefaultBranch(ctx, token, run.Owner, run.Repo)
	if err != nil {
		return workflow.Fatal(fmt.Errorf("get default branch of %s/%s: %w", run.Owner, run.Repo, err))
	}
	run.Ref = branch
	return nil
}

type dirTask struct {
	path     string
	parentID *int64
}

// importTree walks the repository with an explicit stack so deep trees do
// not grow the goroutine stack.
func (w *importWorkflow) importTree(ctx context.Context, _ *workflow.StepContext, run *ImportRun) error {
	log := w.logger.With("project_id", run.ProjectID, "repo", run.Owner+"/"+run.Repo, "ref", run.Ref)
	run.Stats = ImportStats{}

	stack := []dirTask{{path: run.Path}}
	for len(stack) > 0 {
		task := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		entries, err := w.github.ListContents(ctx, run.token, run.Owner, run.Repo, task.path, run.Ref)
		if err != nil {
			return fmt.Errorf("list %q: %w", task.path, err)
		}

		for _, entry := range entries {
			if ShouldIgnore(entry.Name) {
				run.Stats.Skipped++
				continue
			}

			switch entry.Type {
			case "dir":
				folder, err := w.folder(ctx, run.ProjectID, task.parentID, entry.Name)
				if err != nil {
					return err
				}
				run.Stats.Folders++
				stack = append(stack, dirTask{path: entry.Path, parentID: &folder.ID})

			case "file":
				stored, err := w.importFile(ctx, log, run, task.parentID, entry)
				if err != nil {
					return err
				}
				if !stored {
					run.Stats.Skipped++
				}

			default:
				run.Stats.Skipped++
			}
		}
	}

	log.Info("repository imported",
		"folders", run.Stats.Folders, "files", run.Stats.Files,
		"blobs", run.Stats.Blobs, "skipped", run.Stats.Skipped)
	return nil
}

// folder returns the folder named name under parentID, creating it when it
// does not exist yet.
func (w *importWorkflow) folder(ctx context.Context, projectID int64, parentID *int64, name string) (File, error) {
	existing, err := w.repo.FindChild(ctx, projectID, parentID, name)
	if err == nil && existing.Type == TypeFolder {
		return existing, nil
	}
	if err != nil && !errors.Is(err, ErrNotFound) {
		return File{}, fmt.Errorf("find folder %q: %w", name, err)
	}

	created, err := w.repo.CreateFile(ctx, File{
		ProjectID: projectID,
		ParentID:  parentID,
		Name:      name,
		Type:      TypeFolder,
	})
	if err != nil {
		return File{}, fmt.Errorf("create folder %q: %w", name, err)
	}
	return created, nil
}

// importFile stores one file and reports whether it did. Download and
// upload failures skip the file; only repository errors fail the step.
func (w *importWorkflow) importFile(ctx context.Context, log *slog.Logger, run *ImportRun, parentID *int64, entry github.Content) (bool, error) {
	if entry.Size > MaxImportFileSize || entry.DownloadURL == "" {
		return false, nil
	}

	data, err := w.github.Download(ctx, run.token, entry.DownloadURL, MaxImportFileSize)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		log.Warn("skip file", "path", entry.Path, "error", err)
		return false, nil
	}

	row := File{ProjectID: run.ProjectID, ParentID: parentID, Name: entry.Name, Type: TypeFile}
	if IsBinary(entry.Name) {
		url, err := w.storage.Upload(ctx, data, entry.Name)
		if err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			log.Warn("skip file", "path", entry.Path, "error", err)
			return false, nil
		}
		row.FileURL = url
		row.MimeType = MimeType(entry.Name)
	} else {
		if LooksBinary(data) {
			return false, nil
		}
		row.Content = string(data)
	}

	if _, err := w.repo.CreateFile(ctx, row); err != nil {
		if row.FileURL != "" {
			_ = w.storage.Delete(context.WithoutCancel(ctx), row.FileURL)
		}
		return false, fmt.Errorf("create file %s: %w", entry.Path, err)
	}
	if row.FileURL != "" {
		run.Stats.Blobs++
	} else {
		run.Stats.Files++
	}
	return true, nil
}

func (w *importWorkflow) markCompleted(ctx context.Context, _ *workflow.StepContext, run *ImportRun) error {
	return w.repo.SetImportStatus(ctx, run.ProjectID, ImportCompleted)
}

func (w *importWorkflow) markFailed(ctx context.Context, run *ImportRun, cause error) {
	if err := w.repo.SetImportStatus(ctx, run.ProjectID, ImportFailed); err != nil {
		w.logger.Error("mark import failed",
			"project_id", run.ProjectID, "cause", cause, "error", err)
	}
}
