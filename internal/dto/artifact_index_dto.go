package dto

// ArtifactReindexReport summarises one scan of the artifact store.
type ArtifactReindexReport struct {
	DryRun            bool     `json:"dry_run"`
	ProblemsProcessed int      `json:"problems_processed"`
	FilesFound        int      `json:"files_found"`
	EntriesCreated    int      `json:"entries_created"`
	EntriesExisted    int      `json:"entries_existed"`
	FilesOrphaned     int      `json:"files_orphaned"`
	Errors            int      `json:"errors"`
	Issues            []string `json:"issues"`
}
