package storage

import "fmt"

// NewCatalog builds the artifact catalog for the configured backend ("file" or "minio").
func NewCatalog(backend, root string, minioCfg MinIOConfig) (ArtifactCatalog, error) {
	switch backend {
	case "minio":
		return NewMinIOStore(minioCfg)
	case "file", "":
		return NewFileStore(root), nil
	default:
		return nil, fmt.Errorf("unknown artifact backend %q", backend)
	}
}
