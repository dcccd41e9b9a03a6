package proto

// ArtifactInfo describes a stored artifact file.
type ArtifactInfo struct {
	Name      string `json:"name"`
	Size      int64  `json:"size"`
	SizeHuman string `json:"size_human"`
	CreatedAt Time   `json:"created_at"`
}

type ArtifactList struct {
	Artifacts []ArtifactInfo `json:"artifacts"`
}
