package entity

// ConfigVersion is an immutable, hashed snapshot of a manifest plus its
// script package. Supplied by the config provider; never mutated here.
type ConfigVersion struct {
	ID          string `json:"id"`
	PackagePath string `json:"package_path"`
	FilesHash   string `json:"files_hash,omitempty"`
	PackageHash string `json:"package_hash,omitempty"`
}
