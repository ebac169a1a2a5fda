package providers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rowforge/rowforge/constants"
	"github.com/rowforge/rowforge/internal/common"
	"github.com/rowforge/rowforge/internal/entity"
	"github.com/rowforge/rowforge/internal/execx"
	"github.com/rowforge/rowforge/internal/manifest"
)

// FSConfigProvider serves config versions from a directory tree:
// <root>/<version>/manifest.json plus <root>/<version>/package/.
type FSConfigProvider struct {
	Root string
	Pool *execx.Pool
}

func (p *FSConfigProvider) GetManifest(ctx context.Context, versionID string) (*manifest.Manifest, error) {
	path := filepath.Join(p.Root, versionID, "manifest.json")
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, common.WrapError(common.ErrNotFound, fmt.Sprintf("config version %s", versionID))
	}
	return manifest.Parse(b)
}

func (p *FSConfigProvider) GetPackagePath(ctx context.Context, versionID string) (*entity.ConfigVersion, error) {
	dir := filepath.Join(p.Root, versionID, "package")
	if _, err := os.Stat(dir); err != nil {
		return nil, common.WrapError(common.ErrNotFound, fmt.Sprintf("config package %s", versionID))
	}
	cv := &entity.ConfigVersion{ID: versionID, PackagePath: dir}

	// Package hashing goes through the blocking pool: bundles can be large.
	hash := func() error {
		filesHash, pkgHash, err := hashPackage(dir)
		if err != nil {
			return err
		}
		cv.FilesHash = filesHash
		cv.PackageHash = pkgHash
		return nil
	}
	var err error
	if p.Pool != nil {
		err = p.Pool.Do(ctx, hash)
	} else {
		err = hash()
	}
	if err != nil {
		return nil, fmt.Errorf("hash package %s: %w", versionID, err)
	}
	return cv, nil
}

// hashPackage returns a hash over file names and one over file contents,
// walked in deterministic order.
func hashPackage(dir string) (string, string, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !d.IsDir() {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return "", "", err
	}
	sort.Strings(paths)

	names := sha256.New()
	contents := sha256.New()
	for _, path := range paths {
		rel, _ := filepath.Rel(dir, path)
		names.Write([]byte(rel))
		names.Write([]byte{0})
		f, err := os.Open(path)
		if err != nil {
			return "", "", err
		}
		_, err = io.Copy(contents, f)
		f.Close()
		if err != nil {
			return "", "", err
		}
	}
	return hex.EncodeToString(names.Sum(nil)), hex.EncodeToString(contents.Sum(nil)), nil
}

// FSDocumentProvider resolves document ids as relative paths under a root
// directory, hashing content on resolve.
type FSDocumentProvider struct {
	Root string
	Pool *execx.Pool
}

func (p *FSDocumentProvider) Resolve(ctx context.Context, documentID string) (*ResolvedDocument, error) {
	clean := filepath.Clean(documentID)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) || filepath.IsAbs(clean) {
		return nil, common.WrapError(common.ErrInvalidInput, fmt.Sprintf("document id %q", documentID))
	}
	if _, ok := constants.AllowedExtensions[constants.NormalizeExt(filepath.Ext(clean))]; !ok {
		return nil, common.WrapError(common.ErrInvalidInput, fmt.Sprintf("unsupported document type %q", filepath.Ext(clean)))
	}
	path := filepath.Join(p.Root, clean)
	if _, err := os.Stat(path); err != nil {
		return nil, common.WrapError(common.ErrNotFound, fmt.Sprintf("document %s", documentID))
	}

	var sum string
	hash := func() error {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		h := sha256.New()
		if _, err := io.Copy(h, f); err != nil {
			return err
		}
		sum = hex.EncodeToString(h.Sum(nil))
		return nil
	}
	var err error
	if p.Pool != nil {
		err = p.Pool.Do(ctx, hash)
	} else {
		err = hash()
	}
	if err != nil {
		return nil, fmt.Errorf("hash document %s: %w", documentID, err)
	}

	return &ResolvedDocument{
		DocumentID: documentID,
		Path:       path,
		Filename:   filepath.Base(path),
		SHA256:     sum,
	}, nil
}
