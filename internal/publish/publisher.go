package publish

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
)

// Artifact is one published file, addressable through the public tree.
type Artifact struct {
	RelativePath string `json:"path"`
	SizeBytes    int64  `json:"size_bytes"`
	PublicURL    string `json:"url"`
}

// Publisher mirrors a completed job's install directory into the
// public-facing tree. Symbolic links are preferred; when linking fails
// (cross-filesystem, unsupported platform, permissions) the file is copied
// byte for byte instead.
type Publisher struct {
	urlPrefix string
}

// NewPublisher creates a publisher whose artifact URLs are rooted at
// urlPrefix, e.g. "/public".
func NewPublisher(urlPrefix string) *Publisher {
	return &Publisher{urlPrefix: urlPrefix}
}

// Publish walks every file under srcDir and recreates the same relative path
// under dstDir. Existing destination entries are treated as already published
// and skipped, so publishing twice is idempotent and yields the same artifact
// list. The returned artifacts are in walk (lexical) order.
func (p *Publisher) Publish(jobID, srcDir, dstDir string) ([]Artifact, error) {
	var artifacts []Artifact

	err := filepath.WalkDir(srcDir, func(srcPath string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(srcDir, srcPath)
		if err != nil {
			return err
		}
		dstPath := filepath.Join(dstDir, rel)

		if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
			return fmt.Errorf("create directory for %s: %w", rel, err)
		}

		// An existing destination entry means this file was published by an
		// earlier run; never overwrite it silently.
		if _, err := os.Lstat(dstPath); err == nil {
			artifacts = append(artifacts, p.artifact(jobID, rel, srcPath))
			return nil
		}

		if err := os.Symlink(srcPath, dstPath); err != nil {
			if copyErr := copyFile(srcPath, dstPath); copyErr != nil {
				return fmt.Errorf("publish %s: symlink failed (%v), copy failed: %w", rel, err, copyErr)
			}
		}

		artifacts = append(artifacts, p.artifact(jobID, rel, srcPath))
		return nil
	})
	if err != nil {
		return nil, err
	}

	return artifacts, nil
}

func (p *Publisher) artifact(jobID, rel, srcPath string) Artifact {
	var size int64
	if info, err := os.Stat(srcPath); err == nil {
		size = info.Size()
	}
	return Artifact{
		RelativePath: filepath.ToSlash(rel),
		SizeBytes:    size,
		PublicURL:    path.Join(p.urlPrefix, jobID, filepath.ToSlash(rel)),
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, info.Mode().Perm())
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}
