package sandbox

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// WriteTarFromDir writes the contents of srcDir to w as a tar stream. Entry
// names are relative to srcDir and placed under prefix when it is not empty.
func WriteTarFromDir(w io.Writer, srcDir, prefix string) error {
	tw := tar.NewWriter(w)

	if prefix != "" {
		if err := tw.WriteHeader(&tar.Header{
			Name:     prefix + "/",
			Mode:     DirPermission,
			Typeflag: tar.TypeDir,
		}); err != nil {
			return err
		}
	}

	err := filepath.Walk(srcDir, func(file string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		relPath, err := filepath.Rel(srcDir, file)
		if err != nil {
			return err
		}
		if relPath == "." {
			return nil
		}
		if !fi.Mode().IsRegular() && !fi.IsDir() {
			return nil
		}

		header, err := tar.FileInfoHeader(fi, "")
		if err != nil {
			return err
		}
		header.Name = path.Join(prefix, filepath.ToSlash(relPath))
		if fi.IsDir() {
			header.Name += "/"
		}

		if err := tw.WriteHeader(header); err != nil {
			return err
		}

		if fi.IsDir() {
			return nil
		}

		data, err := os.Open(file)
		if err != nil {
			return err
		}
		defer data.Close()

		_, err = io.Copy(tw, data)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to archive %s: %w", srcDir, err)
	}

	return tw.Close()
}

// ExtractTar extracts a tar stream into destDir, dropping the first
// stripComponents path elements of every entry. Entries escaping destDir are
// rejected; links and special files are skipped.
func ExtractTar(fs FileSystem, r io.Reader, destDir string, stripComponents int) error {
	tarReader := tar.NewReader(r)
	cleanDest := filepath.Clean(destDir)

	for {
		header, err := tarReader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("error reading tar: %w", err)
		}

		if filepath.IsAbs(header.Name) || strings.HasPrefix(header.Name, "/") {
			return fmt.Errorf("absolute path not allowed in tar: %s", header.Name)
		}

		name := stripPath(header.Name, stripComponents)
		if name == "" {
			continue
		}

		cleanName := filepath.Clean(filepath.FromSlash(name))
		if cleanName == ".." || strings.HasPrefix(cleanName, ".."+string(filepath.Separator)) {
			return fmt.Errorf("unsafe relative path in tar: %s", header.Name)
		}

		filePath := filepath.Join(cleanDest, cleanName)
		if filePath != cleanDest && !strings.HasPrefix(filePath, cleanDest+string(filepath.Separator)) {
			return fmt.Errorf("invalid file path in tar: %s", header.Name)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := fs.MkdirAll(filePath, DirPermission); err != nil {
				return fmt.Errorf("failed to create directory: %w", err)
			}
		case tar.TypeReg:
			if err := fs.MkdirAll(filepath.Dir(filePath), DirPermission); err != nil {
				return fmt.Errorf("failed to create parent directories: %w", err)
			}

			content, err := io.ReadAll(tarReader)
			if err != nil {
				return fmt.Errorf("failed to read file content: %w", err)
			}

			if err := fs.WriteFile(filePath, content, FilePermission); err != nil {
				return fmt.Errorf("failed to write file: %w", err)
			}
		default:
			continue
		}
	}

	return nil
}

func stripPath(name string, n int) string {
	name = strings.TrimPrefix(name, "./")
	parts := strings.Split(strings.Trim(name, "/"), "/")
	if len(parts) <= n {
		return ""
	}
	return strings.Join(parts[n:], "/")
}
