package cli

import (
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// LoadError represents a path that could not be read as class files.
type LoadError struct {
	Code    string
	Path    string
	Message string
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Code, e.Path, e.Message)
}

// skipped reports whether an archive or tree entry is not module code.
func skipped(name string) bool {
	base := filepath.Base(name)
	return base == "module-info.class" || base == "package-info.class" ||
		strings.HasPrefix(filepath.ToSlash(name), "META-INF/")
}

// LoadClasses reads the class files named by paths, in order. A path is a
// .class file, a .jar archive or a directory searched recursively; the
// classes of an archive or a directory are taken in name order.
func LoadClasses(paths []string) ([][]byte, error) {
	var out [][]byte
	for _, p := range paths {
		classes, err := loadPath(p)
		if err != nil {
			return nil, err
		}
		out = append(out, classes...)
	}
	return out, nil
}

func loadPath(path string) ([][]byte, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, &LoadError{Code: ErrCodeNotFound, Path: path, Message: "no such file or directory"}
	}
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Path: path, Message: err.Error()}
	}
	switch {
	case info.IsDir():
		return loadDir(path)
	case strings.HasSuffix(path, ".jar"):
		return loadJar(path)
	case strings.HasSuffix(path, ".class"):
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, &LoadError{Code: ErrCodeGeneric, Path: path, Message: err.Error()}
		}
		return [][]byte{b}, nil
	}
	return nil, &LoadError{Code: ErrCodeGeneric, Path: path, Message: "not a .class file, a .jar archive or a directory"}
}

func loadDir(dir string) ([][]byte, error) {
	var out [][]byte
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(dir, path)
		if d.IsDir() || !strings.HasSuffix(path, ".class") || skipped(rel) {
			return nil
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		out = append(out, b)
		return nil
	})
	if err != nil {
		return nil, &LoadError{Code: ErrCodeGeneric, Path: dir, Message: err.Error()}
	}
	return out, nil
}

func loadJar(path string) ([][]byte, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeMalformed, Path: path, Message: err.Error()}
	}
	defer r.Close()

	files := slices.Clone(r.File)
	slices.SortFunc(files, func(a, b *zip.File) int { return strings.Compare(a.Name, b.Name) })

	var out [][]byte
	for _, f := range files {
		if f.FileInfo().IsDir() || !strings.HasSuffix(f.Name, ".class") || skipped(f.Name) {
			continue
		}
		b, err := readZipFile(f)
		if err != nil {
			return nil, &LoadError{Code: ErrCodeMalformed, Path: path + "!" + f.Name, Message: err.Error()}
		}
		out = append(out, b)
	}
	return out, nil
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
