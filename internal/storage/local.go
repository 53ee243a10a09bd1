package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"sort"
)

// LocalStorage stores files flat inside one directory on the local filesystem.
// Existing files in the directory are left alone; they are only replaced when
// a file with the same name is saved. Every method reads the directory itself,
// so several stores opened on one directory agree on its contents.
type LocalStorage struct {
	baseDir string
}

func NewLocalStorage(baseDir string) (*LocalStorage, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &LocalStorage{baseDir: baseDir}, nil
}

func (s *LocalStorage) Save(_ context.Context, filename string, contentType string, reader io.Reader) (info *FileInfo, err error) {
	if err := checkName(filename); err != nil {
		return nil, err
	}
	fullPath := filepath.Join(s.baseDir, filename)

	f, err := os.Create(fullPath)
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close file: %w", cerr)
		}
		if err != nil {
			info = nil
			os.Remove(fullPath)
		}
	}()

	n, err := io.Copy(f, reader)
	if err != nil {
		return nil, fmt.Errorf("write file: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}

	return &FileInfo{
		Filename:    filename,
		ContentType: contentType,
		Size:        n,
		Path:        fullPath,
		CreatedAt:   st.ModTime(),
	}, nil
}

func (s *LocalStorage) Get(_ context.Context, filename string) (*FileInfo, io.ReadCloser, error) {
	if err := checkName(filename); err != nil {
		return nil, nil, err
	}
	fullPath := filepath.Join(s.baseDir, filename)
	f, err := os.Open(fullPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, fmt.Errorf("%s: %w", filename, ErrNotFound)
		}
		return nil, nil, fmt.Errorf("open file: %w", err)
	}

	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("stat file: %w", err)
	}
	if st.IsDir() {
		f.Close()
		return nil, nil, fmt.Errorf("%s: %w", filename, ErrNotFound)
	}
	return s.describe(st), f, nil
}

func (s *LocalStorage) Exists(_ context.Context, filename string) bool {
	if checkName(filename) != nil {
		return false
	}
	st, err := os.Stat(filepath.Join(s.baseDir, filename))
	return err == nil && !st.IsDir()
}

func (s *LocalStorage) Delete(_ context.Context, filename string) error {
	if err := checkName(filename); err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(s.baseDir, filename)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%s: %w", filename, ErrNotFound)
		}
		return err
	}
	return nil
}

// List returns the regular files in the directory sorted by name,
// including files left by earlier runs.
func (s *LocalStorage) List(_ context.Context) ([]FileInfo, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("read storage dir: %w", err)
	}

	result := make([]FileInfo, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		st, err := e.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("stat %s: %w", e.Name(), err)
		}
		result = append(result, *s.describe(st))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Filename < result[j].Filename })
	return result, nil
}

func (s *LocalStorage) describe(st fs.FileInfo) *FileInfo {
	return &FileInfo{
		Filename:    st.Name(),
		ContentType: mime.TypeByExtension(filepath.Ext(st.Name())),
		Size:        st.Size(),
		Path:        filepath.Join(s.baseDir, st.Name()),
		CreatedAt:   st.ModTime(),
	}
}

func checkName(name string) error {
	if name == "" || name == "." || name == ".." || filepath.Base(name) != name {
		return fmt.Errorf("%q: %w", name, ErrInvalidName)
	}
	return nil
}
