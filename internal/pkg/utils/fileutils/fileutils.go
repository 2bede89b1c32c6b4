package fileutils

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// SafeReadYAML reads the YAML file at the path into the targetPointer.
// Returns true if the file exists or an error if an error occurred.
func SafeReadYAML(filePath string, targetPointer any, perm os.FileMode) (yamlAvailable bool, err error) {
	fileBytes, err := SafeReadFile(filePath, perm)
	if err != nil {
		return false, fmt.Errorf("unable to open file: %s, %w", filePath, err)
	}

	if len(fileBytes) == 0 {
		return false, nil
	}
	return true, yaml.Unmarshal(fileBytes, targetPointer)
}

// SafeReadFile reads the file at the provided path into a byte slice.
func SafeReadFile(filePath string, perm os.FileMode) ([]byte, error) {
	file, err := os.OpenFile(filePath, os.O_RDONLY, perm)
	if err != nil {
		return nil, fmt.Errorf("unable to open file: %s, %w", filePath, err)
	}

	bytes, readErr := io.ReadAll(file)
	if err = file.Close(); err != nil {
		logrus.Errorf("Failed to close file: %s", filePath)
	}
	return bytes, readErr
}

// CopyFile copies src to dst, creating or truncating dst.
// Works across distinct mount points, unlike os.Rename.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("unable to open file: %s, %w", src, err)
	}
	defer func() {
		if err := in.Close(); err != nil {
			logrus.Errorf("Failed to close file: %s", src)
		}
	}()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("unable to create file: %s, %w", dst, err)
	}
	_, copyErr := io.Copy(out, in)
	closeErr := out.Close()
	if copyErr != nil {
		return fmt.Errorf("could not copy `%s` to `%s`: %w", src, dst, copyErr)
	}
	if closeErr != nil {
		return fmt.Errorf("could not flush `%s`: %w", dst, closeErr)
	}
	return nil
}

// MoveAcrossMounts relocates src to dst as copy-then-delete.
// The install and backup directories may live on different mount points,
// where a rename is not possible.
func MoveAcrossMounts(src, dst string) error {
	if err := CopyFile(src, dst); err != nil {
		return err
	}
	if err := os.Remove(src); err != nil {
		return fmt.Errorf("could not remove `%s` after copying: %w", src, err)
	}
	return nil
}

// Exists reports whether the path exists as a regular file.
func Exists(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return !info.IsDir(), nil
}

// ReadOrPanic reads the entire file at the provided path or panics if it is not possible.
func ReadOrPanic(p string) []byte {
	data, err := os.ReadFile(p)
	if err != nil {
		panic(err)
	}
	return data
}
