package utils

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
	"golang.org/x/xerrors"
)

type Fs struct {
	AppFs afero.Fs
}

func NewFs(appFs afero.Fs) Fs {
	return Fs{AppFs: appFs}
}

// WriteJSON creates dir if needed and writes data as indented JSON to dir/fileName.
func (fs Fs) WriteJSON(dir, fileName string, data interface{}) error {
	if err := fs.AppFs.MkdirAll(dir, os.ModePerm); err != nil {
		return xerrors.Errorf("unable to create a directory: %w", err)
	}

	f, err := fs.AppFs.Create(filepath.Join(dir, fileName))
	if err != nil {
		return xerrors.Errorf("unable to open a file: %w", err)
	}
	defer f.Close()

	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return xerrors.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err = f.Write(b); err != nil {
		return xerrors.Errorf("failed to save a file: %w", err)
	}
	return nil
}

// ReadJSON decodes the JSON file at filePath into v.
func (fs Fs) ReadJSON(filePath string, v interface{}) error {
	f, err := fs.AppFs.Open(filePath)
	if err != nil {
		return xerrors.Errorf("file open error (%s): %w", filePath, err)
	}
	defer f.Close()

	if err = json.NewDecoder(f).Decode(v); err != nil {
		return xerrors.Errorf("unable to decode JSON (%s): %w", filePath, err)
	}
	return nil
}
