package utils

import (
	"context"
	"os"

	getter "github.com/hashicorp/go-getter"
	"golang.org/x/xerrors"
)

// DownloadToTempFile downloads src into a new temporary file and returns its
// path. Compressed sources such as ".gz" are decompressed on the way. The
// caller removes the file.
func DownloadToTempFile(ctx context.Context, src string) (string, error) {
	f, err := os.CreateTemp("", "vuln-match")
	if err != nil {
		return "", xerrors.Errorf("failed to create a temp file: %w", err)
	}
	if err = f.Close(); err != nil {
		return "", xerrors.Errorf("close error: %w", err)
	}

	pwd, err := os.Getwd()
	if err != nil {
		return "", xerrors.Errorf("unable to get the current dir: %w", err)
	}

	client := &getter.Client{
		Ctx:     ctx,
		Src:     src,
		Dst:     f.Name(),
		Pwd:     pwd,
		Getters: getter.Getters,
		Mode:    getter.ClientModeFile,
	}
	if err = client.Get(); err != nil {
		_ = os.Remove(f.Name())
		return "", xerrors.Errorf("failed to download: %w", err)
	}

	return f.Name(), nil
}
