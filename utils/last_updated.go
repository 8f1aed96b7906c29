package utils

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/xerrors"
)

const (
	lastUpdatedFile = "last_updated.json"
)

type LastUpdated map[string]time.Time

func lastUpdatedFilePath() string {
	return filepath.Join(VulnListDir(), lastUpdatedFile)
}

// GetLastUpdatedDate returns when target was last updated, or the Unix epoch
// if it never was.
func GetLastUpdatedDate(target string) (time.Time, error) {
	lastUpdated, err := getLastUpdatedDate()
	if err != nil {
		return time.Time{}, err
	}

	t, ok := lastUpdated[target]
	if !ok {
		return time.Unix(0, 0), nil
	}

	return t, nil
}

func getLastUpdatedDate() (LastUpdated, error) {
	lastUpdated := LastUpdated{}
	b, err := os.ReadFile(lastUpdatedFilePath())
	if os.IsNotExist(err) {
		return lastUpdated, nil
	} else if err != nil {
		return nil, xerrors.Errorf("failed to read last updated date: %w", err)
	}

	if err = json.Unmarshal(b, &lastUpdated); err != nil {
		return nil, xerrors.Errorf("failed to decode last updated date: %w", err)
	}

	return lastUpdated, nil
}

func SetLastUpdatedDate(target string, lastUpdatedDate time.Time) error {
	lastUpdated, err := getLastUpdatedDate()
	if err != nil {
		return xerrors.Errorf("failed to get last updated date: %w", err)
	}
	lastUpdated[target] = lastUpdatedDate

	b, err := json.MarshalIndent(lastUpdated, "", "  ")
	if err != nil {
		return err
	}
	if err = os.MkdirAll(VulnListDir(), os.ModePerm); err != nil {
		return xerrors.Errorf("failed to create %s: %w", VulnListDir(), err)
	}
	if err = os.WriteFile(lastUpdatedFilePath(), b, 0600); err != nil {
		return xerrors.Errorf("failed to write last updated date: %w", err)
	}

	return nil
}
