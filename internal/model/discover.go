package model

import (
	"errors"
	"os"
	"path/filepath"
)

// WorkerEntrypoint is the file identifying a MediaCrawler checkout.
const WorkerEntrypoint = "main.py"

var ErrWorkerNotFound = errors.New("worker directory not found")

// DiscoverWorkerDir returns the first candidate containing the worker entrypoint.
// Without candidates the usual MediaCrawler locations relative to base are tried.
func DiscoverWorkerDir(base string, candidates ...string) (string, error) {
	if len(candidates) == 0 {
		candidates = []string{
			filepath.Join(base, "MediaCrawler"),
			filepath.Join(base, "..", "MediaCrawler"),
			filepath.Join(base, "..", "..", "MediaCrawler"),
		}
		if home, err := os.UserHomeDir(); err == nil {
			candidates = append(candidates, filepath.Join(home, "MediaCrawler"))
		}
	}
	for _, dir := range candidates {
		info, err := os.Stat(filepath.Join(dir, WorkerEntrypoint))
		if err != nil || info.IsDir() {
			continue
		}
		abs, err := filepath.Abs(dir)
		if err != nil {
			return "", err
		}
		return abs, nil
	}
	return "", ErrWorkerNotFound
}
