package batch

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/croplens/croplens/internal/imageref"
)

// DiscoverImages resolves the batch input arguments (files and directories)
// into loaded image inputs, in a deterministic order.
func DiscoverImages(args []string, cfg Config) ([]imageref.Image, error) {
	var paths []string

	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("cannot access %s: %w", arg, err)
		}

		if info.IsDir() {
			files, err := discoverInDirectory(arg, cfg.Recursive, cfg.IncludePatterns, cfg.ExcludePatterns)
			if err != nil {
				return nil, err
			}
			paths = append(paths, files...)
		} else if shouldIncludeFile(arg, cfg.IncludePatterns, cfg.ExcludePatterns) {
			paths = append(paths, arg)
		}
	}

	images := make([]imageref.Image, 0, len(paths))
	for _, path := range paths {
		img, err := imageref.FromFile(path)
		if err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	return images, nil
}

// LoadURLList reads a file with one image URL per line (blank lines and
// #-comments skipped) into image inputs.
func LoadURLList(path string) ([]imageref.Image, error) {
	f, err := os.Open(path) //nolint:gosec // path comes from CLI arguments
	if err != nil {
		return nil, fmt.Errorf("cannot open URL list %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	var images []imageref.Image
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		img, err := imageref.FromURL(line)
		if err != nil {
			return nil, fmt.Errorf("line %q: %w", line, err)
		}
		images = append(images, img)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return images, nil
}

// discoverInDirectory walks a directory for supported image files.
func discoverInDirectory(dir string, recursive bool, includePatterns, excludePatterns []string) ([]string, error) {
	var files []string

	walkFn := func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if info.IsDir() {
			if !recursive && path != dir {
				return filepath.SkipDir
			}
			return nil
		}

		if imageref.AllowedExtension(path) && shouldIncludeFile(path, includePatterns, excludePatterns) {
			files = append(files, path)
		}

		return nil
	}

	return files, filepath.Walk(dir, walkFn)
}

// shouldIncludeFile applies the include/exclude patterns to a file name.
func shouldIncludeFile(path string, includePatterns, excludePatterns []string) bool {
	if matchesAnyPattern(path, excludePatterns) {
		return false
	}
	if len(includePatterns) == 0 {
		return true
	}
	return matchesAnyPattern(path, includePatterns)
}

func matchesAnyPattern(path string, patterns []string) bool {
	base := filepath.Base(path)
	for _, pattern := range patterns {
		if matched, _ := filepath.Match(pattern, base); matched {
			return true
		}
	}
	return false
}
