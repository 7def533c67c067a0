// Copyright 2026 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package fuzzer

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// ReadSeeds reads seed inputs from files and (recursively) from directories.
// Files in a directory are read in lexical order, hidden files are skipped.
func ReadSeeds(paths []string) ([][]byte, error) {
	var seeds [][]byte
	for _, path := range paths {
		err := filepath.WalkDir(path, func(file string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			name := d.Name()
			if file != path && len(name) != 0 && name[0] == '.' {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if d.IsDir() || !d.Type().IsRegular() {
				return nil
			}
			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			seeds = append(seeds, data)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to read seeds: %w", err)
		}
	}
	return seeds, nil
}
