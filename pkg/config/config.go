// Copyright 2017 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"regexp"

	"github.com/tinyfuzz/tinyfuzz/pkg/osutil"
	"sigs.k8s.io/yaml"
)

// LoadFile loads a JSON or YAML (by extension) config file into cfg.
// Several files can be given, later files are merged on top of earlier ones.
func LoadFile(filename string, cfg any) error {
	return LoadFiles([]string{filename}, cfg)
}

func LoadFiles(filenames []string, cfg any) error {
	if len(filenames) == 0 || filenames[0] == "" {
		return fmt.Errorf("no config file specified")
	}
	var merged []byte
	for _, filename := range filenames {
		data, err := os.ReadFile(filename)
		if err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
		if isYAML(filename) {
			if data, err = yaml.YAMLToJSON(data); err != nil {
				return fmt.Errorf("failed to parse config file %v: %w", filename, err)
			}
		} else {
			data = stripComments(data)
		}
		if merged == nil {
			merged = data
			continue
		}
		if merged, err = MergeJSONs(merged, data); err != nil {
			return fmt.Errorf("failed to merge config file %v: %w", filename, err)
		}
	}
	return LoadData(merged, cfg)
}

func LoadData(data []byte, cfg any) error {
	if val := reflect.ValueOf(cfg); val.Kind() != reflect.Ptr || val.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("config type is not pointer to struct")
	}
	dec := json.NewDecoder(bytes.NewReader(stripComments(data)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func SaveFile(filename string, cfg any) error {
	data, err := SaveData(filename, cfg)
	if err != nil {
		return err
	}
	return osutil.WriteFile(filename, data)
}

// SaveData serializes cfg in the format implied by filename.
func SaveData(filename string, cfg any) ([]byte, error) {
	if isYAML(filename) {
		return yaml.Marshal(cfg)
	}
	return json.MarshalIndent(cfg, "", "\t")
}

// MergeJSONs merges right into left: objects are merged recursively,
// all other values in right replace the corresponding values in left.
func MergeJSONs(left, right []byte) ([]byte, error) {
	var vLeft, vRight map[string]any
	if err := json.Unmarshal(left, &vLeft); err != nil {
		return nil, fmt.Errorf("left config is not an object: %w", err)
	}
	if err := json.Unmarshal(right, &vRight); err != nil {
		return nil, fmt.Errorf("right config is not an object: %w", err)
	}
	return json.Marshal(mergeRecursive(vLeft, vRight))
}

func mergeRecursive(left, right any) any {
	l, okLeft := left.(map[string]any)
	r, okRight := right.(map[string]any)
	if !okLeft || !okRight {
		return right
	}
	for k, v := range r {
		if old, ok := l[k]; ok {
			l[k] = mergeRecursive(old, v)
		} else {
			l[k] = v
		}
	}
	return l
}

var commentRe = regexp.MustCompile(`(^|\n)\s*#[^\n]*`)

// stripComments removes comment lines starting with #.
func stripComments(data []byte) []byte {
	return commentRe.ReplaceAll(data, nil)
}

func isYAML(filename string) bool {
	ext := filepath.Ext(filename)
	return ext == ".yaml" || ext == ".yml"
}
