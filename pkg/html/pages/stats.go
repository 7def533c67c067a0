// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package pages

import (
	"bytes"
	_ "embed"
	"fmt"
	"html/template"

	"github.com/tinyfuzz/tinyfuzz/pkg/stat"
)

// StatsHTML renders history of all stat graphs as tables.
func StatsHTML(graphs []stat.UIGraph) (template.HTML, error) {
	buf := new(bytes.Buffer)
	if err := StatsTemplate.Execute(buf, graphs); err != nil {
		return "", fmt.Errorf("failed to execute stats template: %w", err)
	}
	return template.HTML(buf.String()), nil
}

var StatsTemplate = Create(statsHTML)

//go:embed stats.html
var statsHTML string
