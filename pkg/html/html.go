// Copyright 2018 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package html contains template helpers shared by the monitor pages.
package html

import (
	"fmt"
	"html/template"
	"net/url"
	"strings"
	"time"
)

var Funcs = template.FuncMap{
	"link":            link,
	"optlink":         optlink,
	"formatTime":      FormatTime,
	"formatClock":     formatClock,
	"formatDuration":  formatDuration,
	"formatStat":      formatStat,
	"formatShortHash": formatShortHash,
	"formatList":      formatStringList,
	"formatBytes":     FormatBytes,
	"add":             add,
}

func link(url, text string) template.HTML {
	text = template.HTMLEscapeString(text)
	if url != "" {
		text = fmt.Sprintf(`<a href="%v">%v</a>`, url, text)
	}
	return template.HTML(text)
}

func optlink(url, text string) template.HTML {
	if url == "" {
		return template.HTML("")
	}
	return link(url, text)
}

func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006/01/02 15:04")
}

func formatClock(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("15:04")
}

func formatDuration(d time.Duration) string {
	if d == 0 {
		return ""
	}
	days := int(d / (24 * time.Hour))
	hours := int(d / time.Hour % 24)
	mins := int(d / time.Minute % 60)
	if days >= 10 {
		return fmt.Sprintf("%vd", days)
	} else if days != 0 {
		return fmt.Sprintf("%vd%02vh", days, hours)
	} else if hours != 0 {
		return fmt.Sprintf("%vh%02vm", hours, mins)
	}
	return fmt.Sprintf("%vm", mins)
}

func formatStat(v int64) string {
	if v == 0 {
		return ""
	}
	return fmt.Sprint(v)
}

func formatShortHash(v string) string {
	const hashLen = 8
	if len(v) <= hashLen {
		return v
	}
	return v[:hashLen]
}

func formatStringList(list []string) string {
	return strings.Join(list, ", ")
}

// FormatBytes prints a size with a binary unit suffix.
func FormatBytes(v int) string {
	switch {
	case v >= 10<<20:
		return fmt.Sprintf("%vMB", v>>20)
	case v >= 10<<10:
		return fmt.Sprintf("%vKB", v>>10)
	default:
		return fmt.Sprintf("%vB", v)
	}
}

func add(a, b int) int {
	return a + b
}

// DropParam removes key from the query of the url (only the given value if it's not empty).
func DropParam(link, key, value string) string {
	u, err := url.Parse(link)
	if err != nil {
		return link
	}
	query := u.Query()
	if value == "" {
		query.Del(key)
	} else {
		var keep []string
		for _, v := range query[key] {
			if v != value {
				keep = append(keep, v)
			}
		}
		if len(keep) == 0 {
			query.Del(key)
		} else {
			query[key] = keep
		}
	}
	u.RawQuery = query.Encode()
	return u.String()
}
