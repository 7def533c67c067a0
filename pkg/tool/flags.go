// Copyright 2020 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package tool

import (
	"flag"
	"fmt"
	"strings"
)

// ParseFlags parses args and checks the number of positional arguments.
func ParseFlags(set *flag.FlagSet, args []string, minArgs, maxArgs int) error {
	if err := set.Parse(args); err != nil {
		return err
	}
	if n := set.NArg(); n < minArgs || n > maxArgs {
		if minArgs == maxArgs {
			return fmt.Errorf("want %v positional arguments, got %v", minArgs, n)
		}
		return fmt.Errorf("want [%v, %v] positional arguments, got %v", minArgs, maxArgs, n)
	}
	return nil
}

// StringsFlag is a flag that can be specified multiple times.
// A single value may also contain a comma-separated list.
type StringsFlag []string

func (f *StringsFlag) String() string {
	return strings.Join(*f, ",")
}

func (f *StringsFlag) Set(value string) error {
	for _, v := range strings.Split(value, ",") {
		if v = strings.TrimSpace(v); v != "" {
			*f = append(*f, v)
		}
	}
	return nil
}
