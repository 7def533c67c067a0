// Copyright 2026 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package fuzzconfig

import (
	"encoding/json"
	"fmt"
	"time"
)

// Duration is a time.Duration that is written in configs as a string ("5s", "1h30m")
// or as a number of seconds.
type Duration time.Duration

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case float64:
		*d = Duration(val * float64(time.Second))
	case string:
		res, err := time.ParseDuration(val)
		if err != nil {
			return err
		}
		*d = Duration(res)
	default:
		return fmt.Errorf("bad duration %s", data)
	}
	return nil
}
